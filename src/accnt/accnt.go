// Package accnt implements spec.md's per-process CPU accounting (component
// C4's Acc field): a Userns/Sysns nanosecond pair a task accumulates over
// its life and reports back as an rusage-shaped byte buffer, plus Add,
// which proc.System.Wait uses to fold a reaped child's finalized usage
// into its parent's record (the rusage(children) half of spec.md section
// 8's accounting property). Grounded on biscuit/src/accnt/accnt.go; its
// Io_time/Sleep_time hooks are dropped rather than carried verbatim — they
// existed to back out time a real kernel thread spent blocked on disk I/O
// or asleep mid-timeslice, book-keeping this simulated subsystem has no
// scheduler or blocking I/O model to drive (see DESIGN.md).
package accnt

import (
	"sync"
	"sync/atomic"
	"time"

	"userproc/util"
)

// Accnt_t accumulates one task's CPU usage. Userns and Sysns are both
// nanoseconds; the embedded mutex lets Fetch/Add take a consistent
// snapshot while Finish or a concurrent Add is still in flight.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd adds delta nanoseconds of user-mode time to the running total.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd adds delta nanoseconds of system-mode time to the running total.
func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt_t) Now() int {
	return int(time.Now().UnixNano())
}

// Finish charges the time elapsed since inttime to system time, the one
// measurement point this subsystem actually takes: the whole of a task's
// life from SpawnInitial/Fork to Exit is counted as system time, since
// there is no separate user-mode clock running underneath it.
func (a *Accnt_t) Finish(inttime int) {
	a.Lock()
	a.Systadd(a.Now() - inttime)
	a.Unlock()
}

// Add merges n's accumulated usage into a, used to fold a reaped child's
// final accounting into its parent's.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
	a.Unlock()
}

// Fetch returns a consistent snapshot of a's usage, encoded as rusage.
func (a *Accnt_t) Fetch() []uint8 {
	a.Lock()
	ru := a.To_rusage()
	a.Unlock()
	return ru
}

// To_rusage encodes Userns/Sysns as two (seconds, microseconds) timeval
// pairs back to back — user time first, then system time — matching the
// layout a getrusage(2)-style copy-out expects. Caller must hold a.Mutex.
func (a *Accnt_t) To_rusage() []uint8 {
	const words = 4
	ret := make([]uint8, words*8)
	totv := func(nano int64) (int, int) {
		secs := int(nano / 1e9)
		usecs := int((nano % 1e9) / 1000)
		return secs, usecs
	}

	off := 0
	s, us := totv(a.Userns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)
	off += 8

	s, us = totv(a.Sysns)
	util.Writen(ret, 8, off, s)
	off += 8
	util.Writen(ret, 8, off, us)

	return ret
}
