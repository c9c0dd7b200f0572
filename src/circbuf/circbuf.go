// Package circbuf implements a fixed-capacity circular byte buffer backed
// by one physical page, and a Console built on top of it that plays the
// role of fd 0/1 (stdin/stdout) for the process lifecycle and syscall
// dispatcher. The teacher's Circbuf_t backs TCP sockets and a disk-backed
// log and carries Rawread/Rawwrite/Advhead/Advtail methods for zero-copy
// network buffer management (spec.md's own Non-goals exclude network and
// disk I/O); those methods are dropped here. What survives is the core
// head/tail arithmetic and the lazy-allocation-on-first-use pattern, now
// against the new mem.Page_i/mem.Allocator_t shape instead of the old
// Refpg_new_nozero/Pg2bytes pair.
package circbuf

import (
	"sync"

	"userproc/defs"
	"userproc/mem"
)

/// Circbuf_t is a single-page circular byte buffer. It is safe for
/// concurrent readers and writers.
type Circbuf_t struct {
	mu    sync.Mutex
	alloc mem.Page_i
	pa    mem.Pa_t
	buf   []uint8
	bufsz int
	head  int
	tail  int
}

/// Init lazily prepares a buffer of sz bytes (<= mem.PGSIZE) backed by one
/// page from m. The page itself is allocated on first use, exactly as the
/// teacher's Cb_ensure deferred its own allocation.
func (cb *Circbuf_t) Init(sz int, m mem.Page_i) defs.Err_t {
	if sz <= 0 || sz > mem.PGSIZE {
		panic("bad circbuf size")
	}
	cb.alloc = m
	cb.bufsz = sz
	cb.head, cb.tail = 0, 0
	return 0
}

func (cb *Circbuf_t) ensure() defs.Err_t {
	if cb.buf != nil {
		return 0
	}
	if cb.bufsz == 0 {
		panic("not initted")
	}
	pg, pa, ok := cb.alloc.Alloc()
	if !ok {
		return defs.ENOMEM
	}
	cb.pa = pa
	cb.buf = pg[:cb.bufsz]
	return 0
}

/// Release drops the reference to the backing page.
func (cb *Circbuf_t) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.buf == nil {
		return
	}
	cb.alloc.Refdown(cb.pa)
	cb.pa = 0
	cb.buf = nil
	cb.head, cb.tail = 0, 0
}

/// Bufsz returns the configured capacity.
func (cb *Circbuf_t) Bufsz() int { return cb.bufsz }

func (cb *Circbuf_t) full() bool  { return cb.head-cb.tail == cb.bufsz }
func (cb *Circbuf_t) empty() bool { return cb.head == cb.tail }

/// Used returns the number of unread bytes currently buffered.
func (cb *Circbuf_t) Used() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.head - cb.tail
}

/// Write copies as much of src as fits into the buffer, wrapping as
/// needed, and returns the count accepted.
func (cb *Circbuf_t) Write(src []uint8) (int, defs.Err_t) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.ensure(); err != 0 {
		return 0, err
	}
	n := 0
	for n < len(src) && !cb.full() {
		cb.buf[cb.head%cb.bufsz] = src[n]
		cb.head++
		n++
	}
	return n, 0
}

/// Read copies as much of the buffered data into dst as fits, wrapping as
/// needed, and returns the count read.
func (cb *Circbuf_t) Read(dst []uint8) (int, defs.Err_t) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err := cb.ensure(); err != 0 {
		return 0, err
	}
	n := 0
	for n < len(dst) && !cb.empty() {
		dst[n] = cb.buf[cb.tail%cb.bufsz]
		cb.tail++
		n++
	}
	return n, 0
}
