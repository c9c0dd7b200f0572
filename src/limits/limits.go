// Package limits holds the small set of system-wide resource limits
// spec.md's configuration surface actually calls for: FD_MAX (the fixed
// file-descriptor table capacity, src/fd) and a cap on concurrently live
// processes (src/proc's SpawnInitial/Fork). The teacher's Syslimit_t also
// tracks vnodes, futexes, ARP entries, routes, TCP segments, and block-
// cache pages — every one of those belongs to a subsystem spec.md declares
// out of scope (filesystem internals, networking, futex-based sync), so
// they are dropped rather than carried as dead fields. The atomic
// take/give accounting mechanism itself is kept, since the process-count
// cap needs exactly that shape.
package limits

import (
	"sync/atomic"
	"unsafe"
)

/// FD_MAX is the fixed capacity of every process's file descriptor table
/// (spec.md 4.1).
const FD_MAX = 64

/// Sysatomic_t is a numeric limit that can be atomically taken from and
/// given back to.
type Sysatomic_t int64

/// Syslimit_t tracks the system-wide resource limits this subsystem
/// enforces.
type Syslimit_t struct {
	// Sysprocs bounds the number of simultaneously live processes; Taken
	// by SpawnInitial/Fork, Given back on Exit or a failed Fork.
	Sysprocs Sysatomic_t
}

/// Syslimit holds the configured system-wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs: 1024,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount, returning
/// true on success and leaving the limit unchanged on failure.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

/// Take decrements the limit by one and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
