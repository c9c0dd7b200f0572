// Package mem simulates the physical-page allocator spec.md section 1
// declares an external collaborator ("obtain/release a fixed-size page of
// user or kernel memory"). The real biscuit mem package backs this with a
// hand-rolled direct-map over raw physical RAM and a patched Go runtime
// (runtime.Get_phys, runtime.CPUHint); hosted under `go test` we have
// neither, so pages are ordinary heap-allocated byte arrays tracked by a
// refcounted free list. The naming (PGSIZE, Pa_t, Refup/Refdown, Page_i)
// and the "pages are refcounted, not owned" discipline carry over from the
// teacher; the direct-map/per-CPU free list machinery (hardware-specific
// and unneeded at this scale) does not.
package mem

import (
	"sync"
	"sync/atomic"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET uintptr = uintptr(PGSIZE - 1)

/// PGMASK masks the page number of an address.
const PGMASK uintptr = ^PGOFFSET

/// Pa_t names a simulated physical page by an opaque, monotonically
/// increasing address. It carries no real hardware meaning; it only needs
/// to be distinct per page and stable across refcount operations.
type Pa_t uintptr

/// Page_t is a single physical page's contents.
type Page_t [PGSIZE]uint8

/// Page_i abstracts physical page allocation, mirroring the teacher's
/// Page_i interface so the vm package can be tested against a fake
/// allocator without depending on this package's concrete refcounting.
type Page_i interface {
	/// Alloc returns a newly zeroed page and its address, or ok=false if
	/// the simulated system is out of pages.
	Alloc() (pg *Page_t, pa Pa_t, ok bool)
	/// Refup increments a page's reference count.
	Refup(Pa_t)
	/// Refdown decrements a page's reference count, freeing the page and
	/// returning true when it reaches zero.
	Refdown(Pa_t) bool
	/// Deref returns the page backing pa. Panics if pa is not live.
	Deref(Pa_t) *Page_t
}

type entry struct {
	pg     *Page_t
	refcnt int32
}

/// Allocator_t is the default, heap-backed Page_i implementation.
type Allocator_t struct {
	mu    sync.Mutex
	next  uintptr
	limit int // 0 means unbounded
	live  map[Pa_t]*entry
}

/// NewAllocator returns a fresh, empty page allocator. limit bounds how
/// many pages may be outstanding at once (0 means unbounded), standing in
/// for the "reserve N pages" behavior of the teacher's Phys_init; Alloc
/// reports the *oom* error sentinel's ok=false once that many pages are
/// live at once.
func NewAllocator(limit int) *Allocator_t {
	return &Allocator_t{
		next:  PGSIZE, // keep page 0 unrepresentable, matching "page 0 is forbidden"
		limit: limit,
		live:  make(map[Pa_t]*entry),
	}
}

/// Alloc allocates and zeros a new page, or reports ok=false if doing so
/// would exceed the allocator's limit (spec.md section 7's *oom* error kind).
func (a *Allocator_t) Alloc() (*Page_t, Pa_t, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit > 0 && len(a.live) >= a.limit {
		return nil, 0, false
	}
	pa := Pa_t(a.next)
	a.next += uintptr(PGSIZE)
	pg := &Page_t{}
	a.live[pa] = &entry{pg: pg, refcnt: 1}
	return pg, pa, true
}

/// Refup increments pa's reference count.
func (a *Allocator_t) Refup(pa Pa_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.live[pa]
	if !ok {
		panic("refup of freed page")
	}
	atomic.AddInt32(&e.refcnt, 1)
}

/// Refdown decrements pa's reference count and frees the page when it
/// reaches zero, returning whether that happened.
func (a *Allocator_t) Refdown(pa Pa_t) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.live[pa]
	if !ok {
		panic("refdown of freed page")
	}
	c := atomic.AddInt32(&e.refcnt, -1)
	if c < 0 {
		panic("negative refcount")
	}
	if c == 0 {
		delete(a.live, pa)
		return true
	}
	return false
}

/// Deref returns the page backing pa.
func (a *Allocator_t) Deref(pa Pa_t) *Page_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.live[pa]
	if !ok {
		panic("deref of freed page")
	}
	return e.pg
}

/// Live reports how many pages are currently outstanding, for tests that
/// assert nothing leaked past a process exit.
func (a *Allocator_t) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
