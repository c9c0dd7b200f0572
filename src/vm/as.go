// Package vm implements the address-space bindings (spec.md C1) and the
// user-pointer validator (C3) that sit between the loader/fork path and the
// simulated page-table collaborator spec.md section 1 declares out of
// scope. AddressSpace plays the role of the teacher's Vm_t: a mutex-guarded
// set of page-table entries, reached through Lock_pmap/Unlock_pmap-style
// bracketing so callers that walk the table (fork's eager copy, the
// loader's segment install) and callers that fault it in (Userbuf-style
// validated copies) never race.
package vm

import (
	"sync"

	"userproc/defs"
	"userproc/mem"
	"userproc/util"
)

/// PTE_W marks a page table entry as user-writable.
const PTE_W = 1

/// UserTop is the exclusive upper bound of user-addressable virtual memory
/// shared by every process: the loader refuses to place a PT_LOAD segment
/// or the stack above it, and IsReadable/IsWritable/CheckBuffer refuse any
/// address at or beyond it.
const UserTop = uintptr(1) << 38

/// pte is one page-table entry: the backing page and its permission bits.
type pte struct {
	pa       mem.Pa_t
	writable bool
}

/// LazyLoader materializes one page's contents on first touch, the lazy
/// segment-load backend spec.md 4.4 step 5 offers as an alternative to
/// eager loading. LoadPage fills pg (already zeroed) with whatever the
/// segment requires; the only caller is AddressSpace's fault path.
type LazyLoader interface {
	LoadPage(pg *mem.Page_t) defs.Err_t
}

type lazyEntry struct {
	loader   LazyLoader
	writable bool
}

/// AddressSpace is one process's address space: a page table plus the
/// pages it maps. The zero value is not usable; call NewAddressSpace.
type AddressSpace struct {
	mu    sync.Mutex
	table map[uintptr]*pte
	lazy  map[uintptr]*lazyEntry
	alloc mem.Page_i
	pgflt bool // set while the lock is held for fault handling, mirrors Vm_t.pgfltaken
}

/// NewAddressSpace creates an empty address space backed by alloc.
func NewAddressSpace(alloc mem.Page_i) *AddressSpace {
	return &AddressSpace{
		table: make(map[uintptr]*pte),
		lazy:  make(map[uintptr]*lazyEntry),
		alloc: alloc,
	}
}

/// RegisterLazy defers materialization of the page containing va until it
/// is first touched through resolve (a CheckBuffer/CopyIn/CopyOut call, or
/// any future fault-driven read). Callers must hold the lock.
func (as *AddressSpace) RegisterLazy(va uintptr, writable bool, l LazyLoader) {
	as.lockassert()
	as.lazy[pageBase(va)] = &lazyEntry{loader: l, writable: writable}
}

/// resolve returns the page-table entry for the page containing va,
/// materializing it first via a registered LazyLoader if one exists and no
/// entry has been installed yet. Callers must hold the lock.
func (as *AddressSpace) resolve(va uintptr) (*pte, bool) {
	base := pageBase(va)
	if p, ok := as.table[base]; ok {
		return p, true
	}
	le, ok := as.lazy[base]
	if !ok {
		return nil, false
	}
	pg, pa, ok := as.alloc.Alloc()
	if !ok {
		return nil, false
	}
	if err := le.loader.LoadPage(pg); err != 0 {
		as.alloc.Refdown(pa)
		return nil, false
	}
	delete(as.lazy, base)
	p := &pte{pa: pa, writable: le.writable}
	as.table[base] = p
	return p, true
}

/// Lock acquires the address space's mutex, as Vm_t.Lock_pmap does.
func (as *AddressSpace) Lock() {
	as.mu.Lock()
	as.pgflt = true
}

/// Unlock releases the mutex.
func (as *AddressSpace) Unlock() {
	as.pgflt = false
	as.mu.Unlock()
}

func (as *AddressSpace) lockassert() {
	if !as.pgflt {
		panic("address space lock must be held")
	}
}

func pageBase(va uintptr) uintptr {
	return util.Rounddown(va, uintptr(mem.PGSIZE))
}

/// Map installs a mapping from the page containing va to pg, overwriting
/// any existing mapping for that page. Callers must hold the lock.
func (as *AddressSpace) Map(va uintptr, pg mem.Pa_t, writable bool) {
	as.lockassert()
	as.table[pageBase(va)] = &pte{pa: pg, writable: writable}
}

/// Unmap removes the mapping for the page containing va, returning the
/// physical page that was mapped there and whether one was present.
func (as *AddressSpace) Unmap(va uintptr) (mem.Pa_t, bool) {
	as.lockassert()
	p, ok := as.table[pageBase(va)]
	if !ok {
		return 0, false
	}
	delete(as.table, pageBase(va))
	return p.pa, true
}

/// Walk invokes fn once per mapped page, in no particular order. Callers
/// must hold the lock; fn must not mutate the table.
func (as *AddressSpace) Walk(fn func(va uintptr, pg mem.Pa_t, writable bool)) {
	as.lockassert()
	for va, p := range as.table {
		fn(va, p.pa, p.writable)
	}
}

/// Activate is the simulated analogue of loading a hardware page-table
/// root register. There is no MMU here, so it is a deliberate no-op: a
/// task's "current address space" is simply the AddressSpace pointer it
/// carries, not something read out of a CPU register.
func (as *AddressSpace) Activate() {}

/// Destroy drops every mapped page's reference, mirroring process_cleanup
/// destroying the pml4: every page this address space owns is released,
/// freeing it if it was the last reference (the non-forked, non-shared
/// common case).
func (as *AddressSpace) Destroy() {
	as.Lock()
	defer as.Unlock()
	for va, p := range as.table {
		as.alloc.Refdown(p.pa)
		delete(as.table, va)
	}
}

/// CopyInto duplicates every mapping of as into dst, eagerly copying page
/// contents (the "eager backend" of spec.md 4.5's fork). Both address
/// spaces must be otherwise unused by other goroutines during the copy.
func (as *AddressSpace) CopyInto(dst *AddressSpace) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	dst.Lock()
	defer dst.Unlock()
	for va, p := range as.table {
		npg, npa, ok := as.alloc.Alloc()
		if !ok {
			return defs.ENOMEM
		}
		*npg = *as.alloc.Deref(p.pa)
		dst.table[va] = &pte{pa: npa, writable: p.writable}
	}
	for va, le := range as.lazy {
		dst.lazy[va] = &lazyEntry{loader: le.loader, writable: le.writable}
	}
	return 0
}
