package vm

import (
	"userproc/defs"
	"userproc/mem"
)

/// IsReadable reports whether va is mapped and legally readable by the
/// process owning as: spec.md 4.2's is_readable predicate. va==0 and
/// kernel-half addresses are never readable (spec.md property 5).
func (as *AddressSpace) IsReadable(va uintptr, userTop uintptr) bool {
	if va == 0 || va >= userTop {
		return false
	}
	as.Lock()
	defer as.Unlock()
	_, ok := as.resolve(va)
	return ok
}

/// IsWritable additionally requires the mapped page to be writable,
/// spec.md 4.2's is_writable predicate.
func (as *AddressSpace) IsWritable(va uintptr, userTop uintptr) bool {
	if va == 0 || va >= userTop {
		return false
	}
	as.Lock()
	defer as.Unlock()
	p, ok := as.resolve(va)
	return ok && p.writable
}

/// CheckBuffer validates every page in [buf, buf+size) per spec.md 4.2: it
/// is the boundary check every syscall handler must run before touching
/// user memory. needWrite selects is_writable over is_readable.
func (as *AddressSpace) CheckBuffer(buf uintptr, size int, needWrite bool, userTop uintptr) defs.Err_t {
	if size < 0 {
		return defs.EFAULT
	}
	if size == 0 {
		return 0
	}
	start := pageBase(buf)
	end := pageBase(buf+uintptr(size-1)) + uintptr(mem.PGSIZE)
	for va := start; va < end; va += uintptr(mem.PGSIZE) {
		ok := as.IsReadable(va, userTop)
		if ok && needWrite {
			ok = as.IsWritable(va, userTop)
		}
		if !ok {
			return defs.EFAULT
		}
	}
	return 0
}

/// CopyOut copies src into user memory at va, validating every touched
/// page for writability first and failing atomically (no partial write
/// observable past the first bad page) if validation fails partway.
func (as *AddressSpace) CopyOut(va uintptr, src []uint8, userTop uintptr) defs.Err_t {
	if err := as.CheckBuffer(va, len(src), true, userTop); err != 0 {
		return err
	}
	as.Lock()
	defer as.Unlock()
	off := 0
	for off < len(src) {
		page := pageBase(va + uintptr(off))
		p, ok := as.resolve(page)
		if !ok || !p.writable {
			return defs.EFAULT
		}
		pg := as.alloc.Deref(p.pa)
		pgoff := int(va+uintptr(off)) - int(page)
		n := copy(pg[pgoff:], src[off:])
		off += n
	}
	return 0
}

/// CopyIn copies size bytes from user memory at va into a freshly
/// allocated slice, validating readability first.
func (as *AddressSpace) CopyIn(va uintptr, size int, userTop uintptr) ([]uint8, defs.Err_t) {
	if err := as.CheckBuffer(va, size, false, userTop); err != 0 {
		return nil, err
	}
	dst := make([]uint8, size)
	as.Lock()
	defer as.Unlock()
	off := 0
	for off < size {
		page := pageBase(va + uintptr(off))
		p, ok := as.resolve(page)
		if !ok {
			return nil, defs.EFAULT
		}
		pg := as.alloc.Deref(p.pa)
		pgoff := int(va+uintptr(off)) - int(page)
		n := copy(dst[off:], pg[pgoff:])
		off += n
	}
	return dst, 0
}
