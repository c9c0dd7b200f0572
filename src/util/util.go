// Package util holds the small page-arithmetic and wire-encoding helpers
// shared by the loader, address space, and accounting packages. Grounded
// on biscuit/src/util/util.go's Round{up,down}/Readn/Writen, trimmed to
// what this subsystem actually calls (Min and the unsafe-pointer Readn
// were never exercised by any caller here) and re-based on
// encoding/binary.LittleEndian instead of an unsafe.Pointer cast: every
// other byte-marshalling site in this module (elf.setupStack's argv
// pointers, trap.readCString's scan) already commits to a fixed
// little-endian wire format because the bytes cross into what spec.md
// treats as a separate address space, not host-native memory the process
// happens to share with its caller.
package util

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

// Writen writes val as sz little-endian bytes into a starting at off. It
// panics if the destination is out of bounds or sz is unsupported, the
// same contract biscuit's Writen carried since every call site here is
// fed a sz it controls (an rusage field width), never untrusted input.
func Writen(a []uint8, sz int, off int, val int) {
	if off < 0 || off+sz > len(a) {
		panic("Writen out of bounds")
	}
	u := uint64(val)
	for i := 0; i < sz; i++ {
		a[off+i] = uint8(u >> (8 * uint(i)))
	}
}
