// Package elf implements the ELF64 executable loader, spec.md component
// C5: header/program-header validation, PT_LOAD segment materialization
// (eager and lazy backends behind vm.LazyLoader), stack construction, and
// argument-vector marshalling per the x86-64 System V calling convention
// spec.md 4.4.1 specifies (rdi=argc, rsi=argv, a fake zero return address).
// Header decoding goes through the standard library's debug/elf rather
// than a hand-rolled struct layout, the precedent set by the teacher's own
// kernel/chentry.go tool (also ELF-header work, also via debug/elf); the
// validation and segment-materialization logic below it is hand-written
// per spec.md 4.4, since debug/elf's own File.Load has no page-granular
// read/zero split or lazy-fault hook.
package elf

import (
	"debug/elf"
	"encoding/binary"
	"io"
	"strings"

	"userproc/defs"
	"userproc/mem"
	"userproc/util"
	"userproc/vm"
)

/// Image is a successfully validated ELF64 executable, ready to be
/// materialized into an address space by Load.
type Image struct {
	file *elf.File
	ra   io.ReaderAt
}

/// Open decodes and validates the ELF64 header at ra, rejecting anything
/// that is not a little-endian x86-64 executable, mirroring process.c's
/// load() header checks (magic, e_type==ET_EXEC, e_machine==EM_X86_64).
func Open(ra io.ReaderAt) (*Image, defs.Err_t) {
	f, err := elf.NewFile(ra)
	if err != nil {
		return nil, defs.EINVAL
	}
	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB {
		return nil, defs.EINVAL
	}
	if f.Type != elf.ET_EXEC {
		return nil, defs.EINVAL
	}
	if f.Machine != elf.EM_X86_64 {
		return nil, defs.EINVAL
	}
	return &Image{file: f, ra: ra}, 0
}

/// Entry returns the program's entry point.
func (im *Image) Entry() uintptr {
	return uintptr(im.file.Entry)
}

/// validateSegment checks p against spec.md 4.4's validate_segment
/// invariants, ported directly from process.c's validate_segment.
func validateSegment(p *elf.Prog) defs.Err_t {
	off := uintptr(p.Off)
	vaddr := uintptr(p.Vaddr)
	memsz := uintptr(p.Memsz)
	filesz := uintptr(p.Filesz)

	if off&mem.PGOFFSET != vaddr&mem.PGOFFSET {
		return defs.EINVAL
	}
	if memsz < filesz {
		return defs.EINVAL
	}
	if memsz == 0 {
		return defs.EINVAL
	}
	if vaddr+memsz < vaddr {
		return defs.EINVAL // wraps around
	}
	if vaddr >= vm.UserTop || vaddr+memsz > vm.UserTop {
		return defs.EINVAL
	}
	if vaddr < uintptr(mem.PGSIZE) {
		return defs.EINVAL // page 0 may never be mapped
	}
	return 0
}

/// segmentSpan describes one PT_LOAD segment's page-granular materialization
/// plan, computed exactly as process.c's load() computes file_page/mem_page/
/// page_offset/read_bytes/zero_bytes.
type segmentSpan struct {
	fileOff    int64
	memPage    uintptr
	pageOffset uintptr
	readBytes  int
	zeroBytes  int
	writable   bool
}

func spanFor(p *elf.Prog) segmentSpan {
	filePage := uintptr(p.Off) &^ mem.PGOFFSET
	memPage := uintptr(p.Vaddr) &^ mem.PGOFFSET
	pageOffset := uintptr(p.Vaddr) & mem.PGOFFSET

	var readBytes, zeroBytes int
	if p.Filesz > 0 {
		readBytes = int(pageOffset) + int(p.Filesz)
		zeroBytes = util.Roundup(int(pageOffset)+int(p.Memsz), mem.PGSIZE) - readBytes
	} else {
		readBytes = 0
		zeroBytes = util.Roundup(int(pageOffset)+int(p.Memsz), mem.PGSIZE)
	}
	return segmentSpan{
		fileOff:    int64(filePage),
		memPage:    memPage,
		pageOffset: pageOffset,
		readBytes:  readBytes,
		zeroBytes:  zeroBytes,
		writable:   p.Flags&elf.PF_W != 0,
	}
}

/// pageLoader is a vm.LazyLoader that reads one page's worth of segment
/// bytes from the backing file at fault time, the lazy segment-load
/// backend of spec.md 4.4 step 5.
type pageLoader struct {
	ra     io.ReaderAt
	off    int64 // file offset this page's data starts at
	fill   int   // bytes to read from ra before zero-filling the rest
}

func (l *pageLoader) LoadPage(pg *mem.Page_t) defs.Err_t {
	if l.fill > 0 {
		n, err := l.ra.ReadAt(pg[:l.fill], l.off)
		if err != nil && n != l.fill {
			return defs.EINVAL
		}
	}
	return 0
}

/// Eager materializes every page of a PT_LOAD segment immediately. Lazy
/// registers a pageLoader per page and defers materialization to first
/// touch. Load takes the choice as this one Backend value; the lazy path
/// hands each page to the address space as a vm.LazyLoader.
type Backend int

const (
	Eager Backend = iota
	Lazy
)

/// LoadResult is what a successful Load hands back to the lifecycle
/// controller: the values a trap-frame restore needs to resume into the
/// freshly loaded image, spec.md 4.4.1 step 5/section 6's calling
/// convention (rdi=argc, rsi=argv base, rip=entry, rsp=the marshalled
/// stack).
type LoadResult struct {
	Entry    uintptr
	SP       uintptr
	Argc     int
	ArgvBase uintptr
}

/// Load validates and materializes every PT_LOAD segment of im into as
/// using backend, then builds the stack and argument vector for argv,
/// returning the entry point, initial stack pointer, and the argc/argv
/// registers spec.md 4.4.1 step 5 calls for.
func Load(im *Image, as *vm.AddressSpace, alloc mem.Page_i, backend Backend, argv []string) (LoadResult, defs.Err_t) {
	as.Lock()
	defer as.Unlock()

	for _, p := range im.file.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if err := validateSegment(p); err != 0 {
			return LoadResult{}, err
		}
		span := spanFor(p)
		if err := materialize(as, alloc, im.ra, span, backend); err != 0 {
			return LoadResult{}, err
		}
	}

	stack, err := setupStack(as, alloc, argv)
	if err != 0 {
		return LoadResult{}, err
	}
	return LoadResult{
		Entry:    im.Entry(),
		SP:       stack.sp,
		Argc:     stack.argc,
		ArgvBase: stack.argvBase,
	}, 0
}

func materialize(as *vm.AddressSpace, alloc mem.Page_i, ra io.ReaderAt, span segmentSpan, backend Backend) defs.Err_t {
	readBytes, zeroBytes := span.readBytes, span.zeroBytes
	upage := span.memPage
	foff := span.fileOff

	for readBytes > 0 || zeroBytes > 0 {
		pageRead := readBytes
		if pageRead > mem.PGSIZE {
			pageRead = mem.PGSIZE
		}
		pageZero := mem.PGSIZE - pageRead

		if backend == Lazy {
			as.RegisterLazy(upage, span.writable, &pageLoader{ra: ra, off: foff, fill: pageRead})
		} else {
			pg, pa, ok := alloc.Alloc()
			if !ok {
				return defs.ENOMEM
			}
			if pageRead > 0 {
				n, err := ra.ReadAt(pg[:pageRead], foff)
				if err != nil && n != pageRead {
					alloc.Refdown(pa)
					return defs.EINVAL
				}
			}
			// pg is already zeroed by Alloc, covering pageZero bytes.
			as.Map(upage, pa, span.writable)
		}

		readBytes -= pageRead
		zeroBytes -= pageZero
		upage += uintptr(mem.PGSIZE)
		foff += int64(pageRead)
	}
	return 0
}

// stackLayout is setupStack's internal result: the final stack pointer
// plus the argc/argv-base values Load hands back as LoadResult so the
// caller can place them in the argc/argv entry registers.
type stackLayout struct {
	sp       uintptr
	argc     int
	argvBase uintptr
}

/// setupStack maps one zeroed stack page just below vm.UserTop, then
/// marshals argv onto it per spec.md 4.4.1 / process.c's setup_argument:
/// the joined, space-normalized command line is pushed first, then argv
/// pointers (8-byte aligned, null-terminated), then a fake zero return
/// address, leaving rsp pointing at that return address. argvBase is the
/// address of argv[0]'s pointer slot (the lowest of the pushed pointers),
/// the value spec.md 4.4.1 step 5 says goes into the second integer
/// argument register.
func setupStack(as *vm.AddressSpace, alloc mem.Page_i, argv []string) (stackLayout, defs.Err_t) {
	_, pa, ok := alloc.Alloc()
	if !ok {
		return stackLayout{}, defs.ENOMEM
	}
	stackBottom := vm.UserTop - uintptr(mem.PGSIZE)
	as.Map(stackBottom, pa, true)

	// CopyOut takes the address-space lock itself, so the caller's lock is
	// released for the copies below and re-taken before returning.
	as.Unlock()
	defer as.Lock()

	line := RemoveExtraSpaces(strings.Join(argv, " "))
	sp := vm.UserTop

	// Mirror process.c's in-place strtok_r: each space delimiter becomes
	// a '\0', so every token ends up independently null-terminated within
	// one contiguous buffer, followed by one trailing '\0' for the last
	// token.
	tokens := strings.Fields(line)
	lineBytes := make([]byte, 0, len(line)+1)
	var tokenOffsets []int
	for i, tok := range tokens {
		if i > 0 {
			lineBytes = append(lineBytes, 0)
		}
		tokenOffsets = append(tokenOffsets, len(lineBytes))
		lineBytes = append(lineBytes, []byte(tok)...)
	}
	lineBytes = append(lineBytes, 0)

	sp -= uintptr(len(lineBytes))
	if err := as.CopyOut(sp, lineBytes, vm.UserTop); err != 0 {
		return stackLayout{}, err
	}
	argBase := sp

	var argvAddrs []uintptr
	for _, off := range tokenOffsets {
		argvAddrs = append(argvAddrs, argBase+uintptr(off))
	}

	if rem := int(sp) % 8; rem != 0 {
		pad := 8 - rem
		sp -= uintptr(pad)
		if err := as.CopyOut(sp, make([]byte, pad), vm.UserTop); err != 0 {
			return stackLayout{}, err
		}
	}

	// null argv terminator
	sp -= 8
	if err := as.CopyOut(sp, make([]byte, 8), vm.UserTop); err != 0 {
		return stackLayout{}, err
	}

	// argv pointer array, highest index first so argv[0] ends up lowest
	for i := len(argvAddrs) - 1; i >= 0; i-- {
		sp -= 8
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(argvAddrs[i]))
		if err := as.CopyOut(sp, buf, vm.UserTop); err != 0 {
			return stackLayout{}, err
		}
	}
	argvBase := sp

	// fake return address
	sp -= 8
	if err := as.CopyOut(sp, make([]byte, 8), vm.UserTop); err != 0 {
		return stackLayout{}, err
	}

	return stackLayout{sp: sp, argc: len(argvAddrs), argvBase: argvBase}, 0
}

/// RemoveExtraSpaces collapses runs of whitespace in s to single spaces and
/// trims the ends, matching process.c's remove_extra_spaces helper that
/// setup_argument runs over the command line before tokenizing it.
func RemoveExtraSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

/// ProgramName derives the short process/thread name from a command line
/// the way process.c's f_name_to_t_name does: everything up to (not
/// including) the first space.
func ProgramName(cmdline string) string {
	if i := strings.IndexByte(cmdline, ' '); i >= 0 {
		return cmdline[:i]
	}
	return cmdline
}
