package trap

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userproc/circbuf"
	"userproc/defs"
	"userproc/fd"
	"userproc/fs"
	"userproc/mem"
	"userproc/proc"
	"userproc/vm"
)

func buildELF(t *testing.T, vaddr uint64, code []byte) []byte {
	t.Helper()
	const ehsize = 64
	const phentsize = 56

	var buf bytes.Buffer
	hdr := elf.Header64{
		Ident:     [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1},
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   1,
		Entry:     vaddr,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     1,
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &hdr))

	// the code starts at a page-aligned file offset so that its offset and
	// vaddr agree modulo PGSIZE, as the loader's segment validation requires.
	phdr := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    uint64(mem.PGSIZE),
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint64(len(code)),
		Memsz:  uint64(len(code)),
		Align:  uint64(mem.PGSIZE),
	}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &phdr))
	buf.Write(make([]byte, mem.PGSIZE-buf.Len()))
	buf.Write(code)
	return buf.Bytes()
}

const testEntryVaddr = uintptr(mem.PGSIZE) * 4

func newTestSystem(t *testing.T) *proc.System {
	t.Helper()
	alloc := mem.NewAllocator(0)
	filesystem := fs.New()
	console := circbuf.NewConsole(alloc, mem.PGSIZE)
	return proc.NewSystem(alloc, filesystem, console)
}

func installProgram(t *testing.T, s *proc.System, path string) {
	t.Helper()
	raw := buildELF(t, uint64(testEntryVaddr), []byte{0x90, 0x90, 0xc3})
	require.Equal(t, defs.Err_t(0), s.FS.Create(path, len(raw)))
	h, err := s.FS.Open(path)
	require.Equal(t, defs.Err_t(0), err)
	_, err = h.Write(raw)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.Err_t(0), h.Close())
}

func TestUnknownSyscallNumberIsNoOp(t *testing.T) {
	s := newTestSystem(t)
	installProgram(t, s, "init")
	task, err := s.SpawnInitial("init")
	require.Equal(t, defs.Err_t(0), err)

	d := NewDispatcher(s)
	f := &Frame{RAX: uintptr(defs.NSYSCALL + 5)}
	d.Dispatch(task, f)
	assert.Equal(t, uintptr(defs.NSYSCALL+5), f.RAX, "an out-of-range number must leave the frame untouched")
}

func TestMmapMunmapAreDispatchedButRefused(t *testing.T) {
	s := newTestSystem(t)
	installProgram(t, s, "init")
	task, err := s.SpawnInitial("init")
	require.Equal(t, defs.Err_t(0), err)

	d := NewDispatcher(s)
	for _, num := range []int{defs.SYS_MMAP, defs.SYS_MUNMAP} {
		f := &Frame{RAX: uintptr(num)}
		d.Dispatch(task, f)
		assert.Equal(t, uintptr(int64(defs.ENOSYS)), f.RAX)
	}
}

func TestWriteToStdoutGoesThroughConsole(t *testing.T) {
	s := newTestSystem(t)
	installProgram(t, s, "init")
	task, err := s.SpawnInitial("init")
	require.Equal(t, defs.Err_t(0), err)

	msg := []byte("hello")
	// bottom of the writable stack page; the code segment is mapped read-only
	va := vm.UserTop - uintptr(mem.PGSIZE) + 8
	require.Equal(t, defs.Err_t(0), task.As.CopyOut(va, msg, vm.UserTop))

	d := NewDispatcher(s)
	f := &Frame{RAX: uintptr(defs.SYS_WRITE), RDI: 1, RSI: va, RDX: uintptr(len(msg))}
	d.Dispatch(task, f)
	assert.Equal(t, uintptr(len(msg)), f.RAX)

	out := make([]byte, len(msg))
	n, rerr := s.Console.Read(out)
	require.Equal(t, defs.Err_t(0), rerr)
	assert.Equal(t, msg, out[:n])
}

func TestExecSetsArgcArgvEntryRegisters(t *testing.T) {
	s := newTestSystem(t)
	installProgram(t, s, "initprog")
	installProgram(t, s, "target")
	task, err := s.SpawnInitial("initprog")
	require.Equal(t, defs.Err_t(0), err)

	cmdline := "target a b"
	cmdAddr := vm.UserTop - uintptr(mem.PGSIZE) + 8
	require.Equal(t, defs.Err_t(0), task.As.CopyOut(cmdAddr, append([]byte(cmdline), 0), vm.UserTop))

	d := NewDispatcher(s)
	f := &Frame{RAX: uintptr(defs.SYS_EXEC), RDI: cmdAddr}
	d.Dispatch(task, f)

	// spec.md 4.4.1 step 5 / section 6: rdi=argc, rsi=argv base, rip/rsp
	// resume into the freshly loaded image, on top of the replaced
	// address space's own entry/stack pointer.
	assert.Equal(t, task.EntryPoint, f.RIP)
	assert.Equal(t, task.StackPointer, f.RSP)
	assert.Equal(t, uintptr(3), f.RDI, `argc for "target a b" must be 3`)
	assert.Equal(t, task.ArgvBase, f.RSI)
	assert.NotZero(t, f.RSI)
}

func TestReadFromBadPointerTerminatesCaller(t *testing.T) {
	s := newTestSystem(t)
	installProgram(t, s, "parent")
	parent, err := s.SpawnInitial("parent")
	require.Equal(t, defs.Err_t(0), err)

	childTid, err := s.Fork(parent, "child")
	require.Equal(t, defs.Err_t(0), err)
	child := parent.LookupChild(childTid)
	require.NotNil(t, child)

	d := NewDispatcher(s)
	f := &Frame{RAX: uintptr(defs.SYS_READ), RDI: 0, RSI: 0, RDX: 8}
	d.Dispatch(child, f)

	code, werr := s.Wait(parent, childTid)
	require.Equal(t, defs.Err_t(0), werr)
	assert.Equal(t, -1, code, "a bad-pointer syscall argument must terminate the caller with exit code -1")
}

func TestReadFromStdoutTerminatesCaller(t *testing.T) {
	s := newTestSystem(t)
	installProgram(t, s, "parent")
	parent, err := s.SpawnInitial("parent")
	require.Equal(t, defs.Err_t(0), err)

	childTid, err := s.Fork(parent, "child")
	require.Equal(t, defs.Err_t(0), err)
	child := parent.LookupChild(childTid)
	require.NotNil(t, child)

	va := testEntryVaddr
	d := NewDispatcher(s)
	f := &Frame{RAX: uintptr(defs.SYS_READ), RDI: uintptr(fd.STDOUT), RSI: va, RDX: 8}
	d.Dispatch(child, f)

	code, werr := s.Wait(parent, childTid)
	require.Equal(t, defs.Err_t(0), werr)
	assert.Equal(t, -1, code, "reading from fd 1 must terminate the caller")
}

func TestWriteToStdinTerminatesCaller(t *testing.T) {
	s := newTestSystem(t)
	installProgram(t, s, "parent")
	parent, err := s.SpawnInitial("parent")
	require.Equal(t, defs.Err_t(0), err)

	childTid, err := s.Fork(parent, "child")
	require.Equal(t, defs.Err_t(0), err)
	child := parent.LookupChild(childTid)
	require.NotNil(t, child)

	// bottom of the writable stack page; the code segment is mapped read-only
	va := vm.UserTop - uintptr(mem.PGSIZE) + 8
	require.Equal(t, defs.Err_t(0), child.As.CopyOut(va, []byte("hi"), vm.UserTop))

	d := NewDispatcher(s)
	f := &Frame{RAX: uintptr(defs.SYS_WRITE), RDI: uintptr(fd.STDIN), RSI: va, RDX: 2}
	d.Dispatch(child, f)

	code, werr := s.Wait(parent, childTid)
	require.Equal(t, defs.Err_t(0), werr)
	assert.Equal(t, -1, code, "writing to fd 0 must terminate the caller")
}

func TestCloseInvalidFdTerminatesCaller(t *testing.T) {
	s := newTestSystem(t)
	installProgram(t, s, "parent")
	parent, err := s.SpawnInitial("parent")
	require.Equal(t, defs.Err_t(0), err)

	childTid, err := s.Fork(parent, "child")
	require.Equal(t, defs.Err_t(0), err)
	child := parent.LookupChild(childTid)
	require.NotNil(t, child)

	d := NewDispatcher(s)
	f := &Frame{RAX: uintptr(defs.SYS_CLOSE), RDI: uintptr(77)}
	d.Dispatch(child, f)

	code, werr := s.Wait(parent, childTid)
	require.Equal(t, defs.Err_t(0), werr)
	assert.Equal(t, -1, code, "close of an invalid fd must terminate the caller")
}

func TestExitHandlerSetsRaxAndTerminatesRecord(t *testing.T) {
	s := newTestSystem(t)
	installProgram(t, s, "parent")
	parent, err := s.SpawnInitial("parent")
	require.Equal(t, defs.Err_t(0), err)

	childTid, err := s.Fork(parent, "child")
	require.Equal(t, defs.Err_t(0), err)
	child := parent.LookupChild(childTid)
	require.NotNil(t, child)

	d := NewDispatcher(s)
	f := &Frame{RAX: uintptr(defs.SYS_EXIT), RDI: uintptr(int64(42))}
	d.Dispatch(child, f)
	assert.Equal(t, uintptr(42), f.RAX)

	code, werr := s.Wait(parent, childTid)
	require.Equal(t, defs.Err_t(0), werr)
	assert.Equal(t, 42, code)
}
