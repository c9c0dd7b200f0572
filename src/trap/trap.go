// Package trap implements the system-call dispatcher, spec.md component
// C7: a table indexed by syscall number, register-frame argument
// extraction matching the x86-64 syscall ABI (rdi, rsi, rdx, r10, r8, r9
// in; rax out), and the buffer-validation boundary every pointer-bearing
// handler must cross before touching user memory. Grounded on
// original_source/userprog/syscall.c's syscall_handlers array and its
// write/wait/exit handlers, generalized to the full syscall list spec.md
// section 6 names (the Pintos skeleton only ever filled in three of the
// sixteen slots).
package trap

import (
	"userproc/defs"
	"userproc/fd"
	"userproc/fdops"
	"userproc/proc"
	"userproc/vm"
)

/// Frame is the saved register state a trap into the kernel restores from
/// and returns through, spec.md section 3's "Register frame": the six
/// argument registers in the user-space stub's fixed order, RAX carrying
/// the syscall number in and the result out, and RIP/RSP for exec's
/// image-replacement path.
type Frame struct {
	RDI, RSI, RDX, R10, R8, R9 uintptr
	RAX                        uintptr
	RIP, RSP                   uintptr
}

// maxCStringLen bounds readCString's scan, standing in for the "well-sized
// copy" spec.md's design notes ask for in place of the original's
// strlen-sized strlcpy onto a possibly-undersized buffer.
const maxCStringLen = 4096

func readCString(as *vm.AddressSpace, ptr uintptr) (string, defs.Err_t) {
	buf := make([]byte, 0, 64)
	for i := 0; i < maxCStringLen; i++ {
		b, err := as.CopyIn(ptr+uintptr(i), 1, vm.UserTop)
		if err != 0 {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), 0
		}
		buf = append(buf, b[0])
	}
	return "", defs.EINVAL
}

type handlerFunc func(s *proc.System, t *proc.Task, f *Frame)

/// Dispatcher holds the syscall table and the simulated system it
/// dispatches handlers against.
type Dispatcher struct {
	sys   *proc.System
	table [defs.NSYSCALL]handlerFunc
}

/// NewDispatcher builds a dispatcher for sys with every syscall slot
/// populated, spec.md section 6's full ABI (not just the three the
/// retrieved syscall.c skeleton implements).
func NewDispatcher(sys *proc.System) *Dispatcher {
	d := &Dispatcher{sys: sys}
	d.table[defs.SYS_HALT] = haltHandler
	d.table[defs.SYS_EXIT] = exitHandler
	d.table[defs.SYS_FORK] = forkHandler
	d.table[defs.SYS_EXEC] = execHandler
	d.table[defs.SYS_WAIT] = waitHandler
	d.table[defs.SYS_CREATE] = createHandler
	d.table[defs.SYS_REMOVE] = removeHandler
	d.table[defs.SYS_OPEN] = openHandler
	d.table[defs.SYS_FILESIZE] = filesizeHandler
	d.table[defs.SYS_READ] = readHandler
	d.table[defs.SYS_WRITE] = writeHandler
	d.table[defs.SYS_SEEK] = seekHandler
	d.table[defs.SYS_TELL] = tellHandler
	d.table[defs.SYS_CLOSE] = closeHandler
	d.table[defs.SYS_MMAP] = unsupportedHandler
	d.table[defs.SYS_MUNMAP] = unsupportedHandler
	return d
}

/// Dispatch looks up f.RAX as a syscall number and runs its handler
/// against t, spec.md section 6: an out-of-range number is silently a
/// no-op, matching "unknown numbers silently return (no effect)".
func (d *Dispatcher) Dispatch(t *proc.Task, f *Frame) {
	n := int(f.RAX)
	if n < 0 || n >= defs.NSYSCALL || d.table[n] == nil {
		return
	}
	d.table[n](d.sys, t, f)
}

func haltHandler(s *proc.System, t *proc.Task, f *Frame) {
	// No real machine to power off; the simulated kernel treats halt as
	// a no-op trap, matching there being nothing below this process to
	// shut down.
}

func exitHandler(s *proc.System, t *proc.Task, f *Frame) {
	code := int(int64(f.RDI))
	f.RAX = uintptr(code)
	s.Exit(t, code)
}

func forkHandler(s *proc.System, t *proc.Task, f *Frame) {
	name, err := readCString(t.As, f.RDI)
	if err != 0 {
		s.Exit(t, -1)
		return
	}
	tid, err := s.Fork(t, name)
	if err != 0 {
		f.RAX = uintptr(int64(-1))
		return
	}
	f.RAX = uintptr(tid)
}

func execHandler(s *proc.System, t *proc.Task, f *Frame) {
	cmdline, err := readCString(t.As, f.RDI)
	if err != 0 {
		s.Exit(t, -1)
		return
	}
	if err := s.Exec(t, cmdline); err != 0 {
		f.RAX = uintptr(int64(-1))
		return
	}
	// exec replaces the running image: the trap return path resumes at
	// the freshly loaded entry point and stack instead of coming back to
	// the caller, spec.md 4.5's "on success there is no return". RDI/RSI
	// carry argc/argv per spec.md 4.4.1 step 5 and section 6's calling
	// convention (rdi=argc, rsi=argv base) for the entry it jumps to.
	f.RIP = t.EntryPoint
	f.RSP = t.StackPointer
	f.RDI = uintptr(t.Argc)
	f.RSI = t.ArgvBase
}

func waitHandler(s *proc.System, t *proc.Task, f *Frame) {
	tid := defs.Tid_t(int64(f.RDI))
	code, err := s.Wait(t, tid)
	if err != 0 {
		f.RAX = uintptr(int64(-1))
		return
	}
	f.RAX = uintptr(int64(code))
}

func createHandler(s *proc.System, t *proc.Task, f *Frame) {
	path, err := readCString(t.As, f.RDI)
	if err != 0 {
		s.Exit(t, -1)
		return
	}
	size := int(f.RSI)
	if s.FS.Create(path, size) != 0 {
		f.RAX = 0
		return
	}
	f.RAX = 1
}

func removeHandler(s *proc.System, t *proc.Task, f *Frame) {
	path, err := readCString(t.As, f.RDI)
	if err != 0 {
		s.Exit(t, -1)
		return
	}
	if s.FS.Remove(path) != 0 {
		f.RAX = 0
		return
	}
	f.RAX = 1
}

func openHandler(s *proc.System, t *proc.Task, f *Frame) {
	path, err := readCString(t.As, f.RDI)
	if err != 0 {
		s.Exit(t, -1)
		return
	}
	h, oerr := s.FS.Open(path)
	if oerr != 0 {
		f.RAX = uintptr(int64(-1))
		return
	}
	idx, ferr := t.Fds.FindEmpty()
	if ferr != 0 {
		h.Close()
		f.RAX = uintptr(int64(-1))
		return
	}
	t.Fds.Set(idx, &fd.Fd_t{Fops: h, Perms: fd.FD_READ | fd.FD_WRITE})
	f.RAX = uintptr(idx)
}

func withFile(t *proc.Task, f *Frame, fdIdx int) fdops.File {
	h := t.Fds.Get(fdIdx)
	if h == nil {
		return nil
	}
	return h.Fops
}

func filesizeHandler(s *proc.System, t *proc.Task, f *Frame) {
	file := withFile(t, f, int(f.RDI))
	if file == nil {
		f.RAX = uintptr(int64(-1))
		return
	}
	f.RAX = uintptr(file.Filesize())
}

func readHandler(s *proc.System, t *proc.Task, f *Frame) {
	fdIdx := int(f.RDI)
	buf := f.RSI
	size := int(f.RDX)

	// spec.md 4.6: reading from fd 1 (stdout) is not a user error to
	// report in rax, it is fatal to the caller.
	if fdIdx == fd.STDOUT {
		s.Exit(t, -1)
		return
	}

	if err := t.As.CheckBuffer(buf, size, true, vm.UserTop); err != 0 {
		s.Exit(t, -1)
		return
	}

	var file fdops.File
	if fdIdx == fd.STDIN {
		file = s.Console
	} else {
		file = withFile(t, f, fdIdx)
	}
	if file == nil {
		f.RAX = uintptr(int64(-1))
		return
	}

	tmp := make([]byte, size)
	n, rerr := file.Read(tmp)
	if rerr != 0 {
		f.RAX = uintptr(int64(-1))
		return
	}
	if err := t.As.CopyOut(buf, tmp[:n], vm.UserTop); err != 0 {
		s.Exit(t, -1)
		return
	}
	f.RAX = uintptr(n)
}

func writeHandler(s *proc.System, t *proc.Task, f *Frame) {
	fdIdx := int(f.RDI)
	buf := f.RSI
	size := int(f.RDX)

	// spec.md 4.6: writing to fd 0 (stdin) is fatal to the caller.
	if fdIdx == fd.STDIN {
		s.Exit(t, -1)
		return
	}

	data, err := t.As.CopyIn(buf, size, vm.UserTop)
	if err != 0 {
		s.Exit(t, -1)
		return
	}

	var file fdops.File
	if fdIdx == fd.STDOUT {
		file = s.Console
	} else {
		file = withFile(t, f, fdIdx)
	}
	if file == nil {
		f.RAX = uintptr(int64(-1))
		return
	}

	n, werr := file.Write(data)
	if werr != 0 {
		f.RAX = uintptr(int64(-1))
		return
	}
	f.RAX = uintptr(n)
}

func seekHandler(s *proc.System, t *proc.Task, f *Frame) {
	file := withFile(t, f, int(f.RDI))
	if file == nil {
		return
	}
	file.Seek(int(f.RSI))
}

func tellHandler(s *proc.System, t *proc.Task, f *Frame) {
	file := withFile(t, f, int(f.RDI))
	if file == nil {
		f.RAX = uintptr(int64(-1))
		return
	}
	f.RAX = uintptr(file.Tell())
}

func closeHandler(s *proc.System, t *proc.Task, f *Frame) {
	// spec.md 4.6: close terminates the caller on an invalid fd rather
	// than reporting an error in rax.
	if t.Fds.CloseAndFree(int(f.RDI)) != 0 {
		s.Exit(t, -1)
	}
}

func unsupportedHandler(s *proc.System, t *proc.Task, f *Frame) {
	f.RAX = uintptr(int64(defs.ENOSYS))
}
