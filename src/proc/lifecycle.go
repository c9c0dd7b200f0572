package proc

import (
	"strconv"
	"strings"

	"userproc/defs"
	"userproc/elf"
	"userproc/fd"
	"userproc/fs"
	"userproc/limits"
	"userproc/vm"
)

// execBackend selects the loader's segment-materialization strategy;
// SpawnInitial/Fork/Exec all default to eager, matching the teacher's own
// unconditional eager `install_page` path (the lazy backend is exercised
// directly through the elf/vm packages' own tests).
const execBackend = elf.Eager

/// SpawnInitial starts the first user process, spec.md 4.5: derives a task
/// name from the program token, asks the (simulated) scheduler for a task,
/// and execs cmdline into it. THIS SHOULD BE CALLED ONCE, mirroring the
/// original's own comment on process_create_initd, since nothing yet holds
/// a process record to report a creation failure back to.
func (s *System) SpawnInitial(cmdline string) (*Task, defs.Err_t) {
	if !limits.Syslimit.Sysprocs.Take() {
		return nil, defs.EAGAIN
	}
	name := elf.ProgramName(cmdline)
	t := s.newTask(name, true)
	s.initStdio(t)

	if err := s.execInto(t, cmdline); err != 0 {
		panic("userproc: initial exec failed: " + name)
	}
	return t, 0
}

/// Fork clones parent as a new child task, spec.md 4.5/4.3: the child
/// duplicates the parent's address space and FD table on a separate
/// goroutine (standing in for the scheduler's kernel-thread creation
/// primitive) while the parent blocks on the child's process record until
/// it posts CREATED or FAILED.
func (s *System) Fork(parent *Task, name string) (defs.Tid_t, defs.Err_t) {
	if !limits.Syslimit.Sysprocs.Take() {
		return defs.TID_NONE, defs.EAGAIN
	}
	child := s.newTask(name, true)
	rec := newRecord(child.Tid, parent)
	rec.Child = child
	child.ownRecord = rec
	parent.addChild(rec)

	go s.doFork(parent, child, rec)

	rec.awaitStatus(func(st defs.Status) bool { return st != defs.YetInit })
	if rec.Status() == defs.Failed {
		limits.Syslimit.Sysprocs.Give()
		return defs.TID_NONE, defs.EAGAIN
	}
	return child.Tid, 0
}

func (s *System) doFork(parent, child *Task, rec *Record) {
	if err := parent.As.CopyInto(child.As); err != 0 {
		rec.notify(defs.Failed, -1)
		return
	}
	if err := fd.CloneInto(child.Fds, parent.Fds); err != 0 {
		rec.notify(defs.Failed, -1)
		return
	}
	rec.notify(defs.Created, 0)
}

/// Exec tears down t's current address space and FD-held executable and
/// loads a new binary in its place, spec.md 4.5. On success the task's
/// state now reflects the new program; on failure it returns the error
/// that stopped the load (ENOENT for a missing program, EINVAL for a
/// malformed image, ENOMEM, EMFILE) with its previous image's resources
/// already torn down, matching process_exec's "if load failed, quit" path
/// — the caller typically exits next.
func (s *System) Exec(t *Task, cmdline string) defs.Err_t {
	for i := 0; i < t.Fds.Cap(); i++ {
		if f := t.Fds.Get(i); f != nil && f.DeniedWrite {
			t.Fds.CloseAndFree(i)
		}
	}
	t.As.Destroy()
	t.As = vm.NewAddressSpace(s.Alloc)
	return s.execInto(t, cmdline)
}

/// execInto loads cmdline into t's (already fresh) address space: opens
/// the program file under deny-write, validates and materializes the ELF
/// image, and marshals argv onto a freshly mapped stack, spec.md 4.4. On
/// any failure after the program's fd is installed, that fd is closed and
/// its deny-write vote released — spec.md 4.4 step 9's "release any opened
/// file (re-allowing writes) and return false" — rather than leaking a
/// permanently un-writable, unreachable fd slot.
func (s *System) execInto(t *Task, cmdline string) (rerr defs.Err_t) {
	fields := splitFields(cmdline)
	if len(fields) == 0 {
		return defs.EINVAL
	}
	program := fields[0]

	h, err := s.FS.Open(program)
	if err != 0 {
		return err
	}
	h.DenyWrite()

	progFd, err := t.Fds.FindEmpty()
	if err != 0 {
		h.AllowWrite()
		h.Close()
		return err
	}
	t.Fds.Set(progFd, &fd.Fd_t{Fops: h, DeniedWrite: true})
	defer func() {
		if rerr != 0 {
			t.Fds.CloseAndFree(progFd)
		}
	}()

	ra := fs.AsReaderAt(h)
	if ra == nil {
		return defs.EINVAL
	}
	im, err := elf.Open(ra)
	if err != 0 {
		return err
	}

	res, err := elf.Load(im, t.As, s.Alloc, execBackend, fields)
	if err != 0 {
		return err
	}

	t.EntryPoint = res.Entry
	t.StackPointer = res.SP
	t.Argc = res.Argc
	t.ArgvBase = res.ArgvBase
	return 0
}

func splitFields(cmdline string) []string {
	return strings.Fields(elf.RemoveExtraSpaces(cmdline))
}

/// Wait blocks until child tid terminates and reaps its record, spec.md
/// 4.3/8 property 2: a second wait for the same tid returns ECHILD since
/// the record no longer exists in parent's child list after the first
/// successful wait.
func (s *System) Wait(parent *Task, tid defs.Tid_t) (int, defs.Err_t) {
	rec := parent.findChild(tid, false)
	if rec == nil {
		return -1, defs.ECHILD
	}
	rec.awaitStatus(func(st defs.Status) bool { return st == defs.Terminated })

	rec.mu.Lock()
	code := rec.ExitCode
	rec.mu.Unlock()

	// the reaped child's own usage is folded into the parent's record,
	// the rusage(children) half of spec.md section 8's accounting
	// property: a parent that waits on N children can report their
	// combined cost, not just its own.
	if rec.Child != nil {
		parent.Acc.Add(&rec.Child.Acc)
	}

	parent.findChild(tid, true)
	return code, 0
}

/// Exit terminates t: closes every occupied fd, prints the termination
/// message for user processes, destroys the address space, detaches
/// surviving children, and notifies the parent's record, spec.md 4.5.
func (s *System) Exit(t *Task, code int) {
	for i := 0; i < t.Fds.Cap(); i++ {
		if !t.Fds.IsEmpty(i) {
			t.Fds.CloseAndFree(i)
		}
	}
	if t.IsProcess {
		s.Console.Write([]byte(t.Name + ": exit(" + strconv.Itoa(code) + ")\n"))
	}
	t.As.Destroy()
	t.detachChildren()
	limits.Syslimit.Sysprocs.Give()
	t.Acc.Finish(int(t.startNs))

	t.Note.Lock()
	t.Note.Alive = false
	t.Note.Unlock()
	s.Threads.Lock()
	delete(s.Threads.Notes, t.Tid)
	s.Threads.Unlock()

	if t.ownRecord != nil {
		t.ownRecord.notify(defs.Terminated, code)
	}
}
