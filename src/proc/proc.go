// Package proc implements the process record & child registry (spec.md
// C4) and the task augmentation data carried on every kernel task (spec.md
// section 3's "Task augmentation"). It is new code: the retrieved pack's
// own proc/ directory came back empty, so the record/registry shape below
// is grounded on original_source/userprog/process.c's struct process and
// notice_to_parent/process_wait, rewritten to fix the bugs spec.md's
// design notes call out by name (status collapsing to the literal 1, the
// inverted still-running check) and to use a sync.Mutex plus the
// channel-backed sema below instead of Pintos's lock+sema pair.
package proc

import (
	"sync"
	"sync/atomic"
	"time"

	"userproc/accnt"
	"userproc/circbuf"
	"userproc/defs"
	"userproc/fd"
	"userproc/fs"
	"userproc/limits"
	"userproc/mem"
	"userproc/tinfo"
	"userproc/vm"
)

// sema is a one-shot-capable counting semaphore, the synchronization
// primitive spec.md's external-collaborators list declares out of scope;
// it is simulated here as a buffered channel of tokens, the idiomatic Go
// substitute also seen in the pack's gvisor-derived sources (e.g. its
// task-start and AIO-context rendezvous channels).
type sema struct {
	ch chan struct{}
}

func newSema() *sema {
	return &sema{ch: make(chan struct{}, 8)}
}

func (s *sema) up() {
	s.ch <- struct{}{}
}

func (s *sema) down() {
	<-s.ch
}

func (s *sema) tryDown() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

/// Record is one process record, spec.md 4.3: created by the parent
/// before the child begins running, so a synchronously-failing child and
/// a late wait meet at the same structure.
type Record struct {
	mu       sync.Mutex
	Tid      defs.Tid_t
	status   defs.Status
	ExitCode int
	sem      *sema
	Parent   *Task
	Child    *Task
}

func newRecord(tid defs.Tid_t, parent *Task) *Record {
	return &Record{Tid: tid, status: defs.YetInit, sem: newSema(), Parent: parent}
}

/// Status returns the record's current lifecycle status under lock.
func (r *Record) Status() defs.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

/// notify transitions the record to st (CREATED, FAILED, or TERMINATED)
/// and signals the semaphore exactly once, spec.md 4.3 invariant (i)/(ii).
/// Unlike the original's notice_to_parent, which sets status to the bare
/// literal 1 for every transition, st is the real destination tag.
func (r *Record) notify(st defs.Status, exitCode int) {
	r.mu.Lock()
	r.status = st
	r.ExitCode = exitCode
	r.mu.Unlock()
	r.sem.up()
}

// awaitStatus blocks on the record's semaphore until reached(status) is
// true, consuming an already-posted signal non-blockingly instead of
// re-waiting when the target status has already been reached. This is
// spec.md 4.3's "if still YET_INIT, down; otherwise try_down" branch for
// fork, generalized so wait (C6) can reuse it for the TERMINATED edge —
// note wait's "reached" condition is the opposite sense of fork's (wait
// is pending while status != TERMINATED; fork is pending while status ==
// YET_INIT), which is exactly the check the original got backwards.
func (r *Record) awaitStatus(reached func(defs.Status) bool) {
	r.mu.Lock()
	alreadyReached := reached(r.status)
	r.mu.Unlock()
	if alreadyReached {
		r.sem.tryDown()
	} else {
		r.sem.down()
	}
}

/// Task is the augmentation every kernel task carries (spec.md section 3):
/// an owned FD table, its address space, its own process record as seen
/// from the child side, and the list of its own children's records.
type Task struct {
	mu        sync.Mutex
	Tid       defs.Tid_t
	Name      string
	IsProcess bool
	Fds       *fd.Table
	As        *vm.AddressSpace
	Acc       accnt.Accnt_t
	startNs   int64
	ExitCode  int
	Children  []*Record
	ownRecord *Record // this task's record, as the parent's child-list entry

	// EntryPoint and StackPointer are the values a trap-frame restore
	// would load into rip/rsp to start (or resume) this task's user-mode
	// image; Argc and ArgvBase are the values it would load into the argc
	// and argv entry registers, spec.md 4.4.1 step 5/section 6's calling
	// convention. All four are set by execInto once the loader finishes.
	EntryPoint   uintptr
	StackPointer uintptr
	Argc         int
	ArgvBase     uintptr

	// Note is this task's scheduling note: whether it is still alive and
	// whether it has been asked to die, tracked the ctx-carried way
	// described in package tinfo rather than via a runtime-patched
	// "current thread" pointer.
	Note *tinfo.Tnote_t
}

/// addChild appends rec to t's child list.
func (t *Task) addChild(rec *Record) {
	t.mu.Lock()
	t.Children = append(t.Children, rec)
	t.mu.Unlock()
}

/// findChild locates and, if remove is true, unlinks the child record for
/// tid. Returns nil if tid does not name one of t's children.
func (t *Task) findChild(tid defs.Tid_t, remove bool) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.Children {
		if r.Tid == tid {
			if remove {
				t.Children = append(t.Children[:i], t.Children[i+1:]...)
			}
			return r
		}
	}
	return nil
}

/// Rusage returns a snapshot of t's accumulated accounting, encoded the
/// way a getrusage-style syscall would hand it back to user space.
func (t *Task) Rusage() []uint8 {
	return t.Acc.Fetch()
}

/// LookupChild returns the Task for one of t's still-registered children,
/// without removing its record, or nil if tid does not name one. Callers
/// that need to act on a child directly (a scheduler dispatching a trap
/// into it, a test driving it) go through this rather than reaching past
/// the record.
func (t *Task) LookupChild(tid defs.Tid_t) *Task {
	rec := t.findChild(tid, false)
	if rec == nil {
		return nil
	}
	return rec.Child
}

/// detachChildren marks every still-running child's record as having no
/// parent to report to, spec.md 4.5's "transitions every still-running
/// child record to detached" step of exit. Records for children that have
/// already terminated and been reaped by wait are not in the list anymore.
func (t *Task) detachChildren() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.Children {
		r.mu.Lock()
		r.Parent = nil
		r.mu.Unlock()
	}
	t.Children = nil
}

/// System bundles the simulated external collaborators (page allocator,
/// filesystem, console) and the task registry every lifecycle operation
/// needs, playing the role the teacher's global kernel state plays for
/// bootstrapping a single biscuit instance — except threaded explicitly
/// instead of read from package-level globals, per the task-local-state
/// design note.
type System struct {
	Alloc   mem.Page_i
	FS      *fs.FS
	Console *circbuf.Console
	Threads tinfo.Threadinfo_t
	nextTid int64
}

/// NewSystem wires together a fresh instance of the simulated subsystem.
func NewSystem(alloc mem.Page_i, filesystem *fs.FS, console *circbuf.Console) *System {
	s := &System{Alloc: alloc, FS: filesystem, Console: console}
	s.Threads.Init()
	return s
}

func (s *System) newTid() defs.Tid_t {
	return defs.Tid_t(atomic.AddInt64(&s.nextTid, 1))
}

/// newTask allocates a fresh task id and a populated, empty Task: an
/// FD table. Slots 0/1 are left empty; callers bind them (initStdio for a
/// fresh process init, fd.CloneInto for a forked child).
func (s *System) newTask(name string, isProcess bool) *Task {
	tid := s.newTid()
	note := &tinfo.Tnote_t{Alive: true}
	s.Threads.Lock()
	s.Threads.Notes[tid] = note
	s.Threads.Unlock()

	return &Task{
		Tid:       tid,
		Name:      name,
		IsProcess: isProcess,
		Fds:       fd.NewTable(limits.FD_MAX),
		As:        vm.NewAddressSpace(s.Alloc),
		Note:      note,
		startNs:   time.Now().UnixNano(),
	}
}

/// Kill marks tid's note as doomed, the signal a blocked syscall dispatch
/// checks for on its way back out (tinfo's Isdoomed), without forcibly
/// tearing down the task itself; spec.md's job-control and signal-delivery
/// Non-goals mean nothing currently drives a task to observe this, but the
/// note itself — and its registration in Threads — is exactly what a
/// future SIGKILL-equivalent would flip.
func (s *System) Kill(tid defs.Tid_t) defs.Err_t {
	s.Threads.Lock()
	n, ok := s.Threads.Notes[tid]
	s.Threads.Unlock()
	if !ok {
		return defs.ESRCH
	}
	n.Lock()
	n.Killed = true
	n.Isdoomed = true
	n.Unlock()
	return 0
}

/// initStdio binds t's reserved fd 0/1 slots to the shared console,
/// spec.md 4.1's reserved-stdio-slots invariant; process_init's equivalent
/// in the original just zeroes the array, since Pintos processes inherit
/// a real terminal via the fd 0/1 convention rather than a constructed one.
func (s *System) initStdio(t *Task) {
	t.Fds.Set(fd.STDIN, &fd.Fd_t{Fops: s.Console, Perms: fd.FD_READ})
	t.Fds.Set(fd.STDOUT, &fd.Fd_t{Fops: s.Console, Perms: fd.FD_WRITE})
}
