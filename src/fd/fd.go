// Package fd implements the per-process file-descriptor table, spec.md
// component C2. Fd_t keeps the teacher's shape (an fdops.File reference
// plus permission bits); Table adds the fixed-capacity array, the
// reserved-stdio-slots invariant, and fork's clone_into, none of which the
// retrieved fd.go carried (it only modeled a single descriptor and a
// cwd-duplication helper that this subsystem has no use for, since paths
// are flat filenames here — see DESIGN.md).
package fd

import (
	"userproc/defs"
	"userproc/fdops"
)

/// File descriptor permission bits.
const (
	FD_READ    = 0x1 /// read permission
	FD_WRITE   = 0x2 /// write permission
	FD_CLOEXEC = 0x4 /// close-on-exec flag
)

/// Fd_t represents one open file descriptor slot.
type Fd_t struct {
	Fops        fdops.File /// descriptor operations
	Perms       int        /// permission bits
	DeniedWrite bool       /// true for the loader's deny-write handle on an executing image
}

/// Copyfd duplicates an open file descriptor. A deny-write slot (the
/// loader's own fd on its executing image) casts its own vote against the
/// duplicate too, so each of the (now two) processes holding the image
/// open independently un-votes it on its own close/exit rather than the
/// first one to exit releasing it out from under the other.
func Copyfd(f *Fd_t) (*Fd_t, defs.Err_t) {
	nfops, err := f.Fops.Duplicate()
	if err != 0 {
		return nil, err
	}
	if f.DeniedWrite {
		nfops.DenyWrite()
	}
	return &Fd_t{Fops: nfops, Perms: f.Perms, DeniedWrite: f.DeniedWrite}, 0
}

/// Close_panic closes the descriptor and panics on failure — used on
/// paths where a close failing would indicate kernel-internal corruption
/// rather than a user-facing error.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

/// STDIN and STDOUT are the two slots find_empty may never return,
/// spec.md 4.1 invariant (ii).
const (
	STDIN  = 0
	STDOUT = 1
)

/// Table is the fixed-capacity FD table described in spec.md section 3/4.1:
/// a mapping from descriptor index in [0, capacity) to an open Fd_t or the
/// empty sentinel (nil).
type Table struct {
	slots []*Fd_t
}

/// NewTable allocates an empty table of the given capacity (FD_MAX).
func NewTable(capacity int) *Table {
	return &Table{slots: make([]*Fd_t, capacity)}
}

/// Cap reports the table's capacity.
func (t *Table) Cap() int {
	return len(t.slots)
}

/// FindEmpty returns the lowest free index >= 2, or the no-fd-available
/// error sentinel (spec.md 4.1).
func (t *Table) FindEmpty() (int, defs.Err_t) {
	for i := 2; i < len(t.slots); i++ {
		if t.slots[i] == nil {
			return i, 0
		}
	}
	return -1, defs.EMFILE
}

/// Set places f at index i. Out-of-range indices are a silent no-op,
/// matching spec.md 4.1's "set(i, handle) placing a handle" contract for
/// a table whose callers have already range-checked i via FindEmpty or a
/// validated fd argument.
func (t *Table) Set(i int, f *Fd_t) {
	if i < 0 || i >= len(t.slots) {
		return
	}
	t.slots[i] = f
}

/// Get returns the handle at i, or nil if empty or out of range.
func (t *Table) Get(i int) *Fd_t {
	if i < 0 || i >= len(t.slots) {
		return nil
	}
	return t.slots[i]
}

/// IsEmpty reports whether slot i holds no handle.
func (t *Table) IsEmpty(i int) bool {
	return t.Get(i) == nil
}

/// Free clears slot i without closing the handle (the caller is
/// responsible for closing it first if that is desired).
func (t *Table) Free(i int) {
	if i < 0 || i >= len(t.slots) {
		return
	}
	t.slots[i] = nil
}

/// CloseAndFree closes the handle at i, if any, and clears the slot. A
/// deny-write slot has its vote released first, spec.md section 5's
/// "released on process exit" for an executable held open under deny-write
/// (4.4 step 3) — without this, a file that was ever exec'd would stay
/// permanently un-writable once its fd slot is freed.
func (t *Table) CloseAndFree(i int) defs.Err_t {
	f := t.Get(i)
	if f == nil {
		return defs.EBADF
	}
	if f.DeniedWrite {
		f.Fops.AllowWrite()
	}
	err := f.Fops.Close()
	t.Free(i)
	return err
}

/// CloneInto duplicates every occupied slot of src into dst via
/// fd.Copyfd, spec.md 4.1's "duplicated entry-by-entry on fork". dst must
/// have at least as much capacity as src; any error duplicating a handle
/// aborts and is returned. Slots duplicated before the error stay in dst:
/// CloneInto does not close them, and proc's fork path reports FAILED
/// without closing them either.
func CloneInto(dst, src *Table) defs.Err_t {
	for i, f := range src.slots {
		if f == nil {
			continue
		}
		nf, err := Copyfd(f)
		if err != 0 {
			return err
		}
		dst.Set(i, nf)
	}
	return 0
}
