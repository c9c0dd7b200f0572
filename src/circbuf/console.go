package circbuf

import (
	"userproc/defs"
	"userproc/fdops"
	"userproc/mem"
)

/// Console is the simulated fd 0/1 device: writes to it accumulate in an
/// in-memory ring buffer (standing in for a terminal or serial line) that
/// reads drain back out, and every process record's termination message
/// (spec.md 4.5's "prints name: exit(code) on normal exit) is appended to
/// it. It implements fdops.File so the fd table treats it like any other
/// open handle.
type Console struct {
	cb *Circbuf_t
}

/// NewConsole allocates a console with the given ring-buffer capacity.
func NewConsole(m mem.Page_i, capacity int) *Console {
	cb := &Circbuf_t{}
	cb.Init(capacity, m)
	return &Console{cb: cb}
}

func (c *Console) Read(dst []uint8) (int, defs.Err_t)  { return c.cb.Read(dst) }
func (c *Console) Write(src []uint8) (int, defs.Err_t) { return c.cb.Write(src) }
func (c *Console) Seek(off int) defs.Err_t             { return defs.EINVAL }
func (c *Console) Tell() int                           { return 0 }
func (c *Console) Filesize() int                       { return c.cb.Used() }
func (c *Console) Close() defs.Err_t                   { return 0 }

/// Device reports the device number stdio fds bound to this console
/// should carry (defs.D_CONSOLE), so callers that branch on device
/// identity don't have to special-case the console by fd index.
func (c *Console) Device() int { return defs.D_CONSOLE }

/// Duplicate returns the same console handle: every process shares one
/// terminal, unlike an ordinary file's independent-offset duplicates.
func (c *Console) Duplicate() (fdops.File, defs.Err_t) { return c, 0 }
func (c *Console) DenyWrite()                          {}
func (c *Console) AllowWrite()                         {}
