package fd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userproc/defs"
	"userproc/fdops"
)

// fileStub is a minimal fdops.File for exercising the table in isolation.
type fileStub struct {
	closed bool
	denied bool
}

func (f *fileStub) Read(dst []uint8) (int, defs.Err_t)  { return 0, 0 }
func (f *fileStub) Write(src []uint8) (int, defs.Err_t) { return len(src), 0 }
func (f *fileStub) Seek(off int) defs.Err_t             { return 0 }
func (f *fileStub) Tell() int                           { return 0 }
func (f *fileStub) Filesize() int                       { return 0 }
func (f *fileStub) Close() defs.Err_t                   { f.closed = true; return 0 }
func (f *fileStub) Duplicate() (fdops.File, defs.Err_t) { return &fileStub{}, 0 }
func (f *fileStub) DenyWrite()                          { f.denied = true }
func (f *fileStub) AllowWrite()                         { f.denied = false }

func TestFindEmptyNeverReturnsReservedSlots(t *testing.T) {
	tbl := NewTable(8)
	for i := 0; i < 6; i++ {
		idx, err := tbl.FindEmpty()
		require.Equal(t, defs.Err_t(0), err)
		assert.GreaterOrEqual(t, idx, 2)
		tbl.Set(idx, &Fd_t{})
	}
	_, err := tbl.FindEmpty()
	assert.Equal(t, defs.EMFILE, err, "table is full past capacity")
}

func TestFindEmptyReturnsLowestIndex(t *testing.T) {
	tbl := NewTable(8)
	tbl.Set(2, &Fd_t{})
	tbl.Set(3, &Fd_t{})
	idx, err := tbl.FindEmpty()
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 4, idx)

	tbl.Free(2)
	idx, err = tbl.FindEmpty()
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 2, idx, "a freed low slot is reused before higher ones")
}

func TestGetSetOutOfRange(t *testing.T) {
	tbl := NewTable(4)
	assert.Nil(t, tbl.Get(-1))
	assert.Nil(t, tbl.Get(99))
	tbl.Set(99, &Fd_t{}) // silently ignored
	assert.True(t, tbl.IsEmpty(0))
}

func TestCloseAndFreeClearsSlotAndClosesHandle(t *testing.T) {
	tbl := NewTable(4)
	ff := &fileStub{}
	tbl.Set(2, &Fd_t{Fops: ff})
	require.Equal(t, defs.Err_t(0), tbl.CloseAndFree(2))
	assert.True(t, ff.closed)
	assert.True(t, tbl.IsEmpty(2))
}

func TestCloseAndFreeOnEmptySlotIsBadFd(t *testing.T) {
	tbl := NewTable(4)
	assert.Equal(t, defs.EBADF, tbl.CloseAndFree(2))
}

func TestCloseAndFreeReleasesDeniedWrite(t *testing.T) {
	tbl := NewTable(4)
	ff := &fileStub{denied: true}
	tbl.Set(2, &Fd_t{Fops: ff, DeniedWrite: true})
	require.Equal(t, defs.Err_t(0), tbl.CloseAndFree(2))
	assert.False(t, ff.denied, "closing a deny-write slot must release its vote")
}

func TestCopyfdRevotesDeniedWriteOnDuplicate(t *testing.T) {
	src := &Fd_t{Fops: &fileStub{}, DeniedWrite: true}
	dup, err := Copyfd(src)
	require.Equal(t, defs.Err_t(0), err)
	assert.True(t, dup.DeniedWrite)
	assert.True(t, dup.Fops.(*fileStub).denied, "the duplicate must cast its own deny-write vote")
}

func TestCloneIntoDuplicatesOccupiedSlots(t *testing.T) {
	src := NewTable(8)
	src.Set(0, &Fd_t{Fops: &fileStub{}})
	src.Set(3, &Fd_t{Fops: &fileStub{}})
	dst := NewTable(8)

	require.Equal(t, defs.Err_t(0), CloneInto(dst, src))
	assert.NotNil(t, dst.Get(0))
	assert.NotNil(t, dst.Get(3))
	assert.NotSame(t, src.Get(0).Fops, dst.Get(0).Fops, "clone must yield an independent handle")
	assert.True(t, dst.IsEmpty(1))
}
