package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userproc/defs"
)

func TestCreateOpenReadWrite(t *testing.T) {
	f := New()
	require.Equal(t, defs.Err_t(0), f.Create("/a.txt", 0))

	h, err := f.Open("/a.txt")
	require.Equal(t, defs.Err_t(0), err)

	n, err := h.Write([]byte("hello"))
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, h.Filesize())

	require.Equal(t, defs.Err_t(0), h.Seek(0))
	buf := make([]byte, 5)
	n, err = h.Read(buf)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestOpenMissingIsNoEnt(t *testing.T) {
	f := New()
	_, err := f.Open("/missing")
	assert.Equal(t, defs.ENOENT, err)
}

func TestDuplicateSharesInodeIndependentOffset(t *testing.T) {
	f := New()
	require.Equal(t, defs.Err_t(0), f.Create("/a.txt", 0))
	h, _ := f.Open("/a.txt")
	h.Write([]byte("0123456789"))
	h.Seek(0)

	dup, err := h.Duplicate()
	require.Equal(t, defs.Err_t(0), err)
	dup.Seek(5)

	buf := make([]byte, 5)
	n, _ := h.Read(buf)
	assert.Equal(t, "01234", string(buf[:n]))

	n, _ = dup.Read(buf)
	assert.Equal(t, "56789", string(buf[:n]))
}

func TestDenyWriteBlocksAllHandlesToSameInode(t *testing.T) {
	f := New()
	require.Equal(t, defs.Err_t(0), f.Create("/a.txt", 0))
	h, _ := f.Open("/a.txt")
	dup, _ := h.Duplicate()

	h.DenyWrite()
	_, err := dup.Write([]byte("x"))
	assert.Equal(t, defs.EINVAL, err, "deny-write on one handle blocks writes through any duplicate")

	h.AllowWrite()
	_, err = dup.Write([]byte("x"))
	assert.Equal(t, defs.Err_t(0), err)
}

func TestRemoveUnlinksButOpenHandleSurvives(t *testing.T) {
	f := New()
	require.Equal(t, defs.Err_t(0), f.Create("/a.txt", 0))
	h, _ := f.Open("/a.txt")
	h.Write([]byte("still here"))

	require.Equal(t, defs.Err_t(0), f.Remove("/a.txt"))
	_, err := f.Open("/a.txt")
	assert.Equal(t, defs.ENOENT, err, "path is gone from the namespace")

	h.Seek(0)
	buf := make([]byte, 10)
	n, _ := h.Read(buf)
	assert.Equal(t, "still here", string(buf[:n]), "a handle open before removal keeps working")
}

func TestAsReaderAtReadsIndependentlyOfSeekPosition(t *testing.T) {
	f := New()
	require.Equal(t, defs.Err_t(0), f.Create("/elf", 0))
	h, _ := f.Open("/elf")
	h.Write([]byte("headerbody"))
	h.Seek(3)

	ra := AsReaderAt(h)
	require.NotNil(t, ra)
	buf := make([]byte, 6)
	n, err := ra.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, "erbody", string(buf[:n]))
	assert.Equal(t, 3, h.Tell(), "ReadAt must not disturb the handle's own offset")
}
