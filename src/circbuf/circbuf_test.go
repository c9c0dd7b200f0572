package circbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"userproc/defs"
	"userproc/mem"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var cb Circbuf_t
	require.Equal(t, defs.Err_t(0), cb.Init(16, mem.NewAllocator(0)))

	n, err := cb.Write([]byte("hello"))
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, cb.Used())

	buf := make([]byte, 5)
	n, err = cb.Read(buf)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, 0, cb.Used())
}

func TestWriteStopsWhenFull(t *testing.T) {
	var cb Circbuf_t
	cb.Init(4, mem.NewAllocator(0))
	n, _ := cb.Write([]byte("abcdef"))
	assert.Equal(t, 4, n, "only capacity bytes are accepted")
}

func TestWrapsAroundAfterPartialDrain(t *testing.T) {
	var cb Circbuf_t
	cb.Init(4, mem.NewAllocator(0))
	cb.Write([]byte("ab"))
	buf := make([]byte, 1)
	cb.Read(buf)
	cb.Write([]byte("cd"))

	out := make([]byte, 3)
	n, _ := cb.Read(out)
	assert.Equal(t, "bcd", string(out[:n]))
}

func TestConsoleWriteThenRead(t *testing.T) {
	c := NewConsole(mem.NewAllocator(0), 64)
	n, err := c.Write([]byte("ready\n"))
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, 6, n)

	buf := make([]byte, 6)
	n, err = c.Read(buf)
	require.Equal(t, defs.Err_t(0), err)
	assert.Equal(t, "ready\n", string(buf[:n]))

	dup, err := c.Duplicate()
	require.Equal(t, defs.Err_t(0), err)
	assert.Same(t, c, dup, "every process shares one console")

	assert.Equal(t, defs.D_CONSOLE, c.Device())
}
