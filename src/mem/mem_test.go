package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocRefcounting(t *testing.T) {
	a := NewAllocator(0)
	_, pa, ok := a.Alloc()
	require.True(t, ok)
	assert.Equal(t, 1, a.Live())

	a.Refup(pa)
	assert.False(t, a.Refdown(pa), "two refs should not free the page")
	assert.Equal(t, 1, a.Live())

	assert.True(t, a.Refdown(pa), "last ref should free the page")
	assert.Equal(t, 0, a.Live())
}

func TestAllocZeroed(t *testing.T) {
	a := NewAllocator(0)
	pg, _, _ := a.Alloc()
	for _, b := range pg {
		require.Equal(t, uint8(0), b)
	}
}

func TestDerefPanicsAfterFree(t *testing.T) {
	a := NewAllocator(0)
	_, pa, _ := a.Alloc()
	a.Refdown(pa)
	assert.Panics(t, func() { a.Deref(pa) })
}

func TestAllocRespectsLimit(t *testing.T) {
	a := NewAllocator(2)
	_, pa1, ok := a.Alloc()
	require.True(t, ok)
	_, _, ok = a.Alloc()
	require.True(t, ok)

	_, _, ok = a.Alloc()
	assert.False(t, ok, "a third page must be refused once the limit is reached")

	require.True(t, a.Refdown(pa1))
	_, _, ok = a.Alloc()
	assert.True(t, ok, "freeing a page must make room for a new allocation")
}
