package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesAndStrings(t *testing.T) {
	a := New(0)

	b, err := a.Bytes(8)
	require.NoError(t, err)
	assert.Len(t, b, 8)

	s, err := a.String("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	assert.Equal(t, 13, a.Spent())
}

func TestFloats(t *testing.T) {
	a := New(0)
	f, err := a.Floats(4)
	require.NoError(t, err)
	assert.Len(t, f, 4)
	assert.Equal(t, 32, a.Spent())
}

func TestBound(t *testing.T) {
	a := New(16)

	_, err := a.Bytes(10)
	require.NoError(t, err)
	_, err = a.Bytes(10)
	assert.ErrorIs(t, err, ErrExhausted)

	// Reset restores the budget.
	a.Reset()
	_, err = a.Bytes(16)
	assert.NoError(t, err)
}

func TestAllocationsDoNotAlias(t *testing.T) {
	a := New(0)
	x, _ := a.Bytes(4)
	y, _ := a.Bytes(4)
	copy(x, []byte{1, 1, 1, 1})
	copy(y, []byte{2, 2, 2, 2})
	assert.Equal(t, []byte{1, 1, 1, 1}, x)

	// Appending to one allocation must not clobber the next.
	x = append(x, 9)
	assert.Equal(t, []byte{2, 2, 2, 2}, y)
}

func TestLargeAllocation(t *testing.T) {
	a := New(0)
	b, err := a.Bytes(1 << 20)
	require.NoError(t, err)
	assert.Len(t, b, 1<<20)
}
