package mmap

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapAnon_ReadWriteClose(t *testing.T) {
	size := 64 * 1024
	m, err := MapAnon(size)
	require.NoError(t, err)

	data := m.Bytes()
	require.Len(t, data, size)
	assert.Equal(t, size, m.Size())

	// Anonymous memory starts zeroed
	for _, b := range data[:128] {
		assert.Equal(t, byte(0), b)
	}

	data[0] = 0xAB
	data[size-1] = 0xCD
	assert.Equal(t, byte(0xAB), m.Bytes()[0])
	assert.Equal(t, byte(0xCD), m.Bytes()[size-1])

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())
}

func TestMapAnon_InvalidSize(t *testing.T) {
	_, err := MapAnon(0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = MapAnon(-1)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestRelease(t *testing.T) {
	page := os.Getpagesize()
	m, err := MapAnon(4 * page)
	require.NoError(t, err)

	data := m.Bytes()
	data[0] = 1
	data[page] = 2
	data[3*page] = 3

	require.NoError(t, m.Release(page, 2*page))
	assert.Equal(t, byte(1), data[0], "pages outside the range are kept")
	assert.Equal(t, byte(3), data[3*page])

	// The range stays mapped and writable.
	data[page] = 9
	assert.Equal(t, byte(9), data[page])

	require.NoError(t, m.Release(0, 0))
	assert.ErrorIs(t, m.Release(-1, 1), ErrOutOfBounds)
	assert.ErrorIs(t, m.Release(page, 4*page), ErrOutOfBounds)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Release(0, page), ErrClosed)
}
