package fs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleTable(t *testing.T) {
	table := NewHandleTable(3)
	require.Equal(t, 3, table.Len())
	require.Empty(t, table.Open())

	fd, err := table.Bind(5)
	require.NoError(t, err)
	require.Equal(t, 0, fd)
	_, err = table.Bind(5)
	require.NoError(t, err)
	_, err = table.Bind(7)
	require.NoError(t, err)
	_, err = table.Bind(7)
	require.ErrorIs(t, err, ErrTooManyOpenFiles)

	require.Equal(t, 2, table.Refs(5))
	require.Equal(t, []int{0, 1, 2}, table.Open())

	h, err := table.Lookup(1)
	require.NoError(t, err)
	h.Offset = 12

	table.Release(1)
	table.Release(-1)
	table.Release(3)
	_, err = table.Lookup(1)
	require.ErrorIs(t, err, ErrInvalidHandle)
	_, err = table.Lookup(3)
	require.ErrorIs(t, err, ErrInvalidHandle)
	require.Equal(t, 1, table.Refs(5))

	// a rebound handle starts at offset 0
	fd, err = table.Bind(9)
	require.NoError(t, err)
	require.Equal(t, 1, fd)
	h, err = table.Lookup(fd)
	require.NoError(t, err)
	require.Equal(t, FileHandle{Inode: 9}, *h)
}

func TestHandleTableNonPositiveSize(t *testing.T) {
	require.Equal(t, DefaultMaxOpenFiles, NewHandleTable(0).Len())
	require.Equal(t, DefaultMaxOpenFiles, NewHandleTable(-1).Len())
}

func TestWithMaxOpenFilesKeepsDefault(t *testing.T) {
	fs, _ := newTestFS(t, testGeometry(), WithMaxOpenFiles(-1))
	_, err := fs.Create("a")
	require.NoError(t, err)
	for i := 0; i < DefaultMaxOpenFiles; i++ {
		_, err := fs.Open("a")
		require.NoError(t, err)
	}
	_, err = fs.Open("a")
	require.ErrorIs(t, err, ErrTooManyOpenFiles)
}
