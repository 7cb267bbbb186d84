package fs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInodeEncoding(t *testing.T) {
	g := testGeometry()
	slot := make([]byte, g.InodeSize)

	inode := Inode{
		Status:       InodeInUse,
		Name:         strings.Repeat("n", g.MaxNameLength),
		Size:         130,
		DirectBlocks: []int{15, 0, 7, Unallocated},
	}
	require.NoError(t, encodeInode(g, inode, slot))
	got, err := decodeInode(g, slot)
	require.NoError(t, err)
	require.Equal(t, inode, got)

	inode.Name += "n"
	require.ErrorIs(t, encodeInode(g, inode, slot), ErrNameTooLong)

	inode.Name = "short"
	inode.DirectBlocks = inode.DirectBlocks[:2]
	require.Error(t, encodeInode(g, inode, slot))

	slot[0] = 9
	_, err = decodeInode(g, slot)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestInodeClone(t *testing.T) {
	inode := newFreeInode(testGeometry())
	clone := inode.Clone()
	clone.DirectBlocks[0] = 3

	require.Equal(t, Unallocated, inode.DirectBlocks[0])
	require.Equal(t, 1, clone.AllocatedBlocks())
	require.Equal(t, 0, inode.AllocatedBlocks())
	require.Equal(t, "free", inode.Status.String())
	require.Equal(t, "in use", InodeInUse.String())
}

func TestGeometryValidate(t *testing.T) {
	require.NoError(t, DefaultGeometry().Validate())
	require.NoError(t, testGeometry().Validate())

	for name, mutate := range map[string]func(*Geometry){
		"tiny blocks":           func(g *Geometry) { g.BlockSize = 32 },
		"slot does not divide":  func(g *Geometry) { g.InodeSize = 48 },
		"no inodes":             func(g *Geometry) { g.NumInodes = 0 },
		"no data blocks":        func(g *Geometry) { g.NumDataBlocks = 0 },
		"no blocks per file":    func(g *Geometry) { g.MaxFileBlocks = 0 },
		"no names":              func(g *Geometry) { g.MaxNameLength = 0 },
		"inode overflows slot":  func(g *Geometry) { g.MaxNameLength = 60 },
		"file size over 32 bit": func(g *Geometry) { g.BlockSize = 1 << 20; g.InodeSize = 1 << 20; g.MaxFileBlocks = 1 << 13 },
	} {
		t.Run(name, func(t *testing.T) {
			g := testGeometry()
			mutate(&g)
			require.ErrorIs(t, g.Validate(), ErrInvalidGeometry)
		})
	}
}

func TestGeometryLayout(t *testing.T) {
	g := DefaultGeometry()
	l := g.layout()

	require.Equal(t, uint64(1), l.inodeBitmapStart)
	require.Equal(t, uint64(1), l.inodeBitmapBlocks)
	require.Equal(t, uint64(2), l.dataBitmapStart)
	require.Equal(t, uint64(3), l.inodeTableStart)
	// 32 inodes of 512 bytes, 8 per block
	require.Equal(t, uint64(4), l.inodeTableBlocks)
	require.Equal(t, uint64(7), l.dataStart)
	require.Equal(t, uint64(39), g.TotalBlocks())
	require.Equal(t, 16*4096, g.MaxFileSize())
}
