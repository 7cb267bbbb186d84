package fs

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// Default geometry values.
const (
	DefaultBlockSize     = 4096 // bytes
	DefaultInodeSize     = 512  // bytes
	DefaultNumInodes     = 32
	DefaultNumDataBlocks = 32
	DefaultMaxFileBlocks = 16
	DefaultMaxNameLength = 128 // bytes
)

// SuperblockIndex is the device block holding the superblock. The rest of
// the layout is derived from the geometry it records.
const SuperblockIndex = 0

// Geometry fixes the shape of a volume at format time.
type Geometry struct {
	// BlockSize is the size in bytes of every device and data block.
	BlockSize int
	// InodeSize is the size of one inode slot in the inode table. A block
	// must hold a whole number of slots.
	InodeSize int
	// NumInodes is the number of inodes, and so the maximum number of files.
	NumInodes int
	// NumDataBlocks is the size of the data block pool.
	NumDataBlocks int
	// MaxFileBlocks is the length of each inode's direct block list.
	MaxFileBlocks int
	// MaxNameLength is the longest file name in bytes.
	MaxNameLength int
}

// DefaultGeometry returns the geometry used when none is configured.
func DefaultGeometry() Geometry {
	return Geometry{
		BlockSize:     DefaultBlockSize,
		InodeSize:     DefaultInodeSize,
		NumInodes:     DefaultNumInodes,
		NumDataBlocks: DefaultNumDataBlocks,
		MaxFileBlocks: DefaultMaxFileBlocks,
		MaxNameLength: DefaultMaxNameLength,
	}
}

// MaxFileSize is the largest representable file in bytes.
func (g Geometry) MaxFileSize() int {
	return g.MaxFileBlocks * g.BlockSize
}

func (g Geometry) Validate() error {
	switch {
	case g.BlockSize < superblockSize:
		return fmt.Errorf("%w: block size %d is smaller than the %d byte superblock", ErrInvalidGeometry, g.BlockSize, superblockSize)
	case g.InodeSize <= 0 || g.BlockSize%g.InodeSize != 0:
		return fmt.Errorf("%w: inode size %d does not divide block size %d", ErrInvalidGeometry, g.InodeSize, g.BlockSize)
	case g.NumInodes <= 0:
		return fmt.Errorf("%w: need at least one inode", ErrInvalidGeometry)
	case g.NumDataBlocks <= 0 || g.NumDataBlocks > math.MaxInt32:
		return fmt.Errorf("%w: data block count %d out of range", ErrInvalidGeometry, g.NumDataBlocks)
	case g.MaxFileBlocks <= 0:
		return fmt.Errorf("%w: need at least one block per file", ErrInvalidGeometry)
	case g.MaxNameLength <= 0 || g.MaxNameLength > math.MaxUint16:
		return fmt.Errorf("%w: name length %d out of range", ErrInvalidGeometry, g.MaxNameLength)
	case int64(g.MaxFileBlocks)*int64(g.BlockSize) > math.MaxUint32:
		return fmt.Errorf("%w: maximum file size does not fit in 32 bits", ErrInvalidGeometry)
	case encodedInodeSize(g) > g.InodeSize:
		return fmt.Errorf("%w: inode needs %d bytes, slot is %d", ErrInvalidGeometry, encodedInodeSize(g), g.InodeSize)
	}
	return nil
}

// TotalBlocks is the number of device blocks a volume with this geometry
// occupies.
func (g Geometry) TotalBlocks() uint64 {
	return g.layout().totalBlocks
}

// layout gives the first device block and length of each on-disk region:
//
//	superblock | inode bitmap | data bitmap | inode table | data blocks
type layout struct {
	inodeBitmapStart  uint64
	inodeBitmapBlocks uint64
	dataBitmapStart   uint64
	dataBitmapBlocks  uint64
	inodeTableStart   uint64
	inodeTableBlocks  uint64
	dataStart         uint64
	totalBlocks       uint64
}

func (g Geometry) layout() layout {
	var l layout
	l.inodeBitmapStart = SuperblockIndex + 1
	l.inodeBitmapBlocks = g.bitmapBlocks(g.NumInodes)
	l.dataBitmapStart = l.inodeBitmapStart + l.inodeBitmapBlocks
	l.dataBitmapBlocks = g.bitmapBlocks(g.NumDataBlocks)
	l.inodeTableStart = l.dataBitmapStart + l.dataBitmapBlocks
	l.inodeTableBlocks = ceilDiv(uint64(g.NumInodes), uint64(g.inodesPerBlock()))
	l.dataStart = l.inodeTableStart + l.inodeTableBlocks
	l.totalBlocks = l.dataStart + uint64(g.NumDataBlocks)
	return l
}

func (g Geometry) inodesPerBlock() int {
	return g.BlockSize / g.InodeSize
}

// bitmapBlocks is the number of blocks reserved for a serialized free set
// over n entries, including its length prefix.
func (g Geometry) bitmapBlocks(n int) uint64 {
	bound := roaring.BoundSerializedSizeInBytes(uint64(n), uint64(n)) + bitmapHeaderSize
	return ceilDiv(bound, uint64(g.BlockSize))
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}
