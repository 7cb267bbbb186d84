package fs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// serialized free sets are prefixed with their length
const bitmapHeaderSize = 4

// Allocator hands out indices from a fixed pool [0, size). The lowest free
// index is always allocated first.
type Allocator struct {
	size int
	free *roaring.Bitmap
}

// NewAllocator returns an allocator with every index free.
func NewAllocator(size int) *Allocator {
	free := roaring.New()
	free.AddRange(0, uint64(size))
	return &Allocator{size: size, free: free}
}

// Alloc returns the lowest free index, or ErrNoCapacity.
func (a *Allocator) Alloc() (int, error) {
	if a.free.IsEmpty() {
		return 0, ErrNoCapacity
	}
	idx := a.free.Minimum()
	a.free.Remove(idx)
	return int(idx), nil
}

// Free returns idx to the pool.
func (a *Allocator) Free(idx int) error {
	if idx < 0 || idx >= a.size {
		return fmt.Errorf("freeing %d of %d: %w", idx, a.size, ErrInvalidIndex)
	}
	if !a.free.CheckedAdd(uint32(idx)) {
		return fmt.Errorf("freeing %d: %w", idx, ErrDoubleFree)
	}
	return nil
}

// IsFree reports whether idx is available.
func (a *Allocator) IsFree(idx int) bool {
	return idx >= 0 && idx < a.size && a.free.Contains(uint32(idx))
}

func (a *Allocator) FreeCount() int {
	return int(a.free.GetCardinality())
}

func (a *Allocator) Size() int {
	return a.size
}

// MarshalBinary encodes the free set with a little-endian length prefix.
func (a *Allocator) MarshalBinary() ([]byte, error) {
	a.free.RunOptimize()
	var body bytes.Buffer
	if _, err := a.free.WriteTo(&body); err != nil {
		return nil, fmt.Errorf("serializing free set: %w", err)
	}
	out := make([]byte, bitmapHeaderSize+body.Len())
	binary.LittleEndian.PutUint32(out, uint32(body.Len()))
	copy(out[bitmapHeaderSize:], body.Bytes())
	return out, nil
}

// unmarshalAllocator decodes a free set written by MarshalBinary. Trailing
// bytes after the encoded set are ignored.
func unmarshalAllocator(size int, data []byte) (*Allocator, error) {
	if len(data) < bitmapHeaderSize {
		return nil, fmt.Errorf("free set header: %w", ErrCorrupt)
	}
	n := int(binary.LittleEndian.Uint32(data))
	if n > len(data)-bitmapHeaderSize {
		return nil, fmt.Errorf("free set of %d bytes overruns its region: %w", n, ErrCorrupt)
	}
	free := roaring.New()
	if _, err := free.ReadFrom(bytes.NewReader(data[bitmapHeaderSize : bitmapHeaderSize+n])); err != nil {
		return nil, fmt.Errorf("decoding free set: %w: %w", ErrCorrupt, err)
	}
	if !free.IsEmpty() && int(free.Maximum()) >= size {
		return nil, fmt.Errorf("free set holds %d, pool size is %d: %w", free.Maximum(), size, ErrCorrupt)
	}
	return &Allocator{size: size, free: free}, nil
}
