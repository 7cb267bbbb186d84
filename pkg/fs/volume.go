package fs

import (
	"fmt"

	"github.com/google/uuid"
)

// Store is the block and inode storage the file operations run on.
type Store interface {
	Geometry() Geometry
	ReadInode(index int) (Inode, error)
	WriteInode(index int, inode Inode) error
	ReadDataBlock(index int, buf []byte) error
	WriteDataBlock(index int, buf []byte) error
	// AllocInode returns a free inode index or ErrNoCapacity.
	AllocInode() (int, error)
	// FreeInode clears the inode and returns it to the pool.
	FreeInode(index int) error
	// AllocDataBlock returns a free data block index or ErrNoCapacity.
	AllocDataBlock() (int, error)
	FreeDataBlock(index int) error
}

// Volume is a Store laid out on a BlockDevice. The inode table and both
// free sets are cached in memory and written through on every change.
type Volume struct {
	dev        BlockDevice
	sb         Superblock
	layout     layout
	inodes     []Inode
	inodeAlloc *Allocator
	blockAlloc *Allocator
}

var _ Store = (*Volume)(nil)

// FormatVolume writes an empty filesystem with geometry g to dev.
func FormatVolume(dev BlockDevice, g Geometry) (*Volume, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := checkDevice(dev, g); err != nil {
		return nil, err
	}

	v := &Volume{
		dev:        dev,
		sb:         Superblock{Version: superblockVersion, Geometry: g, ID: uuid.New()},
		layout:     g.layout(),
		inodes:     make([]Inode, g.NumInodes),
		inodeAlloc: NewAllocator(g.NumInodes),
		blockAlloc: NewAllocator(g.NumDataBlocks),
	}

	buf := make([]byte, g.BlockSize)
	v.sb.encode(buf)
	if err := dev.WriteBlock(SuperblockIndex, buf); err != nil {
		return nil, fmt.Errorf("error writing superblock: %w", err)
	}
	if err := v.persistInodeBitmap(); err != nil {
		return nil, err
	}
	if err := v.persistDataBitmap(); err != nil {
		return nil, err
	}

	for i := range v.inodes {
		v.inodes[i] = newFreeInode(g)
	}
	for b := uint64(0); b < v.layout.inodeTableBlocks; b++ {
		if err := v.writeInodeTableBlock(b); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// LoadVolume reads a filesystem previously written by FormatVolume.
func LoadVolume(dev BlockDevice) (*Volume, error) {
	buf := make([]byte, dev.BlockSize())
	if err := dev.ReadBlock(SuperblockIndex, buf); err != nil {
		return nil, fmt.Errorf("error reading superblock: %w", err)
	}
	sb, err := decodeSuperblock(buf)
	if err != nil {
		return nil, err
	}
	g := sb.Geometry
	if err := checkDevice(dev, g); err != nil {
		return nil, err
	}

	v := &Volume{
		dev:    dev,
		sb:     sb,
		layout: g.layout(),
		inodes: make([]Inode, g.NumInodes),
	}

	raw, err := v.readRegion(v.layout.inodeBitmapStart, v.layout.inodeBitmapBlocks)
	if err != nil {
		return nil, fmt.Errorf("error reading inode bitmap: %w", err)
	}
	if v.inodeAlloc, err = unmarshalAllocator(g.NumInodes, raw); err != nil {
		return nil, fmt.Errorf("inode bitmap: %w", err)
	}
	raw, err = v.readRegion(v.layout.dataBitmapStart, v.layout.dataBitmapBlocks)
	if err != nil {
		return nil, fmt.Errorf("error reading data bitmap: %w", err)
	}
	if v.blockAlloc, err = unmarshalAllocator(g.NumDataBlocks, raw); err != nil {
		return nil, fmt.Errorf("data bitmap: %w", err)
	}

	raw, err = v.readRegion(v.layout.inodeTableStart, v.layout.inodeTableBlocks)
	if err != nil {
		return nil, fmt.Errorf("error reading inode table: %w", err)
	}
	for i := range v.inodes {
		slot := raw[i*g.InodeSize : (i+1)*g.InodeSize]
		if v.inodes[i], err = decodeInode(g, slot); err != nil {
			return nil, fmt.Errorf("error decoding inode %d: %w", i, err)
		}
	}
	if err := v.check(); err != nil {
		return nil, err
	}
	return v, nil
}

func checkDevice(dev BlockDevice, g Geometry) error {
	if dev.BlockSize() != g.BlockSize {
		return fmt.Errorf("%w: device block size %d, volume block size %d", ErrInvalidGeometry, dev.BlockSize(), g.BlockSize)
	}
	if need := g.TotalBlocks(); dev.NumBlocks() < need {
		return fmt.Errorf("%w: volume needs %d blocks, device has %d", ErrInvalidGeometry, need, dev.NumBlocks())
	}
	return nil
}

// check verifies that the inode table agrees with the free sets: in-use
// inodes and their blocks are allocated, block ownership is exclusive, and
// block lists are contiguous and large enough for the file size.
func (v *Volume) check() error {
	g := v.sb.Geometry
	owner := make(map[int]int)
	for i, inode := range v.inodes {
		if inode.Status != InodeInUse {
			continue
		}
		if v.inodeAlloc.IsFree(i) {
			return fmt.Errorf("inode %d is in use but marked free: %w", i, ErrCorrupt)
		}
		allocated := 0
		for j, b := range inode.DirectBlocks {
			if b == Unallocated {
				continue
			}
			if j != allocated {
				return fmt.Errorf("inode %d has a gap before block entry %d: %w", i, j, ErrCorrupt)
			}
			allocated++
			if b < 0 || b >= g.NumDataBlocks || v.blockAlloc.IsFree(b) {
				return fmt.Errorf("inode %d references unallocated block %d: %w", i, b, ErrCorrupt)
			}
			if other, ok := owner[b]; ok {
				return fmt.Errorf("block %d is owned by inodes %d and %d: %w", b, other, i, ErrCorrupt)
			}
			owner[b] = i
		}
		if GetSizeInBlocks(inode.Size, g.BlockSize) > allocated {
			return fmt.Errorf("inode %d size %d exceeds its %d blocks: %w", i, inode.Size, allocated, ErrCorrupt)
		}
	}
	return nil
}

func (v *Volume) Geometry() Geometry { return v.sb.Geometry }

// Superblock returns the volume's superblock.
func (v *Volume) Superblock() Superblock { return v.sb }

func (v *Volume) FreeInodes() int { return v.inodeAlloc.FreeCount() }

func (v *Volume) FreeDataBlocks() int { return v.blockAlloc.FreeCount() }

func (v *Volume) ReadInode(index int) (Inode, error) {
	if index < 0 || index >= len(v.inodes) {
		return Inode{}, fmt.Errorf("inode %d: %w", index, ErrInvalidIndex)
	}
	return v.inodes[index].Clone(), nil
}

func (v *Volume) WriteInode(index int, inode Inode) error {
	if index < 0 || index >= len(v.inodes) {
		return fmt.Errorf("inode %d: %w", index, ErrInvalidIndex)
	}
	// validate before touching the cache
	if err := encodeInode(v.sb.Geometry, inode, make([]byte, v.sb.Geometry.InodeSize)); err != nil {
		return err
	}
	prev := v.inodes[index]
	v.inodes[index] = inode.Clone()
	if err := v.writeInodeTableBlock(uint64(index / v.sb.Geometry.inodesPerBlock())); err != nil {
		v.inodes[index] = prev
		return err
	}
	return nil
}

func (v *Volume) ReadDataBlock(index int, buf []byte) error {
	if index < 0 || index >= v.sb.Geometry.NumDataBlocks {
		return fmt.Errorf("data block %d: %w", index, ErrInvalidIndex)
	}
	if err := v.dev.ReadBlock(v.layout.dataStart+uint64(index), buf); err != nil {
		return fmt.Errorf("error reading data block %d: %w", index, err)
	}
	return nil
}

func (v *Volume) WriteDataBlock(index int, buf []byte) error {
	if index < 0 || index >= v.sb.Geometry.NumDataBlocks {
		return fmt.Errorf("data block %d: %w", index, ErrInvalidIndex)
	}
	if err := v.dev.WriteBlock(v.layout.dataStart+uint64(index), buf); err != nil {
		return fmt.Errorf("error writing data block %d: %w", index, err)
	}
	return nil
}

func (v *Volume) AllocInode() (int, error) {
	idx, err := v.inodeAlloc.Alloc()
	if err != nil {
		return 0, fmt.Errorf("allocating inode: %w", err)
	}
	if err := v.persistInodeBitmap(); err != nil {
		v.inodeAlloc.Free(idx)
		return 0, err
	}
	return idx, nil
}

func (v *Volume) FreeInode(index int) error {
	if err := v.WriteInode(index, newFreeInode(v.sb.Geometry)); err != nil {
		return err
	}
	if err := v.inodeAlloc.Free(index); err != nil {
		return err
	}
	return v.persistInodeBitmap()
}

func (v *Volume) AllocDataBlock() (int, error) {
	idx, err := v.blockAlloc.Alloc()
	if err != nil {
		return 0, fmt.Errorf("allocating data block: %w", err)
	}
	if err := v.persistDataBitmap(); err != nil {
		v.blockAlloc.Free(idx)
		return 0, err
	}
	return idx, nil
}

func (v *Volume) FreeDataBlock(index int) error {
	if err := v.blockAlloc.Free(index); err != nil {
		return err
	}
	return v.persistDataBitmap()
}

// Sync flushes the device if it buffers writes.
func (v *Volume) Sync() error {
	if s, ok := v.dev.(Syncer); ok {
		return s.Sync()
	}
	return nil
}

func (v *Volume) writeInodeTableBlock(b uint64) error {
	g := v.sb.Geometry
	buf := make([]byte, g.BlockSize)
	per := g.inodesPerBlock()
	for j := 0; j < per; j++ {
		i := int(b)*per + j
		if i >= len(v.inodes) {
			break
		}
		if err := encodeInode(g, v.inodes[i], buf[j*g.InodeSize:(j+1)*g.InodeSize]); err != nil {
			return fmt.Errorf("error encoding inode %d: %w", i, err)
		}
	}
	if err := v.dev.WriteBlock(v.layout.inodeTableStart+b, buf); err != nil {
		return fmt.Errorf("error writing inode table block %d: %w", b, err)
	}
	return nil
}

func (v *Volume) persistInodeBitmap() error {
	if err := v.persistBitmap(v.inodeAlloc, v.layout.inodeBitmapStart, v.layout.inodeBitmapBlocks); err != nil {
		return fmt.Errorf("error persisting inode bitmap: %w", err)
	}
	return nil
}

func (v *Volume) persistDataBitmap() error {
	if err := v.persistBitmap(v.blockAlloc, v.layout.dataBitmapStart, v.layout.dataBitmapBlocks); err != nil {
		return fmt.Errorf("error persisting data bitmap: %w", err)
	}
	return nil
}

func (v *Volume) persistBitmap(a *Allocator, start, blocks uint64) error {
	data, err := a.MarshalBinary()
	if err != nil {
		return err
	}
	bs := uint64(v.sb.Geometry.BlockSize)
	if uint64(len(data)) > blocks*bs {
		return fmt.Errorf("free set of %d bytes does not fit in %d blocks", len(data), blocks)
	}
	region := make([]byte, blocks*bs)
	copy(region, data)
	for b := uint64(0); b < blocks; b++ {
		if err := v.dev.WriteBlock(start+b, region[b*bs:(b+1)*bs]); err != nil {
			return err
		}
	}
	return nil
}

func (v *Volume) readRegion(start, blocks uint64) ([]byte, error) {
	bs := uint64(v.sb.Geometry.BlockSize)
	region := make([]byte, blocks*bs)
	for b := uint64(0); b < blocks; b++ {
		if err := v.dev.ReadBlock(start+b, region[b*bs:(b+1)*bs]); err != nil {
			return nil, err
		}
	}
	return region, nil
}
