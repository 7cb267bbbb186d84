package fs

import (
	"encoding/binary"
	"fmt"
)

// Unallocated marks an unused entry in an inode's direct block list.
const Unallocated = -1

type InodeStatus uint8

const (
	// InodeFree is an inode slot available to create.
	InodeFree InodeStatus = iota
	// InodeInUse is an inode describing a file.
	InodeInUse
)

func (s InodeStatus) String() string {
	switch s {
	case InodeFree:
		return "free"
	case InodeInUse:
		return "in use"
	default:
		return fmt.Sprintf("InodeStatus(%d)", uint8(s))
	}
}

type Inode struct {
	Status InodeStatus
	// Name is unique among in-use inodes. It is empty for free inodes.
	Name string
	// Size is the file size in bytes.
	Size int
	// DirectBlocks holds the data block indices of the file, in order.
	// Allocated entries are contiguous from index 0 and the rest are
	// Unallocated.
	DirectBlocks []int
}

// newFreeInode returns a cleared inode for the given geometry.
func newFreeInode(g Geometry) Inode {
	blocks := make([]int, g.MaxFileBlocks)
	for i := range blocks {
		blocks[i] = Unallocated
	}
	return Inode{Status: InodeFree, DirectBlocks: blocks}
}

// Clone returns a copy that shares no memory with inode.
func (inode Inode) Clone() Inode {
	inode.DirectBlocks = append([]int(nil), inode.DirectBlocks...)
	return inode
}

// AllocatedBlocks counts the allocated entries of the block list.
func (inode Inode) AllocatedBlocks() int {
	n := 0
	for _, b := range inode.DirectBlocks {
		if b != Unallocated {
			n++
		}
	}
	return n
}

// encodedInodeSize is the number of bytes an inode takes in its slot:
// status, name length, name, size and the block list.
func encodedInodeSize(g Geometry) int {
	return 1 + 2 + g.MaxNameLength + 4 + 4*g.MaxFileBlocks
}

func encodeInode(g Geometry, inode Inode, slot []byte) error {
	if len(inode.Name) > g.MaxNameLength {
		return fmt.Errorf("encoding inode %q: %w", inode.Name, ErrNameTooLong)
	}
	if len(inode.DirectBlocks) != g.MaxFileBlocks {
		return fmt.Errorf("encoding inode %q: block list has %d entries, want %d", inode.Name, len(inode.DirectBlocks), g.MaxFileBlocks)
	}
	clear(slot)
	le := binary.LittleEndian
	slot[0] = byte(inode.Status)
	le.PutUint16(slot[1:], uint16(len(inode.Name)))
	copy(slot[3:], inode.Name)
	pos := 3 + g.MaxNameLength
	le.PutUint32(slot[pos:], uint32(inode.Size))
	pos += 4
	for _, b := range inode.DirectBlocks {
		le.PutUint32(slot[pos:], uint32(int32(b)))
		pos += 4
	}
	return nil
}

func decodeInode(g Geometry, slot []byte) (Inode, error) {
	le := binary.LittleEndian
	inode := Inode{Status: InodeStatus(slot[0])}
	if inode.Status != InodeFree && inode.Status != InodeInUse {
		return Inode{}, fmt.Errorf("decoding inode: bad status %d: %w", slot[0], ErrCorrupt)
	}
	nameLen := int(le.Uint16(slot[1:]))
	if nameLen > g.MaxNameLength {
		return Inode{}, fmt.Errorf("decoding inode: name length %d: %w", nameLen, ErrCorrupt)
	}
	inode.Name = string(slot[3 : 3+nameLen])
	pos := 3 + g.MaxNameLength
	inode.Size = int(le.Uint32(slot[pos:]))
	pos += 4
	inode.DirectBlocks = make([]int, g.MaxFileBlocks)
	for i := range inode.DirectBlocks {
		inode.DirectBlocks[i] = int(int32(le.Uint32(slot[pos:])))
		pos += 4
	}
	return inode, nil
}
