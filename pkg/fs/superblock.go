package fs

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const (
	superblockMagic   = 0xbafdb0
	superblockVersion = 1
	// magic, version, six geometry fields and the volume ID
	superblockSize = 4 + 4 + 6*4 + 16
)

// Superblock identifies a formatted volume and records its geometry.
type Superblock struct {
	Version  uint32
	Geometry Geometry
	ID       uuid.UUID
}

func (sb *Superblock) encode(buf []byte) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:], superblockMagic)
	le.PutUint32(buf[4:], sb.Version)
	le.PutUint32(buf[8:], uint32(sb.Geometry.BlockSize))
	le.PutUint32(buf[12:], uint32(sb.Geometry.InodeSize))
	le.PutUint32(buf[16:], uint32(sb.Geometry.NumInodes))
	le.PutUint32(buf[20:], uint32(sb.Geometry.NumDataBlocks))
	le.PutUint32(buf[24:], uint32(sb.Geometry.MaxFileBlocks))
	le.PutUint32(buf[28:], uint32(sb.Geometry.MaxNameLength))
	copy(buf[32:48], sb.ID[:])
}

func decodeSuperblock(buf []byte) (Superblock, error) {
	if len(buf) < superblockSize {
		return Superblock{}, fmt.Errorf("superblock needs %d bytes, got %d: %w", superblockSize, len(buf), ErrNotFormatted)
	}
	le := binary.LittleEndian
	if magic := le.Uint32(buf[0:]); magic != superblockMagic {
		return Superblock{}, fmt.Errorf("bad magic %#x: %w", magic, ErrNotFormatted)
	}
	sb := Superblock{
		Version: le.Uint32(buf[4:]),
		Geometry: Geometry{
			BlockSize:     int(le.Uint32(buf[8:])),
			InodeSize:     int(le.Uint32(buf[12:])),
			NumInodes:     int(le.Uint32(buf[16:])),
			NumDataBlocks: int(le.Uint32(buf[20:])),
			MaxFileBlocks: int(le.Uint32(buf[24:])),
			MaxNameLength: int(le.Uint32(buf[28:])),
		},
	}
	copy(sb.ID[:], buf[32:48])
	if sb.Version != superblockVersion {
		return Superblock{}, fmt.Errorf("unsupported version %d: %w", sb.Version, ErrNotFormatted)
	}
	if err := sb.Geometry.Validate(); err != nil {
		return Superblock{}, fmt.Errorf("superblock geometry: %w", err)
	}
	return sb, nil
}
