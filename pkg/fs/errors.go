package fs

import "errors"

// Errors returned by the file operations. Each is distinguishable with
// errors.Is; most are wrapped with the name or handle that caused them.
var (
	ErrNameTooLong      = errors.New("file name too long")
	ErrAlreadyExists    = errors.New("file already exists")
	ErrNotFound         = errors.New("file not found")
	ErrNoSpace          = errors.New("no space left on volume")
	ErrTooManyOpenFiles = errors.New("too many open files")
	ErrInvalidHandle    = errors.New("invalid file handle")
	ErrOutOfBounds      = errors.New("offset out of bounds")
	ErrFileTooLarge     = errors.New("file too large")
	// ErrHoleInFile means a block inside the file size is unallocated. Files
	// are never sparse, so seeing it indicates a damaged inode.
	ErrHoleInFile = errors.New("hole in file")
)

// Errors returned by the volume, its allocators and block devices.
var (
	// ErrNoCapacity is returned by an allocator whose pool is exhausted.
	ErrNoCapacity = errors.New("no free entries")
	// ErrInvalidIndex is returned for an inode or data block index outside
	// its pool.
	ErrInvalidIndex = errors.New("index out of range")
	// ErrDoubleFree is returned when freeing an entry that is already free.
	ErrDoubleFree      = errors.New("entry already free")
	ErrInvalidGeometry = errors.New("invalid geometry")
	// ErrNotFormatted is returned by LoadVolume when the superblock magic
	// number is missing.
	ErrNotFormatted = errors.New("not a valid filesystem")
	// ErrCorrupt is returned when on-disk metadata is inconsistent.
	ErrCorrupt         = errors.New("corrupt volume")
	ErrBlockOutOfRange = errors.New("block number out of range")
	ErrBadBufferSize   = errors.New("buffer size does not match block size")
)
