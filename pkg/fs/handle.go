package fs

import "fmt"

// DefaultMaxOpenFiles is the size of the handle table unless configured.
const DefaultMaxOpenFiles = 20

// unused marks a free slot in the handle table.
const unused = -1

// FileHandle is the state of one open session on a file.
type FileHandle struct {
	// Inode is the index of the open file's inode, or -1 when the handle is
	// not in use.
	Inode int
	// Offset is the read/write cursor in bytes.
	Offset int
}

// HandleTable is a fixed pool of file handles addressed by index.
type HandleTable struct {
	handles []FileHandle
}

// NewHandleTable creates a table of size handles. Non-positive sizes fall
// back to DefaultMaxOpenFiles.
func NewHandleTable(size int) *HandleTable {
	if size <= 0 {
		size = DefaultMaxOpenFiles
	}
	t := &HandleTable{handles: make([]FileHandle, size)}
	for i := range t.handles {
		t.handles[i] = FileHandle{Inode: unused}
	}
	return t
}

// Bind takes the first unused handle, points it at inode with offset 0
// and returns its index.
func (t *HandleTable) Bind(inode int) (int, error) {
	for fd := range t.handles {
		if t.handles[fd].Inode == unused {
			t.handles[fd] = FileHandle{Inode: inode}
			return fd, nil
		}
	}
	return 0, ErrTooManyOpenFiles
}

// Release returns fd to the pool. Out of range handles are ignored.
func (t *HandleTable) Release(fd int) {
	if fd < 0 || fd >= len(t.handles) {
		return
	}
	t.handles[fd] = FileHandle{Inode: unused}
}

// Lookup returns the bound handle fd.
func (t *HandleTable) Lookup(fd int) (*FileHandle, error) {
	if fd < 0 || fd >= len(t.handles) {
		return nil, fmt.Errorf("handle %d out of range: %w", fd, ErrInvalidHandle)
	}
	h := &t.handles[fd]
	if h.Inode == unused {
		return nil, fmt.Errorf("handle %d is not open: %w", fd, ErrInvalidHandle)
	}
	return h, nil
}

// Refs counts the open handles on inode.
func (t *HandleTable) Refs(inode int) int {
	n := 0
	for _, h := range t.handles {
		if h.Inode == inode {
			n++
		}
	}
	return n
}

// Open returns the indices of every bound handle in order.
func (t *HandleTable) Open() []int {
	var fds []int
	for fd, h := range t.handles {
		if h.Inode != unused {
			fds = append(fds, fd)
		}
	}
	return fds
}

func (t *HandleTable) Len() int { return len(t.handles) }
