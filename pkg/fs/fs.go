package fs

import (
	"errors"
	"fmt"
	"sync"
)

// FileSystem implements named files and handle-based byte access on top
// of a Store. All methods are safe for concurrent use; each runs to
// completion before the next starts.
type FileSystem struct {
	mu      sync.Mutex
	store   Store
	geo     Geometry
	handles *HandleTable
	log     *Logger
}

type options struct {
	logger       *Logger
	maxOpenFiles int
}

// Option configures a FileSystem.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMaxOpenFiles sets the size of the handle table. Non-positive values
// keep the default.
func WithMaxOpenFiles(n int) Option {
	return func(o *options) { o.maxOpenFiles = n }
}

func NewFileSystem(store Store, opts ...Option) *FileSystem {
	o := options{maxOpenFiles: DefaultMaxOpenFiles}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return &FileSystem{
		store:   store,
		geo:     store.Geometry(),
		handles: NewHandleTable(o.maxOpenFiles),
		log:     o.logger,
	}
}

// FileInfo describes a file.
type FileInfo struct {
	Inode  int
	Name   string
	Size   int
	Blocks int
}

// findInode scans the inode table in index order and returns the first
// in-use inode called name, or -1.
func (fs *FileSystem) findInode(name string) (int, Inode, error) {
	for i := 0; i < fs.geo.NumInodes; i++ {
		inode, err := fs.store.ReadInode(i)
		if err != nil {
			return -1, Inode{}, err
		}
		if inode.Status == InodeInUse && inode.Name == name {
			return i, inode, nil
		}
	}
	return -1, Inode{}, nil
}

// liveInode reads the inode behind h. A handle whose file has been deleted
// is no longer usable.
func (fs *FileSystem) liveInode(h *FileHandle) (Inode, error) {
	inode, err := fs.store.ReadInode(h.Inode)
	if err != nil {
		return Inode{}, err
	}
	if inode.Status != InodeInUse {
		return Inode{}, fmt.Errorf("inode %d was deleted: %w", h.Inode, ErrInvalidHandle)
	}
	return inode, nil
}

// Create makes an empty file called name and returns its inode index.
func (fs *FileSystem) Create(name string) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	idx, err := fs.create(name)
	fs.log.LogCreate(name, idx, err)
	return idx, err
}

func (fs *FileSystem) create(name string) (int, error) {
	if len(name) > fs.geo.MaxNameLength {
		return -1, fmt.Errorf("creating %q: %d bytes, limit is %d: %w", name, len(name), fs.geo.MaxNameLength, ErrNameTooLong)
	}
	existing, _, err := fs.findInode(name)
	if err != nil {
		return -1, fmt.Errorf("creating %q: %w", name, err)
	}
	if existing >= 0 {
		return -1, fmt.Errorf("creating %q: %w", name, ErrAlreadyExists)
	}

	idx, err := fs.store.AllocInode()
	if err != nil {
		return -1, fmt.Errorf("creating %q: %w", name, noSpace(err))
	}
	inode := newFreeInode(fs.geo)
	inode.Status = InodeInUse
	inode.Name = name
	if err := fs.store.WriteInode(idx, inode); err != nil {
		if ferr := fs.store.FreeInode(idx); ferr != nil {
			fs.log.Error("releasing inode after failed create", "inode", idx, "error", ferr)
		}
		return -1, fmt.Errorf("creating %q: %w", name, err)
	}
	return idx, nil
}

// Delete removes the file called name and releases its blocks. Deleting a
// name that does not exist does nothing and returns nil.
//
// Handles open on the file stay bound but fail with ErrInvalidHandle until
// closed; callers should close them before deleting.
func (fs *FileSystem) Delete(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	found, err := fs.delete(name)
	fs.log.LogDelete(name, found, err)
	return err
}

func (fs *FileSystem) delete(name string) (bool, error) {
	idx, inode, err := fs.findInode(name)
	if err != nil {
		return false, fmt.Errorf("deleting %q: %w", name, err)
	}
	if idx < 0 {
		return false, nil
	}
	if refs := fs.handles.Refs(idx); refs > 0 {
		fs.log.Warn("deleting file with open handles", "name", name, "inode", idx, "handles", refs)
	}

	// Clear the record before releasing anything. A failure past this point
	// can leak blocks but never leaves them owned by a live inode.
	if err := fs.store.WriteInode(idx, newFreeInode(fs.geo)); err != nil {
		return true, fmt.Errorf("deleting %q: %w", name, err)
	}
	for _, b := range inode.DirectBlocks {
		if b == Unallocated {
			continue
		}
		if err := fs.store.FreeDataBlock(b); err != nil {
			return true, fmt.Errorf("deleting %q: %w", name, err)
		}
	}
	if err := fs.store.FreeInode(idx); err != nil {
		return true, fmt.Errorf("deleting %q: %w", name, err)
	}
	return true, nil
}

// Open returns a new handle on the file called name with its cursor at 0.
func (fs *FileSystem) Open(name string) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fd, err := fs.open(name)
	fs.log.LogOpen(name, fd, err)
	return fd, err
}

func (fs *FileSystem) open(name string) (int, error) {
	idx, _, err := fs.findInode(name)
	if err != nil {
		return -1, fmt.Errorf("opening %q: %w", name, err)
	}
	if idx < 0 {
		return -1, fmt.Errorf("opening %q: %w", name, ErrNotFound)
	}
	fd, err := fs.handles.Bind(idx)
	if err != nil {
		return -1, fmt.Errorf("opening %q: %w", name, err)
	}
	return fd, nil
}

// Close releases fd. Handles out of range are ignored.
func (fs *FileSystem) Close(fd int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.handles.Release(fd)
	fs.log.Debug("close completed", "handle", fd)
}

// Read fills p with the len(p) bytes at fd's cursor. Either all of p is
// filled or an error is returned. The cursor does not move.
func (fs *FileSystem) Read(fd int, p []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	err := fs.read(fd, p)
	fs.log.LogRead(fd, len(p), err)
	return err
}

func (fs *FileSystem) read(fd int, p []byte) error {
	h, err := fs.handles.Lookup(fd)
	if err != nil {
		return err
	}
	inode, err := fs.liveInode(h)
	if err != nil {
		return err
	}
	n, offset := len(p), h.Offset
	if offset+n > inode.Size {
		return fmt.Errorf("reading %d bytes at %d of %d: %w", n, offset, inode.Size, ErrOutOfBounds)
	}

	bs := fs.geo.BlockSize
	buf := make([]byte, bs)
	for done := 0; done < n; {
		pos := offset + done
		bi, bo := pos/bs, pos%bs
		chunk := min(bs-bo, n-done)

		if bi >= len(inode.DirectBlocks) || inode.DirectBlocks[bi] == Unallocated {
			return fmt.Errorf("block %d of %q: %w", bi, inode.Name, ErrHoleInFile)
		}
		if err := fs.store.ReadDataBlock(inode.DirectBlocks[bi], buf); err != nil {
			return err
		}
		copy(p[done:done+chunk], buf[bo:])
		done += chunk
	}
	return nil
}

// Write stores p at fd's cursor, allocating blocks as needed. The cursor
// does not move.
//
// If a block cannot be allocated, or the device fails, every block
// allocated by this call is freed again and the inode is left unchanged.
// Bytes already written into blocks the file owned before the call are not
// restored.
func (fs *FileSystem) Write(fd int, p []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	err := fs.write(fd, p)
	fs.log.LogWrite(fd, len(p), err)
	return err
}

func (fs *FileSystem) write(fd int, p []byte) error {
	h, err := fs.handles.Lookup(fd)
	if err != nil {
		return err
	}
	inode, err := fs.liveInode(h)
	if err != nil {
		return err
	}
	n, offset := len(p), h.Offset
	if offset+n > fs.geo.MaxFileSize() {
		return fmt.Errorf("writing %d bytes at %d, limit is %d: %w", n, offset, fs.geo.MaxFileSize(), ErrFileTooLarge)
	}

	var allocated []int
	fail := func(err error) error {
		fs.rollback(fd, allocated)
		return err
	}

	bs := fs.geo.BlockSize
	buf := make([]byte, bs)
	for done := 0; done < n; {
		pos := offset + done
		bi, bo := pos/bs, pos%bs
		chunk := min(bs-bo, n-done)

		if inode.DirectBlocks[bi] == Unallocated {
			b, err := fs.store.AllocDataBlock()
			if err != nil {
				return fail(fmt.Errorf("writing %q: %w", inode.Name, noSpace(err)))
			}
			allocated = append(allocated, b)
			inode.DirectBlocks[bi] = b
			clear(buf)
		} else if err := fs.store.ReadDataBlock(inode.DirectBlocks[bi], buf); err != nil {
			return fail(err)
		}

		copy(buf[bo:], p[done:done+chunk])
		if err := fs.store.WriteDataBlock(inode.DirectBlocks[bi], buf); err != nil {
			return fail(err)
		}
		done += chunk
	}

	if offset+n > inode.Size {
		inode.Size = offset + n
	}
	if err := fs.store.WriteInode(h.Inode, inode); err != nil {
		return fail(err)
	}
	return nil
}

func (fs *FileSystem) rollback(fd int, blocks []int) {
	if len(blocks) == 0 {
		return
	}
	for _, b := range blocks {
		if err := fs.store.FreeDataBlock(b); err != nil {
			fs.log.Error("freeing block during rollback", "block", b, "error", err)
		}
	}
	fs.log.LogRollback(fd, blocks)
}

// Seek moves fd's cursor by delta bytes. The cursor may land anywhere from
// 0 to the file size inclusive.
func (fs *FileSystem) Seek(fd int, delta int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h, err := fs.handles.Lookup(fd)
	if err != nil {
		return err
	}
	inode, err := fs.liveInode(h)
	if err != nil {
		return err
	}
	next := h.Offset + delta
	if next < 0 || next > inode.Size {
		return fmt.Errorf("seeking to %d of %d: %w", next, inode.Size, ErrOutOfBounds)
	}
	h.Offset = next
	return nil
}

// Tell returns fd's cursor.
func (fs *FileSystem) Tell(fd int) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h, err := fs.handles.Lookup(fd)
	if err != nil {
		return 0, err
	}
	return h.Offset, nil
}

// Stat describes the file called name.
func (fs *FileSystem) Stat(name string) (FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	idx, inode, err := fs.findInode(name)
	if err != nil {
		return FileInfo{}, err
	}
	if idx < 0 {
		return FileInfo{}, fmt.Errorf("stat %q: %w", name, ErrNotFound)
	}
	return fileInfo(idx, inode), nil
}

// List describes every file in inode order.
func (fs *FileSystem) List() ([]FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var files []FileInfo
	for i := 0; i < fs.geo.NumInodes; i++ {
		inode, err := fs.store.ReadInode(i)
		if err != nil {
			return nil, err
		}
		if inode.Status == InodeInUse {
			files = append(files, fileInfo(i, inode))
		}
	}
	return files, nil
}

// Sync flushes the store if it buffers writes.
func (fs *FileSystem) Sync() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if s, ok := fs.store.(Syncer); ok {
		return s.Sync()
	}
	return nil
}

func fileInfo(idx int, inode Inode) FileInfo {
	return FileInfo{
		Inode:  idx,
		Name:   inode.Name,
		Size:   inode.Size,
		Blocks: inode.AllocatedBlocks(),
	}
}

// noSpace tags allocator exhaustion with ErrNoSpace.
func noSpace(err error) error {
	if errors.Is(err, ErrNoCapacity) {
		return fmt.Errorf("%w: %w", ErrNoSpace, err)
	}
	return err
}

// GetSizeInBlocks computes how many blocks n bytes take up
func GetSizeInBlocks(n, blockSize int) int {
	return (n + blockSize - 1) / blockSize
}
