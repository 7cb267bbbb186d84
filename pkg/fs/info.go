package fs

import (
	"bufio"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
)

// DisplayInfo writes the bitmaps and every in-use inode to w.
func (v *Volume) DisplayInfo(w io.Writer) error {
	g := v.sb.Geometry
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "volume %s: %d inodes, %d data blocks of %s, max file %s\n",
		v.sb.ID, g.NumInodes, g.NumDataBlocks,
		humanize.IBytes(uint64(g.BlockSize)), humanize.IBytes(uint64(g.MaxFileSize())))
	fmt.Fprintln(bw)

	fmt.Fprintf(bw, "-- inode bitmap (%d free) --\n", v.inodeAlloc.FreeCount())
	writeBitmap(bw, v.inodeAlloc)
	fmt.Fprintln(bw)
	fmt.Fprintf(bw, "-- data bitmap (%d free) --\n", v.blockAlloc.FreeCount())
	writeBitmap(bw, v.blockAlloc)
	fmt.Fprintln(bw)

	for i, inode := range v.inodes {
		if inode.Status != InodeInUse {
			continue
		}
		fmt.Fprintf(bw, "-- file inode %d --\n", i)
		fmt.Fprintf(bw, "filename: %s\n", inode.Name)
		fmt.Fprintf(bw, "size: %s\n", humanize.IBytes(uint64(inode.Size)))
		fmt.Fprintf(bw, "blocks: %v\n", inode.DirectBlocks)
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// writeBitmap prints the pool as rows of 16 entries, 1 for allocated.
func writeBitmap(w io.Writer, a *Allocator) {
	for i := 0; i < a.Size(); i++ {
		if a.IsFree(i) {
			fmt.Fprint(w, "0")
		} else {
			fmt.Fprint(w, "1")
		}
		if i%16 == 15 || i == a.Size()-1 {
			fmt.Fprintln(w)
		}
	}
}

// DisplayInfo writes the open handles to w, followed by the store's own
// report when it has one.
func (fs *FileSystem) DisplayInfo(w io.Writer) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fds := fs.handles.Open()
	if _, err := fmt.Fprintf(w, "-- open handles (%d of %d) --\n", len(fds), fs.handles.Len()); err != nil {
		return err
	}
	for _, fd := range fds {
		h := fs.handles.handles[fd]
		if _, err := fmt.Fprintf(w, "handle %d: inode %d offset %d\n", fd, h.Inode, h.Offset); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	if d, ok := fs.store.(interface{ DisplayInfo(io.Writer) error }); ok {
		return d.DisplayInfo(w)
	}
	return nil
}
