//go:build unix

package fs

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MmapBlockDevice is a BlockDevice over a memory-mapped image file. Writes
// land in the shared mapping and reach the file on Sync or Close.
type MmapBlockDevice struct {
	file      *os.File
	data      []byte
	blockSize int
	numBlocks uint64
}

// OpenMmapBlockDevice maps the image at path, creating it and growing it to
// numBlocks blocks when needed.
func OpenMmapBlockDevice(path string, blockSize int, numBlocks uint64) (*MmapBlockDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening image `%s`: %w", path, err)
	}
	size := int64(numBlocks) * int64(blockSize)
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat image `%s`: %w", path, err)
	}
	if info.Size() < size {
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, fmt.Errorf("growing image `%s` to %d bytes: %w", path, size, err)
		}
	}
	data, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mapping image `%s`: %w", path, err)
	}
	return &MmapBlockDevice{
		file:      file,
		data:      data,
		blockSize: blockSize,
		numBlocks: numBlocks,
	}, nil
}

func (dev *MmapBlockDevice) BlockSize() int { return dev.blockSize }

func (dev *MmapBlockDevice) NumBlocks() uint64 { return dev.numBlocks }

func (dev *MmapBlockDevice) ReadBlock(blockNum uint64, buf []byte) error {
	if err := checkBlock(dev, blockNum, buf); err != nil {
		return err
	}
	start := blockNum * uint64(dev.blockSize)
	copy(buf, dev.data[start:start+uint64(dev.blockSize)])
	return nil
}

func (dev *MmapBlockDevice) WriteBlock(blockNum uint64, buf []byte) error {
	if err := checkBlock(dev, blockNum, buf); err != nil {
		return err
	}
	start := blockNum * uint64(dev.blockSize)
	copy(dev.data[start:start+uint64(dev.blockSize)], buf)
	return nil
}

func (dev *MmapBlockDevice) Sync() error {
	if err := unix.Msync(dev.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("syncing image `%s`: %w", dev.file.Name(), err)
	}
	return nil
}

// Close flushes and unmaps the image.
func (dev *MmapBlockDevice) Close() error {
	if dev.data == nil {
		return nil
	}
	if err := dev.Sync(); err != nil {
		return err
	}
	if err := unix.Munmap(dev.data); err != nil {
		return fmt.Errorf("unmapping image `%s`: %w", dev.file.Name(), err)
	}
	dev.data = nil
	return dev.file.Close()
}
