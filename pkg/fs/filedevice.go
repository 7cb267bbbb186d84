package fs

import (
	"fmt"
	"os"
)

// FileBlockDevice is a BlockDevice stored in a regular file (a disk image).
type FileBlockDevice struct {
	file      *os.File
	blockSize int
	numBlocks uint64
}

// OpenFileBlockDevice opens or creates the image at path and grows it to
// hold numBlocks blocks if it is shorter.
func OpenFileBlockDevice(path string, blockSize int, numBlocks uint64) (*FileBlockDevice, error) {
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
	return &FileBlockDevice{file: file, blockSize: blockSize, numBlocks: numBlocks}, nil
}

func (dev *FileBlockDevice) BlockSize() int { return dev.blockSize }

func (dev *FileBlockDevice) NumBlocks() uint64 { return dev.numBlocks }

func (dev *FileBlockDevice) ReadBlock(blockNum uint64, buf []byte) error {
	if err := checkBlock(dev, blockNum, buf); err != nil {
		return err
	}
	offset := int64(blockNum) * int64(dev.blockSize)
	if _, err := dev.file.ReadAt(buf, offset); err != nil {
		return fmt.Errorf(
			"reading file `%s` at offset `%d`: %w",
			dev.file.Name(),
			offset,
			err,
		)
	}
	return nil
}

func (dev *FileBlockDevice) WriteBlock(blockNum uint64, buf []byte) error {
	if err := checkBlock(dev, blockNum, buf); err != nil {
		return err
	}
	offset := int64(blockNum) * int64(dev.blockSize)
	if _, err := dev.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf(
			"writing file `%s` at offset `%d`: %w",
			dev.file.Name(),
			offset,
			err,
		)
	}
	return nil
}

func (dev *FileBlockDevice) Sync() error {
	return dev.file.Sync()
}

func (dev *FileBlockDevice) Close() error {
	return dev.file.Close()
}
