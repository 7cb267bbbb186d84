package fs

import (
	"fmt"
	"io"
)

type BlockDevice interface {
	// BlockSize returns the size of every block in bytes.
	BlockSize() int
	// NumBlocks returns how many blocks the device holds.
	NumBlocks() uint64
	// ReadBlock reads block blockNum into buf, which must be exactly one
	// block long.
	ReadBlock(blockNum uint64, buf []byte) error
	// WriteBlock writes buf, which must be exactly one block long, to block
	// blockNum.
	WriteBlock(blockNum uint64, buf []byte) error
}

// Syncer is implemented by devices that buffer writes and can flush them to
// stable storage.
type Syncer interface {
	Sync() error
}

func checkBlock(dev BlockDevice, blockNum uint64, buf []byte) error {
	if blockNum >= dev.NumBlocks() {
		return fmt.Errorf("block %d of %d: %w", blockNum, dev.NumBlocks(), ErrBlockOutOfRange)
	}
	if len(buf) != dev.BlockSize() {
		return fmt.Errorf("got %d bytes, block size is %d: %w", len(buf), dev.BlockSize(), ErrBadBufferSize)
	}
	return nil
}

// ArrayBlockDevice is a BlockDevice backed by a byte slice.
type ArrayBlockDevice struct {
	buf       []byte
	blockSize int
}

// NewArrayBlockDevice uses buf as storage. Any trailing bytes that do not
// make up a whole block are ignored.
func NewArrayBlockDevice(buf []byte, blockSize int) *ArrayBlockDevice {
	return &ArrayBlockDevice{buf: buf, blockSize: blockSize}
}

func (dev *ArrayBlockDevice) BlockSize() int { return dev.blockSize }

func (dev *ArrayBlockDevice) NumBlocks() uint64 {
	return uint64(len(dev.buf) / dev.blockSize)
}

// ReadBlock reads a block from the device into the buffer
func (dev *ArrayBlockDevice) ReadBlock(blockNum uint64, buf []byte) error {
	if err := checkBlock(dev, blockNum, buf); err != nil {
		return err
	}
	start := blockNum * uint64(dev.blockSize)
	copy(buf, dev.buf[start:start+uint64(dev.blockSize)])
	return nil
}

// WriteBlock writes a block from the buffer to the device
func (dev *ArrayBlockDevice) WriteBlock(blockNum uint64, buf []byte) error {
	if err := checkBlock(dev, blockNum, buf); err != nil {
		return err
	}
	start := blockNum * uint64(dev.blockSize)
	copy(dev.buf[start:start+uint64(dev.blockSize)], buf)
	return nil
}

// Dump writes a hex listing of the device contents to w.
func (dev *ArrayBlockDevice) Dump(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "ArrayBlockDevice: %d bytes\n", len(dev.buf)); err != nil {
		return err
	}
	for i := 0; i < len(dev.buf); i++ {
		sep := " "
		if i%16 == 15 {
			sep = "\n"
		}
		if _, err := fmt.Fprintf(w, "%02x%s", dev.buf[i], sep); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}
