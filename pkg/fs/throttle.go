package fs

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// ThrottledDevice limits the byte throughput of another BlockDevice.
type ThrottledDevice struct {
	BlockDevice
	limiter *rate.Limiter
}

// NewThrottledDevice allows at most bytesPerSec bytes of reads and writes
// per second on dev. The burst is at least one block so that every single
// block transfer can be admitted.
func NewThrottledDevice(dev BlockDevice, bytesPerSec int) *ThrottledDevice {
	burst := bytesPerSec
	if burst < dev.BlockSize() {
		burst = dev.BlockSize()
	}
	return &ThrottledDevice{
		BlockDevice: dev,
		limiter:     rate.NewLimiter(rate.Limit(bytesPerSec), burst),
	}
}

func (dev *ThrottledDevice) wait(n int) error {
	if err := dev.limiter.WaitN(context.Background(), n); err != nil {
		return fmt.Errorf("throttling %d bytes: %w", n, err)
	}
	return nil
}

func (dev *ThrottledDevice) ReadBlock(blockNum uint64, buf []byte) error {
	if err := dev.wait(len(buf)); err != nil {
		return err
	}
	return dev.BlockDevice.ReadBlock(blockNum, buf)
}

func (dev *ThrottledDevice) WriteBlock(blockNum uint64, buf []byte) error {
	if err := dev.wait(len(buf)); err != nil {
		return err
	}
	return dev.BlockDevice.WriteBlock(blockNum, buf)
}

// Sync flushes the wrapped device if it supports it.
func (dev *ThrottledDevice) Sync() error {
	if s, ok := dev.BlockDevice.(Syncer); ok {
		return s.Sync()
	}
	return nil
}
