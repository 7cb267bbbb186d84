//go:build !unix

package fs

import "errors"

// MmapBlockDevice is only available on unix systems.
type MmapBlockDevice struct {
	FileBlockDevice
}

func OpenMmapBlockDevice(path string, blockSize int, numBlocks uint64) (*MmapBlockDevice, error) {
	return nil, errors.New("mmap block devices are not supported on this platform")
}
