package fs

import (
	"bytes"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected fault error")

// faultyDevice fails every write to block failAt. -1 disables it.
type faultyDevice struct {
	BlockDevice
	failAt int64
}

func (dev *faultyDevice) WriteBlock(blockNum uint64, buf []byte) error {
	if int64(blockNum) == dev.failAt {
		return errInjected
	}
	return dev.BlockDevice.WriteBlock(blockNum, buf)
}

// exerciseDevice checks the BlockDevice contract on an empty device.
func exerciseDevice(t *testing.T, dev BlockDevice) {
	t.Helper()
	bs := dev.BlockSize()
	last := dev.NumBlocks() - 1

	block := bytes.Repeat([]byte{0xab}, bs)
	require.NoError(t, dev.WriteBlock(last, block))
	require.NoError(t, dev.WriteBlock(0, pattern(bs, 1)))

	got := make([]byte, bs)
	require.NoError(t, dev.ReadBlock(last, got))
	require.Equal(t, block, got)
	require.NoError(t, dev.ReadBlock(0, got))
	require.Equal(t, pattern(bs, 1), got)

	require.ErrorIs(t, dev.ReadBlock(last+1, got), ErrBlockOutOfRange)
	require.ErrorIs(t, dev.WriteBlock(last+1, got), ErrBlockOutOfRange)
	require.ErrorIs(t, dev.ReadBlock(0, got[:bs-1]), ErrBadBufferSize)
	require.ErrorIs(t, dev.WriteBlock(0, append(got, 0)), ErrBadBufferSize)
}

func TestArrayBlockDevice(t *testing.T) {
	dev := NewArrayBlockDevice(make([]byte, 64*4+10), 64)
	require.Equal(t, uint64(4), dev.NumBlocks())
	exerciseDevice(t, dev)

	var out bytes.Buffer
	require.NoError(t, dev.Dump(&out))
	require.True(t, strings.HasPrefix(out.String(), "ArrayBlockDevice: 266 bytes\n01 02 03"))
}

func TestFileBlockDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := OpenFileBlockDevice(path, 64, 8)
	require.NoError(t, err)
	exerciseDevice(t, dev)
	require.NoError(t, dev.Sync())
	require.NoError(t, dev.Close())

	// contents survive reopening
	dev, err = OpenFileBlockDevice(path, 64, 8)
	require.NoError(t, err)
	defer dev.Close()
	got := make([]byte, 64)
	require.NoError(t, dev.ReadBlock(0, got))
	require.Equal(t, pattern(64, 1), got)
}

func TestMmapBlockDevice(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mmap devices are unix only")
	}
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := OpenMmapBlockDevice(path, 4096, 4)
	require.NoError(t, err)
	exerciseDevice(t, dev)
	require.NoError(t, dev.Close())

	// the mapping was written back to the file
	file, err := OpenFileBlockDevice(path, 4096, 4)
	require.NoError(t, err)
	defer file.Close()
	got := make([]byte, 4096)
	require.NoError(t, file.ReadBlock(0, got))
	require.Equal(t, pattern(4096, 1), got)
}

func TestVolumeOnFileDevice(t *testing.T) {
	g := testGeometry()
	path := filepath.Join(t.TempDir(), "disk.img")
	dev, err := OpenFileBlockDevice(path, g.BlockSize, g.TotalBlocks())
	require.NoError(t, err)
	vol, err := FormatVolume(dev, g)
	require.NoError(t, err)

	fs := NewFileSystem(vol)
	_, err = fs.Create("a")
	require.NoError(t, err)
	fd, err := fs.Open("a")
	require.NoError(t, err)
	require.NoError(t, fs.Write(fd, []byte("persisted")))
	require.NoError(t, fs.Sync())
	require.NoError(t, dev.Close())

	dev, err = OpenFileBlockDevice(path, g.BlockSize, g.TotalBlocks())
	require.NoError(t, err)
	defer dev.Close()
	vol, err = LoadVolume(dev)
	require.NoError(t, err)
	fs = NewFileSystem(vol)
	fd, err = fs.Open("a")
	require.NoError(t, err)
	got := make([]byte, 9)
	require.NoError(t, fs.Read(fd, got))
	require.Equal(t, "persisted", string(got))
}

func TestThrottledDevice(t *testing.T) {
	inner := NewArrayBlockDevice(make([]byte, 64*8), 64)
	dev := NewThrottledDevice(inner, 64*4)
	exerciseDevice(t, dev)
	require.NoError(t, dev.Sync())

	// the burst covers four blocks; the next four take about a second
	fresh := NewThrottledDevice(inner, 64*4)
	buf := make([]byte, 64)
	start := time.Now()
	for i := 0; i < 8; i++ {
		require.NoError(t, fresh.ReadBlock(uint64(i), buf))
	}
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}
