package objdev

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"brenoafb.com/simplefs/pkg/codec"
	"brenoafb.com/simplefs/pkg/fs"
)

var errUnavailable = errors.New("store unavailable")

// flakyStore fails every Put whose key is in failing.
type flakyStore struct {
	*MemoryStore
	mu      sync.Mutex
	failing map[string]bool
	puts    int
}

func (s *flakyStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	s.puts++
	fail := s.failing[key]
	s.mu.Unlock()
	if fail {
		return errUnavailable
	}
	return s.MemoryStore.Put(ctx, key, data)
}

func TestDeviceUnwrittenBlocksReadAsZeros(t *testing.T) {
	dev := NewDevice(NewMemoryStore(), 32, 4, Options{})
	buf := bytes.Repeat([]byte{0xff}, 32)
	require.NoError(t, dev.ReadBlock(3, buf))
	require.Equal(t, make([]byte, 32), buf)

	require.ErrorIs(t, dev.ReadBlock(4, buf), fs.ErrBlockOutOfRange)
	require.ErrorIs(t, dev.WriteBlock(0, buf[:8]), fs.ErrBadBufferSize)
}

func TestDeviceWriteBackCache(t *testing.T) {
	for _, c := range []codec.Type{codec.None, codec.LZ4, codec.ZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			store := NewMemoryStore()
			dev := NewDevice(store, 64, 8, Options{Prefix: "vol", Compression: c})

			data := bytes.Repeat([]byte("block"), 12)
			data = append(data, 1, 2, 3, 4)
			require.NoError(t, dev.WriteBlock(2, data))
			require.NoError(t, dev.WriteBlock(5, data))
			require.Equal(t, 2, dev.Dirty())
			require.Equal(t, 0, store.Len())

			require.NoError(t, dev.Sync())
			require.Equal(t, 0, dev.Dirty())
			require.Equal(t, 2, store.Len())
			_, err := store.Get(context.Background(), "vol/00000002")
			require.NoError(t, err)

			// a fresh device sees only what was synced
			fresh := NewDevice(store, 64, 8, Options{Prefix: "vol", Compression: c})
			buf := make([]byte, 64)
			require.NoError(t, fresh.ReadBlock(5, buf))
			require.Equal(t, data, buf)
		})
	}
}

func TestDeviceSyncKeepsFailedBlocksDirty(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failing: map[string]bool{"00000001": true}}
	dev := NewDevice(store, 16, 4, Options{Concurrency: 2})

	block := bytes.Repeat([]byte{7}, 16)
	for i := uint64(0); i < 4; i++ {
		require.NoError(t, dev.WriteBlock(i, block))
	}
	require.ErrorIs(t, dev.Sync(), errUnavailable)
	require.GreaterOrEqual(t, dev.Dirty(), 1)

	store.mu.Lock()
	store.failing = nil
	store.mu.Unlock()
	require.NoError(t, dev.Sync())
	require.Equal(t, 0, dev.Dirty())
	require.Equal(t, 4, store.Len())
}

func TestDeviceCleanCacheIsBounded(t *testing.T) {
	store := NewMemoryStore()
	dev := NewDevice(store, 16, 8, Options{CacheBlocks: 2})

	for i := uint64(0); i < 8; i++ {
		require.NoError(t, dev.WriteBlock(i, bytes.Repeat([]byte{byte(i)}, 16)))
	}
	require.Equal(t, 8, dev.Dirty())
	require.Equal(t, 0, dev.Cached())

	require.NoError(t, dev.Sync())
	require.Equal(t, 0, dev.Dirty())
	require.Equal(t, 2, dev.Cached())

	// evicted blocks come back from the store
	buf := make([]byte, 16)
	for i := uint64(0); i < 8; i++ {
		require.NoError(t, dev.ReadBlock(i, buf))
		require.Equal(t, bytes.Repeat([]byte{byte(i)}, 16), buf)
		require.LessOrEqual(t, dev.Cached(), 2)
	}

	// a rewrite replaces the clean copy
	require.NoError(t, dev.WriteBlock(7, make([]byte, 16)))
	require.Equal(t, 1, dev.Cached())
	require.NoError(t, dev.ReadBlock(7, buf))
	require.Equal(t, make([]byte, 16), buf)
}

func TestDeviceCorruptObject(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "00000000", []byte("short")))

	dev := NewDevice(store, 16, 1, Options{})
	require.ErrorIs(t, dev.ReadBlock(0, make([]byte, 16)), fs.ErrCorrupt)

	dev = NewDevice(store, 16, 1, Options{Compression: codec.ZSTD})
	require.ErrorIs(t, dev.ReadBlock(0, make([]byte, 16)), codec.ErrCorrupt)
}

func TestFileSystemOnObjectStore(t *testing.T) {
	g := fs.Geometry{
		BlockSize:     64,
		InodeSize:     64,
		NumInodes:     8,
		NumDataBlocks: 16,
		MaxFileBlocks: 4,
		MaxNameLength: 16,
	}
	store := NewMemoryStore()
	opts := Options{Prefix: "fs", Compression: codec.LZ4}

	vol, err := fs.FormatVolume(NewDevice(store, g.BlockSize, g.TotalBlocks(), opts), g)
	require.NoError(t, err)
	fsys := fs.NewFileSystem(vol)

	_, err = fsys.Create("obj")
	require.NoError(t, err)
	fd, err := fsys.Open("obj")
	require.NoError(t, err)
	data := bytes.Repeat([]byte("xyz"), 50)
	require.NoError(t, fsys.Write(fd, data))
	require.NoError(t, fsys.Sync())

	vol, err = fs.LoadVolume(NewDevice(store, g.BlockSize, g.TotalBlocks(), opts))
	require.NoError(t, err)
	fsys = fs.NewFileSystem(vol)
	fd, err = fsys.Open("obj")
	require.NoError(t, err)
	got := make([]byte, len(data))
	require.NoError(t, fsys.Read(fd, got))
	require.Equal(t, data, got)
}
