package minio

import (
	"context"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"

	"brenoafb.com/simplefs/pkg/fs"
	"brenoafb.com/simplefs/pkg/objdev"
)

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	store := NewStore(client, "test-simplefs", "integration")
	require.NoError(t, store.EnsureBucket(ctx))

	_, err = store.Get(ctx, "does-not-exist")
	require.ErrorIs(t, err, objdev.ErrObjectNotFound)

	require.NoError(t, store.Put(ctx, "hello", []byte("hello minio")))
	data, err := store.Get(ctx, "hello")
	require.NoError(t, err)
	require.Equal(t, "hello minio", string(data))

	g := fs.Geometry{
		BlockSize:     64,
		InodeSize:     64,
		NumInodes:     8,
		NumDataBlocks: 16,
		MaxFileBlocks: 4,
		MaxNameLength: 16,
	}
	dev := objdev.NewDevice(store, g.BlockSize, g.TotalBlocks(), objdev.Options{Prefix: t.Name()})
	vol, err := fs.FormatVolume(dev, g)
	require.NoError(t, err)
	fsys := fs.NewFileSystem(vol)
	_, err = fsys.Create("remote")
	require.NoError(t, err)
	require.NoError(t, fsys.Sync())

	dev = objdev.NewDevice(store, g.BlockSize, g.TotalBlocks(), objdev.Options{Prefix: t.Name()})
	vol, err = fs.LoadVolume(dev)
	require.NoError(t, err)
	info, err := fs.NewFileSystem(vol).Stat("remote")
	require.NoError(t, err)
	require.Equal(t, 0, info.Size)
}
