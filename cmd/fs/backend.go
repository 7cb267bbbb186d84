package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"brenoafb.com/simplefs/pkg/config"
	"brenoafb.com/simplefs/pkg/fs"
	"brenoafb.com/simplefs/pkg/objdev"
	miniostore "brenoafb.com/simplefs/pkg/objdev/minio"
	s3store "brenoafb.com/simplefs/pkg/objdev/s3"
)

// device is a block device together with whatever releases it.
type device struct {
	fs.BlockDevice
	io.Closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Sync is forwarded so that the volume can flush buffered backends.
func (d device) Sync() error {
	if s, ok := d.BlockDevice.(fs.Syncer); ok {
		return s.Sync()
	}
	return nil
}

// openDevice opens the backend named by c. When formatting, file images are
// sized from the configured geometry; otherwise an existing image keeps its
// own size so that the superblock check can catch a mismatch.
func openDevice(ctx context.Context, c *config.Config, format bool) (device, error) {
	g := c.Geometry()
	numBlocks := g.TotalBlocks()

	var dev device
	switch c.Backend {
	case config.BackendFile, config.BackendMmap:
		if !format {
			info, err := os.Stat(c.Image)
			if err != nil {
				return device{}, fmt.Errorf("opening image `%s`: %w", c.Image, err)
			}
			numBlocks = uint64(info.Size()) / uint64(g.BlockSize)
		}
		if c.Backend == config.BackendMmap {
			d, err := fs.OpenMmapBlockDevice(c.Image, g.BlockSize, numBlocks)
			if err != nil {
				return device{}, err
			}
			dev = device{d, d}
		} else {
			d, err := fs.OpenFileBlockDevice(c.Image, g.BlockSize, numBlocks)
			if err != nil {
				return device{}, err
			}
			dev = device{d, d}
		}
	case config.BackendS3, config.BackendMinio:
		store, err := openObjectStore(ctx, c, format)
		if err != nil {
			return device{}, err
		}
		compression, err := c.CompressionType()
		if err != nil {
			return device{}, err
		}
		dev = device{
			objdev.NewDevice(store, g.BlockSize, numBlocks, objdev.Options{
				Compression: compression,
				Concurrency: c.Concurrency,
				Timeout:     c.Timeout,
				CacheBlocks: c.CacheBlocks,
			}),
			nopCloser{},
		}
	default:
		return device{}, fmt.Errorf("unknown backend `%s`", c.Backend)
	}

	if c.IOLimit > 0 {
		dev.BlockDevice = fs.NewThrottledDevice(dev.BlockDevice, c.IOLimit)
	}
	return dev, nil
}

func openObjectStore(ctx context.Context, c *config.Config, format bool) (objdev.ObjectStore, error) {
	if c.Backend == config.BackendMinio {
		client, err := minio.New(c.Endpoint, &minio.Options{
			Creds:  miniocreds.NewStaticV4(c.AccessKey, c.SecretKey, ""),
			Secure: c.Secure,
			Region: c.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("creating MinIO client: %w", err)
		}
		store := miniostore.NewStore(client, c.Bucket, c.Prefix)
		if format {
			if err := store.EnsureBucket(ctx); err != nil {
				return nil, fmt.Errorf("creating bucket `%s`: %w", c.Bucket, err)
			}
		}
		return store, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.Region)}
	if c.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})
	return s3store.NewStore(client, c.Bucket, c.Prefix), nil
}
