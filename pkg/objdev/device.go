package objdev

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"brenoafb.com/simplefs/pkg/codec"
	"brenoafb.com/simplefs/pkg/fs"
)

const (
	DefaultConcurrency = 8
	DefaultTimeout     = 30 * time.Second
	DefaultCacheBlocks = 256
)

// Options configures a Device.
type Options struct {
	// Prefix is prepended to every block key.
	Prefix string
	// Compression is applied to every block before it is stored.
	Compression codec.Type
	// Concurrency bounds the number of uploads in flight during Sync.
	Concurrency int
	// Timeout bounds every individual store call.
	Timeout time.Duration
	// CacheBlocks bounds the number of clean blocks kept in memory. Dirty
	// blocks are always kept until they are synced.
	CacheBlocks int
}

// Device is a fs.BlockDevice that keeps each block as an object named
// "<prefix>/<block number>". Writes stay in memory until Sync uploads them.
// Blocks that were never written read as zeros.
type Device struct {
	store     ObjectStore
	blockSize int
	numBlocks uint64
	opts      Options

	mu    sync.Mutex
	dirty map[uint64][]byte
	clean map[uint64]*list.Element
	lru   *list.List
}

type cachedBlock struct {
	num  uint64
	data []byte
}

var (
	_ fs.BlockDevice = (*Device)(nil)
	_ fs.Syncer      = (*Device)(nil)
)

func NewDevice(store ObjectStore, blockSize int, numBlocks uint64, opts Options) *Device {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CacheBlocks <= 0 {
		opts.CacheBlocks = DefaultCacheBlocks
	}
	return &Device{
		store:     store,
		blockSize: blockSize,
		numBlocks: numBlocks,
		opts:      opts,
		dirty:     make(map[uint64][]byte),
		clean:     make(map[uint64]*list.Element),
		lru:       list.New(),
	}
}

func (d *Device) BlockSize() int { return d.blockSize }

func (d *Device) NumBlocks() uint64 { return d.numBlocks }

func (d *Device) key(blockNum uint64) string {
	return path.Join(d.opts.Prefix, fmt.Sprintf("%08d", blockNum))
}

func (d *Device) check(blockNum uint64, buf []byte) error {
	if blockNum >= d.numBlocks {
		return fmt.Errorf("block %d of %d: %w", blockNum, d.numBlocks, fs.ErrBlockOutOfRange)
	}
	if len(buf) != d.blockSize {
		return fmt.Errorf("got %d bytes, block size is %d: %w", len(buf), d.blockSize, fs.ErrBadBufferSize)
	}
	return nil
}

func (d *Device) ReadBlock(blockNum uint64, buf []byte) error {
	if err := d.check(blockNum, buf); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if data, ok := d.dirty[blockNum]; ok {
		copy(buf, data)
		return nil
	}
	if ent, ok := d.clean[blockNum]; ok {
		d.lru.MoveToFront(ent)
		copy(buf, ent.Value.(*cachedBlock).data)
		return nil
	}
	data, err := d.fetch(blockNum)
	if err != nil {
		return err
	}
	d.keepClean(blockNum, data)
	copy(buf, data)
	return nil
}

// keepClean caches an unmodified block, evicting the least recently used
// clean blocks beyond CacheBlocks.
func (d *Device) keepClean(blockNum uint64, data []byte) {
	if ent, ok := d.clean[blockNum]; ok {
		ent.Value.(*cachedBlock).data = data
		d.lru.MoveToFront(ent)
		return
	}
	d.clean[blockNum] = d.lru.PushFront(&cachedBlock{num: blockNum, data: data})
	for d.lru.Len() > d.opts.CacheBlocks {
		back := d.lru.Back()
		d.lru.Remove(back)
		delete(d.clean, back.Value.(*cachedBlock).num)
	}
}

func (d *Device) dropClean(blockNum uint64) {
	if ent, ok := d.clean[blockNum]; ok {
		d.lru.Remove(ent)
		delete(d.clean, blockNum)
	}
}

func (d *Device) fetch(blockNum uint64) ([]byte, error) {
	key := d.key(blockNum)
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
	defer cancel()

	raw, err := d.store.Get(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return make([]byte, d.blockSize), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading object `%s`: %w", key, err)
	}
	data, err := codec.Decompress(raw, d.opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("decoding object `%s`: %w", key, err)
	}
	if len(data) != d.blockSize {
		return nil, fmt.Errorf("object `%s` holds %d bytes, block size is %d: %w", key, len(data), d.blockSize, fs.ErrCorrupt)
	}
	return data, nil
}

func (d *Device) WriteBlock(blockNum uint64, buf []byte) error {
	if err := d.check(blockNum, buf); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dropClean(blockNum)
	d.dirty[blockNum] = append([]byte(nil), buf...)
	return nil
}

// Dirty returns the number of blocks written since the last Sync.
func (d *Device) Dirty() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dirty)
}

// Cached returns the number of clean blocks held in memory.
func (d *Device) Cached() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lru.Len()
}

// Sync uploads every dirty block. Uploaded blocks move to the clean cache;
// blocks whose upload failed stay dirty so a later Sync retries them.
func (d *Device) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	blocks := make([]uint64, 0, len(d.dirty))
	for b := range d.dirty {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })

	var (
		doneMu sync.Mutex
		done   []uint64
	)
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(d.opts.Concurrency)
	for _, b := range blocks {
		data := d.dirty[b]
		g.Go(func() error {
			encoded, err := codec.Compress(data, d.opts.Compression)
			if err != nil {
				return fmt.Errorf("encoding block %d: %w", b, err)
			}
			callCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
			defer cancel()
			if err := d.store.Put(callCtx, d.key(b), encoded); err != nil {
				return fmt.Errorf("writing object `%s`: %w", d.key(b), err)
			}
			doneMu.Lock()
			done = append(done, b)
			doneMu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	for _, b := range done {
		d.keepClean(b, d.dirty[b])
		delete(d.dirty, b)
	}
	return err
}
