package blockdev

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"syscall"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"go.uber.org/zap"
)

// Device addresses a Backend by fixed-size blocks: block i occupies bytes
// [i*BlockSize, (i+1)*BlockSize). Block size is immutable.
//
// Blocks in use are kept in an arena indexed by block number, each with a
// reference count. Modified blocks stay in the arena until Flush or until
// the arena outgrows the cache size; released clean blocks move to a bounded
// LRU. With zero cache size every write goes
// straight to the backend.
type Device struct {
	*cfg

	mtx sync.Mutex

	backend Backend
	bs      int
	length  int64

	arena map[int64]*Page
	clean *lru.Cache[int64, []byte]
}

// Option is an option of Device's constructor.
type Option func(*cfg)

type cfg struct {
	cacheSize int
	noSync    bool
	log       *zap.Logger
}

func defaultCfg() *cfg {
	return &cfg{
		cacheSize: 256,
		log:       zap.L(),
	}
}

// WithCacheSize returns option to set the number of clean blocks kept in
// memory. Zero disables caching and makes writes synchronous.
func WithCacheSize(n int) Option {
	return func(c *cfg) {
		c.cacheSize = n
	}
}

// WithNoSync returns option to skip fsync on Flush.
func WithNoSync(noSync bool) Option {
	return func(c *cfg) {
		c.noSync = noSync
	}
}

// WithLogger returns option to specify Device's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *cfg) {
		c.log = l.With(zap.String("component", "BlockDevice"))
	}
}

// New creates Device over b with the given block size.
func New(b Backend, blockSize int, opts ...Option) (*Device, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: block size %d", common.ErrInvalidArgument, blockSize)
	}

	c := defaultCfg()
	for i := range opts {
		opts[i](c)
	}

	size, err := b.Size()
	if err != nil {
		return nil, fmt.Errorf("get backend size: %w", err)
	}

	d := &Device{
		cfg:     c,
		backend: b,
		bs:      blockSize,
		length:  size,
		arena:   make(map[int64]*Page),
	}

	if c.cacheSize > 0 {
		d.clean, err = lru.New[int64, []byte](c.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create block cache: %w", err)
		}
	}

	return d, nil
}

// BlockSize returns the block size in bytes.
func (d *Device) BlockSize() int {
	return d.bs
}

// ByteLength returns the logical device length, including blocks written
// but not flushed yet.
func (d *Device) ByteLength() int64 {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.length
}

// Blocks returns the number of blocks the device length covers.
func (d *Device) Blocks() int64 {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return (d.length + int64(d.bs) - 1) / int64(d.bs)
}

// ReadBlock returns a copy of block i. A block starting at or past the end of
// the device is ErrOutOfRange; a trailing partial block is zero-padded.
func (d *Device) ReadBlock(i int64) ([]byte, error) {
	p, err := d.Acquire(i)
	if err != nil {
		return nil, err
	}
	defer p.Release()

	return append([]byte(nil), p.data...), nil
}

// WriteBlock replaces block i, growing the device if needed. It never
// shrinks the device.
func (d *Device) WriteBlock(i int64, data []byte) error {
	if len(data) != d.bs {
		return fmt.Errorf("%w: block data length %d, want %d", common.ErrInvalidArgument, len(data), d.bs)
	}
	if i < 0 {
		return fmt.Errorf("%w: negative block index %d", common.ErrInvalidArgument, i)
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()

	if d.clean == nil {
		if err := d.writeBackend(i, data); err != nil {
			return err
		}
		if p, ok := d.arena[i]; ok {
			copy(p.data, data)
		}
		d.extend(i)
		return nil
	}

	p, ok := d.arena[i]
	if !ok {
		buf, _ := d.clean.Get(i)
		if buf == nil {
			buf = make([]byte, d.bs)
		}
		d.clean.Remove(i)
		p = &Page{d: d, idx: i, data: buf}
		d.arena[i] = p
	}
	copy(p.data, data)
	p.dirty = true
	d.extend(i)

	return d.writeBackIdle()
}

// writeBackIdle writes modified blocks nobody holds to the backend once the
// arena outgrows the cache, so that a large uncommitted write is not kept
// in memory until Flush.
func (d *Device) writeBackIdle() error {
	if d.clean == nil || len(d.arena) <= d.cacheSize {
		return nil
	}

	idle := make([]int64, 0, len(d.arena))
	for i, p := range d.arena {
		if p.refs == 0 && p.dirty {
			idle = append(idle, i)
		}
	}
	slices.Sort(idle)

	for _, i := range idle {
		p := d.arena[i]
		if err := d.writeBackend(i, p.data); err != nil {
			return err
		}
		p.dirty = false
		delete(d.arena, i)
		d.clean.Add(i, p.data)
	}
	return nil
}

func (d *Device) extend(i int64) {
	if end := (i + 1) * int64(d.bs); end > d.length {
		d.length = end
	}
}

func (d *Device) writeBackend(i int64, data []byte) error {
	_, err := d.backend.WriteAt(data, i*int64(d.bs))
	if err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return fmt.Errorf("%w: write block %d: %w", common.ErrNoSpace, i, err)
		}
		return fmt.Errorf("write block %d: %w", i, err)
	}
	return nil
}

func (d *Device) readBackend(i int64, buf []byte) error {
	// Blocks written past the backend end are not flushed yet: the rest
	// reads as zeros.
	n, err := d.backend.ReadAt(buf, i*int64(d.bs))
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read block %d: %w", i, err)
	}
	clear(buf[n:])
	return nil
}

// Acquire pins block i in the arena and returns a handle to it. The handle
// MUST be released.
func (d *Device) Acquire(i int64) (*Page, error) {
	if i < 0 {
		return nil, fmt.Errorf("%w: negative block index %d", common.ErrInvalidArgument, i)
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()

	if p, ok := d.arena[i]; ok {
		p.refs++
		return p, nil
	}

	if i*int64(d.bs) >= d.length {
		return nil, fmt.Errorf("%w: block %d, device length %d", common.ErrOutOfRange, i, d.length)
	}

	var buf []byte
	if d.clean != nil {
		buf, _ = d.clean.Get(i)
		d.clean.Remove(i)
	}
	if buf == nil {
		buf = make([]byte, d.bs)
		if err := d.readBackend(i, buf); err != nil {
			return nil, err
		}
	}

	p := &Page{d: d, idx: i, data: buf, refs: 1}
	d.arena[i] = p
	return p, nil
}

func (d *Device) release(p *Page) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if p.refs > 0 {
		p.refs--
	}
	if p.refs > 0 {
		return nil
	}

	if p.dirty {
		if d.clean != nil {
			return d.writeBackIdle()
		}
		if err := d.writeBackend(p.idx, p.data); err != nil {
			return err
		}
		p.dirty = false
	}

	delete(d.arena, p.idx)
	if d.clean != nil {
		d.clean.Add(p.idx, p.data)
	}
	return nil
}

// Resize sets the device length to n blocks, truncating or extending the
// backend. Cached blocks past the new end are dropped.
func (d *Device) Resize(n int64) error {
	if n < 0 {
		return fmt.Errorf("%w: negative device size %d", common.ErrInvalidArgument, n)
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()

	for i := range d.arena {
		if i >= n {
			delete(d.arena, i)
		}
	}
	if d.clean != nil {
		for _, i := range d.clean.Keys() {
			if i >= n {
				d.clean.Remove(i)
			}
		}
	}

	if err := d.backend.Truncate(n * int64(d.bs)); err != nil {
		return fmt.Errorf("%w: resize device to %d blocks: %w", common.ErrNoSpace, n, err)
	}
	d.length = n * int64(d.bs)

	return nil
}

// Flush writes every modified block to the backend in block order and syncs
// it.
func (d *Device) Flush() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	dirty := make([]int64, 0, len(d.arena))
	for i, p := range d.arena {
		if p.dirty {
			dirty = append(dirty, i)
		}
	}
	slices.Sort(dirty)

	for _, i := range dirty {
		p := d.arena[i]
		if err := d.writeBackend(i, p.data); err != nil {
			return err
		}
		p.dirty = false
		if p.refs == 0 {
			delete(d.arena, i)
			if d.clean != nil {
				d.clean.Add(i, p.data)
			}
		}
	}

	if size, err := d.backend.Size(); err == nil && size < d.length {
		if err := d.backend.Truncate(d.length); err != nil {
			return fmt.Errorf("%w: extend device: %w", common.ErrNoSpace, err)
		}
	}

	d.log.Debug("flushed blocks", zap.Int("count", len(dirty)))

	if d.noSync {
		return nil
	}
	return d.backend.Sync()
}

// Close releases the backend without flushing.
func (d *Device) Close() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	d.arena = nil
	if d.clean != nil {
		d.clean.Purge()
	}
	return d.backend.Close()
}

// Page is a reference-counted handle to a block pinned in the Device arena.
type Page struct {
	d     *Device
	idx   int64
	data  []byte
	refs  int
	dirty bool
}

// Index returns the block number.
func (p *Page) Index() int64 {
	return p.idx
}

// Data returns the block contents. The slice is valid until Release.
func (p *Page) Data() []byte {
	return p.data
}

// MarkDirty schedules the block to be written back.
func (p *Page) MarkDirty() {
	p.d.mtx.Lock()
	p.dirty = true
	p.d.mtx.Unlock()
}

// Release drops the reference taken by Acquire. In write-through mode a
// modified block is written to the backend once the last reference is gone.
func (p *Page) Release() error {
	return p.d.release(p)
}
