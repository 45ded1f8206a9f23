package storage

import (
	"errors"
	"fmt"
	"io"

	"github.com/nspcc-dev/cfb/pkg/cfb/blockdev"
	"github.com/nspcc-dev/cfb/pkg/cfb/chain"
	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/nspcc-dev/cfb/pkg/cfb/directory"
	"github.com/nspcc-dev/cfb/pkg/cfb/fat"
	"github.com/nspcc-dev/cfb/pkg/cfb/header"
	"github.com/nspcc-dev/cfb/pkg/cfb/minifat"
	"github.com/nspcc-dev/cfb/pkg/cfb/mode"
	storagelog "github.com/nspcc-dev/cfb/pkg/cfb/internal/log"
	"go.uber.org/zap"
)

// Open opens the underlying file or backend in the given mode. A missing
// file is created in read-write mode. The file is locked until Close:
// shared for ReadOnly, exclusive otherwise.
func (s *Storage) Open(m mode.Mode) error {
	if !s.root {
		return fmt.Errorf("%w: open of nested storage", common.ErrInvalidArgument)
	}

	c := s.c
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.backend != nil {
		return fmt.Errorf("%w: already opened", common.ErrInvalidArgument)
	}

	c.mode = m

	if c.injected != nil {
		c.backend = c.injected
		c.log.Debug("using injected backend", zap.Stringer("mode", m))
		return nil
	}

	if c.path == "" {
		return fmt.Errorf("%w: neither path nor backend is set", common.ErrInvalidArgument)
	}

	c.log.Debug("opening compound file",
		zap.String("path", c.path),
		zap.Stringer("mode", m),
		zap.Stringer("permissions", c.perm),
	)

	f, err := blockdev.OpenFile(c.path, c.perm, m.NoWrite())
	if err != nil {
		return err
	}
	c.backend = f

	return nil
}

// Init formats an empty file or loads the header, the allocation tables and
// the directory of an existing one.
func (s *Storage) Init() error {
	if !s.root {
		return fmt.Errorf("%w: init of nested storage", common.ErrInvalidArgument)
	}

	c := s.c
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.backend == nil {
		return fmt.Errorf("%w: not opened", common.ErrInvalidArgument)
	}
	if c.ready {
		return nil
	}

	size, err := c.backend.Size()
	if err != nil {
		return fmt.Errorf("get file size: %w", err)
	}

	if size == 0 {
		if c.mode.NoWrite() {
			return common.Corruptf("empty file")
		}
		err = c.format()
	} else {
		err = c.load()
	}
	if err != nil {
		if errors.Is(err, common.ErrCorrupt) {
			c.log.Error("compound file is corrupted", zap.String("path", c.path), zap.Error(err))
		}
		return err
	}

	c.ready = true
	c.metrics.SetMode(uint32(c.mode))
	c.metrics.SetContainerSize(uint64(c.dev.ByteLength()))

	return nil
}

func (c *container) deviceOptions() []blockdev.Option {
	return []blockdev.Option{
		blockdev.WithCacheSize(c.cacheSize),
		blockdev.WithNoSync(c.noSync),
		blockdev.WithLogger(c.log),
	}
}

func (c *container) dirOptions() []directory.Option {
	return append([]directory.Option{directory.WithLogger(c.log)}, c.dirOpts...)
}

func (c *container) format() error {
	hdr, err := header.New(c.blockShift)
	if err != nil {
		return err
	}

	c.log.Debug("formatting new compound file", zap.Int("block size", hdr.BlockSize()))

	dev, err := blockdev.New(c.backend, hdr.BlockSize(), c.deviceOptions()...)
	if err != nil {
		return err
	}

	c.hdr = hdr
	c.dev = dev
	c.bio = chain.NewDeviceIO(dev)
	c.fat = fat.New(hdr, c.log)

	if c.dir, err = directory.New(hdr, c.fat, c.bio, c.dirOptions()...); err != nil {
		return err
	}
	if err := c.dir.Update(directory.RootIndex, func(e *directory.Entry) {
		now := toFiletime(c.clock())
		e.Created, e.Modified = now, now
	}); err != nil {
		return err
	}

	c.mini = minifat.New(hdr, c.fat, c.bio, c.log)
	c.mio = minifat.NewStreamIO(c.fat, c.bio, c.dir.Ref(directory.RootIndex), hdr.MiniBlockSize())

	c.dirty = true
	return c.commit()
}

func (c *container) load() error {
	buf := make([]byte, header.Size)
	if n, err := c.backend.ReadAt(buf, 0); err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		if errors.Is(err, io.EOF) {
			return common.Corruptf("file is %d bytes long", n)
		}
		return fmt.Errorf("read header: %w", err)
	}

	hdr, err := header.Decode(buf)
	if err != nil {
		return err
	}

	dev, err := blockdev.New(c.backend, hdr.BlockSize(), c.deviceOptions()...)
	if err != nil {
		return err
	}

	c.hdr = hdr
	c.dev = dev
	c.bio = chain.NewDeviceIO(dev)

	if c.fat, err = fat.Load(dev, hdr, c.log); err != nil {
		return fmt.Errorf("load allocation table: %w", err)
	}
	if c.dir, err = directory.Load(hdr, c.fat, c.bio, c.dirOptions()...); err != nil {
		return fmt.Errorf("load directory: %w", err)
	}
	if c.mini, err = minifat.Load(hdr, c.fat, c.bio, c.log); err != nil {
		return fmt.Errorf("load mini allocation table: %w", err)
	}
	c.mio = minifat.NewStreamIO(c.fat, c.bio, c.dir.Ref(directory.RootIndex), hdr.MiniBlockSize())

	c.log.Debug("compound file loaded",
		zap.Int("block size", hdr.BlockSize()),
		zap.Uint32("table blocks", hdr.TableBlocks),
		zap.Uint32("DIFAT blocks", hdr.DIFATBlocks),
		zap.Uint32("directory entries", c.dir.Len()),
	)

	return nil
}

// check returns an error if the container can not serve requests. Write
// requests are rejected in read-only mode.
func (c *container) check(write bool) error {
	switch {
	case c.closed:
		return common.ErrClosed
	case !c.ready:
		return fmt.Errorf("%w: not initialized", common.ErrInvalidArgument)
	case write && c.mode.NoWrite():
		return common.ErrReadOnly
	}
	return nil
}

// commit writes modified tables, the directory and the header, then flushes
// the device. The header goes last.
func (c *container) commit() error {
	if !c.dirty {
		return nil
	}

	if err := c.mini.Flush(); err != nil {
		return err
	}
	if err := c.dir.Flush(); err != nil {
		return err
	}
	if err := c.fat.Flush(c.dev); err != nil {
		return err
	}
	if err := c.dev.WriteBlock(0, c.hdr.Encode()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := c.dev.Flush(); err != nil {
		return err
	}

	c.dirty = false
	c.metrics.IncCommits()
	c.metrics.SetContainerSize(uint64(c.dev.ByteLength()))

	storagelog.Write(c.log, storagelog.OpField("commit"), storagelog.SizeField(uint64(c.dev.ByteLength())))

	return nil
}

// Commit persists every change made through the container. For a nested
// storage the whole container is committed.
func (s *Storage) Commit() error {
	defer elapsed("Commit", s.c.metrics.AddMethodDuration)()

	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(false); err != nil {
		return err
	}
	if s.c.mode.NoWrite() {
		return nil
	}
	return s.c.commit()
}

// Revert is not supported: changes are applied in place and there is no
// state to return to. It always returns ErrNotSupported.
func (s *Storage) Revert() error {
	return fmt.Errorf("%w: revert", common.ErrNotSupported)
}

// Close releases the storage. Closing the root commits pending changes of a
// read-write container and releases the file; every handle opened through
// it becomes unusable.
func (s *Storage) Close() error {
	c := s.c
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if s.closed {
		return common.ErrClosed
	}
	s.closed = true

	if !s.root {
		if !c.closed {
			c.release(s.idx)
		}
		return nil
	}

	if c.closed || c.backend == nil {
		return nil
	}
	c.closed = true

	c.log.Debug("closing compound file",
		zap.String("path", c.path),
		zap.Int64("open streams", c.streams.Load()),
	)

	var err error
	if c.ready && !c.mode.NoWrite() {
		err = c.commit()
	}

	var cerr error
	if c.dev != nil {
		cerr = c.dev.Close()
	} else {
		cerr = c.backend.Close()
	}

	return errors.Join(err, cerr)
}

func (c *container) acquire(idx uint32) {
	c.handles[idx]++
}

func (c *container) release(idx uint32) {
	if c.handles[idx]--; c.handles[idx] <= 0 {
		delete(c.handles, idx)
	}
}
