package storage

import (
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/nspcc-dev/cfb/pkg/cfb/chain"
	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/nspcc-dev/cfb/pkg/cfb/directory"
	"github.com/nspcc-dev/cfb/pkg/cfb/header"
	storagelog "github.com/nspcc-dev/cfb/pkg/cfb/internal/log"
)

func (s *Storage) check(write bool) error {
	if s.closed {
		return common.ErrClosed
	}
	return s.c.check(write)
}

func (s *Storage) childPath(name string) string {
	if s.root {
		return name
	}
	return path.Join(s.name, name)
}

// tableOf returns the allocation table holding chains of streams of the
// given size.
func (c *container) tableOf(size uint64) chain.Table {
	if size < uint64(c.hdr.MiniCutoff) {
		return c.mini
	}
	return c.fat
}

// chainOf returns the chain of stream idx for its current size.
func (c *container) chainOf(idx uint32, size uint64) *chain.Chain {
	if size < uint64(c.hdr.MiniCutoff) {
		return chain.New(c.mini, c.mio, c.dir.Ref(idx))
	}
	return chain.New(c.fat, c.bio, c.dir.Ref(idx))
}

// streamBlocks returns the chain of stream e. A chain too short for the
// stream size is ErrCorrupt.
func (c *container) streamBlocks(e directory.Entry) ([]uint32, error) {
	bs := c.hdr.BlockSize()
	if e.Size < uint64(c.hdr.MiniCutoff) {
		bs = c.hdr.MiniBlockSize()
	}

	blocks, err := c.tableOf(e.Size).Chain(e.Start)
	if err != nil {
		return nil, err
	}
	if len(blocks) < blocksFor(e.Size, bs) {
		return nil, common.Corruptf("stream %q of %d bytes has %d blocks of %d bytes", e.Name, e.Size, len(blocks), bs)
	}
	return blocks, nil
}

func (c *container) child(parent uint32, name string, typ ElementType) (uint32, error) {
	if err := directory.CheckName(name); err != nil {
		return 0, err
	}

	idx, err := c.dir.FindChild(parent, name)
	if err != nil {
		return 0, err
	}

	e, err := c.dir.Entry(idx)
	if err != nil {
		return 0, err
	}
	if typ != 0 && e.Type != typ {
		return 0, fmt.Errorf("%w: %q is %s, not %s", common.ErrNotFound, name, e.Type, typ)
	}
	return idx, nil
}

func (c *container) create(parent uint32, name string, typ ElementType) (uint32, error) {
	idx, err := c.dir.CreateEntry(parent, name, typ)
	if err != nil {
		return 0, err
	}

	if typ == TypeStorage {
		now := toFiletime(c.clock())
		_ = c.dir.Update(idx, func(e *directory.Entry) {
			e.Created, e.Modified = now, now
		})
	}
	c.dirty = true

	return idx, nil
}

// CreateStream creates an empty stream and opens it.
func (s *Storage) CreateStream(name string) (*Stream, error) {
	defer elapsed("CreateStream", s.c.metrics.AddMethodDuration)()

	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(true); err != nil {
		return nil, err
	}

	idx, err := s.c.create(s.idx, name, TypeStream)
	if err != nil {
		return nil, err
	}

	storagelog.Write(s.c.log, storagelog.OpField("create stream"),
		storagelog.PathField(s.childPath(name)), storagelog.EntryField(idx))

	return s.c.openStream(idx, s.childPath(name)), nil
}

// OpenStream opens an existing stream.
func (s *Storage) OpenStream(name string) (*Stream, error) {
	defer elapsed("OpenStream", s.c.metrics.AddMethodDuration)()

	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(false); err != nil {
		return nil, err
	}

	idx, err := s.c.child(s.idx, name, TypeStream)
	if err != nil {
		return nil, err
	}
	return s.c.openStream(idx, s.childPath(name)), nil
}

// CreateStorage creates an empty nested storage and opens it.
func (s *Storage) CreateStorage(name string) (*Storage, error) {
	defer elapsed("CreateStorage", s.c.metrics.AddMethodDuration)()

	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(true); err != nil {
		return nil, err
	}

	idx, err := s.c.create(s.idx, name, TypeStorage)
	if err != nil {
		return nil, err
	}

	storagelog.Write(s.c.log, storagelog.OpField("create storage"),
		storagelog.PathField(s.childPath(name)), storagelog.EntryField(idx))

	return s.c.openStorage(idx, s.childPath(name)), nil
}

// OpenStorage opens an existing nested storage.
func (s *Storage) OpenStorage(name string) (*Storage, error) {
	defer elapsed("OpenStorage", s.c.metrics.AddMethodDuration)()

	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(false); err != nil {
		return nil, err
	}

	idx, err := s.c.child(s.idx, name, TypeStorage)
	if err != nil {
		return nil, err
	}
	return s.c.openStorage(idx, s.childPath(name)), nil
}

func (c *container) openStorage(idx uint32, name string) *Storage {
	c.acquire(idx)
	return &Storage{c: c, idx: idx, name: name}
}

// Elements returns children of the storage in directory order.
func (s *Storage) Elements() ([]StatInfo, error) {
	defer elapsed("Elements", s.c.metrics.AddMethodDuration)()

	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(false); err != nil {
		return nil, err
	}

	idxs, err := s.c.dir.Enumerate(s.idx)
	if err != nil {
		return nil, err
	}

	res := make([]StatInfo, 0, len(idxs))
	for _, i := range idxs {
		e, err := s.c.dir.Entry(i)
		if err != nil {
			return nil, err
		}
		res = append(res, statOf(e))
	}
	return res, nil
}

// Stat describes the storage itself.
func (s *Storage) Stat() (StatInfo, error) {
	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(false); err != nil {
		return StatInfo{}, err
	}

	e, err := s.c.dir.Entry(s.idx)
	if err != nil {
		return StatInfo{}, err
	}
	return statOf(e), nil
}

// StatElement describes the named child.
func (s *Storage) StatElement(name string) (StatInfo, error) {
	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(false); err != nil {
		return StatInfo{}, err
	}

	idx, err := s.c.child(s.idx, name, 0)
	if err != nil {
		return StatInfo{}, err
	}

	e, err := s.c.dir.Entry(idx)
	if err != nil {
		return StatInfo{}, err
	}
	return statOf(e), nil
}

// DestroyElement removes the named stream or empty storage. Elements with
// open handles can not be destroyed.
func (s *Storage) DestroyElement(name string) error {
	defer elapsed("DestroyElement", s.c.metrics.AddMethodDuration)()

	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(true); err != nil {
		return err
	}

	idx, err := s.c.child(s.idx, name, 0)
	if err != nil {
		return err
	}
	if s.c.handles[idx] > 0 {
		return fmt.Errorf("%w: %q", common.ErrInUse, name)
	}

	if err := s.c.destroy(s.idx, idx); err != nil {
		return err
	}

	storagelog.Write(s.c.log, storagelog.OpField("destroy"),
		storagelog.PathField(s.childPath(name)), storagelog.EntryField(idx))

	return nil
}

// RemoveAll removes the named element and, for a storage, everything inside
// it. Nothing is removed if any of the elements has open handles.
func (s *Storage) RemoveAll(name string) error {
	defer elapsed("RemoveAll", s.c.metrics.AddMethodDuration)()

	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(true); err != nil {
		return err
	}

	idx, err := s.c.child(s.idx, name, 0)
	if err != nil {
		return err
	}

	if err := s.c.removeAll(s.idx, idx); err != nil {
		return err
	}

	storagelog.Write(s.c.log, storagelog.OpField("remove all"),
		storagelog.PathField(s.childPath(name)), storagelog.EntryField(idx))

	return nil
}

// destroy frees the chain of a stream and its directory entry. The chain is
// validated before anything is changed.
func (c *container) destroy(parent, idx uint32) error {
	e, err := c.dir.Entry(idx)
	if err != nil {
		return err
	}

	var tbl chain.Table
	if e.Type == TypeStream && e.Start != header.EndOfChain {
		tbl = c.tableOf(e.Size)
		if _, err := tbl.Chain(e.Start); err != nil {
			return err
		}
	}

	if err := c.dir.Delete(parent, idx); err != nil {
		return err
	}
	c.dirty = true

	if tbl != nil {
		return tbl.FreeChain(e.Start)
	}
	return nil
}

func (c *container) removeAll(parent, idx uint32) error {
	desc, err := c.dir.Descendants(idx)
	if err != nil {
		return err
	}

	all := append(desc, directory.Child{Parent: parent, Index: idx})
	for _, x := range all {
		e, err := c.dir.Entry(x.Index)
		if err != nil {
			return err
		}
		if c.handles[x.Index] > 0 {
			return fmt.Errorf("%w: %q", common.ErrInUse, e.Name)
		}
		if e.Type == TypeStream {
			if _, err := c.tableOf(e.Size).Chain(e.Start); err != nil {
				return err
			}
		}
	}

	for i := len(all) - 1; i >= 0; i-- {
		if err := c.destroy(all[i].Parent, all[i].Index); err != nil {
			return err
		}
	}
	return nil
}

// RenameElement renames the named child.
func (s *Storage) RenameElement(oldName, newName string) error {
	defer elapsed("RenameElement", s.c.metrics.AddMethodDuration)()

	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(true); err != nil {
		return err
	}

	idx, err := s.c.child(s.idx, oldName, 0)
	if err != nil {
		return err
	}

	if err := s.c.dir.Rename(s.idx, idx, newName); err != nil {
		return err
	}
	s.c.dirty = true

	storagelog.Write(s.c.log, storagelog.OpField("rename"),
		storagelog.PathField(s.childPath(oldName)), storagelog.EntryField(idx))

	return nil
}

// SetClass sets the class id of the storage.
func (s *Storage) SetClass(id uuid.UUID) error {
	return s.update(func(e *directory.Entry) {
		e.ClassID = uuidToClassID(id)
	})
}

// SetStateBits sets the user flags of the storage selected by mask to bits.
func (s *Storage) SetStateBits(bits, mask uint32) error {
	return s.update(func(e *directory.Entry) {
		e.StateBits = e.StateBits&^mask | bits&mask
	})
}

func (s *Storage) update(f func(*directory.Entry)) error {
	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(true); err != nil {
		return err
	}

	if err := s.c.dir.Update(s.idx, f); err != nil {
		return err
	}
	s.c.dirty = true
	return nil
}

// SetElementTimes sets creation and modification times of the named child.
// An empty name selects the storage itself, zero times are left unchanged.
func (s *Storage) SetElementTimes(name string, created, modified time.Time) error {
	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(true); err != nil {
		return err
	}

	idx := s.idx
	if name != "" {
		var err error
		if idx, err = s.c.child(s.idx, name, 0); err != nil {
			return err
		}
	}

	err := s.c.dir.Update(idx, func(e *directory.Entry) {
		if !created.IsZero() {
			e.Created = toFiletime(created)
		}
		if !modified.IsZero() {
			e.Modified = toFiletime(modified)
		}
	})
	if err != nil {
		return err
	}
	s.c.dirty = true
	return nil
}
