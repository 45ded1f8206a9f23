package storage

import (
	"errors"
	"fmt"

	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/nspcc-dev/cfb/pkg/cfb/directory"
	storagelog "github.com/nspcc-dev/cfb/pkg/cfb/internal/log"
)

// MoveFlag selects what MoveElementTo does with the source element.
type MoveFlag uint8

const (
	// Move removes the source element.
	Move MoveFlag = iota
	// Copy keeps the source element.
	Copy
)

const copyChunk = 64 << 10

// lockPair locks containers of both storages in a stable order and returns
// the unlock function.
func lockPair(a, b *container) func() {
	if a == b {
		a.mtx.Lock()
		return a.mtx.Unlock
	}
	if a.id > b.id {
		a, b = b, a
	}
	a.mtx.Lock()
	b.mtx.Lock()
	return func() {
		b.mtx.Unlock()
		a.mtx.Unlock()
	}
}

// MoveElementTo moves or copies the named child into dst under newName.
// Within one file a move only re-links the directory entry; otherwise the
// element is copied with everything inside it and, for Move, the source is
// removed afterwards. An element can not be moved or copied into itself.
func (s *Storage) MoveElementTo(name string, dst *Storage, newName string, flag MoveFlag) error {
	defer elapsed("MoveElementTo", s.c.metrics.AddMethodDuration)()

	if flag != Move && flag != Copy {
		return fmt.Errorf("%w: move flag %d", common.ErrInvalidArgument, flag)
	}

	unlock := lockPair(s.c, dst.c)
	defer unlock()

	if err := s.check(flag == Move); err != nil {
		return err
	}
	if err := dst.check(true); err != nil {
		return err
	}
	if err := directory.CheckName(newName); err != nil {
		return err
	}

	idx, err := s.c.child(s.idx, name, 0)
	if err != nil {
		return err
	}

	if s.c == dst.c {
		in, err := s.c.dir.Descends(dst.idx, idx)
		if err != nil {
			return err
		}
		if in {
			return fmt.Errorf("%w: %q can not be placed into itself", common.ErrInvalidArgument, name)
		}

		if flag == Move {
			if err := s.c.dir.Move(s.idx, idx, dst.idx, newName); err != nil {
				return err
			}
			s.c.dirty = true

			storagelog.Write(s.c.log, storagelog.OpField("move"),
				storagelog.PathField(s.childPath(name)), storagelog.EntryField(idx))
			return nil
		}
	}

	if flag == Move {
		if err := s.c.checkNotInUse(idx); err != nil {
			return err
		}
	}

	nidx, err := copyElement(s.c, idx, dst.c, dst.idx, newName)
	if err != nil {
		return err
	}

	if flag == Move {
		if err := s.c.removeAll(s.idx, idx); err != nil {
			return errors.Join(err, dst.c.removeAll(dst.idx, nidx))
		}
	}

	storagelog.Write(s.c.log, storagelog.OpField("copy"),
		storagelog.PathField(s.childPath(name)), storagelog.EntryField(idx))

	return nil
}

// CopyTo copies every child of the storage into dst. Names must not collide
// with children of dst.
func (s *Storage) CopyTo(dst *Storage) error {
	defer elapsed("CopyTo", s.c.metrics.AddMethodDuration)()

	unlock := lockPair(s.c, dst.c)
	defer unlock()

	if err := s.check(false); err != nil {
		return err
	}
	if err := dst.check(true); err != nil {
		return err
	}

	if s.c == dst.c {
		in, err := s.c.dir.Descends(dst.idx, s.idx)
		if err != nil {
			return err
		}
		if in {
			return fmt.Errorf("%w: storage can not be copied into itself", common.ErrInvalidArgument)
		}
	}

	children, err := s.c.dir.Enumerate(s.idx)
	if err != nil {
		return err
	}

	names := make([]string, len(children))
	for i, idx := range children {
		e, err := s.c.dir.Entry(idx)
		if err != nil {
			return err
		}
		names[i] = e.Name

		_, err = dst.c.dir.FindChild(dst.idx, e.Name)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %q", common.ErrAlreadyExists, e.Name)
		case !errors.Is(err, common.ErrNotFound):
			return err
		}
	}

	created := make([]uint32, 0, len(children))
	for i, idx := range children {
		nidx, err := copyElement(s.c, idx, dst.c, dst.idx, names[i])
		if err != nil {
			for _, c := range created {
				err = errors.Join(err, dst.c.removeAll(dst.idx, c))
			}
			return err
		}
		created = append(created, nidx)
	}

	return nil
}

func (c *container) checkNotInUse(idx uint32) error {
	desc, err := c.dir.Descendants(idx)
	if err != nil {
		return err
	}

	for _, x := range append(desc, directory.Child{Index: idx}) {
		if c.handles[x.Index] > 0 {
			e, err := c.dir.Entry(x.Index)
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: %q", common.ErrInUse, e.Name)
		}
	}
	return nil
}

// copyElement copies entry idx of src with everything inside it into
// storage parent of dst. Nothing is left in dst on failure.
func copyElement(src *container, idx uint32, dst *container, parent uint32, name string) (uint32, error) {
	// Reject broken trees before copying anything.
	if _, err := src.dir.Descendants(idx); err != nil {
		return 0, err
	}

	type job struct {
		from   uint32
		parent uint32
		name   string
	}

	var (
		root  = directory.NoEntry
		queue = []job{{from: idx, parent: parent, name: name}}
	)

	fail := func(err error) (uint32, error) {
		if root != directory.NoEntry {
			err = errors.Join(err, dst.removeAll(parent, root))
		}
		return 0, err
	}

	for len(queue) > 0 {
		j := queue[0]
		queue = queue[1:]

		e, err := src.dir.Entry(j.from)
		if err != nil {
			return fail(err)
		}

		typ := e.Type
		if typ == TypeRoot {
			typ = TypeStorage
		}

		nidx, err := dst.create(j.parent, j.name, typ)
		if err != nil {
			return fail(err)
		}
		if root == directory.NoEntry {
			root = nidx
		}

		_ = dst.dir.Update(nidx, func(x *directory.Entry) {
			x.ClassID = e.ClassID
			x.StateBits = e.StateBits
			x.Created = e.Created
			x.Modified = e.Modified
		})

		if typ == TypeStream {
			if err := copyData(src, j.from, e, dst, nidx); err != nil {
				return fail(err)
			}
			continue
		}

		children, err := src.dir.Enumerate(j.from)
		if err != nil {
			return fail(err)
		}
		for _, ch := range children {
			ce, err := src.dir.Entry(ch)
			if err != nil {
				return fail(err)
			}
			queue = append(queue, job{from: ch, parent: nidx, name: ce.Name})
		}
	}

	return root, nil
}

func copyData(src *container, from uint32, e directory.Entry, dst *container, to uint32) error {
	// The destination is sized from the entry: a corrupt size must not
	// allocate anything.
	if _, err := src.streamBlocks(e); err != nil {
		return err
	}

	size := e.Size
	if err := dst.setSize(to, size); err != nil {
		return err
	}

	var (
		rd  = src.chainOf(from, size)
		wr  = dst.chainOf(to, size)
		buf = make([]byte, copyChunk)
	)

	for off := uint64(0); off < size; off += copyChunk {
		n := min(uint64(copyChunk), size-off)
		if _, err := rd.ReadAt(buf[:n], int64(off)); err != nil {
			return err
		}
		if _, err := wr.WriteAt(buf[:n], int64(off)); err != nil {
			return err
		}
	}
	return nil
}
