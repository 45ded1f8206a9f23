package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	storagelog "github.com/nspcc-dev/cfb/pkg/cfb/internal/log"
)

// splitPath splits a slash-separated element path relative to a storage.
func splitPath(p string) ([]string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, fmt.Errorf("%w: empty path", common.ErrInvalidArgument)
	}
	return strings.Split(p, "/"), nil
}

// walkPath resolves storages named by parts starting at s.
func (s *Storage) walkPath(parts []string) (uint32, error) {
	idx := s.idx
	for _, name := range parts {
		var err error
		if idx, err = s.c.child(idx, name, TypeStorage); err != nil {
			return 0, fmt.Errorf("%q: %w", name, err)
		}
	}
	return idx, nil
}

// OpenStoragePath opens the nested storage at a slash-separated path
// relative to s.
func (s *Storage) OpenStoragePath(p string) (*Storage, error) {
	parts, err := splitPath(p)
	if err != nil {
		return nil, err
	}

	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(false); err != nil {
		return nil, err
	}

	idx, err := s.walkPath(parts)
	if err != nil {
		return nil, err
	}
	return s.c.openStorage(idx, s.childPath(path.Join(parts...))), nil
}

// OpenStreamPath opens the stream at a slash-separated path relative to s.
func (s *Storage) OpenStreamPath(p string) (*Stream, error) {
	parts, err := splitPath(p)
	if err != nil {
		return nil, err
	}

	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(false); err != nil {
		return nil, err
	}

	parent, err := s.walkPath(parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}

	idx, err := s.c.child(parent, parts[len(parts)-1], TypeStream)
	if err != nil {
		return nil, err
	}
	return s.c.openStream(idx, s.childPath(path.Join(parts...))), nil
}

// CreateStreamPath creates a stream at a slash-separated path relative to s,
// creating missing storages on the way. Storages created by a failed call
// are removed.
func (s *Storage) CreateStreamPath(p string) (*Stream, error) {
	defer elapsed("CreateStreamPath", s.c.metrics.AddMethodDuration)()

	parts, err := splitPath(p)
	if err != nil {
		return nil, err
	}

	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(true); err != nil {
		return nil, err
	}

	var (
		parent  = s.idx
		created []uint32
		parents []uint32
	)

	rollback := func(err error) (*Stream, error) {
		for i := len(created) - 1; i >= 0; i-- {
			err = errors.Join(err, s.c.destroy(parents[i], created[i]))
		}
		return nil, err
	}

	for _, name := range parts[:len(parts)-1] {
		idx, err := s.c.child(parent, name, TypeStorage)
		if errors.Is(err, common.ErrNotFound) {
			idx, err = s.c.create(parent, name, TypeStorage)
			if err == nil {
				created = append(created, idx)
				parents = append(parents, parent)
			}
		}
		if err != nil {
			return rollback(err)
		}
		parent = idx
	}

	idx, err := s.c.create(parent, parts[len(parts)-1], TypeStream)
	if err != nil {
		return rollback(err)
	}

	storagelog.Write(s.c.log, storagelog.OpField("create stream"),
		storagelog.PathField(s.childPath(path.Join(parts...))), storagelog.EntryField(idx))

	return s.c.openStream(idx, s.childPath(path.Join(parts...))), nil
}
