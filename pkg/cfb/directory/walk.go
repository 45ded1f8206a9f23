package directory

import (
	"errors"

	"github.com/nspcc-dev/cfb/pkg/cfb/common"
)

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrNotFound)
}

// walkSiblings visits every node of the sibling tree of parent in pre-order
// until f returns false. Walks are iterative and every entry may be visited
// once: a repeated visit is ErrCorrupt.
func (d *Directory) walkSiblings(parent uint32, f func(uint32, *Entry) bool) error {
	p, err := d.storage(parent)
	if err != nil {
		return err
	}
	if p.Child == NoEntry {
		return nil
	}

	var (
		visited = make([]bool, len(d.entries))
		stack   = []uint32{p.Child}
	)

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		e, err := d.link(parent, cur)
		if err != nil {
			return err
		}
		if visited[cur] {
			return common.Corruptf("entry %d is linked twice in children of entry %d", cur, parent)
		}
		visited[cur] = true

		if !f(cur, e) {
			return nil
		}

		if e.Right != NoEntry {
			stack = append(stack, e.Right)
		}
		if e.Left != NoEntry {
			stack = append(stack, e.Left)
		}
	}

	return nil
}

// Enumerate returns children of parent in tree order.
func (d *Directory) Enumerate(parent uint32) ([]uint32, error) {
	p, err := d.storage(parent)
	if err != nil {
		return nil, err
	}

	var (
		res     []uint32
		visited = make([]bool, len(d.entries))
		stack   []uint32
		cur     = p.Child
	)

	for cur != NoEntry || len(stack) > 0 {
		for cur != NoEntry {
			e, err := d.link(parent, cur)
			if err != nil {
				return nil, err
			}
			if visited[cur] {
				return nil, common.Corruptf("entry %d is linked twice in children of entry %d", cur, parent)
			}
			visited[cur] = true

			stack = append(stack, cur)
			cur = e.Left
		}

		cur = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		res = append(res, cur)
		cur = d.entries[cur].Right
	}

	return res, nil
}

// Walk visits every entry reachable from the root, the root included, with
// the index of the storage holding it. Every entry may be reached once: a
// repeated visit is ErrCorrupt.
func (d *Directory) Walk(f func(parent, idx uint32, e Entry) error) error {
	if err := f(NoEntry, RootIndex, d.entries[RootIndex]); err != nil {
		return err
	}
	return d.walkSubtree(RootIndex, f)
}

// Descends reports whether entry idx is anc or lies inside storage anc.
func (d *Directory) Descends(idx, anc uint32) (bool, error) {
	if idx == anc {
		return true, nil
	}
	if err := d.checkIndex(anc); err != nil {
		return false, err
	}

	var found bool
	errFound := errors.New("found")

	err := d.walkSubtree(anc, func(_, i uint32, _ Entry) error {
		if i == idx {
			found = true
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return false, err
	}
	return found, nil
}

// walkSubtree calls f for every entry below storage idx.
func (d *Directory) walkSubtree(idx uint32, f func(parent, idx uint32, e Entry) error) error {
	if !d.entries[idx].Type.IsStorage() {
		return nil
	}

	var (
		visited = make([]bool, len(d.entries))
		stack   = []uint32{idx}
	)
	visited[idx] = true

	for len(stack) > 0 {
		parent := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var ferr error
		err := d.walkSiblings(parent, func(i uint32, e *Entry) bool {
			if visited[i] {
				ferr = common.Corruptf("entry %d is reachable twice", i)
				return false
			}
			visited[i] = true

			if ferr = f(parent, i, *e); ferr != nil {
				return false
			}
			if e.Type.IsStorage() {
				stack = append(stack, i)
			}
			return true
		})
		if err != nil {
			return err
		}
		if ferr != nil {
			return ferr
		}
	}

	return nil
}

// Child is an entry together with the storage holding it.
type Child struct {
	Parent uint32
	Index  uint32
}

// Descendants returns every entry below storage idx, parents before their
// children.
func (d *Directory) Descendants(idx uint32) ([]Child, error) {
	if err := d.checkIndex(idx); err != nil {
		return nil, err
	}

	var res []Child
	err := d.walkSubtree(idx, func(parent, i uint32, _ Entry) error {
		res = append(res, Child{Parent: parent, Index: i})
		return nil
	})
	return res, err
}
