// Package directory implements the tree of directory entries embedded in a
// compound file. Entries live in a chain of big blocks; every storage roots
// a binary search tree of its children linked through Left and Right.
package directory

import (
	"fmt"

	"github.com/nspcc-dev/cfb/pkg/cfb/chain"
	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/nspcc-dev/cfb/pkg/cfb/header"
	"go.uber.org/zap"
)

// RootIndex is the index of the root entry.
const RootIndex uint32 = 0

// RootName is the name of the root entry written to new files.
const RootName = "Root Entry"

// Directory is the in-memory copy of all directory entries.
type Directory struct {
	*cfg

	hdr   *header.Header
	store *chain.Chain

	perBlock int
	entries  []Entry
	dirty    map[int]struct{}
}

// Option is an option of Directory's constructors.
type Option func(*cfg)

type cfg struct {
	cmp Comparer
	log *zap.Logger
}

func defaultCfg() *cfg {
	return &cfg{
		cmp: CompareNames,
		log: zap.L(),
	}
}

// WithComparer returns option to order sibling trees with c. It must match
// the ordering the file was written with.
func WithComparer(c Comparer) Option {
	return func(x *cfg) {
		x.cmp = c
	}
}

// WithLogger returns option to specify Directory's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *cfg) {
		c.log = l
	}
}

func newDirectory(hdr *header.Header, tbl chain.Table, io chain.BlockIO, opts []Option) *Directory {
	c := defaultCfg()
	for i := range opts {
		opts[i](c)
	}

	return &Directory{
		cfg:      c,
		hdr:      hdr,
		store:    chain.New(tbl, io, chain.NewRef(&hdr.DirStart)),
		perBlock: hdr.BlockSize() / EntrySize,
		dirty:    make(map[int]struct{}),
	}
}

// New creates a directory holding only the root entry.
func New(hdr *header.Header, tbl chain.Table, io chain.BlockIO, opts ...Option) (*Directory, error) {
	d := newDirectory(hdr, tbl, io, opts)

	if err := d.grow(); err != nil {
		return nil, err
	}

	root := emptyEntry()
	root.Name = RootName
	root.Type = TypeRoot
	root.Start = header.EndOfChain
	d.entries[RootIndex] = root

	return d, nil
}

// Load reads the directory chain described by hdr.
func Load(hdr *header.Header, tbl chain.Table, io chain.BlockIO, opts ...Option) (*Directory, error) {
	d := newDirectory(hdr, tbl, io, opts)

	blocks, err := d.store.Blocks()
	if err != nil {
		return nil, fmt.Errorf("directory chain: %w", err)
	}
	if len(blocks) == 0 {
		return nil, common.Corruptf("empty directory")
	}

	buf := make([]byte, len(blocks)*hdr.BlockSize())
	if _, err := d.store.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	d.entries = make([]Entry, len(buf)/EntrySize)
	for i := range d.entries {
		if d.entries[i], err = decodeEntry(buf[i*EntrySize:], hdr.BlockShift); err != nil {
			return nil, fmt.Errorf("directory entry %d: %w", i, err)
		}
	}

	if d.entries[RootIndex].Type != TypeRoot {
		return nil, common.Corruptf("entry %d is %s, not root", RootIndex, d.entries[RootIndex].Type)
	}

	d.log.Debug("directory loaded", zap.Int("entries", len(d.entries)))

	return d, nil
}

// Len returns the number of entry slots, free ones included.
func (d *Directory) Len() uint32 {
	return uint32(len(d.entries))
}

// Entry returns a copy of entry idx.
func (d *Directory) Entry(idx uint32) (Entry, error) {
	if err := d.checkIndex(idx); err != nil {
		return Entry{}, err
	}
	return d.entries[idx], nil
}

// Update applies f to entry idx. Tree links and the entry type must not be
// changed by f.
func (d *Directory) Update(idx uint32, f func(*Entry)) error {
	if err := d.checkIndex(idx); err != nil {
		return err
	}
	f(&d.entries[idx])
	d.markDirty(idx)
	return nil
}

func (d *Directory) checkIndex(idx uint32) error {
	if idx >= uint32(len(d.entries)) {
		return common.Corruptf("entry %d beyond directory of %d entries", idx, len(d.entries))
	}
	return nil
}

func (d *Directory) markDirty(idx uint32) {
	d.dirty[int(idx)/d.perBlock] = struct{}{}
}

// link returns entry referenced by a tree link, rejecting references to free
// slots, to the root and past the directory.
func (d *Directory) link(from, to uint32) (*Entry, error) {
	if to == RootIndex || to >= uint32(len(d.entries)) {
		return nil, common.Corruptf("entry %d links to invalid entry %d", from, to)
	}
	e := &d.entries[to]
	if e.Type == TypeEmpty || e.Type == TypeRoot {
		return nil, common.Corruptf("entry %d links to %s entry %d", from, e.Type, to)
	}
	return e, nil
}

func (d *Directory) storage(idx uint32) (*Entry, error) {
	if err := d.checkIndex(idx); err != nil {
		return nil, err
	}
	e := &d.entries[idx]
	if !e.Type.IsStorage() {
		return nil, fmt.Errorf("%w: entry %d is %s, not a storage", common.ErrInvalidArgument, idx, e.Type)
	}
	return e, nil
}

// FindChild returns the index of the child of parent named name.
func (d *Directory) FindChild(parent uint32, name string) (uint32, error) {
	p, err := d.storage(parent)
	if err != nil {
		return 0, err
	}

	cur := p.Child
	for steps := 0; cur != NoEntry; steps++ {
		if steps >= len(d.entries) {
			return 0, common.Corruptf("cycle in children of entry %d", parent)
		}

		e, err := d.link(parent, cur)
		if err != nil {
			return 0, err
		}

		switch c := d.cmp(name, e.Name); {
		case c == 0:
			return cur, nil
		case c < 0:
			cur = e.Left
		default:
			cur = e.Right
		}
	}

	return 0, fmt.Errorf("%w: %q", common.ErrNotFound, name)
}

// CreateEntry creates a child of parent. The name must be unique among its
// siblings. The lowest free slot is reused, otherwise the directory grows by
// one block.
func (d *Directory) CreateEntry(parent uint32, name string, typ Type) (uint32, error) {
	if typ != TypeStorage && typ != TypeStream {
		return 0, fmt.Errorf("%w: can not create %s entry", common.ErrInvalidArgument, typ)
	}
	if err := CheckName(name); err != nil {
		return 0, err
	}

	_, err := d.FindChild(parent, name)
	switch {
	case err == nil:
		return 0, fmt.Errorf("%w: %q", common.ErrAlreadyExists, name)
	case !isNotFound(err):
		return 0, err
	}

	idx, err := d.freeSlot()
	if err != nil {
		return 0, err
	}

	e := emptyEntry()
	e.Name = name
	e.Type = typ
	e.Start = header.EndOfChain
	d.entries[idx] = e
	d.markDirty(idx)

	if err := d.insert(parent, idx); err != nil {
		d.entries[idx] = emptyEntry()
		return 0, err
	}

	return idx, nil
}

func (d *Directory) freeSlot() (uint32, error) {
	for i := 1; i < len(d.entries); i++ {
		if d.entries[i].Type == TypeEmpty {
			return uint32(i), nil
		}
	}

	n := len(d.entries)
	if err := d.grow(); err != nil {
		return 0, err
	}
	return uint32(n), nil
}

func (d *Directory) grow() error {
	n := len(d.entries) / d.perBlock
	if err := d.store.Resize(n + 1); err != nil {
		return fmt.Errorf("extend directory: %w", err)
	}

	for i := 0; i < d.perBlock; i++ {
		d.entries = append(d.entries, emptyEntry())
	}
	d.dirty[n] = struct{}{}
	if d.hdr.MajorVersion >= 4 {
		d.hdr.DirBlocks = uint32(n + 1)
	}

	return nil
}

// insert hangs entry idx into the sibling tree of parent as a leaf.
func (d *Directory) insert(parent, idx uint32) error {
	p := &d.entries[parent]
	if p.Child == NoEntry {
		p.Child = idx
		d.markDirty(parent)
		return nil
	}

	name := d.entries[idx].Name
	cur := p.Child
	for steps := 0; ; steps++ {
		if steps >= len(d.entries) {
			return common.Corruptf("cycle in children of entry %d", parent)
		}

		e, err := d.link(parent, cur)
		if err != nil {
			return err
		}

		slot := &e.Right
		if d.cmp(name, e.Name) < 0 {
			slot = &e.Left
		}
		if *slot == NoEntry {
			*slot = idx
			d.markDirty(cur)
			return nil
		}
		cur = *slot
	}
}

// unlink detaches entry idx from the sibling tree of parent. Its left
// subtree takes its place and its right subtree is hung off the right-most
// node of the left one.
func (d *Directory) unlink(parent, idx uint32) error {
	owner, slot, err := d.findLink(parent, idx)
	if err != nil {
		return err
	}

	e := &d.entries[idx]
	repl := e.Left
	switch {
	case e.Left == NoEntry:
		repl = e.Right
	case e.Right != NoEntry:
		cur := e.Left
		for steps := 0; ; steps++ {
			if steps >= len(d.entries) {
				return common.Corruptf("cycle in children of entry %d", parent)
			}
			n, err := d.link(parent, cur)
			if err != nil {
				return err
			}
			if n.Right == NoEntry {
				n.Right = e.Right
				d.markDirty(cur)
				break
			}
			cur = n.Right
		}
	}

	*slot = repl
	d.markDirty(owner)
	e.Left, e.Right = NoEntry, NoEntry
	d.markDirty(idx)

	return nil
}

// findLink returns the entry holding the link to idx within the sibling tree
// of parent and the link itself. The tree is searched exhaustively so that
// trees ordered differently are handled too.
func (d *Directory) findLink(parent, idx uint32) (uint32, *uint32, error) {
	p := &d.entries[parent]
	if p.Child == idx {
		return parent, &p.Child, nil
	}

	var owner uint32
	var slot *uint32
	err := d.walkSiblings(parent, func(i uint32, e *Entry) bool {
		switch idx {
		case e.Left:
			owner, slot = i, &e.Left
		case e.Right:
			owner, slot = i, &e.Right
		default:
			return true
		}
		return false
	})
	if err != nil {
		return 0, nil, err
	}
	if slot == nil {
		return 0, nil, fmt.Errorf("%w: entry %d is not a child of entry %d", common.ErrNotFound, idx, parent)
	}
	return owner, slot, nil
}

// Rename changes the name of entry idx, a child of parent.
func (d *Directory) Rename(parent, idx uint32, name string) error {
	return d.Move(parent, idx, parent, name)
}

// Move re-links entry idx from the children of src to the children of dst
// under a new name. Callers must make sure dst is not inside idx.
func (d *Directory) Move(src, idx, dst uint32, name string) error {
	if err := CheckName(name); err != nil {
		return err
	}
	if _, err := d.storage(src); err != nil {
		return err
	}
	if _, err := d.storage(dst); err != nil {
		return err
	}
	if err := d.checkIndex(idx); err != nil {
		return err
	}

	found, err := d.FindChild(dst, name)
	switch {
	case err == nil && found != idx:
		return fmt.Errorf("%w: %q", common.ErrAlreadyExists, name)
	case err == nil:
		// Same entry, case change only: the position is unaffected.
		d.entries[idx].Name = name
		d.markDirty(idx)
		return nil
	case !isNotFound(err):
		return err
	}

	// Fail before touching anything if the source tree is broken.
	if _, _, err := d.findLink(src, idx); err != nil {
		return err
	}
	if _, err := d.Enumerate(dst); err != nil {
		return err
	}

	if err := d.unlink(src, idx); err != nil {
		return err
	}
	d.entries[idx].Name = name
	return d.insert(dst, idx)
}

// Delete removes entry idx from the children of parent and frees its slot.
// A storage with children is ErrNotEmpty. The entry's chain is not freed.
func (d *Directory) Delete(parent, idx uint32) error {
	if _, err := d.storage(parent); err != nil {
		return err
	}
	if err := d.checkIndex(idx); err != nil {
		return err
	}

	e := &d.entries[idx]
	if e.Type.IsStorage() && e.Child != NoEntry {
		return fmt.Errorf("%w: %q", common.ErrNotEmpty, e.Name)
	}

	if err := d.unlink(parent, idx); err != nil {
		return err
	}

	d.entries[idx] = emptyEntry()
	d.markDirty(idx)

	return nil
}

// Stat returns the number of used and free entry slots.
func (d *Directory) Stat() (used, free int) {
	for i := range d.entries {
		if d.entries[i].Type == TypeEmpty {
			free++
		} else {
			used++
		}
	}
	return
}

// Blocks returns big blocks storing the directory.
func (d *Directory) Blocks() ([]uint32, error) {
	return d.store.Blocks()
}

// Flush writes modified directory blocks.
func (d *Directory) Flush() error {
	bs := d.perBlock * EntrySize

	for blk := range d.dirty {
		b := make([]byte, bs)
		for k := 0; k < d.perBlock; k++ {
			d.entries[blk*d.perBlock+k].encode(b[k*EntrySize:])
		}
		if _, err := d.store.WriteAt(b, int64(blk*bs)); err != nil {
			return fmt.Errorf("write directory block %d: %w", blk, err)
		}
	}
	d.dirty = make(map[int]struct{})

	d.log.Debug("directory flushed")

	return nil
}
