// Package fat implements the block allocation table: one 4-byte link per
// block, stored in table blocks located through the header and the DIFAT
// chain.
package fat

import (
	"encoding/binary"
	"fmt"

	"github.com/nspcc-dev/cfb/pkg/cfb/blockdev"
	"github.com/nspcc-dev/cfb/pkg/cfb/chain"
	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/nspcc-dev/cfb/pkg/cfb/header"
	"go.uber.org/zap"
)

// Table is the in-memory allocation table. It is loaded once and rewritten
// block by block on Flush.
type Table struct {
	hdr *header.Header
	log *zap.Logger

	perBlock uint32

	entries []uint32
	// blocks holds locations of table blocks, blocks[t] covers entries
	// [t*perBlock, (t+1)*perBlock).
	blocks []uint32
	// difat holds locations of DIFAT blocks in chain order.
	difat []uint32

	dirty      map[int]struct{}
	difatDirty bool

	// cursor is the lowest index that may be free.
	cursor uint32
}

// New returns an empty Table for a new container. The first allocation
// creates table block 0.
func New(hdr *header.Header, log *zap.Logger) *Table {
	return &Table{
		hdr:      hdr,
		log:      log,
		perBlock: uint32(hdr.BlockSize() / 4),
		dirty:    make(map[int]struct{}),
	}
}

// Load reads the allocation table described by hdr from dev.
func Load(dev *blockdev.Device, hdr *header.Header, log *zap.Logger) (*Table, error) {
	t := New(hdr, log)

	nBlocks := dev.Blocks() - 1
	if nBlocks < 0 || int64(hdr.TableBlocks) > nBlocks {
		return nil, common.Corruptf("%d table blocks declared in file of %d blocks", hdr.TableBlocks, nBlocks)
	}

	locs, err := t.locateTableBlocks(dev, nBlocks)
	if err != nil {
		return nil, err
	}

	t.blocks = locs
	t.entries = make([]uint32, 0, uint64(len(locs))*uint64(t.perBlock))

	for i, loc := range locs {
		b, err := dev.ReadBlock(header.BlockOf(loc))
		if err != nil {
			return nil, fmt.Errorf("read table block %d at %d: %w", i, loc, err)
		}
		for off := 0; off < len(b); off += 4 {
			t.entries = append(t.entries, binary.LittleEndian.Uint32(b[off:]))
		}
	}

	// Table and DIFAT blocks must be described by the table itself.
	for _, loc := range append(t.blocks[:len(t.blocks):len(t.blocks)], t.difat...) {
		if loc >= uint32(len(t.entries)) {
			return nil, common.Corruptf("table or DIFAT block %d beyond allocation table of %d entries", loc, len(t.entries))
		}
	}

	// Writers are not consistent in marking table and DIFAT blocks; make
	// sure the allocator never hands them out.
	for _, loc := range t.blocks {
		if t.entries[loc] == header.Free {
			t.entries[loc] = header.TableBlock
		}
	}
	for _, loc := range t.difat {
		if t.entries[loc] == header.Free {
			t.entries[loc] = header.DIFATBlock
		}
	}

	t.log.Debug("allocation table loaded",
		zap.Int("table blocks", len(t.blocks)),
		zap.Int("DIFAT blocks", len(t.difat)),
		zap.Int("entries", len(t.entries)),
	)

	return t, nil
}

// locateTableBlocks resolves the location of every table block: the first
// InlineTableBlocks come from the header, the rest from the DIFAT chain.
func (t *Table) locateTableBlocks(dev *blockdev.Device, nBlocks int64) ([]uint32, error) {
	count := int(t.hdr.TableBlocks)
	locs := make([]uint32, 0, count)
	seen := make(map[uint32]struct{}, count)

	add := func(loc uint32, what string) error {
		if loc > header.MaxRegular || int64(loc) >= nBlocks {
			return common.Corruptf("%s at %#x outside of file of %d blocks", what, loc, nBlocks)
		}
		if _, ok := seen[loc]; ok {
			return common.Corruptf("%s at %d is referenced twice", what, loc)
		}
		seen[loc] = struct{}{}
		return nil
	}

	for i := 0; i < count && i < header.InlineTableBlocks; i++ {
		if err := add(t.hdr.Inline[i], fmt.Sprintf("table block %d", i)); err != nil {
			return nil, err
		}
		locs = append(locs, t.hdr.Inline[i])
	}

	perDIFAT := int(t.perBlock) - 1
	cur := t.hdr.DIFATStart
	for len(locs) < count {
		if err := add(cur, fmt.Sprintf("DIFAT block %d", len(t.difat))); err != nil {
			return nil, err
		}
		t.difat = append(t.difat, cur)

		b, err := dev.ReadBlock(header.BlockOf(cur))
		if err != nil {
			return nil, fmt.Errorf("read DIFAT block %d at %d: %w", len(t.difat)-1, cur, err)
		}

		for k := 0; k < perDIFAT && len(locs) < count; k++ {
			loc := binary.LittleEndian.Uint32(b[4*k:])
			if err := add(loc, fmt.Sprintf("table block %d", len(locs))); err != nil {
				return nil, err
			}
			locs = append(locs, loc)
		}

		cur = binary.LittleEndian.Uint32(b[4*perDIFAT:])
	}

	return locs, nil
}

// Len returns the number of addressable blocks.
func (t *Table) Len() uint32 {
	return uint32(len(t.entries))
}

// NextOf returns the link stored for block i: the next block of its chain or
// a sentinel.
func (t *Table) NextOf(i uint32) (uint32, error) {
	if i >= uint32(len(t.entries)) {
		return 0, common.Corruptf("block %#x beyond allocation table of %d entries", i, len(t.entries))
	}
	return t.entries[i], nil
}

// SetNextOf stores v as the link of block i.
func (t *Table) SetNextOf(i, v uint32) error {
	if i >= uint32(len(t.entries)) {
		return common.Corruptf("block %#x beyond allocation table of %d entries", i, len(t.entries))
	}

	t.entries[i] = v
	t.dirty[int(i/t.perBlock)] = struct{}{}
	if v == header.Free && i < t.cursor {
		t.cursor = i
	}
	return nil
}

// Locate returns the location of the table block holding the link of
// block i.
func (t *Table) Locate(i uint32) (uint32, error) {
	n := i / t.perBlock
	if n >= uint32(len(t.blocks)) {
		return 0, common.Corruptf("block %#x beyond allocation table of %d entries", i, len(t.entries))
	}
	if n < header.InlineTableBlocks {
		return t.hdr.Inline[n], nil
	}
	return t.blocks[n], nil
}

// AllocateFreeBlock reserves a free block, marking it as a one-block chain.
// The table is extended when no free block is left.
func (t *Table) AllocateFreeBlock() (uint32, error) {
	for {
		for i := t.cursor; i < uint32(len(t.entries)); i++ {
			if t.entries[i] == header.Free {
				t.entries[i] = header.EndOfChain
				t.dirty[int(i/t.perBlock)] = struct{}{}
				t.cursor = i + 1
				return i, nil
			}
		}
		t.cursor = uint32(len(t.entries))

		if err := t.grow(); err != nil {
			return 0, err
		}
	}
}

// grow appends one table block. The block describes itself, and a new DIFAT
// block is taken right after it when the current DIFAT blocks are full.
func (t *Table) grow() error {
	n := uint64(len(t.entries))
	if n+uint64(t.perBlock) > uint64(header.MaxRegular)+1 {
		return fmt.Errorf("%w: allocation table covers %d blocks", common.ErrNoSpace, n)
	}

	for i := uint32(0); i < t.perBlock; i++ {
		t.entries = append(t.entries, header.Free)
	}

	loc := uint32(n)
	idx := len(t.blocks)
	t.entries[loc] = header.TableBlock
	t.blocks = append(t.blocks, loc)
	t.dirty[idx] = struct{}{}

	if idx < header.InlineTableBlocks {
		t.hdr.Inline[idx] = loc
	} else {
		if (idx-header.InlineTableBlocks)%int(t.perBlock-1) == 0 {
			d := loc + 1
			t.entries[d] = header.DIFATBlock
			t.difat = append(t.difat, d)
			t.hdr.DIFATStart = t.difat[0]
			t.hdr.DIFATBlocks = uint32(len(t.difat))
		}
		t.difatDirty = true
	}

	t.hdr.TableBlocks = uint32(len(t.blocks))
	t.cursor = loc

	t.log.Debug("allocation table extended",
		zap.Int("table block", idx),
		zap.Uint32("location", loc),
		zap.Int("DIFAT blocks", len(t.difat)),
	)

	return nil
}

// Chain returns blocks of the chain starting at start.
func (t *Table) Chain(start uint32) ([]uint32, error) {
	return chain.Follow(t, start)
}

// FreeChain marks every block of the chain starting at start as free. The
// chain is validated completely before anything is changed.
func (t *Table) FreeChain(start uint32) error {
	blocks, err := t.Chain(start)
	if err != nil {
		return err
	}

	for _, b := range blocks {
		_ = t.SetNextOf(b, header.Free)
	}
	return nil
}

// TableBlocks returns locations of the table blocks.
func (t *Table) TableBlocks() []uint32 {
	return append([]uint32(nil), t.blocks...)
}

// DIFATBlocks returns locations of the DIFAT blocks in chain order.
func (t *Table) DIFATBlocks() []uint32 {
	return append([]uint32(nil), t.difat...)
}

// Stat returns the number of free and used links.
func (t *Table) Stat() (free, used int) {
	for _, e := range t.entries {
		if e == header.Free {
			free++
		} else {
			used++
		}
	}
	return
}

// Flush writes modified table blocks and, if changed, the whole DIFAT chain.
// The header is updated in memory only.
func (t *Table) Flush(dev *blockdev.Device) error {
	bs := int(t.perBlock) * 4

	for idx := range t.dirty {
		b := make([]byte, bs)
		for k, e := range t.entries[idx*int(t.perBlock) : (idx+1)*int(t.perBlock)] {
			binary.LittleEndian.PutUint32(b[4*k:], e)
		}
		if err := dev.WriteBlock(header.BlockOf(t.blocks[idx]), b); err != nil {
			return fmt.Errorf("write table block %d: %w", idx, err)
		}
	}

	if t.difatDirty {
		perDIFAT := int(t.perBlock) - 1
		for k, loc := range t.difat {
			b := make([]byte, bs)
			for s := 0; s < perDIFAT; s++ {
				v := header.Free
				if n := header.InlineTableBlocks + k*perDIFAT + s; n < len(t.blocks) {
					v = t.blocks[n]
				}
				binary.LittleEndian.PutUint32(b[4*s:], v)
			}

			next := header.EndOfChain
			if k+1 < len(t.difat) {
				next = t.difat[k+1]
			}
			binary.LittleEndian.PutUint32(b[4*perDIFAT:], next)

			if err := dev.WriteBlock(header.BlockOf(loc), b); err != nil {
				return fmt.Errorf("write DIFAT block %d: %w", k, err)
			}
		}
	}

	t.dirty = make(map[int]struct{})
	t.difatDirty = false

	return nil
}
