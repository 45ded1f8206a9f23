// Package minifat implements the mini allocation table and block I/O over
// the mini stream. Small streams are chained through mini blocks carved from
// one big-block stream owned by the root entry.
package minifat

import (
	"encoding/binary"
	"fmt"

	"github.com/nspcc-dev/cfb/pkg/cfb/chain"
	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/nspcc-dev/cfb/pkg/cfb/header"
	"go.uber.org/zap"
)

// Table is the in-memory mini allocation table. Its entries are stored in a
// big-block chain starting at the header's MiniTableStart.
type Table struct {
	hdr   *header.Header
	log   *zap.Logger
	store *chain.Chain

	perBlock uint32
	entries  []uint32
	dirty    map[int]struct{}
	cursor   uint32
}

func newTable(hdr *header.Header, big chain.Table, io chain.BlockIO, log *zap.Logger) *Table {
	return &Table{
		hdr:      hdr,
		log:      log,
		store:    chain.New(big, io, chain.NewRef(&hdr.MiniTableStart)),
		perBlock: uint32(hdr.BlockSize() / 4),
		dirty:    make(map[int]struct{}),
	}
}

// New returns an empty mini table. Big blocks are taken from big on first
// allocation.
func New(hdr *header.Header, big chain.Table, io chain.BlockIO, log *zap.Logger) *Table {
	return newTable(hdr, big, io, log)
}

// Load reads the mini table chain described by hdr.
func Load(hdr *header.Header, big chain.Table, io chain.BlockIO, log *zap.Logger) (*Table, error) {
	t := newTable(hdr, big, io, log)

	blocks, err := t.store.Blocks()
	if err != nil {
		return nil, fmt.Errorf("mini table chain: %w", err)
	}
	if len(blocks) != int(hdr.MiniTableBlocks) {
		log.Warn("mini table length differs from header",
			zap.Int("chain", len(blocks)),
			zap.Uint32("header", hdr.MiniTableBlocks),
		)
	}

	buf := make([]byte, len(blocks)*hdr.BlockSize())
	if _, err := t.store.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read mini table: %w", err)
	}

	t.entries = make([]uint32, len(buf)/4)
	for i := range t.entries {
		t.entries[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}

	return t, nil
}

// Len returns the number of addressable mini blocks.
func (t *Table) Len() uint32 {
	return uint32(len(t.entries))
}

// NextOf returns the link stored for mini block i.
func (t *Table) NextOf(i uint32) (uint32, error) {
	if i >= uint32(len(t.entries)) {
		return 0, outOfTable(i, len(t.entries))
	}
	return t.entries[i], nil
}

// SetNextOf stores v as the link of mini block i.
func (t *Table) SetNextOf(i, v uint32) error {
	if i >= uint32(len(t.entries)) {
		return outOfTable(i, len(t.entries))
	}

	t.entries[i] = v
	t.dirty[int(i/t.perBlock)] = struct{}{}
	if v == header.Free && i < t.cursor {
		t.cursor = i
	}
	return nil
}

// AllocateFreeBlock reserves a free mini block. The table grows by one big
// block when it is full.
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

func (t *Table) grow() error {
	n := len(t.entries) / int(t.perBlock)
	if err := t.store.Resize(n + 1); err != nil {
		return fmt.Errorf("extend mini table: %w", err)
	}

	for i := uint32(0); i < t.perBlock; i++ {
		t.entries = append(t.entries, header.Free)
	}
	t.dirty[n] = struct{}{}
	t.hdr.MiniTableBlocks = uint32(n + 1)

	t.log.Debug("mini table extended", zap.Int("blocks", n+1))

	return nil
}

// Chain returns mini blocks of the chain starting at start.
func (t *Table) Chain(start uint32) ([]uint32, error) {
	return chain.Follow(t, start)
}

// FreeChain marks every mini block of the chain starting at start as free.
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

// Blocks returns big blocks storing the table.
func (t *Table) Blocks() ([]uint32, error) {
	return t.store.Blocks()
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

// Flush writes modified table blocks into the mini table chain.
func (t *Table) Flush() error {
	bs := int(t.perBlock) * 4

	for idx := range t.dirty {
		b := make([]byte, bs)
		for k, e := range t.entries[idx*int(t.perBlock) : (idx+1)*int(t.perBlock)] {
			binary.LittleEndian.PutUint32(b[4*k:], e)
		}
		if _, err := t.store.WriteAt(b, int64(idx*bs)); err != nil {
			return fmt.Errorf("write mini table block %d: %w", idx, err)
		}
	}
	t.dirty = make(map[int]struct{})

	return nil
}

func outOfTable(i uint32, n int) error {
	return common.Corruptf("mini block %#x beyond mini table of %d entries", i, n)
}
