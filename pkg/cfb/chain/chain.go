// Package chain implements byte streams stored in block chains linked
// through an allocation table. The same code serves big blocks of the
// container and mini blocks of the mini stream.
package chain

import (
	"fmt"

	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/nspcc-dev/cfb/pkg/cfb/header"
)

// Links is a read view of an allocation table.
type Links interface {
	NextOf(i uint32) (uint32, error)
	Len() uint32
}

// Table is an allocation table chains are linked through.
type Table interface {
	Links
	SetNextOf(i, v uint32) error
	AllocateFreeBlock() (uint32, error)
	FreeChain(start uint32) error
	Chain(start uint32) ([]uint32, error)
}

// BlockIO reads and writes blocks addressed by table index.
type BlockIO interface {
	BlockSize() int
	ReadBlock(i uint32) ([]byte, error)
	WriteBlock(i uint32, data []byte) error
}

// Holder stores the first block of a chain.
type Holder interface {
	Head() uint32
	SetHead(uint32)
}

// Ref is a Holder over a plain variable.
type Ref struct {
	p *uint32
}

// NewRef returns Holder keeping the head in *p.
func NewRef(p *uint32) Ref {
	return Ref{p: p}
}

// Head implements Holder.
func (r Ref) Head() uint32 { return *r.p }

// SetHead implements Holder.
func (r Ref) SetHead(v uint32) { *r.p = v }

// Follow returns blocks of the chain starting at start. A chain longer than
// the table, a link outside of it or any sentinel other than EndOfChain is
// ErrCorrupt.
func Follow(l Links, start uint32) ([]uint32, error) {
	var (
		res []uint32
		n   = l.Len()
	)

	for cur := start; cur != header.EndOfChain; {
		if cur >= n {
			return nil, common.Corruptf("chain %#x: block %#x beyond allocation table of %d entries", start, cur, n)
		}
		if uint32(len(res)) >= n {
			return nil, common.Corruptf("chain %#x: cycle detected", start)
		}
		res = append(res, cur)

		next, err := l.NextOf(cur)
		if err != nil {
			return nil, err
		}
		if next > header.MaxRegular && next != header.EndOfChain {
			return nil, common.Corruptf("chain %#x: unexpected sentinel %#x after block %d", start, next, cur)
		}
		cur = next
	}

	return res, nil
}

// Chain is a byte stream over one block chain. It knows nothing about the
// logical stream size: callers clamp reads to it.
type Chain struct {
	tbl  Table
	io   BlockIO
	head Holder
}

// New returns Chain with the head stored in h.
func New(tbl Table, io BlockIO, h Holder) *Chain {
	return &Chain{tbl: tbl, io: io, head: h}
}

// Head returns the first block of the chain.
func (c *Chain) Head() uint32 {
	return c.head.Head()
}

// Blocks returns the blocks of the chain in order.
func (c *Chain) Blocks() ([]uint32, error) {
	return c.tbl.Chain(c.head.Head())
}

// BlockSize returns the size of chain blocks.
func (c *Chain) BlockSize() int {
	return c.io.BlockSize()
}

// ReadAt fills p from offset off. The whole range must be covered by the
// chain: a chain shorter than the range is ErrCorrupt.
func (c *Chain) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", common.ErrInvalidArgument, off)
	}
	if len(p) == 0 {
		return 0, nil
	}

	blocks, err := c.Blocks()
	if err != nil {
		return 0, err
	}

	bs := int64(c.io.BlockSize())
	if end := off + int64(len(p)); end > int64(len(blocks))*bs {
		return 0, common.Corruptf("chain %#x of %d blocks is shorter than %d bytes", c.head.Head(), len(blocks), end)
	}

	var n int
	for n < len(p) {
		pos := off + int64(n)
		b, err := c.io.ReadBlock(blocks[pos/bs])
		if err != nil {
			return n, err
		}
		n += copy(p[n:], b[pos%bs:])
	}
	return n, nil
}

// WriteAt writes p at offset off, extending the chain if needed. The chain
// is never shrunk.
func (c *Chain) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", common.ErrInvalidArgument, off)
	}
	if len(p) == 0 {
		return 0, nil
	}

	bs := int64(c.io.BlockSize())
	need := (off + int64(len(p)) + bs - 1) / bs

	blocks, err := c.Blocks()
	if err != nil {
		return 0, err
	}
	if int64(len(blocks)) < need {
		if err := c.grow(blocks, int(need)); err != nil {
			return 0, err
		}
		if blocks, err = c.Blocks(); err != nil {
			return 0, err
		}
	}

	var n int
	for n < len(p) {
		pos := off + int64(n)
		idx, in := blocks[pos/bs], pos%bs

		var b []byte
		if in == 0 && int64(len(p)-n) >= bs {
			b = p[n : n+int(bs)]
		} else {
			if b, err = c.io.ReadBlock(idx); err != nil {
				return n, err
			}
			copy(b[in:], p[n:])
		}

		if err := c.io.WriteBlock(idx, b); err != nil {
			return n, err
		}
		n += min(int(bs-in), len(p)-n)
	}
	return n, nil
}

// Resize sets the chain length to n blocks. New blocks are zero-filled; on
// failure the chain is left unchanged. Resizing to 0 frees the chain and
// sets the head to EndOfChain.
func (c *Chain) Resize(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative chain length %d", common.ErrInvalidArgument, n)
	}

	blocks, err := c.Blocks()
	if err != nil {
		return err
	}

	switch {
	case n > len(blocks):
		return c.grow(blocks, n)
	case n == 0:
		if err := c.tbl.FreeChain(c.head.Head()); err != nil {
			return err
		}
		c.head.SetHead(header.EndOfChain)
	case n < len(blocks):
		if err := c.tbl.FreeChain(blocks[n]); err != nil {
			return err
		}
		return c.tbl.SetNextOf(blocks[n-1], header.EndOfChain)
	}
	return nil
}

// grow appends n-len(blocks) zeroed blocks. The tail is built and written
// first and linked to the chain last, so a failure only has to release it.
func (c *Chain) grow(blocks []uint32, n int) error {
	var (
		added = make([]uint32, 0, n-len(blocks))
		zero  = make([]byte, c.io.BlockSize())
	)

	rollback := func() {
		for _, b := range added {
			_ = c.tbl.SetNextOf(b, header.Free)
		}
	}

	for len(blocks)+len(added) < n {
		b, err := c.tbl.AllocateFreeBlock()
		if err != nil {
			rollback()
			return err
		}
		if len(added) > 0 {
			if err := c.tbl.SetNextOf(added[len(added)-1], b); err != nil {
				rollback()
				return err
			}
		}
		added = append(added, b)

		if err := c.io.WriteBlock(b, zero); err != nil {
			rollback()
			return err
		}
	}

	if len(blocks) == 0 {
		c.head.SetHead(added[0])
		return nil
	}
	if err := c.tbl.SetNextOf(blocks[len(blocks)-1], added[0]); err != nil {
		rollback()
		return err
	}
	return nil
}
