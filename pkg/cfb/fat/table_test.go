package fat

import (
	"encoding/binary"
	"testing"

	"github.com/nspcc-dev/cfb/pkg/cfb/blockdev"
	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/nspcc-dev/cfb/pkg/cfb/header"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newDevice(t *testing.T) (*blockdev.Device, *blockdev.Memory) {
	mem := blockdev.NewMemory(nil)
	dev, err := blockdev.New(mem, 512)
	require.NoError(t, err)
	return dev, mem
}

func flush(t *testing.T, tbl *Table, dev *blockdev.Device, hdr *header.Header) {
	require.NoError(t, tbl.Flush(dev))
	require.NoError(t, dev.WriteBlock(0, hdr.Encode()))
	require.NoError(t, dev.Flush())
}

func reload(t *testing.T, mem *blockdev.Memory) (*Table, *header.Header, error) {
	dev, err := blockdev.New(blockdev.NewMemory(mem.Bytes()), 512)
	require.NoError(t, err)

	b, err := dev.ReadBlock(0)
	require.NoError(t, err)
	hdr, err := header.Decode(b)
	require.NoError(t, err)

	tbl, err := Load(dev, hdr, zaptest.NewLogger(t))
	return tbl, hdr, err
}

// allocateChain allocates n blocks linked into one chain.
func allocateChain(t *testing.T, tbl *Table, n int) []uint32 {
	res := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		b, err := tbl.AllocateFreeBlock()
		require.NoError(t, err)
		if i > 0 {
			require.NoError(t, tbl.SetNextOf(res[i-1], b))
		}
		res = append(res, b)
	}
	return res
}

func TestAllocate(t *testing.T) {
	hdr, err := header.New(header.DefaultBlockShift)
	require.NoError(t, err)
	tbl := New(hdr, zaptest.NewLogger(t))

	b, err := tbl.AllocateFreeBlock()
	require.NoError(t, err)
	require.EqualValues(t, 1, b)
	require.EqualValues(t, 128, tbl.Len())
	require.EqualValues(t, 1, hdr.TableBlocks)
	require.EqualValues(t, 0, hdr.Inline[0])

	next, err := tbl.NextOf(0)
	require.NoError(t, err)
	require.Equal(t, header.TableBlock, next)

	next, err = tbl.NextOf(b)
	require.NoError(t, err)
	require.Equal(t, header.EndOfChain, next)

	t.Run("lowest free block is reused", func(t *testing.T) {
		chain := allocateChain(t, tbl, 10)
		require.NoError(t, tbl.FreeChain(chain[3]))

		b, err := tbl.AllocateFreeBlock()
		require.NoError(t, err)
		require.Equal(t, chain[3], b)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := tbl.NextOf(tbl.Len())
		require.ErrorIs(t, err, common.ErrCorrupt)
		require.ErrorIs(t, tbl.SetNextOf(tbl.Len(), 0), common.ErrCorrupt)
	})
}

func TestDIFAT(t *testing.T) {
	dev, mem := newDevice(t)

	hdr, err := header.New(header.DefaultBlockShift)
	require.NoError(t, err)
	tbl := New(hdr, zaptest.NewLogger(t))

	// Every table block of 128 entries describes itself, so 127 data blocks
	// fill one. One more block overflows the inline locations.
	const n = header.InlineTableBlocks*127 + 1
	chain := allocateChain(t, tbl, n)

	require.EqualValues(t, header.InlineTableBlocks+1, hdr.TableBlocks)
	require.EqualValues(t, 1, hdr.DIFATBlocks)
	require.EqualValues(t, 109*128+1, hdr.DIFATStart)
	require.Equal(t, []uint32{109*128 + 1}, tbl.DIFATBlocks())

	loc, err := tbl.Locate(chain[n-1])
	require.NoError(t, err)
	require.EqualValues(t, 109*128, loc)

	next, err := tbl.NextOf(109*128 + 1)
	require.NoError(t, err)
	require.Equal(t, header.DIFATBlock, next)

	flush(t, tbl, dev, hdr)

	loaded, lhdr, err := reload(t, mem)
	require.NoError(t, err)
	require.Equal(t, hdr, lhdr)
	require.Equal(t, tbl.Len(), loaded.Len())
	require.Equal(t, tbl.TableBlocks(), loaded.TableBlocks())
	require.Equal(t, tbl.DIFATBlocks(), loaded.DIFATBlocks())

	got, err := loaded.Chain(chain[0])
	require.NoError(t, err)
	require.Equal(t, chain, got)

	free, used := loaded.Stat()
	require.Equal(t, int(loaded.Len()), free+used)
	require.Equal(t, n+int(hdr.TableBlocks)+int(hdr.DIFATBlocks), used)

	t.Run("sentinel in DIFAT", func(t *testing.T) {
		data := append([]byte(nil), mem.Bytes()...)
		off := int(header.BlockOf(hdr.DIFATStart)) * 512
		binary.LittleEndian.PutUint32(data[off:], header.EndOfChain)

		_, _, err := reload(t, blockdev.NewMemory(data))
		require.ErrorIs(t, err, common.ErrCorrupt)
	})

	t.Run("DIFAT shorter than declared", func(t *testing.T) {
		data := append([]byte(nil), mem.Bytes()...)
		// Declare more table blocks than the DIFAT chain holds.
		binary.LittleEndian.PutUint32(data[0x2C:], hdr.TableBlocks+127)

		_, _, err := reload(t, blockdev.NewMemory(data))
		require.ErrorIs(t, err, common.ErrCorrupt)
	})

	t.Run("DIFAT cycle", func(t *testing.T) {
		data := append([]byte(nil), mem.Bytes()...)
		binary.LittleEndian.PutUint32(data[0x2C:], hdr.TableBlocks+127)
		off := int(header.BlockOf(hdr.DIFATStart)) * 512
		// Fill the DIFAT block with distinct valid locations of data blocks
		// and point it at itself.
		for s := 1; s < 127; s++ {
			binary.LittleEndian.PutUint32(data[off+4*s:], uint32(s))
		}
		binary.LittleEndian.PutUint32(data[off+508:], hdr.DIFATStart)

		_, _, err := reload(t, blockdev.NewMemory(data))
		require.ErrorIs(t, err, common.ErrCorrupt)
	})

	t.Run("duplicate table block", func(t *testing.T) {
		data := append([]byte(nil), mem.Bytes()...)
		binary.LittleEndian.PutUint32(data[0x4C+4:], hdr.Inline[0])

		_, _, err := reload(t, blockdev.NewMemory(data))
		require.ErrorIs(t, err, common.ErrCorrupt)
	})

	t.Run("table block beyond table", func(t *testing.T) {
		small, err := header.New(header.DefaultBlockShift)
		require.NoError(t, err)
		small.TableBlocks = 1
		small.Inline[0] = 150

		// The file has 201 blocks, a single table block covers 128 of them.
		data := make([]byte, 202*512)
		copy(data, small.Encode())

		require.NotPanics(t, func() {
			_, _, err = reload(t, blockdev.NewMemory(data))
		})
		require.ErrorIs(t, err, common.ErrCorrupt)
	})

	t.Run("too many table blocks", func(t *testing.T) {
		data := append([]byte(nil), mem.Bytes()...)
		binary.LittleEndian.PutUint32(data[0x2C:], uint32(len(data)/512))

		_, _, err := reload(t, blockdev.NewMemory(data))
		require.ErrorIs(t, err, common.ErrCorrupt)
	})
}

func TestChain(t *testing.T) {
	hdr, err := header.New(header.DefaultBlockShift)
	require.NoError(t, err)
	tbl := New(hdr, zaptest.NewLogger(t))

	chain := allocateChain(t, tbl, 5)

	got, err := tbl.Chain(chain[0])
	require.NoError(t, err)
	require.Equal(t, chain, got)

	got, err = tbl.Chain(header.EndOfChain)
	require.NoError(t, err)
	require.Empty(t, got)

	t.Run("cycle", func(t *testing.T) {
		require.NoError(t, tbl.SetNextOf(chain[4], chain[1]))

		_, err := tbl.Chain(chain[0])
		require.ErrorIs(t, err, common.ErrCorrupt)

		// Nothing is freed from a broken chain.
		require.ErrorIs(t, tbl.FreeChain(chain[0]), common.ErrCorrupt)
		next, err := tbl.NextOf(chain[0])
		require.NoError(t, err)
		require.Equal(t, chain[1], next)

		require.NoError(t, tbl.SetNextOf(chain[4], header.EndOfChain))
	})

	t.Run("free link inside chain", func(t *testing.T) {
		require.NoError(t, tbl.SetNextOf(chain[2], header.Free))

		_, err := tbl.Chain(chain[0])
		require.ErrorIs(t, err, common.ErrCorrupt)
	})

	t.Run("link outside of table", func(t *testing.T) {
		require.NoError(t, tbl.SetNextOf(chain[2], header.MaxRegular))

		_, err := tbl.Chain(chain[0])
		require.ErrorIs(t, err, common.ErrCorrupt)
	})
}
