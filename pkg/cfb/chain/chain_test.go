package chain_test

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/nspcc-dev/cfb/pkg/cfb/blockdev"
	"github.com/nspcc-dev/cfb/pkg/cfb/chain"
	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/nspcc-dev/cfb/pkg/cfb/fat"
	"github.com/nspcc-dev/cfb/pkg/cfb/header"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type env struct {
	tbl  *fat.Table
	io   chain.BlockIO
	head uint32
}

func newEnv(t *testing.T) *env {
	dev, err := blockdev.New(blockdev.NewMemory(nil), 512)
	require.NoError(t, err)

	hdr, err := header.New(header.DefaultBlockShift)
	require.NoError(t, err)

	return &env{
		tbl:  fat.New(hdr, zaptest.NewLogger(t)),
		io:   chain.NewDeviceIO(dev),
		head: header.EndOfChain,
	}
}

func (e *env) chain() *chain.Chain {
	return chain.New(e.tbl, e.io, chain.NewRef(&e.head))
}

type failingIO struct {
	chain.BlockIO
	left int
}

var errInjected = errors.New("injected")

func (f *failingIO) WriteBlock(i uint32, data []byte) error {
	if f.left == 0 {
		return errInjected
	}
	f.left--
	return f.BlockIO.WriteBlock(i, data)
}

func TestReadWrite(t *testing.T) {
	e := newEnv(t)
	c := e.chain()

	var (
		rnd   = rand.New(rand.NewSource(1))
		model []byte
	)

	for i := 0; i < 100; i++ {
		off := rnd.Intn(20000)
		data := make([]byte, rnd.Intn(3000)+1)
		rnd.Read(data)

		n, err := c.WriteAt(data, int64(off))
		require.NoError(t, err)
		require.Equal(t, len(data), n)

		if end := off + len(data); end > len(model) {
			model = append(model, make([]byte, end-len(model))...)
		}
		copy(model[off:], data)

		got := make([]byte, len(data))
		_, err = c.ReadAt(got, int64(off))
		require.NoError(t, err)
		require.Equal(t, data, got)
	}

	got := make([]byte, len(model))
	_, err := c.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, model, got)

	blocks, err := c.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, (len(model)+511)/512)
}

func TestReadBeyondChain(t *testing.T) {
	e := newEnv(t)
	c := e.chain()

	require.NoError(t, c.Resize(2))

	_, err := c.ReadAt(make([]byte, 10), 1020)
	require.ErrorIs(t, err, common.ErrCorrupt)

	_, err = c.ReadAt(make([]byte, 10), -1)
	require.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestResize(t *testing.T) {
	e := newEnv(t)
	c := e.chain()

	data := make([]byte, 5*512)
	rand.Read(data)
	_, err := c.WriteAt(data, 0)
	require.NoError(t, err)

	free, _ := e.tbl.Stat()

	require.NoError(t, c.Resize(2))
	blocks, err := c.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	afterShrink, _ := e.tbl.Stat()
	require.Equal(t, free+3, afterShrink)

	t.Run("same length", func(t *testing.T) {
		require.NoError(t, c.Resize(2))
		again, err := c.Blocks()
		require.NoError(t, err)
		require.Equal(t, blocks, again)
	})

	t.Run("grown blocks are zeroed", func(t *testing.T) {
		require.NoError(t, c.Resize(4))

		got := make([]byte, 4*512)
		_, err := c.ReadAt(got, 0)
		require.NoError(t, err)
		require.Equal(t, data[:1024], got[:1024])
		require.Equal(t, make([]byte, 1024), got[1024:])
	})

	t.Run("to zero", func(t *testing.T) {
		require.NoError(t, c.Resize(0))
		require.Equal(t, header.EndOfChain, e.head)

		blocks, err := c.Blocks()
		require.NoError(t, err)
		require.Empty(t, blocks)
	})
}

func TestGrowRollback(t *testing.T) {
	e := newEnv(t)
	f := &failingIO{BlockIO: e.io, left: 3}
	c := chain.New(e.tbl, f, chain.NewRef(&e.head))

	require.NoError(t, c.Resize(2))
	before, err := c.Blocks()
	require.NoError(t, err)
	free, used := e.tbl.Stat()

	err = c.Resize(10)
	require.ErrorIs(t, err, errInjected)

	after, err := c.Blocks()
	require.NoError(t, err)
	require.Equal(t, before, after)

	gotFree, gotUsed := e.tbl.Stat()
	require.Equal(t, free, gotFree)
	require.Equal(t, used, gotUsed)
}

func TestFollowCorrupt(t *testing.T) {
	e := newEnv(t)
	c := e.chain()
	require.NoError(t, c.Resize(3))

	blocks, err := c.Blocks()
	require.NoError(t, err)
	require.NoError(t, e.tbl.SetNextOf(blocks[2], blocks[0]))

	_, err = chain.Follow(e.tbl, e.head)
	require.ErrorIs(t, err, common.ErrCorrupt)

	_, err = c.WriteAt([]byte{1}, 0)
	require.ErrorIs(t, err, common.ErrCorrupt)

	require.ErrorIs(t, c.Resize(0), common.ErrCorrupt)
}
