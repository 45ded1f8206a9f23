package blockdev_test

import (
	"bytes"
	"testing"

	"github.com/nspcc-dev/cfb/pkg/cfb/blockdev"
	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const bs = 512

func block(b byte) []byte {
	return bytes.Repeat([]byte{b}, bs)
}

func newDevice(t *testing.T, mem *blockdev.Memory, cache int) *blockdev.Device {
	d, err := blockdev.New(mem, bs,
		blockdev.WithCacheSize(cache),
		blockdev.WithNoSync(true),
		blockdev.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	return d
}

func TestDevice(t *testing.T) {
	t.Run("invalid block size", func(t *testing.T) {
		_, err := blockdev.New(blockdev.NewMemory(nil), 0)
		require.ErrorIs(t, err, common.ErrInvalidArgument)
	})

	t.Run("write-back", func(t *testing.T) {
		mem := blockdev.NewMemory(nil)
		d := newDevice(t, mem, 8)

		require.NoError(t, d.WriteBlock(2, block(2)))
		require.EqualValues(t, 3*bs, d.ByteLength())
		require.EqualValues(t, 3, d.Blocks())

		// Nothing reaches the backend before Flush.
		size, err := mem.Size()
		require.NoError(t, err)
		require.Zero(t, size)

		got, err := d.ReadBlock(2)
		require.NoError(t, err)
		require.Equal(t, block(2), got)

		got, err = d.ReadBlock(0)
		require.NoError(t, err)
		require.Equal(t, make([]byte, bs), got)

		require.NoError(t, d.Flush())
		require.Equal(t, append(make([]byte, 2*bs), block(2)...), mem.Bytes())
	})

	t.Run("write-back is bounded by cache size", func(t *testing.T) {
		mem := blockdev.NewMemory(nil)
		d := newDevice(t, mem, 2)

		for i := int64(0); i < 10; i++ {
			require.NoError(t, d.WriteBlock(i, block(byte(i+1))))
		}

		// Older blocks are written before Flush.
		size, err := mem.Size()
		require.NoError(t, err)
		require.GreaterOrEqual(t, size, int64(7*bs))
		require.Equal(t, block(1), mem.Bytes()[:bs])

		for i := int64(0); i < 10; i++ {
			got, err := d.ReadBlock(i)
			require.NoError(t, err)
			require.Equal(t, block(byte(i+1)), got, i)
		}

		require.NoError(t, d.Flush())
		size, err = mem.Size()
		require.NoError(t, err)
		require.EqualValues(t, 10*bs, size)
		require.Equal(t, block(10), mem.Bytes()[9*bs:])
	})

	t.Run("write-through", func(t *testing.T) {
		mem := blockdev.NewMemory(nil)
		d := newDevice(t, mem, 0)

		require.NoError(t, d.WriteBlock(1, block(1)))
		require.Equal(t, append(make([]byte, bs), block(1)...), mem.Bytes())

		p, err := d.Acquire(0)
		require.NoError(t, err)
		copy(p.Data(), block(7))
		p.MarkDirty()
		require.Equal(t, make([]byte, bs), mem.Bytes()[:bs])

		require.NoError(t, p.Release())
		require.Equal(t, block(7), mem.Bytes()[:bs])
	})

	t.Run("pages", func(t *testing.T) {
		mem := blockdev.NewMemory(append(block(1), block(2)...))
		d := newDevice(t, mem, 1)

		p1, err := d.Acquire(1)
		require.NoError(t, err)
		p2, err := d.Acquire(1)
		require.NoError(t, err)
		require.Equal(t, int64(1), p1.Index())

		// Both handles share one buffer.
		p1.Data()[0] = 0xFF
		require.EqualValues(t, 0xFF, p2.Data()[0])
		p1.MarkDirty()

		require.NoError(t, p1.Release())
		require.NoError(t, p2.Release())

		// Dirty blocks survive cache eviction.
		for i := 0; i < 3; i++ {
			_, err := d.ReadBlock(0)
			require.NoError(t, err)
		}

		got, err := d.ReadBlock(1)
		require.NoError(t, err)
		require.EqualValues(t, 0xFF, got[0])

		require.NoError(t, d.Flush())
		require.EqualValues(t, 0xFF, mem.Bytes()[bs])
	})

	t.Run("out of range", func(t *testing.T) {
		d := newDevice(t, blockdev.NewMemory(block(1)), 4)

		_, err := d.ReadBlock(1)
		require.ErrorIs(t, err, common.ErrOutOfRange)
		_, err = d.ReadBlock(-1)
		require.ErrorIs(t, err, common.ErrInvalidArgument)

		require.ErrorIs(t, d.WriteBlock(0, []byte{1}), common.ErrInvalidArgument)
	})

	t.Run("partial trailing block", func(t *testing.T) {
		d := newDevice(t, blockdev.NewMemory([]byte{1, 2, 3}), 4)

		got, err := d.ReadBlock(0)
		require.NoError(t, err)
		require.Equal(t, append([]byte{1, 2, 3}, make([]byte, bs-3)...), got)
	})

	t.Run("resize", func(t *testing.T) {
		mem := blockdev.NewMemory(nil)
		d := newDevice(t, mem, 4)

		for i := int64(0); i < 4; i++ {
			require.NoError(t, d.WriteBlock(i, block(byte(i+1))))
		}
		require.NoError(t, d.Flush())

		require.NoError(t, d.Resize(2))
		require.EqualValues(t, 2*bs, d.ByteLength())
		_, err := d.ReadBlock(3)
		require.ErrorIs(t, err, common.ErrOutOfRange)

		require.NoError(t, d.Resize(3))
		got, err := d.ReadBlock(2)
		require.NoError(t, err)
		require.Equal(t, make([]byte, bs), got)

		require.ErrorIs(t, d.Resize(-1), common.ErrInvalidArgument)
		require.NoError(t, d.Close())
	})
}
