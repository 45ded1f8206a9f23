package header_test

import (
	"encoding/binary"
	"testing"

	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/nspcc-dev/cfb/pkg/cfb/header"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, shift := range []uint16{8, 17} {
		_, err := header.New(shift)
		require.ErrorIs(t, err, common.ErrInvalidArgument)
	}

	h, err := header.New(12)
	require.NoError(t, err)
	require.EqualValues(t, 4, h.MajorVersion)
	require.Equal(t, 4096, h.BlockSize())
	require.Equal(t, 64, h.MiniBlockSize())
}

func TestEncodeDecode(t *testing.T) {
	h, err := header.New(header.DefaultBlockShift)
	require.NoError(t, err)

	h.TableBlocks = 110
	h.DirStart = 1
	h.MiniTableStart = 7
	h.MiniTableBlocks = 2
	h.DIFATStart = 200
	h.DIFATBlocks = 1
	h.Inline[0] = 0
	h.Inline[108] = 13952

	b := h.Encode()
	require.Len(t, b, 512)
	require.Equal(t, header.Signature[:], b[:8])
	require.EqualValues(t, 9, binary.LittleEndian.Uint16(b[30:]))
	require.EqualValues(t, 6, binary.LittleEndian.Uint16(b[32:]))
	require.EqualValues(t, 110, binary.LittleEndian.Uint32(b[44:]))
	require.EqualValues(t, 1, binary.LittleEndian.Uint32(b[48:]))
	require.EqualValues(t, 7, binary.LittleEndian.Uint32(b[60:]))
	require.EqualValues(t, 200, binary.LittleEndian.Uint32(b[68:]))
	require.EqualValues(t, 1, binary.LittleEndian.Uint32(b[72:]))
	require.EqualValues(t, 0, binary.LittleEndian.Uint32(b[76:]))
	require.EqualValues(t, header.Free, binary.LittleEndian.Uint32(b[80:]))
	require.EqualValues(t, 13952, binary.LittleEndian.Uint32(b[508:]))

	got, err := header.Decode(b)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeMalformed(t *testing.T) {
	valid := func() []byte {
		h, err := header.New(header.DefaultBlockShift)
		require.NoError(t, err)
		return h.Encode()
	}

	t.Run("short", func(t *testing.T) {
		_, err := header.Decode(valid()[:100])
		require.ErrorIs(t, err, common.ErrCorrupt)
	})
	t.Run("magic", func(t *testing.T) {
		b := valid()
		b[0] = 0
		_, err := header.Decode(b)
		require.ErrorIs(t, err, common.ErrCorrupt)
	})
	t.Run("byte order", func(t *testing.T) {
		b := valid()
		binary.LittleEndian.PutUint16(b[28:], 0xFEFF)
		_, err := header.Decode(b)
		require.ErrorIs(t, err, common.ErrCorrupt)
	})
	t.Run("block shift", func(t *testing.T) {
		b := valid()
		binary.LittleEndian.PutUint16(b[30:], 40)
		_, err := header.Decode(b)
		require.ErrorIs(t, err, common.ErrCorrupt)
	})
	t.Run("mini block shift", func(t *testing.T) {
		b := valid()
		binary.LittleEndian.PutUint16(b[32:], 9)
		_, err := header.Decode(b)
		require.ErrorIs(t, err, common.ErrCorrupt)
	})
	t.Run("zero cutoff", func(t *testing.T) {
		b := valid()
		binary.LittleEndian.PutUint32(b[56:], 0)
		h, err := header.Decode(b)
		require.NoError(t, err)
		require.EqualValues(t, header.DefaultMiniCutoff, h.MiniCutoff)
	})
}
