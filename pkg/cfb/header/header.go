// Package header implements the fixed 512-byte compound file header.
package header

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/nspcc-dev/cfb/pkg/cfb/common"
)

// Size is the encoded header length. The header always occupies the first
// block of the file; for blocks larger than Size the rest is zero.
const Size = 512

// InlineTableBlocks is the number of allocation table block locations kept
// in the header itself.
const InlineTableBlocks = 109

// Block index sentinels.
const (
	// MaxRegular is the largest index of a real block.
	MaxRegular uint32 = 0xFFFFFFFA
	// DIFATBlock marks blocks holding the DIFAT chain.
	DIFATBlock uint32 = 0xFFFFFFFC
	// TableBlock marks blocks holding the allocation table itself.
	TableBlock uint32 = 0xFFFFFFFD
	// EndOfChain terminates a chain; it is also the start of an empty one.
	EndOfChain uint32 = 0xFFFFFFFE
	// Free marks unallocated blocks.
	Free uint32 = 0xFFFFFFFF
)

// Defaults used when creating a container.
const (
	DefaultBlockShift     = 9
	DefaultMiniBlockShift = 6
	DefaultMiniCutoff     = 4096

	MinBlockShift = 9
	MaxBlockShift = 16
)

// Signature is the magic prefix of every compound file.
var Signature = [8]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

const (
	offSignature      = 0
	offClassID        = 8
	offMinorVersion   = 24
	offMajorVersion   = 26
	offByteOrder      = 28
	offBlockShift     = 30
	offMiniBlockShift = 32
	offDirBlocks      = 40
	offTableBlocks    = 44
	offDirStart       = 48
	offTxSignature    = 52
	offMiniCutoff     = 56
	offMiniTableStart = 60
	offMiniTableCount = 64
	offDIFATStart     = 68
	offDIFATCount     = 72
	offInline         = 76

	minorVersion = 0x003E
	byteOrder    = 0xFFFE
)

// Header is the decoded file header.
type Header struct {
	MajorVersion   uint16
	BlockShift     uint16
	MiniBlockShift uint16

	// DirBlocks is the directory block count; written for 4096-byte blocks only.
	DirBlocks uint32
	// TableBlocks is the allocation table block count.
	TableBlocks uint32
	// DirStart is the first block of the directory chain.
	DirStart uint32
	// MiniCutoff is the stream size from which streams live in big blocks.
	MiniCutoff uint32
	// MiniTableStart is the first block of the mini allocation table chain.
	MiniTableStart uint32
	// MiniTableBlocks is the mini allocation table block count.
	MiniTableBlocks uint32
	// DIFATStart is the first block of the DIFAT chain.
	DIFATStart uint32
	// DIFATBlocks is the DIFAT block count.
	DIFATBlocks uint32
	// Inline holds the first InlineTableBlocks allocation table locations.
	Inline [InlineTableBlocks]uint32
}

// New returns header of an empty container with 1<<blockShift byte blocks.
func New(blockShift uint16) (*Header, error) {
	if blockShift < MinBlockShift || blockShift > MaxBlockShift {
		return nil, fmt.Errorf("%w: block size exponent %d out of [%d, %d]",
			common.ErrInvalidArgument, blockShift, MinBlockShift, MaxBlockShift)
	}

	h := &Header{
		MajorVersion:   3,
		BlockShift:     blockShift,
		MiniBlockShift: DefaultMiniBlockShift,
		DirStart:       EndOfChain,
		MiniCutoff:     DefaultMiniCutoff,
		MiniTableStart: EndOfChain,
		DIFATStart:     EndOfChain,
	}
	if blockShift >= 12 {
		h.MajorVersion = 4
	}
	for i := range h.Inline {
		h.Inline[i] = Free
	}

	return h, nil
}

// BlockSize returns the big block size in bytes.
func (h *Header) BlockSize() int {
	return 1 << h.BlockShift
}

// MiniBlockSize returns the mini block size in bytes.
func (h *Header) MiniBlockSize() int {
	return 1 << h.MiniBlockShift
}

// Decode parses and validates the header from the first Size bytes of b.
func Decode(b []byte) (*Header, error) {
	if len(b) < Size {
		return nil, common.Corruptf("header is %d bytes long", len(b))
	}
	if !bytes.Equal(b[offSignature:offSignature+len(Signature)], Signature[:]) {
		return nil, common.Corruptf("bad signature %x", b[offSignature:offSignature+len(Signature)])
	}

	le := binary.LittleEndian
	h := &Header{
		MajorVersion:    le.Uint16(b[offMajorVersion:]),
		BlockShift:      le.Uint16(b[offBlockShift:]),
		MiniBlockShift:  le.Uint16(b[offMiniBlockShift:]),
		DirBlocks:       le.Uint32(b[offDirBlocks:]),
		TableBlocks:     le.Uint32(b[offTableBlocks:]),
		DirStart:        le.Uint32(b[offDirStart:]),
		MiniCutoff:      le.Uint32(b[offMiniCutoff:]),
		MiniTableStart:  le.Uint32(b[offMiniTableStart:]),
		MiniTableBlocks: le.Uint32(b[offMiniTableCount:]),
		DIFATStart:      le.Uint32(b[offDIFATStart:]),
		DIFATBlocks:     le.Uint32(b[offDIFATCount:]),
	}
	for i := range h.Inline {
		h.Inline[i] = le.Uint32(b[offInline+4*i:])
	}

	if bo := le.Uint16(b[offByteOrder:]); bo != byteOrder {
		return nil, common.Corruptf("bad byte order mark %#04x", bo)
	}
	if h.BlockShift < MinBlockShift || h.BlockShift > MaxBlockShift {
		return nil, common.Corruptf("block size exponent %d", h.BlockShift)
	}
	if h.MiniBlockShift < 2 || h.MiniBlockShift >= h.BlockShift {
		return nil, common.Corruptf("mini block size exponent %d with block size exponent %d",
			h.MiniBlockShift, h.BlockShift)
	}
	if h.MiniCutoff == 0 {
		h.MiniCutoff = DefaultMiniCutoff
	}

	return h, nil
}

// Encode returns the binary header padded with zeros to blockSize bytes.
func (h *Header) Encode() []byte {
	b := make([]byte, h.BlockSize())
	le := binary.LittleEndian

	copy(b[offSignature:], Signature[:])
	le.PutUint16(b[offMinorVersion:], minorVersion)
	le.PutUint16(b[offMajorVersion:], h.MajorVersion)
	le.PutUint16(b[offByteOrder:], byteOrder)
	le.PutUint16(b[offBlockShift:], h.BlockShift)
	le.PutUint16(b[offMiniBlockShift:], h.MiniBlockShift)
	if h.MajorVersion >= 4 {
		le.PutUint32(b[offDirBlocks:], h.DirBlocks)
	}
	le.PutUint32(b[offTableBlocks:], h.TableBlocks)
	le.PutUint32(b[offDirStart:], h.DirStart)
	le.PutUint32(b[offMiniCutoff:], h.MiniCutoff)
	le.PutUint32(b[offMiniTableStart:], h.MiniTableStart)
	le.PutUint32(b[offMiniTableCount:], h.MiniTableBlocks)
	le.PutUint32(b[offDIFATStart:], h.DIFATStart)
	le.PutUint32(b[offDIFATCount:], h.DIFATBlocks)
	for i := range h.Inline {
		le.PutUint32(b[offInline+4*i:], h.Inline[i])
	}

	return b
}

// BlockOf returns the device block holding container block s: the header is
// block -1 and takes device block 0.
func BlockOf(s uint32) int64 {
	return int64(s) + 1
}
