package directory

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/nspcc-dev/cfb/pkg/cfb/common"
)

// EntrySize is the size of an on-disk directory entry.
const EntrySize = 128

// NoEntry marks an absent tree link.
const NoEntry uint32 = 0xFFFFFFFF

// MaxNameLength is the maximum name length in UTF-16 code units, the
// terminating NUL excluded.
const MaxNameLength = 31

// Type is a directory entry type.
type Type uint8

const (
	// TypeEmpty marks an unused entry.
	TypeEmpty Type = 0
	// TypeStorage is a nested storage.
	TypeStorage Type = 1
	// TypeStream is a byte stream.
	TypeStream Type = 2
	// TypeRoot is the root storage; its chain is the mini stream.
	TypeRoot Type = 5
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeEmpty:
		return "EMPTY"
	case TypeStorage:
		return "STORAGE"
	case TypeStream:
		return "STREAM"
	case TypeRoot:
		return "ROOT"
	default:
		return "UNDEFINED"
	}
}

// IsStorage reports whether entries of type t may have children.
func (t Type) IsStorage() bool {
	return t == TypeStorage || t == TypeRoot
}

const colorBlack = 1

const (
	offName      = 0
	offNameLen   = 64
	offType      = 66
	offColor     = 67
	offLeft      = 68
	offRight     = 72
	offChild     = 76
	offClassID   = 80
	offStateBits = 96
	offCreated   = 100
	offModified  = 108
	offStart     = 116
	offSize      = 120
)

// Entry is a decoded directory entry. Timestamps are raw FILETIME values.
type Entry struct {
	Name      string
	Type      Type
	Left      uint32
	Right     uint32
	Child     uint32
	ClassID   [16]byte
	StateBits uint32
	Created   uint64
	Modified  uint64
	Start     uint32
	Size      uint64
}

func emptyEntry() Entry {
	return Entry{Left: NoEntry, Right: NoEntry, Child: NoEntry}
}

func decodeEntry(b []byte, blockShift uint16) (Entry, error) {
	le := binary.LittleEndian

	e := Entry{
		Type:      Type(b[offType]),
		Left:      le.Uint32(b[offLeft:]),
		Right:     le.Uint32(b[offRight:]),
		Child:     le.Uint32(b[offChild:]),
		StateBits: le.Uint32(b[offStateBits:]),
		Created:   le.Uint64(b[offCreated:]),
		Modified:  le.Uint64(b[offModified:]),
		Start:     le.Uint32(b[offStart:]),
		Size:      le.Uint64(b[offSize:]),
	}
	copy(e.ClassID[:], b[offClassID:])

	switch e.Type {
	case TypeEmpty:
		return emptyEntry(), nil
	case TypeStorage, TypeStream, TypeRoot:
	default:
		return Entry{}, common.Corruptf("entry type %d", e.Type)
	}

	// Only version 4 files keep the upper half of the size.
	if blockShift == 9 {
		e.Size &= 0xFFFFFFFF
	}

	n := int(le.Uint16(b[offNameLen:]))
	if n < 2 || n > 2*(MaxNameLength+1) || n%2 != 0 {
		return Entry{}, common.Corruptf("entry name length %d", n)
	}

	units := make([]uint16, n/2-1)
	for i := range units {
		units[i] = le.Uint16(b[offName+2*i:])
	}
	e.Name = string(utf16.Decode(units))

	return e, nil
}

func (e *Entry) encode(b []byte) {
	clear(b[:EntrySize])

	le := binary.LittleEndian
	if e.Type != TypeEmpty {
		units := utf16.Encode([]rune(e.Name))
		for i, u := range units {
			le.PutUint16(b[offName+2*i:], u)
		}
		le.PutUint16(b[offNameLen:], uint16(2*(len(units)+1)))
		b[offColor] = colorBlack
	}

	b[offType] = byte(e.Type)
	le.PutUint32(b[offLeft:], e.Left)
	le.PutUint32(b[offRight:], e.Right)
	le.PutUint32(b[offChild:], e.Child)
	copy(b[offClassID:], e.ClassID[:])
	le.PutUint32(b[offStateBits:], e.StateBits)
	le.PutUint64(b[offCreated:], e.Created)
	le.PutUint64(b[offModified:], e.Modified)
	le.PutUint32(b[offStart:], e.Start)
	le.PutUint64(b[offSize:], e.Size)
}
