package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/nspcc-dev/cfb/pkg/cfb/directory"
)

// ElementType is the type of a storage element.
type ElementType = directory.Type

// Element types.
const (
	TypeStorage = directory.TypeStorage
	TypeStream  = directory.TypeStream
	TypeRoot    = directory.TypeRoot
)

// StatInfo describes a storage element.
type StatInfo struct {
	Name      string
	Type      ElementType
	Size      uint64
	Created   time.Time
	Modified  time.Time
	ClassID   uuid.UUID
	StateBits uint32
}

func statOf(e directory.Entry) StatInfo {
	return StatInfo{
		Name:      e.Name,
		Type:      e.Type,
		Size:      e.Size,
		Created:   fromFiletime(e.Created),
		Modified:  fromFiletime(e.Modified),
		ClassID:   classIDToUUID(e.ClassID),
		StateBits: e.StateBits,
	}
}

// FILETIME counts 100ns intervals since 1601-01-01 UTC.
const filetimeEpochDelta = 116444736000000000

func toFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.Unix()*1e7 + int64(t.Nanosecond()/100) + filetimeEpochDelta)
}

func fromFiletime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	ticks := int64(ft) - filetimeEpochDelta
	return time.Unix(ticks/1e7, ticks%1e7*100).UTC()
}

// Class ids keep their first three fields little-endian on disk, uuid.UUID
// is big-endian throughout.
func classIDToUUID(b [16]byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], b[:])
	swapClassID(u[:])
	return u
}

func uuidToClassID(u uuid.UUID) [16]byte {
	var b [16]byte
	copy(b[:], u[:])
	swapClassID(b[:])
	return b
}

func swapClassID(b []byte) {
	b[0], b[1], b[2], b[3] = b[3], b[2], b[1], b[0]
	b[4], b[5] = b[5], b[4]
	b[6], b[7] = b[7], b[6]
}
