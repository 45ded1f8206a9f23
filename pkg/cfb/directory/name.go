package directory

import (
	"cmp"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/nspcc-dev/cfb/pkg/cfb/common"
)

// Comparer orders names within one sibling tree.
type Comparer func(a, b string) int

// CompareNames is the ordering compound files are written with: shorter
// names go first, names of equal length compare by upper-cased UTF-16 code
// units.
func CompareNames(a, b string) int {
	if la, lb := nameLen(a), nameLen(b); la != lb {
		return cmp.Compare(la, lb)
	}

	ua, ub := utf16.Encode([]rune(a)), utf16.Encode([]rune(b))
	for i := range ua {
		if ca, cb := upper(ua[i]), upper(ub[i]); ca != cb {
			return cmp.Compare(ca, cb)
		}
	}
	return 0
}

func nameLen(s string) int {
	var n int
	for _, r := range s {
		n += len(utf16.AppendRune(nil, r))
	}
	return n
}

func upper(u uint16) uint16 {
	if utf16.IsSurrogate(rune(u)) {
		return u
	}
	if r := unicode.ToUpper(rune(u)); r <= 0xFFFF {
		return uint16(r)
	}
	return u
}

// CheckName returns ErrInvalidArgument if s can not name an element.
func CheckName(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: empty name", common.ErrInvalidArgument)
	case nameLen(s) > MaxNameLength:
		return fmt.Errorf("%w: name %q is longer than %d characters", common.ErrInvalidArgument, s, MaxNameLength)
	case strings.ContainsAny(s, `/\:!`):
		return fmt.Errorf("%w: name %q contains a reserved character", common.ErrInvalidArgument, s)
	case strings.ContainsRune(s, 0):
		return fmt.Errorf("%w: name %q contains NUL", common.ErrInvalidArgument, s)
	}
	return nil
}
