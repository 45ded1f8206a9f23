package directory

import (
	"fmt"
	"strings"
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
	hdr *header.Header
	tbl *fat.Table
	io  chain.BlockIO
}

func newEnv(t *testing.T) *env {
	dev, err := blockdev.New(blockdev.NewMemory(nil), 512)
	require.NoError(t, err)

	hdr, err := header.New(header.DefaultBlockShift)
	require.NoError(t, err)

	return &env{
		hdr: hdr,
		tbl: fat.New(hdr, zaptest.NewLogger(t)),
		io:  chain.NewDeviceIO(dev),
	}
}

func newTestDirectory(t *testing.T, opts ...Option) (*Directory, *env) {
	e := newEnv(t)
	d, err := New(e.hdr, e.tbl, e.io, append(opts, WithLogger(zaptest.NewLogger(t)))...)
	require.NoError(t, err)
	return d, e
}

func names(t *testing.T, d *Directory, parent uint32) []string {
	idxs, err := d.Enumerate(parent)
	require.NoError(t, err)

	res := make([]string, 0, len(idxs))
	for _, i := range idxs {
		res = append(res, d.entries[i].Name)
	}
	return res
}

func create(t *testing.T, d *Directory, parent uint32, typ Type, nn ...string) []uint32 {
	res := make([]uint32, 0, len(nn))
	for _, n := range nn {
		idx, err := d.CreateEntry(parent, n, typ)
		require.NoError(t, err, n)
		res = append(res, idx)
	}
	return res
}

func TestCompareNames(t *testing.T) {
	for _, tc := range []struct {
		a, b string
		res  int
	}{
		{"a", "a", 0},
		{"a", "A", 0},
		{"b", "a", 1},
		{"z", "aa", -1},
		{"Docs", "docs", 0},
		{"ab", "AC", -1},
		{"é", "É", 0},
	} {
		require.Equal(t, tc.res, CompareNames(tc.a, tc.b), "%q vs %q", tc.a, tc.b)
	}
}

func TestCheckName(t *testing.T) {
	require.NoError(t, CheckName("a.txt"))
	require.NoError(t, CheckName(strings.Repeat("x", MaxNameLength)))

	for _, n := range []string{"", strings.Repeat("x", MaxNameLength+1), "a/b", `a\b`, "a:b", "!a", "a\x00"} {
		require.ErrorIs(t, CheckName(n), common.ErrInvalidArgument, "%q", n)
	}
}

func TestCreate(t *testing.T) {
	d, _ := newTestDirectory(t)

	create(t, d, RootIndex, TypeStream, "b", "a", "ccc", "dd", "B1")
	require.Equal(t, []string{"a", "b", "B1", "dd", "ccc"}, names(t, d, RootIndex))

	_, err := d.CreateEntry(RootIndex, "A", TypeStream)
	require.ErrorIs(t, err, common.ErrAlreadyExists)

	_, err = d.CreateEntry(RootIndex, "x", TypeRoot)
	require.ErrorIs(t, err, common.ErrInvalidArgument)

	_, err = d.CreateEntry(RootIndex, "a/b", TypeStream)
	require.ErrorIs(t, err, common.ErrInvalidArgument)

	idx, err := d.FindChild(RootIndex, "CCC")
	require.NoError(t, err)
	require.Equal(t, "ccc", d.entries[idx].Name)
	require.Equal(t, header.EndOfChain, d.entries[idx].Start)

	_, err = d.FindChild(RootIndex, "e")
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = d.CreateEntry(idx, "x", TypeStream)
	require.ErrorIs(t, err, common.ErrInvalidArgument)

	t.Run("nested", func(t *testing.T) {
		st := create(t, d, RootIndex, TypeStorage, "Docs")[0]
		create(t, d, st, TypeStream, "a")

		// Same name in another storage.
		inner, err := d.FindChild(st, "a")
		require.NoError(t, err)
		outer, err := d.FindChild(RootIndex, "a")
		require.NoError(t, err)
		require.NotEqual(t, inner, outer)
	})

	t.Run("directory grows", func(t *testing.T) {
		before := d.Len()
		for i := 0; i < 10; i++ {
			create(t, d, RootIndex, TypeStream, fmt.Sprintf("s%d", i))
		}
		require.Greater(t, d.Len(), before)

		blocks, err := d.Blocks()
		require.NoError(t, err)
		require.Len(t, blocks, int(d.Len())/4)
	})
}

func TestDelete(t *testing.T) {
	d, _ := newTestDirectory(t)

	all := []string{"m", "f", "t", "c", "h", "p", "w", "g", "k"}
	idxs := create(t, d, RootIndex, TypeStream, all...)

	t.Run("both subtrees", func(t *testing.T) {
		require.NoError(t, d.Delete(RootIndex, idxs[1])) // "f"
		require.Equal(t, []string{"c", "g", "h", "k", "m", "p", "t", "w"}, names(t, d, RootIndex))
		require.Equal(t, TypeEmpty, d.entries[idxs[1]].Type)

		for _, n := range []string{"c", "g", "h", "k", "m", "p", "t", "w"} {
			_, err := d.FindChild(RootIndex, n)
			require.NoError(t, err, n)
		}
	})

	t.Run("root of the tree", func(t *testing.T) {
		require.NoError(t, d.Delete(RootIndex, idxs[0])) // "m"
		require.Equal(t, []string{"c", "g", "h", "k", "p", "t", "w"}, names(t, d, RootIndex))
	})

	t.Run("leaf", func(t *testing.T) {
		require.NoError(t, d.Delete(RootIndex, idxs[6])) // "w"
		require.Equal(t, []string{"c", "g", "h", "k", "p", "t"}, names(t, d, RootIndex))
	})

	t.Run("slot is reused", func(t *testing.T) {
		idx, err := d.CreateEntry(RootIndex, "new", TypeStream)
		require.NoError(t, err)
		require.Equal(t, idxs[0], idx)
	})

	t.Run("not empty", func(t *testing.T) {
		st := create(t, d, RootIndex, TypeStorage, "st")[0]
		s := create(t, d, st, TypeStream, "x")[0]

		require.ErrorIs(t, d.Delete(RootIndex, st), common.ErrNotEmpty)
		require.NoError(t, d.Delete(st, s))
		require.NoError(t, d.Delete(RootIndex, st))
	})

	t.Run("not a child", func(t *testing.T) {
		st := create(t, d, RootIndex, TypeStorage, "other")[0]
		idx, err := d.FindChild(RootIndex, "c")
		require.NoError(t, err)

		require.ErrorIs(t, d.Delete(st, idx), common.ErrNotFound)
	})
}

func TestMove(t *testing.T) {
	d, _ := newTestDirectory(t)

	idxs := create(t, d, RootIndex, TypeStream, "b", "a", "c")
	st := create(t, d, RootIndex, TypeStorage, "st")[0]

	require.NoError(t, d.Rename(RootIndex, idxs[0], "z"))
	require.Equal(t, []string{"a", "c", "z", "st"}, names(t, d, RootIndex))

	require.NoError(t, d.Rename(RootIndex, idxs[1], "A"))
	require.Equal(t, []string{"A", "c", "z", "st"}, names(t, d, RootIndex))

	require.ErrorIs(t, d.Rename(RootIndex, idxs[1], "C"), common.ErrAlreadyExists)
	require.ErrorIs(t, d.Rename(RootIndex, idxs[1], ""), common.ErrInvalidArgument)

	require.NoError(t, d.Move(RootIndex, idxs[2], st, "moved"))
	require.Equal(t, []string{"A", "z", "st"}, names(t, d, RootIndex))
	require.Equal(t, []string{"moved"}, names(t, d, st))

	in, err := d.Descends(idxs[2], st)
	require.NoError(t, err)
	require.True(t, in)

	in, err = d.Descends(idxs[0], st)
	require.NoError(t, err)
	require.False(t, in)

	sub, err := d.Descendants(RootIndex)
	require.NoError(t, err)
	require.ElementsMatch(t, []Child{
		{RootIndex, idxs[0]},
		{RootIndex, idxs[1]},
		{RootIndex, st},
		{st, idxs[2]},
	}, sub)
}

func TestLoad(t *testing.T) {
	d, e := newTestDirectory(t)

	st := create(t, d, RootIndex, TypeStorage, "Docs")[0]
	s := create(t, d, st, TypeStream, "a.txt")[0]
	require.NoError(t, d.Update(s, func(x *Entry) {
		x.Size = 10
		x.Start = 3
		x.Created = 1
		x.Modified = 2
		x.StateBits = 0x10
		x.ClassID[0] = 0xAA
	}))
	create(t, d, RootIndex, TypeStream, "жук")

	require.NoError(t, d.Flush())

	loaded, err := Load(e.hdr, e.tbl, e.io)
	require.NoError(t, err)
	require.Equal(t, d.entries, loaded.entries)
	require.Equal(t, names(t, d, RootIndex), names(t, loaded, RootIndex))

	t.Run("root type", func(t *testing.T) {
		require.NoError(t, d.Update(RootIndex, func(x *Entry) { x.Type = TypeStorage }))
		require.NoError(t, d.Flush())

		_, err := Load(e.hdr, e.tbl, e.io)
		require.ErrorIs(t, err, common.ErrCorrupt)
	})
}

func TestComparer(t *testing.T) {
	d, _ := newTestDirectory(t, WithComparer(strings.Compare))

	create(t, d, RootIndex, TypeStream, "a", "B", "ccc")
	require.Equal(t, []string{"B", "a", "ccc"}, names(t, d, RootIndex))

	// Exact comparison tells case apart.
	_, err := d.CreateEntry(RootIndex, "A", TypeStream)
	require.NoError(t, err)
}

// degenerate links n streams into one right-leaning sibling list.
func degenerate(d *Directory, n int) {
	d.entries = d.entries[:1]
	for i := 0; i < n; i++ {
		e := emptyEntry()
		e.Name = fmt.Sprintf("%08d", i)
		e.Type = TypeStream
		e.Start = header.EndOfChain
		if i+1 < n {
			e.Right = uint32(i + 2)
		}
		d.entries = append(d.entries, e)
	}
	d.entries[RootIndex].Child = 1
}

func TestDegenerateTree(t *testing.T) {
	d, _ := newTestDirectory(t)

	const n = 100000
	degenerate(d, n)

	idxs, err := d.Enumerate(RootIndex)
	require.NoError(t, err)
	require.Len(t, idxs, n)

	idx, err := d.FindChild(RootIndex, fmt.Sprintf("%08d", n-1))
	require.NoError(t, err)
	require.EqualValues(t, n, idx)

	var visited int
	require.NoError(t, d.Walk(func(_, _ uint32, _ Entry) error {
		visited++
		return nil
	}))
	require.Equal(t, n+1, visited)
}

func TestCorruptTree(t *testing.T) {
	t.Run("cycle", func(t *testing.T) {
		d, _ := newTestDirectory(t)
		degenerate(d, 10)
		d.entries[10].Right = 3

		_, err := d.Enumerate(RootIndex)
		require.ErrorIs(t, err, common.ErrCorrupt)

		_, err = d.FindChild(RootIndex, "99999999")
		require.ErrorIs(t, err, common.ErrCorrupt)

		require.ErrorIs(t, d.Walk(func(_, _ uint32, _ Entry) error { return nil }), common.ErrCorrupt)

		_, err = d.CreateEntry(RootIndex, "99999999", TypeStream)
		require.ErrorIs(t, err, common.ErrCorrupt)
	})

	t.Run("link to free entry", func(t *testing.T) {
		d, _ := newTestDirectory(t)
		degenerate(d, 10)
		d.entries[5] = emptyEntry()

		_, err := d.Enumerate(RootIndex)
		require.ErrorIs(t, err, common.ErrCorrupt)
	})

	t.Run("link beyond directory", func(t *testing.T) {
		d, _ := newTestDirectory(t)
		degenerate(d, 10)
		d.entries[10].Left = 1000

		_, err := d.Enumerate(RootIndex)
		require.ErrorIs(t, err, common.ErrCorrupt)
	})

	t.Run("link to root", func(t *testing.T) {
		d, _ := newTestDirectory(t)
		degenerate(d, 10)
		d.entries[10].Left = RootIndex

		_, err := d.Enumerate(RootIndex)
		require.ErrorIs(t, err, common.ErrCorrupt)
	})

	t.Run("storage linked into itself", func(t *testing.T) {
		d, _ := newTestDirectory(t)
		st := create(t, d, RootIndex, TypeStorage, "st")[0]
		inner := create(t, d, st, TypeStorage, "in")[0]
		d.entries[inner].Child = st

		require.ErrorIs(t, d.Walk(func(_, _ uint32, _ Entry) error { return nil }), common.ErrCorrupt)
	})
}
