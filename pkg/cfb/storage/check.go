package storage

import (
	"github.com/nspcc-dev/cfb/pkg/cfb/chain"
	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/nspcc-dev/cfb/pkg/cfb/directory"
	"github.com/nspcc-dev/cfb/pkg/cfb/header"
	"go.uber.org/zap"
)

// Usage counts links of one allocation table.
type Usage struct {
	// Blocks is the number of addressable blocks.
	Blocks int
	// Used blocks belong to exactly one structure or stream.
	Used int
	Free int
	// Orphans are allocated blocks nothing refers to. They waste space
	// but do not break the file.
	Orphans int
}

// Report is the result of Check.
type Report struct {
	Big      Usage
	Mini     Usage
	Storages int
	Streams  int
}

// Check verifies the whole container: every entry is reachable from the
// root exactly once, every stream chain covers the stream size and no block
// belongs to two chains. A violation is ErrCorrupt.
func (s *Storage) Check() (Report, error) {
	defer elapsed("Check", s.c.metrics.AddMethodDuration)()

	s.c.mtx.Lock()
	defer s.c.mtx.Unlock()

	if err := s.check(false); err != nil {
		return Report{}, err
	}

	rep, err := s.c.checkAll()
	if err != nil {
		s.c.log.Error("container check failed", zap.Error(err))
	}
	return rep, err
}

type owners map[uint32]string

func (o owners) claim(kind string, blocks []uint32, who string) error {
	for _, b := range blocks {
		if prev, ok := o[b]; ok {
			return common.Corruptf("%s block %d belongs to %s and %s", kind, b, prev, who)
		}
		o[b] = who
	}
	return nil
}

func (c *container) checkAll() (Report, error) {
	var (
		rep  Report
		big  = make(owners)
		mini = make(owners)
	)

	if err := big.claim("big", c.fat.TableBlocks(), "allocation table"); err != nil {
		return rep, err
	}
	if err := big.claim("big", c.fat.DIFATBlocks(), "DIFAT"); err != nil {
		return rep, err
	}

	for _, x := range []struct {
		name   string
		blocks func() ([]uint32, error)
	}{
		{"directory", c.dir.Blocks},
		{"mini table", c.mini.Blocks},
		{"mini stream", c.mio.Blocks},
	} {
		blocks, err := x.blocks()
		if err != nil {
			return rep, err
		}
		if err := big.claim("big", blocks, x.name); err != nil {
			return rep, err
		}
	}

	miniStream, err := c.mio.Blocks()
	if err != nil {
		return rep, err
	}
	miniCapacity := uint32(len(miniStream) * c.hdr.BlockSize() / c.hdr.MiniBlockSize())

	err = c.dir.Walk(func(_, idx uint32, e directory.Entry) error {
		switch e.Type {
		case TypeStorage:
			rep.Storages++
			return nil
		case TypeRoot:
			return nil
		}
		rep.Streams++

		owned, kind := big, "big"
		if e.Size < uint64(c.hdr.MiniCutoff) {
			owned, kind = mini, "mini"
		}

		blocks, err := c.streamBlocks(e)
		if err != nil {
			return err
		}
		if kind == "mini" {
			for _, b := range blocks {
				if b >= miniCapacity {
					return common.Corruptf("stream %q: mini block %d beyond mini stream of %d blocks", e.Name, b, miniCapacity)
				}
			}
		}
		return owned.claim(kind, blocks, e.Name)
	})
	if err != nil {
		return rep, err
	}

	rep.Big = usage(c.fat, big)
	rep.Mini = usage(c.mini, mini)

	return rep, nil
}

func usage(l chain.Links, o owners) Usage {
	u := Usage{Blocks: int(l.Len())}
	for i := uint32(0); i < l.Len(); i++ {
		next, _ := l.NextOf(i)
		switch {
		case next == header.Free:
			u.Free++
		case o[i] != "":
			u.Used++
		default:
			u.Orphans++
		}
	}
	return u
}
