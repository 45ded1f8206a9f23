// Package storage implements the compound file façade: hierarchical storages
// holding named byte streams inside one file.
//
// A Storage returned by New is the root of an open container. It owns the
// block device, the allocation tables and the directory; nested storages and
// streams opened through it share them and are serialized by one lock.
package storage

import (
	"io/fs"
	"sync"
	"time"

	"github.com/nspcc-dev/cfb/pkg/cfb/blockdev"
	"github.com/nspcc-dev/cfb/pkg/cfb/chain"
	"github.com/nspcc-dev/cfb/pkg/cfb/directory"
	"github.com/nspcc-dev/cfb/pkg/cfb/fat"
	"github.com/nspcc-dev/cfb/pkg/cfb/header"
	"github.com/nspcc-dev/cfb/pkg/cfb/minifat"
	"github.com/nspcc-dev/cfb/pkg/cfb/mode"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Storage is a storage element of a compound file: either the root of an
// open container or a storage nested in it.
type Storage struct {
	c    *container
	idx  uint32
	root bool
	// name is the path from the root, used in logs.
	name string

	closed bool
}

var containerIDs atomic.Uint64

// container is the state shared by every element of one open file.
type container struct {
	*cfg

	// id orders locking of two containers.
	id uint64

	mtx sync.Mutex

	mode    mode.Mode
	backend blockdev.Backend
	dev     *blockdev.Device
	hdr     *header.Header
	fat     *fat.Table
	mini    *minifat.Table
	dir     *directory.Directory
	bio     chain.DeviceIO
	mio     *minifat.StreamIO

	ready  bool
	closed bool
	dirty  bool

	// handles counts open handles per entry.
	handles map[uint32]int
	streams atomic.Int64
}

// Option is an option of Storage's constructor.
type Option func(*cfg)

type cfg struct {
	path string
	perm fs.FileMode

	injected   blockdev.Backend
	blockShift uint16
	cacheSize  int
	noSync     bool

	dirOpts []directory.Option

	clock   func() time.Time
	metrics Metrics
	log     *zap.Logger
}

func defaultCfg() *cfg {
	return &cfg{
		perm:       0o640,
		blockShift: header.DefaultBlockShift,
		cacheSize:  256,
		clock:      time.Now,
		metrics:    noopMetrics{},
		log:        zap.L(),
	}
}

// New creates the root Storage of a compound file. The file is accessed
// after Open and Init.
func New(opts ...Option) *Storage {
	c := defaultCfg()

	for i := range opts {
		opts[i](c)
	}

	return &Storage{
		c: &container{
			cfg:     c,
			id:      containerIDs.Inc(),
			handles: make(map[uint32]int),
		},
		idx:  directory.RootIndex,
		root: true,
	}
}

// WithPath returns option to set system path to the compound file.
func WithPath(path string) Option {
	return func(c *cfg) {
		c.path = path
	}
}

// WithPermissions returns option to specify permission bits of a created
// file.
func WithPermissions(perm fs.FileMode) Option {
	return func(c *cfg) {
		c.perm = perm
	}
}

// WithBackend returns option to store the compound file in b instead of a
// file at the configured path.
func WithBackend(b blockdev.Backend) Option {
	return func(c *cfg) {
		c.injected = b
	}
}

// WithBlockSizeExponent returns option to set block size of a new file to
// 1<<shift bytes. Existing files keep their block size.
func WithBlockSizeExponent(shift uint16) Option {
	return func(c *cfg) {
		c.blockShift = shift
	}
}

// WithCacheSize returns option to set the number of clean blocks cached in
// memory. Zero makes every write go to the backend directly.
func WithCacheSize(n int) Option {
	return func(c *cfg) {
		c.cacheSize = n
	}
}

// WithNoSync returns option to skip fsync on commit.
func WithNoSync(noSync bool) Option {
	return func(c *cfg) {
		c.noSync = noSync
	}
}

// WithComparer returns option to order sibling names with cmp. It must match
// the ordering the file was written with.
func WithComparer(cmp directory.Comparer) Option {
	return func(c *cfg) {
		c.dirOpts = append(c.dirOpts, directory.WithComparer(cmp))
	}
}

// WithClock returns option to set the source of element timestamps.
func WithClock(clock func() time.Time) Option {
	return func(c *cfg) {
		c.clock = clock
	}
}

// WithMetrics returns option to report storage metrics to m.
func WithMetrics(m Metrics) Option {
	return func(c *cfg) {
		c.metrics = m
	}
}

// WithLogger returns option to specify Storage's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *cfg) {
		c.log = l.With(zap.String("component", "CompoundFile"))
	}
}
