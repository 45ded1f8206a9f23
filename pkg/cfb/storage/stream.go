package storage

import (
	"fmt"
	"io"

	"github.com/nspcc-dev/cfb/pkg/cfb/chain"
	"github.com/nspcc-dev/cfb/pkg/cfb/common"
	"github.com/nspcc-dev/cfb/pkg/cfb/directory"
	"github.com/nspcc-dev/cfb/pkg/cfb/header"
	storagelog "github.com/nspcc-dev/cfb/pkg/cfb/internal/log"
	"go.uber.org/zap"
)

// Stream is an open handle to a stream element with its own cursor. The
// chain is picked by the stream size on every access: streams shorter than
// the mini cutoff live in mini blocks.
type Stream struct {
	c    *container
	idx  uint32
	name string
	pos  int64

	closed bool
}

func (c *container) openStream(idx uint32, name string) *Stream {
	c.acquire(idx)
	c.streams.Inc()
	c.metrics.IncOpenStreams()
	return &Stream{c: c, idx: idx, name: name}
}

func (x *Stream) check(write bool) error {
	if x.closed {
		return common.ErrClosed
	}
	return x.c.check(write)
}

func (x *Stream) entry() (directory.Entry, error) {
	return x.c.dir.Entry(x.idx)
}

// Size returns the stream size.
func (x *Stream) Size() (uint64, error) {
	x.c.mtx.Lock()
	defer x.c.mtx.Unlock()

	if err := x.check(false); err != nil {
		return 0, err
	}

	e, err := x.entry()
	if err != nil {
		return 0, err
	}
	return e.Size, nil
}

// Stat describes the stream.
func (x *Stream) Stat() (StatInfo, error) {
	x.c.mtx.Lock()
	defer x.c.mtx.Unlock()

	if err := x.check(false); err != nil {
		return StatInfo{}, err
	}

	e, err := x.entry()
	if err != nil {
		return StatInfo{}, err
	}
	return statOf(e), nil
}

// ReadAt implements io.ReaderAt. Reading past the stream size returns the
// available bytes and io.EOF. Read returns such a short result without an
// error.
func (x *Stream) ReadAt(p []byte, off int64) (int, error) {
	x.c.mtx.Lock()
	defer x.c.mtx.Unlock()

	if err := x.check(false); err != nil {
		return 0, err
	}
	return x.readAt(p, off)
}

func (x *Stream) readAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", common.ErrInvalidArgument, off)
	}

	e, err := x.entry()
	if err != nil {
		return 0, err
	}
	if uint64(off) >= e.Size {
		return 0, io.EOF
	}

	n := len(p)
	if rest := e.Size - uint64(off); uint64(n) > rest {
		n = int(rest)
	}

	n, err = x.c.chainOf(x.idx, e.Size).ReadAt(p[:n], off)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. Writing past the end grows the stream,
// bytes between the old end and off read as zeros.
func (x *Stream) WriteAt(p []byte, off int64) (int, error) {
	x.c.mtx.Lock()
	defer x.c.mtx.Unlock()

	if err := x.check(true); err != nil {
		return 0, err
	}
	return x.writeAt(p, off)
}

func (x *Stream) writeAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", common.ErrInvalidArgument, off)
	}
	if len(p) == 0 {
		return 0, nil
	}

	e, err := x.entry()
	if err != nil {
		return 0, err
	}

	if end := uint64(off) + uint64(len(p)); end > e.Size {
		if err := x.c.setSize(x.idx, end); err != nil {
			return 0, err
		}
		e.Size = end
	}

	x.c.dirty = true
	return x.c.chainOf(x.idx, e.Size).WriteAt(p, off)
}

// Read implements io.Reader.
func (x *Stream) Read(p []byte) (int, error) {
	x.c.mtx.Lock()
	defer x.c.mtx.Unlock()

	if err := x.check(false); err != nil {
		return 0, err
	}

	n, err := x.readAt(p, x.pos)
	x.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Write implements io.Writer.
func (x *Stream) Write(p []byte) (int, error) {
	x.c.mtx.Lock()
	defer x.c.mtx.Unlock()

	if err := x.check(true); err != nil {
		return 0, err
	}

	n, err := x.writeAt(p, x.pos)
	x.pos += int64(n)
	return n, err
}

// Seek implements io.Seeker. Seeking past the end is allowed.
func (x *Stream) Seek(offset int64, whence int) (int64, error) {
	x.c.mtx.Lock()
	defer x.c.mtx.Unlock()

	if err := x.check(false); err != nil {
		return 0, err
	}

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = x.pos
	case io.SeekEnd:
		e, err := x.entry()
		if err != nil {
			return 0, err
		}
		base = int64(e.Size)
	default:
		return 0, fmt.Errorf("%w: whence %d", common.ErrInvalidArgument, whence)
	}

	if base+offset < 0 {
		return 0, fmt.Errorf("%w: negative position %d", common.ErrInvalidArgument, base+offset)
	}
	x.pos = base + offset
	return x.pos, nil
}

// SetSize truncates or extends the stream. New bytes read as zeros.
func (x *Stream) SetSize(n uint64) error {
	defer elapsed("SetSize", x.c.metrics.AddMethodDuration)()

	x.c.mtx.Lock()
	defer x.c.mtx.Unlock()

	if err := x.check(true); err != nil {
		return err
	}
	return x.c.setSize(x.idx, n)
}

// CopyTo copies n bytes from the cursor of x to the cursor of dst,
// advancing both. Streams may belong to different containers.
func (x *Stream) CopyTo(dst *Stream, n int64) (int64, error) {
	defer elapsed("CopyTo", x.c.metrics.AddMethodDuration)()

	written, err := io.CopyN(dst, x, n)
	if err == io.EOF {
		err = nil
	}
	return written, err
}

// Clone returns an independent handle to the same stream with the same
// cursor position.
func (x *Stream) Clone() (*Stream, error) {
	x.c.mtx.Lock()
	defer x.c.mtx.Unlock()

	if err := x.check(false); err != nil {
		return nil, err
	}

	y := x.c.openStream(x.idx, x.name)
	y.pos = x.pos
	return y, nil
}

// Close releases the handle.
func (x *Stream) Close() error {
	x.c.mtx.Lock()
	defer x.c.mtx.Unlock()

	if x.closed {
		return common.ErrClosed
	}
	x.closed = true

	x.c.streams.Dec()
	x.c.metrics.DecOpenStreams()
	if !x.c.closed {
		x.c.release(x.idx)
	}
	return nil
}

func blocksFor(size uint64, bs int) int {
	return int((size + uint64(bs) - 1) / uint64(bs))
}

// setSize resizes stream idx. A size change across the mini cutoff moves
// the data to the other kind of chain: the new chain is complete before the
// old one is freed and the entry is switched to it.
func (c *container) setSize(idx uint32, n uint64) error {
	e, err := c.dir.Entry(idx)
	if err != nil {
		return err
	}
	if e.Type != TypeStream {
		return fmt.Errorf("%w: entry %d is %s", common.ErrInvalidArgument, idx, e.Type)
	}
	if n == e.Size {
		return nil
	}

	cutoff := uint64(c.hdr.MiniCutoff)
	if (e.Size < cutoff) != (n < cutoff) {
		if err := c.migrate(idx, e, n); err != nil {
			return err
		}
	} else {
		ch := c.chainOf(idx, e.Size)
		bs := ch.BlockSize()

		if err := ch.Resize(blocksFor(n, bs)); err != nil {
			return err
		}

		// The tail of the last block may keep bytes of a former truncate.
		if n > e.Size && e.Size%uint64(bs) != 0 {
			end := min(n, (e.Size/uint64(bs)+1)*uint64(bs))
			if _, err := ch.WriteAt(make([]byte, end-e.Size), int64(e.Size)); err != nil {
				return err
			}
		}
	}

	c.dir.Ref(idx).SetSize(n)
	c.dirty = true

	storagelog.Write(c.log, storagelog.OpField("set size"),
		storagelog.EntryField(idx), storagelog.SizeField(n))

	return nil
}

func (c *container) migrate(idx uint32, e directory.Entry, n uint64) error {
	keep := min(e.Size, n)

	data := make([]byte, keep)
	if _, err := c.chainOf(idx, e.Size).ReadAt(data, 0); err != nil {
		return err
	}

	oldTbl := c.tableOf(e.Size)
	if _, err := oldTbl.Chain(e.Start); err != nil {
		return err
	}

	head := header.EndOfChain
	var next *chain.Chain
	if n < uint64(c.hdr.MiniCutoff) {
		next = chain.New(c.mini, c.mio, chain.NewRef(&head))
	} else {
		next = chain.New(c.fat, c.bio, chain.NewRef(&head))
	}

	if err := next.Resize(blocksFor(n, next.BlockSize())); err != nil {
		return err
	}
	if _, err := next.WriteAt(data, 0); err != nil {
		_ = next.Resize(0)
		return err
	}

	if err := oldTbl.FreeChain(e.Start); err != nil {
		_ = next.Resize(0)
		return err
	}
	c.dir.Ref(idx).SetHead(head)

	c.log.Debug("stream moved across mini cutoff",
		storagelog.EntryField(idx),
		zap.Uint64("old size", e.Size),
		zap.Uint64("new size", n),
	)

	return nil
}
