package minifat

import (
	"fmt"

	"github.com/nspcc-dev/cfb/pkg/cfb/chain"
)

// Root is the owner of the mini stream: the root directory entry.
type Root interface {
	chain.Holder
	Size() uint64
	SetSize(uint64)
}

// StreamIO is chain.BlockIO over mini blocks: mini block i occupies bytes
// [i*size, (i+1)*size) of the mini stream.
type StreamIO struct {
	stream *chain.Chain
	root   Root
	size   int
}

// NewStreamIO returns BlockIO over the mini stream of root, stored in big
// blocks of big.
func NewStreamIO(big chain.Table, io chain.BlockIO, root Root, miniBlockSize int) *StreamIO {
	return &StreamIO{
		stream: chain.New(big, io, root),
		root:   root,
		size:   miniBlockSize,
	}
}

// BlockSize implements chain.BlockIO.
func (s *StreamIO) BlockSize() int {
	return s.size
}

// ReadBlock implements chain.BlockIO.
func (s *StreamIO) ReadBlock(i uint32) ([]byte, error) {
	b := make([]byte, s.size)
	if _, err := s.stream.ReadAt(b, int64(i)*int64(s.size)); err != nil {
		return nil, fmt.Errorf("mini block %d: %w", i, err)
	}
	return b, nil
}

// WriteBlock implements chain.BlockIO. The mini stream grows to cover
// block i.
func (s *StreamIO) WriteBlock(i uint32, data []byte) error {
	off := int64(i) * int64(s.size)
	if _, err := s.stream.WriteAt(data, off); err != nil {
		return err
	}
	if end := uint64(off) + uint64(s.size); end > s.root.Size() {
		s.root.SetSize(end)
	}
	return nil
}

// Blocks returns big blocks of the mini stream.
func (s *StreamIO) Blocks() ([]uint32, error) {
	return s.stream.Blocks()
}
