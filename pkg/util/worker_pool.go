package util

import (
	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"
)

// WorkerPool runs submitted jobs.
type WorkerPool interface {
	// Submit queues f. An error means f will never run.
	Submit(f func()) error

	// Release stops accepting jobs. Jobs already queued still run; callers
	// wait for them on their own.
	Release()
}

// ErrPoolClosed is returned when submitting to a released pool.
var ErrPoolClosed = ants.ErrPoolClosed

// NewWorkerPool returns a pool of n goroutines. With n below 2 jobs run in
// the caller's goroutine.
func NewWorkerPool(n int) (WorkerPool, error) {
	if n < 2 {
		return new(inlinePool), nil
	}
	return ants.NewPool(n)
}

type inlinePool struct {
	released atomic.Bool
}

func (p *inlinePool) Submit(f func()) error {
	if p.released.Load() {
		return ErrPoolClosed
	}

	f()
	return nil
}

func (p *inlinePool) Release() {
	p.released.Store(true)
}
