package util_test

import (
	"sync"
	"testing"

	"github.com/nspcc-dev/cfb/pkg/util"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestWorkerPool(t *testing.T) {
	for _, n := range []int{0, 1, 4} {
		p, err := util.NewWorkerPool(n)
		require.NoError(t, err)

		var (
			wg  sync.WaitGroup
			cnt atomic.Int32
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			require.NoError(t, p.Submit(func() {
				defer wg.Done()
				cnt.Inc()
			}))
		}
		wg.Wait()
		require.EqualValues(t, 10, cnt.Load())

		p.Release()
		require.ErrorIs(t, p.Submit(func() {}), util.ErrPoolClosed)
	}
}
