package logicerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nspcc-dev/cfb/pkg/util/logicerr"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	base := errors.New("element not found")
	err := fmt.Errorf("open stream: %w", logicerr.Wrap(base))

	require.ErrorIs(t, err, base)
	require.ErrorIs(t, err, logicerr.Error)
	require.True(t, logicerr.Is(err))
	require.False(t, logicerr.Is(base))
}
