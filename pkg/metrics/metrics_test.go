package metrics_test

import (
	"testing"
	"time"

	"github.com/nspcc-dev/cfb/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewStorageMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	var m *metrics.StorageMetrics
	require.NotPanics(t, func() {
		m = metrics.NewStorageMetrics(reg)
		metrics.RegisterVersion(reg, "any_version")
	})

	m.AddMethodDuration("Commit", time.Millisecond)
	m.SetContainerSize(4096)
	m.IncOpenStreams()
	m.IncOpenStreams()
	m.DecOpenStreams()
	m.IncCommits()
	m.SetMode(1)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 6)

	require.Panics(t, func() {
		_ = metrics.NewStorageMetrics(reg)
	})
}
