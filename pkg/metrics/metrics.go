package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "cfb"

// StorageMetrics collects metrics of open compound files.
type StorageMetrics struct {
	containerMetrics
	stateMetrics
}

// NewStorageMetrics creates and registers storage metrics in reg. Nil reg
// means the default prometheus registerer.
func NewStorageMetrics(reg prometheus.Registerer) *StorageMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	container := newContainerMetrics()
	container.register(reg)

	state := newStateMetrics()
	state.register(reg)

	return &StorageMetrics{
		containerMetrics: container,
		stateMetrics:     state,
	}
}
