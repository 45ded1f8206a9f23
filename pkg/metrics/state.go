package metrics

import "github.com/prometheus/client_golang/prometheus"

const stateSubsystem = "state"

type stateMetrics struct {
	mode prometheus.Gauge
}

func newStateMetrics() stateMetrics {
	return stateMetrics{
		mode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: stateSubsystem,
			Name:      "mode",
			Help:      "Current open mode of the compound file",
		}),
	}
}

func (m stateMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.mode)
}

// SetMode sets the open mode gauge.
func (m stateMetrics) SetMode(mode uint32) {
	m.mode.Set(float64(mode))
}
