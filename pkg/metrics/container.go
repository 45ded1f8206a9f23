package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	containerSubsystem = "container"

	methodLabelKey = "method"
)

type containerMetrics struct {
	methodDuration prometheus.HistogramVec

	size        prometheus.Gauge
	openStreams prometheus.Gauge
	commits     prometheus.Counter
}

func newContainerMetrics() containerMetrics {
	var (
		methodDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: containerSubsystem,
			Name:      "method_time",
			Help:      "Compound file method handling time",
		}, []string{methodLabelKey})

		size = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: containerSubsystem,
			Name:      "size",
			Help:      "Size of the compound file in bytes",
		})

		openStreams = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: containerSubsystem,
			Name:      "open_streams",
			Help:      "Number of open stream handles",
		})

		commits = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: containerSubsystem,
			Name:      "commits_total",
			Help:      "Number of commits written to the compound file",
		})
	)
	return containerMetrics{
		methodDuration: *methodDuration,
		size:           size,
		openStreams:    openStreams,
		commits:        commits,
	}
}

func (m containerMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.methodDuration)
	reg.MustRegister(m.size)
	reg.MustRegister(m.openStreams)
	reg.MustRegister(m.commits)
}

// AddMethodDuration records handling time of the named method.
func (m containerMetrics) AddMethodDuration(method string, d time.Duration) {
	m.methodDuration.With(prometheus.Labels{methodLabelKey: method}).Observe(d.Seconds())
}

// SetContainerSize sets the compound file size.
func (m containerMetrics) SetContainerSize(size uint64) {
	m.size.Set(float64(size))
}

func (m containerMetrics) IncOpenStreams() {
	m.openStreams.Inc()
}

func (m containerMetrics) DecOpenStreams() {
	m.openStreams.Dec()
}

func (m containerMetrics) IncCommits() {
	m.commits.Inc()
}
