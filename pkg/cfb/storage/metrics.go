package storage

import "time"

// Metrics receives storage metrics.
type Metrics interface {
	AddMethodDuration(method string, d time.Duration)
	SetContainerSize(size uint64)
	IncOpenStreams()
	DecOpenStreams()
	IncCommits()
	SetMode(mode uint32)
}

type noopMetrics struct{}

func (noopMetrics) AddMethodDuration(string, time.Duration) {}
func (noopMetrics) SetContainerSize(uint64)                 {}
func (noopMetrics) IncOpenStreams()                         {}
func (noopMetrics) DecOpenStreams()                         {}
func (noopMetrics) IncCommits()                             {}
func (noopMetrics) SetMode(uint32)                          {}

func elapsed(method string, addFunc func(string, time.Duration)) func() {
	t := time.Now()

	return func() {
		addFunc(method, time.Since(t))
	}
}
