package ml

import (
	"context"
	"sync"

	"rasp/internal/features"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu         sync.Mutex
	inferences int
	failures   int
	latencySum float64
	timeouts   int
	modelAge   float64
}

func (m *MockMetrics) MLInferenceInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inferences++
}

func (m *MockMetrics) MLFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) MLLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
}

func (m *MockMetrics) MLTimeoutsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts++
}

func (m *MockMetrics) MLModelAgeSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelAge = v
}

func (m *MockMetrics) counts() (inferences, failures, timeouts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inferences, m.failures, m.timeouts
}

// StubModel is a Model backed by a function, for tests in this and other packages.
type StubModel struct {
	Fn     func(v features.Vector) (float64, error)
	mu     sync.Mutex
	calls  []features.Vector
	closed bool
}

func (s *StubModel) Predict(_ context.Context, v features.Vector) (float64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, v)
	s.mu.Unlock()
	return s.Fn(v)
}

func (s *StubModel) Name() string { return "stub" }

func (s *StubModel) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Calls returns the vectors the stub has been asked to score.
func (s *StubModel) Calls() []features.Vector {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]features.Vector, len(s.calls))
	copy(out, s.calls)
	return out
}
