package observability

import (
	"log/slog"
	"sync"
)

// ProviderHealthMonitor watches delivery success rates per provider over a
// sliding window and warns when the rate drifts below an expected baseline.
// Attempts are recorded as 1 (accepted) or 0 (failed).
type ProviderHealthMonitor struct {
	baseline   map[string]float64
	recent     map[string][]float64
	windowSize int
	threshold  float64
	mu         sync.RWMutex
}

// NewProviderHealthMonitor creates a monitor. threshold is the maximum
// tolerated drop below baseline before a warning is logged.
func NewProviderHealthMonitor(windowSize int, threshold float64) *ProviderHealthMonitor {
	return &ProviderHealthMonitor{
		baseline:   make(map[string]float64),
		recent:     make(map[string][]float64),
		windowSize: windowSize,
		threshold:  threshold,
	}
}

// SetBaseline fixes the expected success rate for a provider.
func (m *ProviderHealthMonitor) SetBaseline(provider string, rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseline[provider] = rate
}

// RecordAttempt records one delivery outcome and checks for drift.
func (m *ProviderHealthMonitor) RecordAttempt(provider string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := 0.0
	if ok {
		v = 1.0
	}
	window := append(m.recent[provider], v)
	if len(window) > m.windowSize {
		window = window[len(window)-m.windowSize:]
	}
	m.recent[provider] = window

	// Only judge a full window; partial windows swing too hard.
	if len(window) < m.windowSize {
		return
	}
	if drop := m.dropBelowBaseline(provider); drop > m.threshold {
		slog.Warn("provider delivery rate drifting below baseline",
			slog.String("provider", provider),
			slog.Float64("baseline", m.baseline[provider]),
			slog.Float64("recent_rate", m.successRate(provider)),
			slog.Float64("drop", drop))
	}
}

// dropBelowBaseline returns how far the recent success rate sits below the
// baseline; zero when at or above it, or when no baseline is set.
func (m *ProviderHealthMonitor) dropBelowBaseline(provider string) float64 {
	baseline, ok := m.baseline[provider]
	if !ok {
		return 0
	}
	drop := baseline - m.successRate(provider)
	if drop < 0 {
		return 0
	}
	return drop
}

func (m *ProviderHealthMonitor) successRate(provider string) float64 {
	window := m.recent[provider]
	if len(window) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(len(window))
}

// SuccessRate returns the current windowed success rate for a provider.
func (m *ProviderHealthMonitor) SuccessRate(provider string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.successRate(provider)
}

// Drop returns how far the provider currently sits below its baseline.
func (m *ProviderHealthMonitor) Drop(provider string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dropBelowBaseline(provider)
}

// Reset clears all windows and baselines.
func (m *ProviderHealthMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseline = make(map[string]float64)
	m.recent = make(map[string][]float64)
}
