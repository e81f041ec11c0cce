package authcore

import (
	"time"

	internalmetrics "github.com/MrEthical07/authcore/internal/metrics"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	MetricSignupSuccess MetricID = iota
	MetricSignupDuplicate
	MetricSignupFailure
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginRateLimited
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricAuthenticateFailure
	MetricSessionCreated
	MetricSessionInvalidated
	MetricLogout
	MetricLogoutAll
	MetricAccountDisabled
	MetricPasswordChangeSuccess
	MetricPasswordChangeInvalidOld
	MetricPasswordRehashed
	MetricKeyRotated
	MetricLoginLatency
	MetricAuthenticateLatency
	metricIDCount
)

// Metrics holds the engine's counters. A nil or disabled Metrics records nothing.
type Metrics struct {
	set *internalmetrics.Set
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram. Histogram
// buckets are non-cumulative.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		set: internalmetrics.New(
			int(metricIDCount),
			cfg.Enabled,
			cfg.EnableLatencyHistograms,
			int(MetricLoginLatency),
			int(MetricAuthenticateLatency),
		),
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.set.Enabled()
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil {
		return
	}
	m.set.Inc(int(id))
}

// Observe records a latency sample. Only MetricLoginLatency and MetricAuthenticateLatency
// are histograms.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil {
		return
	}
	m.set.Observe(int(id), d)
}

// Value returns the current value of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil {
		return 0
	}
	return m.set.Value(int(id))
}

// Snapshot copies the current values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if m == nil {
		return s
	}
	for id, v := range m.set.Counters() {
		if isHistogram(MetricID(id)) {
			continue
		}
		s.Counters[MetricID(id)] = v
	}
	for id, buckets := range m.set.Histograms() {
		s.Histograms[MetricID(id)] = buckets
	}
	return s
}

func isHistogram(id MetricID) bool {
	return id == MetricLoginLatency || id == MetricAuthenticateLatency
}
