// Package metrics provides lock-free counters for authgate observability.
// Counters are incremented atomically and read via point-in-time snapshots;
// no I/O happens here and no global registry is exposed.
package metrics

import "sync/atomic"

// MetricID identifies a single counter.
type MetricID int

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginThrottled
	MetricLoginCaptchaRejected
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRegistrationCreated
	MetricRegistrationDuplicate
	MetricEmailConfirmed
	MetricPasswordChanged
	MetricPasswordResetRequested
	MetricPasswordResetCompleted
	MetricOAuthLogin
	MetricPermissionDenied

	MetricIDCount
)

// Config controls whether the counter set is active.
type Config struct {
	Enabled bool
}

// Metrics holds the counter slots. A nil or disabled Metrics is a no-op on
// every method.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]atomic.Uint64
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id < 0 || id >= MetricIDCount {
		return
	}
	m.counters[id].Add(1)
}

func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || !m.enabled || id < 0 || id >= MetricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

func (m *Metrics) SnapshotNow() Snapshot {
	out := Snapshot{Counters: make(map[MetricID]uint64, MetricIDCount)}
	if m == nil || !m.enabled {
		return out
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		out.Counters[id] = m.counters[id].Load()
	}
	return out
}
