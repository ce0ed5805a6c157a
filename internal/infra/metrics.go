package infra

import (
	"sync"
	"sync/atomic"
	"time"

	"nftmarket/internal/domain"
	"nftmarket/internal/event"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	commandsProcessed atomic.Uint64
	commandsFailed    atomic.Uint64
	eventsPublished   atomic.Uint64
	salesTotal        atomic.Uint64

	failuresMu     sync.Mutex
	failuresByKind map[domain.ErrorKind]uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeSubscribers atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordCommand records a processed command with latency.
func (m *Metrics) RecordCommand(latencyNs int64) {
	m.commandsProcessed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordFailure records a rejected command. An empty kind counts as "Internal".
func (m *Metrics) RecordFailure(kind domain.ErrorKind) {
	m.commandsFailed.Add(1)
	if kind == "" {
		kind = "Internal"
	}

	m.failuresMu.Lock()
	defer m.failuresMu.Unlock()
	if m.failuresByKind == nil {
		m.failuresByKind = make(map[domain.ErrorKind]uint64)
	}
	m.failuresByKind[kind]++
}

// Sink returns an event sink that counts committed events.
func (m *Metrics) Sink() event.Sink {
	return event.SinkFunc(func(ev event.Event) {
		m.eventsPublished.Add(1)
		if ev.GetType() == event.TypeItemPurchased {
			m.salesTotal.Add(1)
		}
	})
}

// IncrementSubscribers increments active feed subscribers by 1.
func (m *Metrics) IncrementSubscribers() {
	m.activeSubscribers.Add(1)
}

// DecrementSubscribers decrements active feed subscribers by 1.
func (m *Metrics) DecrementSubscribers() {
	m.activeSubscribers.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	CommandsProcessed uint64                      `json:"commands_processed"`
	CommandsFailed    uint64                      `json:"commands_failed"`
	FailuresByKind    map[domain.ErrorKind]uint64 `json:"failures_by_kind"`
	EventsPublished   uint64                      `json:"events_published"`
	SalesTotal        uint64                      `json:"sales_total"`
	AvgLatencyNs      int64                       `json:"avg_latency_ns"`
	ActiveSubscribers int32                       `json:"active_subscribers"`
	Timestamp         time.Time                   `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	m.failuresMu.Lock()
	byKind := make(map[domain.ErrorKind]uint64, len(m.failuresByKind))
	for k, v := range m.failuresByKind {
		byKind[k] = v
	}
	m.failuresMu.Unlock()

	return MetricsSnapshot{
		CommandsProcessed: m.commandsProcessed.Load(),
		CommandsFailed:    m.commandsFailed.Load(),
		FailuresByKind:    byKind,
		EventsPublished:   m.eventsPublished.Load(),
		SalesTotal:        m.salesTotal.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveSubscribers: m.activeSubscribers.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.commandsProcessed.Store(0)
	m.commandsFailed.Store(0)
	m.eventsPublished.Store(0)
	m.salesTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeSubscribers.Store(0)

	m.failuresMu.Lock()
	m.failuresByKind = nil
	m.failuresMu.Unlock()
}
