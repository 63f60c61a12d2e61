package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	actionsSubmitted atomic.Uint64
	actionsConfirmed atomic.Uint64
	actionsFailed    atomic.Uint64
	actionsTimedOut  atomic.Uint64
	trackerPolls     atomic.Uint64
	approvalWaits    atomic.Uint64
	errorsTotal      atomic.Uint64

	// Latency tracking for confirmation (submit to matched event)
	confirmSumNs atomic.Int64
	confirmCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordActionSubmitted records an action reaching submission.
func (m *Metrics) RecordActionSubmitted() {
	m.actionsSubmitted.Add(1)
}

// RecordActionConfirmed records a confirmed action.
func (m *Metrics) RecordActionConfirmed() {
	m.actionsConfirmed.Add(1)
}

// RecordActionFailed records a failed action.
func (m *Metrics) RecordActionFailed() {
	m.actionsFailed.Add(1)
}

// RecordActionTimedOut records a confirmation tracking timeout.
func (m *Metrics) RecordActionTimedOut() {
	m.actionsTimedOut.Add(1)
}

// RecordTrackerPoll records one event-scan pass.
func (m *Metrics) RecordTrackerPoll() {
	m.trackerPolls.Add(1)
}

// RecordApprovalWait records one allowance poll while waiting for an
// approval to become visible.
func (m *Metrics) RecordApprovalWait() {
	m.approvalWaits.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordConfirmLatency records the time from submission to confirmation.
func (m *Metrics) RecordConfirmLatency(latencyNs int64) {
	m.confirmSumNs.Add(latencyNs)
	m.confirmCount.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	ActionsSubmitted  uint64
	ActionsConfirmed  uint64
	ActionsFailed     uint64
	ActionsTimedOut   uint64
	TrackerPolls      uint64
	ApprovalWaits     uint64
	ErrorsTotal       uint64
	AvgConfirmNs      int64
	ActiveConnections int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgConfirm int64
	count := m.confirmCount.Load()
	if count > 0 {
		avgConfirm = m.confirmSumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		ActionsSubmitted:  m.actionsSubmitted.Load(),
		ActionsConfirmed:  m.actionsConfirmed.Load(),
		ActionsFailed:     m.actionsFailed.Load(),
		ActionsTimedOut:   m.actionsTimedOut.Load(),
		TrackerPolls:      m.trackerPolls.Load(),
		ApprovalWaits:     m.approvalWaits.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgConfirmNs:      avgConfirm,
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.actionsSubmitted.Store(0)
	m.actionsConfirmed.Store(0)
	m.actionsFailed.Store(0)
	m.actionsTimedOut.Store(0)
	m.trackerPolls.Store(0)
	m.approvalWaits.Store(0)
	m.errorsTotal.Store(0)
	m.confirmSumNs.Store(0)
	m.confirmCount.Store(0)
	m.activeConnections.Store(0)
}
