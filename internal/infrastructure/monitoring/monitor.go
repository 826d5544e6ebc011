// Package monitoring keeps lightweight process counters consumed by
// the stats endpoint and the health report.
package monitoring

import (
	"sync"
	"sync/atomic"
	"time"
)

const snapshotHistory = 100

// Snapshot is one point-in-time view of the counters.
type Snapshot struct {
	TakenAt          time.Time `json:"taken_at"`
	Requests         int64     `json:"requests"`
	RequestsFailed   int64     `json:"requests_failed"`
	ToolCalls        int64     `json:"tool_calls"`
	ToolFailures     int64     `json:"tool_failures"`
	TokensUsed       int64     `json:"tokens_used"`
	FallbacksUsed    int64     `json:"fallbacks_used"`
	AvgRequestMs     int64     `json:"avg_request_ms"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
	ActiveGoroutines int       `json:"-"`
}

// Monitor aggregates request and tool counters with atomic updates.
type Monitor struct {
	startedAt time.Time

	requests       atomic.Int64
	requestsFailed atomic.Int64
	toolCalls      atomic.Int64
	toolFailures   atomic.Int64
	tokensUsed     atomic.Int64
	fallbacksUsed  atomic.Int64
	totalRequestMs atomic.Int64

	historyMu sync.Mutex
	history   []Snapshot
}

// NewMonitor creates a monitor anchored at the current time.
func NewMonitor() *Monitor {
	return &Monitor{startedAt: time.Now()}
}

// RecordRequest registers one completed processMessage call.
func (m *Monitor) RecordRequest(success bool, elapsedMs int64, tokens, fallbacks int) {
	m.requests.Add(1)
	if !success {
		m.requestsFailed.Add(1)
	}
	m.totalRequestMs.Add(elapsedMs)
	m.tokensUsed.Add(int64(tokens))
	m.fallbacksUsed.Add(int64(fallbacks))
}

// RecordToolCall registers one tool invocation.
func (m *Monitor) RecordToolCall(success bool) {
	m.toolCalls.Add(1)
	if !success {
		m.toolFailures.Add(1)
	}
}

// Snapshot captures the counters and appends to the bounded history.
func (m *Monitor) Snapshot() Snapshot {
	requests := m.requests.Load()
	avg := int64(0)
	if requests > 0 {
		avg = m.totalRequestMs.Load() / requests
	}
	s := Snapshot{
		TakenAt:        time.Now(),
		Requests:       requests,
		RequestsFailed: m.requestsFailed.Load(),
		ToolCalls:      m.toolCalls.Load(),
		ToolFailures:   m.toolFailures.Load(),
		TokensUsed:     m.tokensUsed.Load(),
		FallbacksUsed:  m.fallbacksUsed.Load(),
		AvgRequestMs:   avg,
		UptimeSeconds:  int64(time.Since(m.startedAt).Seconds()),
	}

	m.historyMu.Lock()
	m.history = append(m.history, s)
	if len(m.history) > snapshotHistory {
		m.history = m.history[len(m.history)-snapshotHistory:]
	}
	m.historyMu.Unlock()
	return s
}

// History returns a copy of the recorded snapshots, oldest first.
func (m *Monitor) History() []Snapshot {
	m.historyMu.Lock()
	defer m.historyMu.Unlock()
	return append([]Snapshot(nil), m.history...)
}
