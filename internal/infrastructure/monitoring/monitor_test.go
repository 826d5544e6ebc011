package monitoring

import (
	"sync"
	"testing"
)

func TestRecordAndSnapshot(t *testing.T) {
	m := NewMonitor()
	m.RecordRequest(true, 100, 50, 0)
	m.RecordRequest(false, 300, 0, 2)
	m.RecordToolCall(true)
	m.RecordToolCall(false)

	s := m.Snapshot()
	if s.Requests != 2 || s.RequestsFailed != 1 {
		t.Fatalf("requests = %d failed = %d", s.Requests, s.RequestsFailed)
	}
	if s.ToolCalls != 2 || s.ToolFailures != 1 {
		t.Fatalf("tool calls = %d failures = %d", s.ToolCalls, s.ToolFailures)
	}
	if s.TokensUsed != 50 || s.FallbacksUsed != 2 {
		t.Fatalf("tokens = %d fallbacks = %d", s.TokensUsed, s.FallbacksUsed)
	}
	if s.AvgRequestMs != 200 {
		t.Fatalf("avg = %d, want 200", s.AvgRequestMs)
	}
}

func TestHistoryBounded(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < snapshotHistory+25; i++ {
		m.RecordRequest(true, 1, 1, 0)
		m.Snapshot()
	}

	history := m.History()
	if len(history) != snapshotHistory {
		t.Fatalf("history length = %d, want %d", len(history), snapshotHistory)
	}
	// The oldest retained snapshot saw the first 26 requests.
	if history[0].Requests != 26 {
		t.Fatalf("oldest snapshot requests = %d, want 26", history[0].Requests)
	}
	if last := history[len(history)-1]; last.Requests != snapshotHistory+25 {
		t.Fatalf("latest snapshot requests = %d", last.Requests)
	}
}

func TestConcurrentRecording(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.RecordRequest(true, 10, 5, 0)
			}
		}()
	}
	wg.Wait()

	if s := m.Snapshot(); s.Requests != 800 || s.TokensUsed != 4000 {
		t.Fatalf("requests = %d tokens = %d", s.Requests, s.TokensUsed)
	}
}
