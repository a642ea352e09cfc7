package fusion

import "testing"

func TestLatencyMonitor_RollingAverage(t *testing.T) {
	events := NewEventManager()
	m := newLatencyMonitor(events)

	_ = events.EmitEvent(EventLatencySample, LatencySample{NodeID: "n", Value: 1.0})
	if got := m.Average("n"); got != 1.0 {
		t.Fatalf("expected first sample to set average directly, got %f", got)
	}

	_ = events.EmitEvent(EventLatencySample, LatencySample{NodeID: "n", Value: 0.0})
	got := m.Average("n")
	if got <= 0 || got >= 1.0 {
		t.Fatalf("expected smoothed average strictly between 0 and 1, got %f", got)
	}
}

func TestLatencyMonitor_UnknownNodeZero(t *testing.T) {
	events := NewEventManager()
	m := newLatencyMonitor(events)
	if got := m.Average("absent"); got != 0 {
		t.Fatalf("expected 0 for a node with no samples, got %f", got)
	}
}
