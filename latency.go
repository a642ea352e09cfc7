package fusion

import "sync"

// LatencySample is the payload a node emits on EventLatencySample: the
// wall-clock duration one blob spent between a node's input and its
// corresponding output.
type LatencySample struct {
	NodeID string
	Value  float64 // seconds
}

// latencyMonitor listens for EventLatencySample and keeps a rolling
// exponential moving average per node, the supplemented feature
// the latency monitor adds on top of the raw per-worker counters: a
// smoothed, low-overhead signal suitable for a dashboard or alerting rule
// without requiring a caller to compute it from Executor.Stats samples
// itself.
type latencyMonitor struct {
	mu    sync.Mutex
	ema   map[string]float64
	alpha float64
}

// newLatencyMonitor registers itself against events for EventLatencySample
// and returns the monitor so Pipeline.Stats-adjacent callers can read the
// smoothed values back out.
func newLatencyMonitor(events *EventManager) *latencyMonitor {
	m := &latencyMonitor{
		ema:   map[string]float64{},
		alpha: 0.2,
	}
	events.RegisterCallback(EventLatencySample, func(data any) {
		sample, ok := data.(LatencySample)
		if !ok {
			return
		}
		m.observe(sample)
	})
	return m
}

func (m *latencyMonitor) observe(sample LatencySample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.ema[sample.NodeID]
	if !ok {
		m.ema[sample.NodeID] = sample.Value
		return
	}
	m.ema[sample.NodeID] = m.alpha*sample.Value + (1-m.alpha)*prev
}

// Average returns the current smoothed latency estimate, in seconds, for
// nodeID, or 0 if no sample has been observed yet.
func (m *latencyMonitor) Average(nodeID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ema[nodeID]
}
