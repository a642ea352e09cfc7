package fusion

import "strconv"

// BatchingKind selects one of the three input-selection strategies a node
// uses to pull blobs for one Process invocation.
type BatchingKind int

const (
	// IgnoreStream pulls one blob per configured in-port, in port
	// order, regardless of stream or frame-id. This is the default.
	IgnoreStream BatchingKind = iota
	// WithStreamOrdered shards streams across workers by
	// "stream mod BatchSize" and additionally enforces that each
	// stream's frame-ids are dispatched in strictly increasing order.
	WithStreamOrdered
	// WithStreamUnordered shards streams the same way as
	// WithStreamOrdered but does not enforce per-stream frame order.
	WithStreamUnordered
)

// BatchingConfig is a node's batching configuration.
// BatchSize is the number of worker shards (batch indices 0..BatchSize-1)
// used by the two with-stream strategies; it is ignored by IgnoreStream,
// where the number of node-workers is simply the node's ThreadCount.
type BatchingConfig struct {
	Kind      BatchingKind
	BatchSize int
}

// batchCount returns the number of node-workers (and therefore distinct
// batch indices) a node with this config and thread count produces. For
// IgnoreStream every thread is an independent, identically-behaving
// worker; for the with-stream strategies the worker count is the
// configured shard count, falling back to threadCount if unset.
func (bc BatchingConfig) batchCount(threadCount int) int {
	if bc.Kind == IgnoreStream || bc.BatchSize <= 0 {
		return threadCount
	}
	return bc.BatchSize
}

// streamShard maps a stream-id to a batch index in [0, batchSize). Numeric
// stream-ids are sharded by literal "stream mod batchSize"; non-numeric
// stream-ids fall back to an FNV-1a hash mod batchSize, since the exact
// representation of a stream identifier is left as an open implementation
// choice.
func streamShard(streamID string, batchSize int) int {
	if batchSize <= 0 {
		return 0
	}
	if n, err := strconv.Atoi(streamID); err == nil {
		m := n % batchSize
		if m < 0 {
			m += batchSize
		}
		return m
	}

	var h uint32 = 2166136261
	for i := 0; i < len(streamID); i++ {
		h ^= uint32(streamID[i])
		h *= 16777619
	}
	return int(h % uint32(batchSize))
}
