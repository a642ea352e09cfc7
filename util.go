package fusion

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

func goTypeName(v any) string {
	return fmt.Sprintf("%T", v)
}

func newID() string {
	return uuid.NewString()
}

// monotonicCounter hands out a per-process unique integer, used as a
// buffer's stable key-string companion.
type monotonicCounter struct {
	n atomic.Int64
}

func (c *monotonicCounter) next() int64 {
	return c.n.Add(1)
}

var bufferClassCounter monotonicCounter
