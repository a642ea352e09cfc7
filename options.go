package fusion

import (
	"time"

	"github.com/sirupsen/logrus"
)

// PipelineOption configures a Pipeline at construction. Options are
// applied in order, each able to override an earlier one — the same
// last-write-wins shape, expressed as idiomatic Go functional options
// instead of a mergeable struct.
type PipelineOption func(*Pipeline)

// WithLogger overrides the pipeline's logger. A nil logger is rejected in
// favor of the package default.
func WithLogger(logger *logrus.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDepletePollInterval overrides how frequently the pipeline checks
// whether every node has drained during the depleting state. Default is
// 5ms.
func WithDepletePollInterval(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.depletePoll = d
		}
	}
}
