package fusion

import "errors"

// Sentinel error kinds returned by framework operations. Callers should
// use errors.Is against these rather than comparing error strings.
var (
	// ErrTimeout is returned when a blocking call's deadline elapses
	// before the operation could complete.
	ErrTimeout = errors.New("fusion: timeout")

	// ErrEndOfStream is returned when a port or queue entered the stop
	// state while the caller was waiting on it.
	ErrEndOfStream = errors.New("fusion: end of stream")

	// ErrNotReady is returned when an operation is invoked against an
	// entity that is not in the state required for it.
	ErrNotReady = errors.New("fusion: not ready")

	// ErrProtocolMismatch is returned when linking two ports whose
	// offered key-string sets do not overlap and no convert function
	// is supplied.
	ErrProtocolMismatch = errors.New("fusion: protocol mismatch")

	// ErrUnknownNode is returned by topology assembly when an edge or
	// config references a node name that was never registered.
	ErrUnknownNode = errors.New("fusion: unknown node")

	// ErrDuplicateName is returned when setSource/addNode is called
	// with a name already in use within the pipeline.
	ErrDuplicateName = errors.New("fusion: duplicate node name")

	// ErrCyclicGraph is returned by prepare when the node/edge topology
	// contains a cycle.
	ErrCyclicGraph = errors.New("fusion: cyclic graph")

	// ErrUnregisteredEvent is returned when emitting a code that was
	// never passed to RegisterEvent.
	ErrUnregisteredEvent = errors.New("fusion: unregistered event")
)

// Error wraps a framework failure with the entity that raised it: the
// pipeline ID, the node's ID and class, and a timestamp. The pipeline
// builds one for each worker failure or recovered worker panic.
type Error struct {
	Err        error
	PipelineID string
	NodeID     string
	NodeClass  string
	Time       string
}

func (e *Error) Error() string {
	return e.NodeClass + "[" + e.NodeID + "] in pipeline " + e.PipelineID + " at " + e.Time + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
