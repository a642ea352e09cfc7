package fusion

import "sync"

// State is a lifecycle state shared by every hierarchical entity in the
// graph — pipeline, node, worker, port.
type State int

const (
	StateIdle State = iota
	StateConfigured
	StatePrepared
	StateRunning
	StateDepleting
	StateStop
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StatePrepared:
		return "prepared"
	case StateRunning:
		return "running"
	case StateDepleting:
		return "depleting"
	case StateStop:
		return "stop"
	default:
		return "unknown"
	}
}

// forwardEdges encodes the fixed partial order of the lifecycle: each
// state may only advance to the next state in the controlled sequence,
// except that any state may force-transition directly to StateStop.
var forwardEdges = map[State]State{
	StateIdle:       StateConfigured,
	StateConfigured: StatePrepared,
	StatePrepared:   StateRunning,
	StateRunning:    StateDepleting,
	StateDepleting:  StateStop,
}

// StateMachine is the per-entity lifecycle state holder used by Port,
// Node, NodeWorker, and Pipeline. It enforces the lifecycle's partial
// order and lets rearm reset a stopped instance back to StatePrepared
// for reuse.
type StateMachine struct {
	mu    sync.Mutex
	state State
	subs  []func(State)
}

// NewStateMachine constructs a state machine starting at StateIdle.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

// Get returns the current state.
func (s *StateMachine) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnTransition registers a listener invoked synchronously, after the
// state machine's lock is released, whenever TransitTo or ForceStop
// changes the state. Rearm does not notify listeners.
func (s *StateMachine) OnTransition(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// TransitTo advances the state machine to target, enforcing the fixed
// lifecycle's partial order. It returns ErrNotReady if target is not the
// controlled successor of the current state.
func (s *StateMachine) TransitTo(target State) error {
	s.mu.Lock()
	if forwardEdges[s.state] != target {
		s.mu.Unlock()
		return ErrNotReady
	}
	s.state = target
	subs := append([]func(State)(nil), s.subs...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(target)
	}
	return nil
}

// ForceStop transitions the state machine directly to StateStop from any
// state.
func (s *StateMachine) ForceStop() {
	s.mu.Lock()
	if s.state == StateStop {
		s.mu.Unlock()
		return
	}
	s.state = StateStop
	subs := append([]func(State)(nil), s.subs...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(StateStop)
	}
}

// Rearm resets a stopped state machine back to StatePrepared for reuse.
func (s *StateMachine) Rearm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateStop {
		return ErrNotReady
	}
	s.state = StatePrepared
	return nil
}
