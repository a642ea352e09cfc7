package fusion

import "testing"

func TestStateMachine_ForwardOrder(t *testing.T) {
	sm := NewStateMachine()

	sequence := []State{StateConfigured, StatePrepared, StateRunning, StateDepleting, StateStop}
	for _, target := range sequence {
		if err := sm.TransitTo(target); err != nil {
			t.Fatalf("transit to %s failed: %v", target, err)
		}
	}
	if sm.Get() != StateStop {
		t.Fatalf("expected final state %s, got %s", StateStop, sm.Get())
	}
}

func TestStateMachine_RejectsSkippedState(t *testing.T) {
	sm := NewStateMachine()
	if err := sm.TransitTo(StateRunning); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady skipping states, got %v", err)
	}
}

func TestStateMachine_ForceStopFromAnyState(t *testing.T) {
	sm := NewStateMachine()
	_ = sm.TransitTo(StateConfigured)
	sm.ForceStop()
	if sm.Get() != StateStop {
		t.Fatalf("expected forced state %s, got %s", StateStop, sm.Get())
	}
}

func TestStateMachine_RearmResetsToPrepared(t *testing.T) {
	sm := NewStateMachine()
	sm.ForceStop()
	if err := sm.Rearm(); err != nil {
		t.Fatalf("rearm failed: %v", err)
	}
	if sm.Get() != StatePrepared {
		t.Fatalf("expected %s after rearm, got %s", StatePrepared, sm.Get())
	}
}

func TestStateMachine_RearmRejectedUnlessStopped(t *testing.T) {
	sm := NewStateMachine()
	if err := sm.Rearm(); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady rearming a non-stopped machine, got %v", err)
	}
}

func TestStateMachine_OnTransitionFires(t *testing.T) {
	sm := NewStateMachine()
	var seen []State
	sm.OnTransition(func(s State) { seen = append(seen, s) })

	_ = sm.TransitTo(StateConfigured)
	sm.ForceStop()

	if len(seen) != 2 || seen[0] != StateConfigured || seen[1] != StateStop {
		t.Fatalf("expected [configured stop], got %v", seen)
	}
}
