package fusion

import (
	"testing"
	"time"
)

func TestEventManager_DispatchRegistrationOrder(t *testing.T) {
	em := NewEventManager()
	var order []int
	em.RegisterCallback(EventEOS, func(any) { order = append(order, 1) })
	em.RegisterCallback(EventEOS, func(any) { order = append(order, 2) })

	if err := em.EmitEvent(EventEOS, nil); err != nil {
		t.Fatalf("emit failed: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected registration-ordered dispatch [1 2], got %v", order)
	}
}

func TestEventManager_UnregisteredCodeErrors(t *testing.T) {
	em := NewEventManager()
	if err := em.EmitEvent(EventCode(9999), nil); err != ErrUnregisteredEvent {
		t.Fatalf("expected ErrUnregisteredEvent, got %v", err)
	}
}

func TestEventManager_ListenerPanicRecovered(t *testing.T) {
	em := NewEventManager()
	em.RegisterCallback(EventEOS, func(any) { panic("boom") })

	called := false
	em.RegisterCallback(EventEOS, func(any) { called = true })

	if err := em.EmitEvent(EventEOS, nil); err != nil {
		t.Fatalf("expected EmitEvent to recover from listener panic, got %v", err)
	}
	if !called {
		t.Fatalf("expected listener after the panicking one to still run")
	}
}

func TestEventManager_WaitForEvent(t *testing.T) {
	em := NewEventManager()
	done := make(chan struct{})
	go func() {
		em.WaitForEvent(EventPipelineStop)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	_ = em.EmitEvent(EventPipelineStop, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("WaitForEvent never returned after EmitEvent")
	}
}

func TestEventManager_ResetCallback(t *testing.T) {
	em := NewEventManager()
	called := false
	em.RegisterCallback(EventEOS, func(any) { called = true })
	em.ResetCallback(EventEOS)

	_ = em.EmitEvent(EventEOS, nil)
	if called {
		t.Fatalf("listener still ran after ResetCallback")
	}
}
