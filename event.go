package fusion

import "sync"

// EventCode identifies a well-known or user-defined pipeline event.
type EventCode uint64

// Well-known pipeline and node lifecycle events.
const (
	EventEOS EventCode = iota + 1
	EventPipelineConfigure
	EventPipelinePrepare
	EventPipelineStart
	EventPipelinePause
	EventPipelineStop
	EventPipelineReconfig
	EventLatencySample
	EventTimestampRecord
)

// EventListener receives the data associated with an emitted event.
type EventListener func(data any)

// EventManager is the per-pipeline registry of event listeners described
// emission is synchronous, on the emitter's goroutine, in registration
// order, and emitting an unregistered code is an error.
type EventManager struct {
	mu        sync.Mutex
	known     map[EventCode]struct{}
	listeners map[EventCode][]EventListener
	waiters   map[EventCode][]chan struct{}
}

// NewEventManager constructs an EventManager with the well-known events
// pre-registered.
func NewEventManager() *EventManager {
	em := &EventManager{
		known:     map[EventCode]struct{}{},
		listeners: map[EventCode][]EventListener{},
		waiters:   map[EventCode][]chan struct{}{},
	}
	for _, code := range []EventCode{
		EventEOS, EventPipelineConfigure, EventPipelinePrepare,
		EventPipelineStart, EventPipelinePause, EventPipelineStop,
		EventPipelineReconfig, EventLatencySample, EventTimestampRecord,
	} {
		em.RegisterEvent(code)
	}
	return em
}

// RegisterEvent adds code to the known set. Emitting an unregistered code
// is an error.
func (em *EventManager) RegisterEvent(code EventCode) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.known[code] = struct{}{}
}

// RegisterCallback appends a listener for code; multiple listeners per
// code are allowed and run in registration order.
func (em *EventManager) RegisterCallback(code EventCode, listener EventListener) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.listeners[code] = append(em.listeners[code], listener)
}

// ResetCallback removes every listener registered for code.
func (em *EventManager) ResetCallback(code EventCode) {
	em.mu.Lock()
	defer em.mu.Unlock()
	delete(em.listeners, code)
}

// ResetAllCallback removes every listener for every code.
func (em *EventManager) ResetAllCallback() {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.listeners = map[EventCode][]EventListener{}
}

// EmitEvent synchronously invokes every listener registered for code, on
// the caller's goroutine, in registration order, then wakes any
// WaitForEvent callers. A listener panic is recovered and logged — it
// never unwinds past EmitEvent.
func (em *EventManager) EmitEvent(code EventCode, data any) error {
	em.mu.Lock()
	if _, ok := em.known[code]; !ok {
		em.mu.Unlock()
		return ErrUnregisteredEvent
	}
	listeners := append([]EventListener(nil), em.listeners[code]...)
	waiters := em.waiters[code]
	delete(em.waiters, code)
	em.mu.Unlock()

	for _, l := range listeners {
		em.invokeSafely(l, data)
	}

	for _, ch := range waiters {
		close(ch)
	}

	return nil
}

func (em *EventManager) invokeSafely(l EventListener, data any) {
	defer func() {
		if r := recover(); r != nil {
			defaultLogger.WithField("recovered", r).Error("fusion: event listener panicked")
		}
	}()
	l(data)
}

// WaitForEvent blocks the caller until any goroutine emits code.
func (em *EventManager) WaitForEvent(code EventCode) {
	em.mu.Lock()
	ch := make(chan struct{})
	em.waiters[code] = append(em.waiters[code], ch)
	em.mu.Unlock()
	<-ch
}
