package fusion

import (
	"sync"
	"sync/atomic"
	"time"
)

// NodeInterface is the external collaborator outside this core's scope:
// the concrete leaf behavior (an H.264 decoder, an OpenVINO wrapper, a
// radar DSP stage, ...). A Node wraps one of these and supplies the Node
// API exposed to workers.
type NodeInterface interface {
	// ValidateConfiguration validates the node's configuration string,
	// run during the idle->configured transition.
	ValidateConfiguration(configString string) error
	// Prepare allocates resources and arms worker factories, run during
	// the configured->prepared transition.
	Prepare() error
	// NewWorker constructs the NodeWorker bound to the given batch
	// index. Called once per batch index of this node (0 up to its batch
	// count minus one) during prepare.
	NewWorker(batchIndex int) NodeWorker
	// Rearm restores the node's own internal state so a stopped pipeline
	// can be reused.
	Rearm() error
}

// PortProvider is an optional NodeInterface extension a leaf-node package
// implements so topology-driven assembly (topology.go's BuildPipeline) can
// attach its in/out ports without the framework knowing the node's
// concrete protocol choices up front.
type PortProvider interface {
	Ports() (ins []*InPort, outs []*OutPort)
}

// NodeBinder is an optional NodeInterface extension a leaf-node package
// implements to receive the *Node wrapping it. Hand-built pipelines can
// close over both the impl and the Node they construct together; a
// registry-constructed node (topology.go's BuildPipeline) has no other
// way to hand the impl a reference to call SendOutput/GetBatchedInput/
// EmitEvent on, since NodeInterface's own methods take no Node argument.
type NodeBinder interface {
	BindNode(n *Node)
}

// NodeWorker is one execution context bound to a parent Node. It owns no data queue of its own — it reads
// from the parent node's in-ports via Node.GetBatchedInput.
type NodeWorker interface {
	// Init is called once before the first Process call.
	Init()
	// ProcessByFirstRun is called once before the executor's main loop.
	ProcessByFirstRun()
	// Process is called repeatedly while the node's state is Running or
	// Depleting. Implementations must call Node.GetBatchedInput /
	// Node.SendOutput to participate in the graph and must re-check
	// Node.State() after any call that can block.
	Process() error
	// ProcessByLastRun is called once after the executor's main loop
	// exits.
	ProcessByLastRun()
	// Deinit is called once after ProcessByLastRun.
	Deinit()
}

// Node is a vertex in the graph: an ordered list of owned in-ports, an
// ordered list of owned out-ports, a batching configuration, a
// loop-interval, a thread count, a state, a pointer to the pipeline's
// event manager, a callback map, a depleting-hold counter, and a
// configuration string.
type Node struct {
	ID    string
	Class string

	Ins  []*InPort
	Outs []*OutPort

	Batching     BatchingConfig
	LoopInterval time.Duration
	ThreadCount  int

	state      *StateMachine
	events     *EventManager
	pipelineID string

	configString string
	configValues map[string]string

	holdCount atomic.Int32

	batchMu    sync.Mutex
	batchCond  *sync.Cond
	lastFrame  map[string]uint64
	batchStop  bool

	impl             NodeInterface
	workers          []*nodeWorkerHandle
	effectiveBatchSz int
}

// nodeWorkerHandle pairs a user NodeWorker with its own lifecycle state
// and stop flag.
type nodeWorkerHandle struct {
	batchIndex int
	worker     NodeWorker
	state      *StateMachine
	stopFlag   atomic.Bool
}

// NewNode constructs a node around a NodeInterface implementation.
func NewNode(id, class string, impl NodeInterface, threadCount int, batching BatchingConfig) *Node {
	n := &Node{
		ID:          id,
		Class:       class,
		ThreadCount: threadCount,
		Batching:    batching,
		state:       NewStateMachine(),
		lastFrame:   map[string]uint64{},
		impl:        impl,
	}
	n.batchCond = sync.NewCond(&n.batchMu)
	if binder, ok := impl.(NodeBinder); ok {
		binder.BindNode(n)
	}
	return n
}

// AddInPort appends an owned in-port, in order.
func (n *Node) AddInPort(p *InPort) { n.Ins = append(n.Ins, p) }

// AddOutPort appends an owned out-port, in order.
func (n *Node) AddOutPort(p *OutPort) { n.Outs = append(n.Outs, p) }

// State returns the node's current lifecycle state.
func (n *Node) State() State { return n.state.Get() }

// ConfigureByString stores the raw configuration string verbatim and a
// best-effort "Key1=Value1 Key2=Value2" split, then runs
// ValidateConfiguration and advances idle->configured.
func (n *Node) ConfigureByString(s string) error {
	n.configString = s
	n.configValues = parseConfigString(s)

	if err := n.impl.ValidateConfiguration(s); err != nil {
		return err
	}
	return n.state.TransitTo(StateConfigured)
}

// ConfigValue returns a value parsed from the configuration string's
// best-effort Key=Value split.
func (n *Node) ConfigValue(key string) (string, bool) {
	v, ok := n.configValues[key]
	return v, ok
}

// ConfigString returns the raw configuration string passed to
// ConfigureByString.
func (n *Node) ConfigString() string { return n.configString }

// prepare allocates the node's workers and advances
// configured->prepared.
func (n *Node) prepare(pipelineID string, events *EventManager) error {
	n.pipelineID = pipelineID
	n.events = events

	if err := n.impl.Prepare(); err != nil {
		return err
	}

	batchCount := n.Batching.batchCount(n.ThreadCount)
	n.effectiveBatchSz = batchCount
	n.workers = make([]*nodeWorkerHandle, batchCount)
	for b := 0; b < batchCount; b++ {
		n.workers[b] = &nodeWorkerHandle{
			batchIndex: b,
			worker:     n.impl.NewWorker(b),
			state:      NewStateMachine(),
		}
	}

	return n.state.TransitTo(StatePrepared)
}

// run advances prepared->running and marks every in-port running.
func (n *Node) run() error {
	if err := n.state.TransitTo(StateRunning); err != nil {
		return err
	}
	for _, in := range n.Ins {
		in.setState(StateRunning)
	}
	for _, wh := range n.workers {
		// A fresh worker starts at Idle and must step through the full
		// chain; a rearmed worker starts at Prepared and only needs the
		// last step. Each TransitTo besides the one matching the
		// worker's actual current state is a harmless no-op.
		_ = wh.state.TransitTo(StateConfigured)
		_ = wh.state.TransitTo(StatePrepared)
		_ = wh.state.TransitTo(StateRunning)
	}
	return nil
}

// Deplete advances running->depleting: sources stop producing new blobs
// while existing blobs continue to flow. The pipeline
// calls this on every node once EOS is emitted.
func (n *Node) Deplete() error {
	if err := n.state.TransitTo(StateDepleting); err != nil {
		return err
	}
	for _, wh := range n.workers {
		_ = wh.state.TransitTo(StateDepleting)
	}
	return nil
}

// depleted reports whether this node may finalize stop: every in-port is
// drained and the depleting-hold counter is zero.
func (n *Node) depleted() bool {
	if n.holdCount.Load() != 0 {
		return false
	}
	for _, in := range n.Ins {
		if in.Len() > 0 {
			return false
		}
	}
	return true
}

// TransitStateToStopForced forces this node, its ports, and its workers
// directly to StateStop from any state.
func (n *Node) TransitStateToStopForced() {
	n.state.ForceStop()
	for _, in := range n.Ins {
		in.setState(StateStop)
	}
	for _, wh := range n.workers {
		wh.stopFlag.Store(true)
		wh.state.ForceStop()
	}
	n.batchMu.Lock()
	n.batchStop = true
	n.batchMu.Unlock()
	n.batchCond.Broadcast()
}

// Rearm resets the node, its ports, and its workers back to Prepared for
// reuse. The wrapped NodeInterface's own Rearm runs first
// so it may restore any internal state before the framework resets its
// bookkeeping.
func (n *Node) Rearm() error {
	if err := n.impl.Rearm(); err != nil {
		return err
	}

	if err := n.state.Rearm(); err != nil {
		return err
	}
	for _, in := range n.Ins {
		in.setState(StatePrepared)
	}
	n.batchMu.Lock()
	n.batchStop = false
	n.lastFrame = map[string]uint64{}
	n.batchMu.Unlock()

	for _, wh := range n.workers {
		wh.stopFlag.Store(false)
		_ = wh.state.Rearm()
	}
	return nil
}

// HoldDepleting increments this node's depleting-hold counter, used by a
// worker that has dispatched work to an asynchronous callback.
func (n *Node) HoldDepleting() { n.holdCount.Add(1) }

// ReleaseDepleting decrements the depleting-hold counter on callback
// completion.
func (n *Node) ReleaseDepleting() { n.holdCount.Add(-1) }

// Events returns the pipeline's event manager, set once prepare has run,
// so a leaf node can register its own listeners (e.g. a relay node
// republishing pipeline events externally) from within
// NodeInterface.Prepare.
func (n *Node) Events() *EventManager { return n.events }

// EmitEvent dispatches code synchronously via the pipeline's event
// manager.
func (n *Node) EmitEvent(code EventCode, data any) error {
	if n.events == nil {
		return ErrNotReady
	}
	return n.events.EmitEvent(code, data)
}

// SendOutput forwards blob to every downstream in-port on the out-port at
// portIndex, applying that out-port's convert function if installed.
func (n *Node) SendOutput(blob *Blob, portIndex int, timeout time.Duration) error {
	if portIndex < 0 || portIndex >= len(n.Outs) {
		return ErrNotReady
	}
	return n.Outs[portIndex].Send(blob, timeout)
}

// GetBatchedInput selects inputs across the node's in-ports for one
// Process invocation, per the node's BatchingConfig.
// portIndices selects which owned in-ports participate; nil means all of
// them, in port order.
func (n *Node) GetBatchedInput(batchIndex int, portIndices []int, timeout time.Duration) ([]*Blob, error) {
	ports := n.Ins
	if portIndices != nil {
		ports = make([]*InPort, len(portIndices))
		for i, idx := range portIndices {
			ports[i] = n.Ins[idx]
		}
	}

	switch n.Batching.Kind {
	case WithStreamOrdered, WithStreamUnordered:
		return n.getBatchedInputStreamed(batchIndex, ports, timeout)
	default:
		return n.getBatchedInputIgnoreStream(ports, timeout)
	}
}

// getBatchedInputIgnoreStream pulls one blob per configured in-port, in
// port order, regardless of stream or frame-id. If any port is empty the
// batch is empty.
//
// The Len() probe and the Pop calls below each acquire and release the
// target port's own mutex separately, so without n.batchMu a second
// worker could drain a port between this call's probe and its Pop,
// turning what IgnoreStream documents as an immediate empty-batch return
// into a full-timeout block instead. n.batchMu serializes every
// IgnoreStream batch assembly on this Node so only one worker is ever
// inside the probe-then-pop sequence at a time; ThreadCount>1 on an
// IgnoreStream node is therefore correct but gets no read concurrency
// across ports — worker threads take turns assembling whole batches.
func (n *Node) getBatchedInputIgnoreStream(ports []*InPort, timeout time.Duration) ([]*Blob, error) {
	n.batchMu.Lock()
	defer n.batchMu.Unlock()

	out := make([]*Blob, 0, len(ports))
	for _, p := range ports {
		if p.Len() == 0 {
			return nil, nil
		}
	}
	for _, p := range ports {
		blob, err := p.Pop(timeout)
		if err != nil {
			return out, err
		}
		out = append(out, blob)
	}
	return out, nil
}

// getBatchedInputStreamed implements both with-stream variants. It runs under the node's batching mutex/condition variable: a
// worker pulls the blob at the front of each requested port whose
// stream-id shards to batchIndex and, for the ordered variant, whose
// frame-id is the expected next value for that stream; otherwise it
// waits. stopBatching wakes all waiters, returning empty, so workers can
// observe state transitions.
func (n *Node) getBatchedInputStreamed(batchIndex int, ports []*InPort, timeout time.Duration) ([]*Blob, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	n.batchMu.Lock()
	defer n.batchMu.Unlock()

	for {
		if n.batchStop {
			return nil, ErrEndOfStream
		}

		out := make([]*Blob, 0, len(ports))
		matched := true
		for _, p := range ports {
			blob, ok := n.tryMatch(p, batchIndex)
			if !ok {
				matched = false
				break
			}
			out = append(out, blob)
		}
		if matched && len(out) > 0 {
			return out, nil
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}

		if deadline.IsZero() {
			n.batchCond.Wait()
			continue
		}
		n.waitBatchUntil(deadline)
	}
}

func (n *Node) waitBatchUntil(deadline time.Time) {
	timer := time.AfterFunc(time.Until(deadline), func() {
		n.batchMu.Lock()
		n.batchCond.Broadcast()
		n.batchMu.Unlock()
	})
	defer timer.Stop()
	n.batchCond.Wait()
}

// tryMatch peeks the front of p (non-blocking) and pops it if it shards to
// batchIndex and (for the ordered variant) carries the expected next
// frame-id for its stream. A blob of another shard goes back to the front;
// a blob of this shard that is not its stream's next frame goes to the
// back. Must be called with n.batchMu held.
func (n *Node) tryMatch(p *InPort, batchIndex int) (*Blob, bool) {
	blob, err := p.Pop(time.Nanosecond)
	if err != nil {
		return nil, false
	}

	if streamShard(blob.StreamID, n.effectiveBatchSz) != batchIndex {
		// Not this worker's shard: push back to the front so another
		// worker's shard can still observe it.
		p.requeueFront(blob)
		return nil, false
	}

	if n.Batching.Kind == WithStreamOrdered {
		expected := n.lastFrame[blob.StreamID]
		if blob.FrameID != expected {
			// Not its stream's next frame: move it to the back so the
			// expected frame queued behind it can be reached.
			p.mu.Lock()
			p.queue = append(p.queue, blob)
			p.mu.Unlock()
			return nil, false
		}
		n.lastFrame[blob.StreamID] = blob.FrameID + 1
	}

	return blob, true
}

// StopBatching wakes every worker blocked in GetBatchedInput with
// ErrEndOfStream so they can observe a state transition.
func (n *Node) StopBatching() {
	n.batchMu.Lock()
	n.batchStop = true
	n.batchMu.Unlock()
	n.batchCond.Broadcast()
}

// NotifyBatching wakes workers blocked in GetBatchedInput without
// stopping the node, so with-stream workers recheck their ports at once.
// Nothing in the framework calls it: InPort.Push does not wake batching
// waiters, which otherwise recheck when their deadline passes.
func (n *Node) NotifyBatching() {
	n.batchCond.Broadcast()
}
