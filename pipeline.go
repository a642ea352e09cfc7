package fusion

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type edgeSpec struct {
	fromNode string
	fromPort int
	toNode   string
	toPort   int
}

// Pipeline is the top-level orchestrator: it owns nodes by insertion
// order, a list of executors built at prepare time, an event manager, a
// latency monitor, a global state, and a per-class node count (see
// ClassCount).
type Pipeline struct {
	ID string

	mu          sync.Mutex
	nodes       map[string]*Node
	order       []string
	sourceName  string
	edges       []edgeSpec
	classCounts map[string]int

	events      *EventManager
	state       *StateMachine
	latency     *latencyMonitor
	logger      *logrus.Logger
	depletePoll time.Duration

	executors []*Executor
	errCh     chan *Error
}

// NewPipeline constructs an empty Pipeline. Its ID is used to uniquely
// stamp errors and is otherwise opaque to the framework.
func NewPipeline(id string, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		ID:          id,
		nodes:       map[string]*Node{},
		classCounts: map[string]int{},
		events:      NewEventManager(),
		state:       NewStateMachine(),
		logger:      defaultLogger,
		depletePoll: 5 * time.Millisecond,
		errCh:       make(chan *Error, 16),
	}
	p.latency = newLatencyMonitor(p.events)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Events returns the pipeline's event manager, for node implementations
// that need to register additional listeners before Prepare.
func (p *Pipeline) Events() *EventManager { return p.events }

// LatencyAverage returns the smoothed per-node latency the latency
// monitor maintains from EventLatencySample emissions.
func (p *Pipeline) LatencyAverage(nodeID string) float64 {
	return p.latency.Average(nodeID)
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State { return p.state.Get() }

// AddNode registers node under its own ID; names must be unique within
// the pipeline. The node's class-name counter is bumped (see
// ClassCount).
func (p *Pipeline) AddNode(node *Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.nodes[node.ID]; exists {
		return ErrDuplicateName
	}

	p.nodes[node.ID] = node
	p.order = append(p.order, node.ID)
	p.classCounts[node.Class]++
	return nil
}

// SetSource registers node as the pipeline's source and records it with
// AddNode. The source is otherwise an ordinary node: SourceName reports
// it, and Prepare treats it like every other node.
func (p *Pipeline) SetSource(node *Node) error {
	if err := p.AddNode(node); err != nil {
		return err
	}
	p.mu.Lock()
	p.sourceName = node.ID
	p.mu.Unlock()
	return nil
}

// ClassCount returns how many nodes of the given class are registered.
func (p *Pipeline) ClassCount(class string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.classCounts[class]
}

// SourceName returns the name passed to SetSource, or "" if none was set.
func (p *Pipeline) SourceName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sourceName
}

// Node looks up a registered node by name.
func (p *Pipeline) Node(name string) (*Node, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[name]
	return n, ok
}

// LinkNode connects prevName's out-port prevPortIdx to nextName's in-port
// nextPortIdx, running protocol negotiation.
func (p *Pipeline) LinkNode(prevName string, prevPortIdx int, nextName string, nextPortIdx int) error {
	p.mu.Lock()
	prev, ok := p.nodes[prevName]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownNode, prevName)
	}
	next, ok := p.nodes[nextName]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownNode, nextName)
	}
	p.mu.Unlock()

	if prevPortIdx < 0 || prevPortIdx >= len(prev.Outs) {
		return fmt.Errorf("%w: %s out-port %d", ErrNotReady, prevName, prevPortIdx)
	}
	if nextPortIdx < 0 || nextPortIdx >= len(next.Ins) {
		return fmt.Errorf("%w: %s in-port %d", ErrNotReady, nextName, nextPortIdx)
	}

	if err := prev.Outs[prevPortIdx].Link(next.Ins[nextPortIdx]); err != nil {
		return err
	}

	p.mu.Lock()
	p.edges = append(p.edges, edgeSpec{fromNode: prevName, fromPort: prevPortIdx, toNode: nextName, toPort: nextPortIdx})
	p.mu.Unlock()
	return nil
}

// Prepare topologically sorts the graph (a cycle fails at once with
// ErrCyclicGraph), validates every node's configuration, invokes each
// node's Prepare, constructs executors, and transitions the pipeline to
// StatePrepared. Configuration errors are collected across all nodes and
// returned together, and so are node Prepare errors, so a topology author
// sees every problem of a step from one call. Protocol negotiation is not
// part of Prepare: LinkNode runs it.
func (p *Pipeline) Prepare() error {
	if err := p.state.TransitTo(StateConfigured); err != nil {
		return err
	}
	_ = p.events.EmitEvent(EventPipelineConfigure, p.ID)

	order, err := p.topologicalOrder()
	if err != nil {
		return err
	}

	p.events.RegisterCallback(EventEOS, func(any) { p.beginDepleting() })

	var errs []error
	for _, name := range order {
		n := p.nodes[name]
		if err := n.impl.ValidateConfiguration(n.configString); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return joinErrors(errs)
	}

	for _, name := range order {
		n := p.nodes[name]
		if err := n.prepare(p.ID, p.events); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return joinErrors(errs)
	}

	p.buildExecutors(order)

	return p.state.TransitTo(StatePrepared)
}

// buildExecutors groups node-workers sharing a batch index into one
// executor: node-worker order is topological, and the number of executor
// lanes is the widest batchCount among all nodes — the declarative
// convention this repository adopts for the open "duplicate count" field.
func (p *Pipeline) buildExecutors(order []string) {
	maxLanes := 0
	for _, name := range order {
		if n := len(p.nodes[name].workers); n > maxLanes {
			maxLanes = n
		}
	}

	p.executors = make([]*Executor, maxLanes)
	for b := 0; b < maxLanes; b++ {
		id := fmt.Sprintf("%s-lane-%d", p.ID, b)
		loopInterval := time.Duration(0)
		ex := NewExecutor(id, b, loopInterval, p.onFatal)
		for _, name := range order {
			n := p.nodes[name]
			if n.LoopInterval > loopInterval {
				loopInterval = n.LoopInterval
			}
			if b < len(n.workers) {
				ex.AddWorker(n, n.workers[b])
			}
		}
		ex.LoopInterval = loopInterval
		p.executors[b] = ex
	}
}

func (p *Pipeline) onFatal(nodeID string, err error) {
	select {
	case p.errCh <- &Error{Err: err, PipelineID: p.ID, NodeID: nodeID, NodeClass: p.nodeClass(nodeID), Time: time.Now().Format(time.RFC3339Nano)}:
	default:
	}
}

func (p *Pipeline) nodeClass(nodeID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.nodes[nodeID]; ok {
		return n.Class
	}
	return ""
}

// topologicalOrder runs Kahn's algorithm over the recorded edges,
// returning ErrCyclicGraph if the graph is not a DAG.
func (p *Pipeline) topologicalOrder() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inDegree := map[string]int{}
	adjacency := map[string][]string{}
	for _, name := range p.order {
		inDegree[name] = 0
	}
	for _, e := range p.edges {
		adjacency[e.fromNode] = append(adjacency[e.fromNode], e.toNode)
		inDegree[e.toNode]++
	}

	var queue []string
	for _, name := range p.order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var out []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		out = append(out, name)

		var next []string
		for _, child := range adjacency[name] {
			inDegree[child]--
			if inDegree[child] == 0 {
				next = append(next, child)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}

	if len(out) != len(p.order) {
		return nil, ErrCyclicGraph
	}
	return out, nil
}

// Start transitions the pipeline to StateRunning and spawns executor
// threads.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	order := append([]string(nil), p.order...)
	p.mu.Unlock()

	for _, name := range order {
		if err := p.nodes[name].run(); err != nil {
			return err
		}
	}

	if err := p.state.TransitTo(StateRunning); err != nil {
		return err
	}

	for _, ex := range p.executors {
		ex.Start()
	}

	go p.watchFatal()

	_ = p.events.EmitEvent(EventPipelineStart, p.ID)
	return nil
}

// watchFatal waits for either a node's fatal failure (propagated via
// errCh by Executor.onFatal) or the pipeline reaching StateStop on its
// own, and force-stops the rest of the pipeline on the former.
func (p *Pipeline) watchFatal() {
	select {
	case err, ok := <-p.errCh:
		if !ok {
			return
		}
		p.logger.WithFields(logrus.Fields{
			"pipeline_id": p.ID,
			"node_id":     err.NodeID,
		}).Error(err.Error())
		p.forceStop()
	case <-p.stoppedSignal():
	}
}

// stoppedSignal returns a channel that is closed once the pipeline
// reaches StateStop, used to retire watchFatal without leaking it.
func (p *Pipeline) stoppedSignal() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		for p.state.Get() != StateStop {
			time.Sleep(p.depletePoll)
		}
		close(ch)
	}()
	return ch
}

// beginDepleting transitions every node to StateDepleting and starts
// polling for drain completion.
func (p *Pipeline) beginDepleting() {
	if p.state.Get() != StateRunning {
		return
	}
	if err := p.state.TransitTo(StateDepleting); err != nil {
		return
	}

	p.mu.Lock()
	order := append([]string(nil), p.order...)
	p.mu.Unlock()

	for _, name := range order {
		_ = p.nodes[name].Deplete()
	}

	go p.pollDepleted()
}

func (p *Pipeline) pollDepleted() {
	ticker := time.NewTicker(p.depletePoll)
	defer ticker.Stop()
	for range ticker.C {
		if p.state.Get() != StateDepleting {
			return
		}
		if p.allDepleted() {
			p.finalizeStop()
			return
		}
	}
}

func (p *Pipeline) allDepleted() bool {
	p.mu.Lock()
	order := append([]string(nil), p.order...)
	p.mu.Unlock()

	for _, name := range order {
		if !p.nodes[name].depleted() {
			return false
		}
	}
	return true
}

// finalizeStop is the controlled depleting->stop transition: every node
// advances to StateStop, executors are asked to stop and joined, and
// EventPipelineStop fires.
func (p *Pipeline) finalizeStop() {
	p.mu.Lock()
	order := append([]string(nil), p.order...)
	p.mu.Unlock()

	for _, ex := range p.executors {
		ex.Stop()
	}
	for _, ex := range p.executors {
		ex.Join()
	}

	for _, name := range order {
		n := p.nodes[name]
		_ = n.state.TransitTo(StateStop)
		for _, in := range n.Ins {
			in.setState(StateStop)
			in.Clear()
		}
		for _, wh := range n.workers {
			_ = wh.state.TransitTo(StateStop)
		}
	}

	_ = p.state.TransitTo(StateStop)
	_ = p.events.EmitEvent(EventPipelineStop, p.ID)
}

// Stop stops the pipeline. graceful drives the same depleting drain a
// natural EOS would; !graceful force-stops immediately:
// every worker's stop flag is set, every port's state forces to StateStop,
// every condition variable is broadcast, and executor threads are joined.
func (p *Pipeline) Stop(graceful bool) error {
	if graceful {
		p.beginDepleting()
		return nil
	}
	p.forceStop()
	return nil
}

func (p *Pipeline) forceStop() {
	p.mu.Lock()
	order := append([]string(nil), p.order...)
	p.mu.Unlock()

	for _, name := range order {
		p.nodes[name].TransitStateToStopForced()
	}
	for _, ex := range p.executors {
		ex.Stop()
	}
	for _, ex := range p.executors {
		ex.Join()
	}

	p.state.ForceStop()
	_ = p.events.EmitEvent(EventPipelineStop, p.ID)
}

// EmitEvent dispatches code via the pipeline's event manager.
func (p *Pipeline) EmitEvent(code EventCode, data any) error {
	return p.events.EmitEvent(code, data)
}

// WaitForEvent blocks until code is next emitted anywhere in the pipeline.
// WaitForEvent(EventPipelineStop) is the idiomatic way to block a caller
// until the whole pipeline reaches StateStop.
func (p *Pipeline) WaitForEvent(code EventCode) {
	p.events.WaitForEvent(code)
}

// Rearm resets a stopped pipeline instance back to StatePrepared for
// reuse: it resets executors and every node.
func (p *Pipeline) Rearm() error {
	p.mu.Lock()
	order := append([]string(nil), p.order...)
	p.mu.Unlock()

	for _, name := range order {
		if err := p.nodes[name].Rearm(); err != nil {
			return err
		}
	}

	if err := p.state.Rearm(); err != nil {
		return err
	}

	p.buildExecutors(mustOrder(order, p))
	return nil
}

func mustOrder(fallback []string, p *Pipeline) []string {
	order, err := p.topologicalOrder()
	if err != nil {
		return fallback
	}
	return order
}

// Stats aggregates WorkerStats across every executor, matching the
// per-executor-per-node JSON performance-data shape.
func (p *Pipeline) Stats() []ExecutorStats {
	out := make([]ExecutorStats, 0, len(p.executors))
	for _, ex := range p.executors {
		out = append(out, ex.Stats())
	}
	return out
}

func joinErrors(errs []error) error {
	msg := ""
	for i, e := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += e.Error()
	}
	return fmt.Errorf("%s", msg)
}
