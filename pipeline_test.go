package fusion

import (
	"sync/atomic"
	"testing"
	"time"
)

// sourceImpl emits `total` blobs then emits EventEOS, the trigger that
// advances a pipeline into the "depleting" state.
type sourceImpl struct {
	node  *Node
	total int
}

func (s *sourceImpl) ValidateConfiguration(string) error { return nil }
func (s *sourceImpl) Prepare() error                     { return nil }
func (s *sourceImpl) Rearm() error                       { return nil }
func (s *sourceImpl) NewWorker(int) NodeWorker {
	return &sourceWorker{impl: s}
}

type sourceWorker struct {
	impl *sourceImpl
	sent int
}

func (w *sourceWorker) Init()              {}
func (w *sourceWorker) ProcessByFirstRun() {}
func (w *sourceWorker) ProcessByLastRun()  {}
func (w *sourceWorker) Deinit()            {}
func (w *sourceWorker) Process() error {
	if w.sent >= w.impl.total {
		// Re-emit EOS on every call once exhausted rather than once: a
		// rearmed pipeline's worker keeps its own send counter (the
		// framework only resets port/state-machine bookkeeping in
		// Node.Rearm), so this is what drives depleting on a second run.
		_ = w.impl.node.EmitEvent(EventEOS, nil)
		time.Sleep(time.Millisecond)
		return nil
	}
	blob := NewBlob("0", uint64(w.sent), 0)
	if err := w.impl.node.SendOutput(blob, 0, time.Second); err != nil {
		return err
	}
	w.sent++
	if w.sent == w.impl.total {
		_ = w.impl.node.EmitEvent(EventEOS, nil)
	}
	return nil
}

// sinkImpl counts blobs it receives.
type sinkImpl struct {
	node     *Node
	received atomic.Int32
}

func (s *sinkImpl) ValidateConfiguration(string) error { return nil }
func (s *sinkImpl) Prepare() error                     { return nil }
func (s *sinkImpl) Rearm() error                       { return nil }
func (s *sinkImpl) NewWorker(int) NodeWorker {
	return &sinkWorker{impl: s}
}

type sinkWorker struct{ impl *sinkImpl }

func (w *sinkWorker) Init()              {}
func (w *sinkWorker) ProcessByFirstRun() {}
func (w *sinkWorker) ProcessByLastRun()  {}
func (w *sinkWorker) Deinit()            {}
func (w *sinkWorker) Process() error {
	blobs, err := w.impl.node.GetBatchedInput(0, nil, 20*time.Millisecond)
	if err != nil {
		return nil
	}
	for range blobs {
		w.impl.received.Add(1)
	}
	return nil
}

func buildLinearPipeline(t *testing.T, total int) (*Pipeline, *sinkImpl) {
	t.Helper()

	p := NewPipeline("test-pipeline")

	proto := NewProtocol("test")
	src := &sourceImpl{total: total}
	srcNode := NewNode("src", "source", src, 1, BatchingConfig{Kind: IgnoreStream})
	srcNode.AddOutPort(NewOutPort(0, proto))
	src.node = srcNode

	sink := &sinkImpl{}
	sinkNode := NewNode("sink", "sink", sink, 1, BatchingConfig{Kind: IgnoreStream})
	sinkNode.AddInPort(NewInPort(0, proto).WithCapacity(32))
	sink.node = sinkNode

	if err := srcNode.ConfigureByString(""); err != nil {
		t.Fatalf("configure src failed: %v", err)
	}
	if err := sinkNode.ConfigureByString(""); err != nil {
		t.Fatalf("configure sink failed: %v", err)
	}

	if err := p.SetSource(srcNode); err != nil {
		t.Fatalf("set source failed: %v", err)
	}
	if err := p.AddNode(sinkNode); err != nil {
		t.Fatalf("add sink failed: %v", err)
	}
	if err := p.LinkNode("src", 0, "sink", 0); err != nil {
		t.Fatalf("link failed: %v", err)
	}

	return p, sink
}

func TestPipeline_AssembleAndRunToCompletion(t *testing.T) {
	p, sink := buildLinearPipeline(t, 5)

	if err := p.Prepare(); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	p.WaitForEvent(EventPipelineStop)

	if p.State() != StateStop {
		t.Fatalf("expected pipeline stopped, got %s", p.State())
	}
	if sink.received.Load() != 5 {
		t.Fatalf("expected sink to receive 5 blobs, got %d", sink.received.Load())
	}
	if p.SourceName() != "src" {
		t.Fatalf("expected source name %q, got %q", "src", p.SourceName())
	}
	if p.ClassCount("source") != 1 {
		t.Fatalf("expected 1 registered node of class %q, got %d", "source", p.ClassCount("source"))
	}
	if len(p.Stats()) == 0 {
		t.Fatalf("expected nonempty executor stats after a run")
	}
}

func TestPipeline_ForceStop(t *testing.T) {
	p, _ := buildLinearPipeline(t, 1000000)

	if err := p.Prepare(); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := p.Stop(false); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if p.State() != StateStop {
		t.Fatalf("expected pipeline stopped, got %s", p.State())
	}
}

func TestPipeline_RearmAndRerun(t *testing.T) {
	p, sink := buildLinearPipeline(t, 3)

	if err := p.Prepare(); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	p.WaitForEvent(EventPipelineStop)
	if sink.received.Load() != 3 {
		t.Fatalf("expected 3 received before rearm, got %d", sink.received.Load())
	}

	if err := p.Rearm(); err != nil {
		t.Fatalf("rearm failed: %v", err)
	}
	if p.State() != StatePrepared {
		t.Fatalf("expected prepared after rearm, got %s", p.State())
	}

	// Rearm resets node state but does not reset source worker's own send
	// counter (owned by the leaf node, not the framework) — confirm the
	// pipeline can still reach running and stop again cleanly.
	if err := p.Start(); err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	p.WaitForEvent(EventPipelineStop)
	if p.State() != StateStop {
		t.Fatalf("expected stopped after second run, got %s", p.State())
	}
}

func TestPipeline_CycleDetection(t *testing.T) {
	p := NewPipeline("cyclic")
	proto := NewProtocol("test")

	a := NewNode("a", "noop", noopNode{}, 1, BatchingConfig{Kind: IgnoreStream})
	a.AddInPort(NewInPort(0, proto))
	a.AddOutPort(NewOutPort(0, proto))
	b := NewNode("b", "noop", noopNode{}, 1, BatchingConfig{Kind: IgnoreStream})
	b.AddInPort(NewInPort(0, proto))
	b.AddOutPort(NewOutPort(0, proto))

	_ = a.ConfigureByString("")
	_ = b.ConfigureByString("")

	if err := p.SetSource(a); err != nil {
		t.Fatalf("set source failed: %v", err)
	}
	if err := p.AddNode(b); err != nil {
		t.Fatalf("add node failed: %v", err)
	}
	if err := p.LinkNode("a", 0, "b", 0); err != nil {
		t.Fatalf("link a->b failed: %v", err)
	}
	if err := p.LinkNode("b", 0, "a", 0); err != nil {
		t.Fatalf("link b->a failed: %v", err)
	}

	if err := p.Prepare(); err != ErrCyclicGraph {
		t.Fatalf("expected ErrCyclicGraph, got %v", err)
	}
}

func TestPipeline_DuplicateNodeName(t *testing.T) {
	p := NewPipeline("dup")
	n1 := NewNode("same", "noop", noopNode{}, 1, BatchingConfig{Kind: IgnoreStream})
	n2 := NewNode("same", "noop", noopNode{}, 1, BatchingConfig{Kind: IgnoreStream})

	if err := p.AddNode(n1); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if err := p.AddNode(n2); err != ErrDuplicateName {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
}
