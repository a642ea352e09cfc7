// Package testnode is a minimal reference NodeInterface implementation:
// a single in-port/out-port passthrough that forwards every blob it
// receives unchanged. It exists as worked documentation for anyone
// writing a new leaf-node package, and as a dependency integration
// tests outside the core module can build a real topology around
// without needing a cloud/DB credential.
package testnode

import (
	"time"

	fusion "github.com/edge-ai-suites/fusion-pipeline"
)

func init() {
	fusion.RegisterNodeClass("TestNode", New)
}

// New constructs a passthrough node. threadNum is accepted for symmetry
// with fusion.NodeClassCtor; a passthrough has no per-thread state.
func New(threadNum int) fusion.NodeInterface {
	return &node{}
}

type node struct {
	self *fusion.Node
}

func (n *node) BindNode(self *fusion.Node) { n.self = self }

func (n *node) ValidateConfiguration(s string) error { return nil }
func (n *node) Prepare() error                       { return nil }
func (n *node) Rearm() error                         { return nil }

// Ports satisfies fusion.PortProvider: one in-port, one out-port, both
// offering the "any" key-string so this node can sit between any two
// protocol-compatible neighbors in a hand-assembled test topology.
func (n *node) Ports() (ins []*fusion.InPort, outs []*fusion.OutPort) {
	proto := fusion.NewProtocol("any")
	return []*fusion.InPort{fusion.NewInPort(0, proto).WithCapacity(32)},
		[]*fusion.OutPort{fusion.NewOutPort(0, proto)}
}

func (n *node) NewWorker(batchIndex int) fusion.NodeWorker {
	return &worker{node: n}
}

type worker struct{ node *node }

func (w *worker) Init()              {}
func (w *worker) ProcessByFirstRun() {}
func (w *worker) ProcessByLastRun()  {}
func (w *worker) Deinit()            {}

func (w *worker) Process() error {
	blobs, err := w.node.self.GetBatchedInput(0, nil, 50*time.Millisecond)
	if err != nil {
		return nil
	}
	for _, blob := range blobs {
		if err := w.node.self.SendOutput(blob, 0, 50*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}
