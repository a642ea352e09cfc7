// Package bigtablesink persists fused-detection blobs into Google Cloud
// Bigtable, registered under node class "BigtableSink".
package bigtablesink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/bigtable"
	fusion "github.com/edge-ai-suites/fusion-pipeline"
)

func init() {
	fusion.RegisterNodeClass("BigtableSink", New)
}

func New(threadNum int) fusion.NodeInterface {
	return &node{}
}

type node struct {
	self   *fusion.Node
	table  *bigtable.Table
	family string
}

func (n *node) BindNode(self *fusion.Node) { n.self = self }

func (n *node) ValidateConfiguration(s string) error {
	for _, key := range []string{"project_id", "instance", "table"} {
		if _, ok := n.self.ConfigValue(key); !ok {
			return fmt.Errorf("bigtablesink: %s is required", key)
		}
	}
	return nil
}

// Prepare opens one bigtable.Client/Table for the node's lifetime, a
// single client shared across every call rather than one per write.
func (n *node) Prepare() error {
	projectID, _ := n.self.ConfigValue("project_id")
	instance, _ := n.self.ConfigValue("instance")
	table, _ := n.self.ConfigValue("table")
	n.family, _ = n.self.ConfigValue("family")
	if n.family == "" {
		n.family = "fused"
	}

	client, err := bigtable.NewClient(context.Background(), projectID, instance)
	if err != nil {
		return fmt.Errorf("bigtablesink: connecting to bigtable: %w", err)
	}
	n.table = client.Open(table)
	return nil
}

func (n *node) Rearm() error { return nil }

func (n *node) Ports() (ins []*fusion.InPort, outs []*fusion.OutPort) {
	return []*fusion.InPort{fusion.NewInPort(0, fusion.NewProtocol("json")).WithCapacity(64)}, nil
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
		for i, buf := range blob.Buffers() {
			mut := bigtable.NewMutation()
			payload, ok := buf.AnyPayload().(map[string]any)
			if !ok {
				continue
			}
			for k, v := range payload {
				mut.Set(w.node.family, k, bigtable.Now(), []byte(fmt.Sprint(v)))
			}
			rowKey := blob.StreamID + "#" + strconv.FormatUint(blob.FrameID, 10) + "#" + strconv.Itoa(i)
			if err := w.node.table.Apply(context.Background(), rowKey, mut); err != nil {
				return err
			}
		}
	}
	return nil
}
