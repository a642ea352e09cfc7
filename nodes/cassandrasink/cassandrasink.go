// Package cassandrasink persists fused-detection blobs into Cassandra via
// a prepared write query, registered under node class "CassandraSink".
package cassandrasink

import (
	"fmt"
	"strings"
	"time"

	fusion "github.com/edge-ai-suites/fusion-pipeline"
	"github.com/gocql/gocql"
)

func init() {
	fusion.RegisterNodeClass("CassandraSink", New)
}

func New(threadNum int) fusion.NodeInterface {
	return &node{}
}

type node struct {
	self    *fusion.Node
	session *gocql.Session
	query   string
	keys    []string
}

func (n *node) BindNode(self *fusion.Node) { n.self = self }

func (n *node) ValidateConfiguration(s string) error {
	for _, key := range []string{"hosts", "keyspace", "query"} {
		if _, ok := n.self.ConfigValue(key); !ok {
			return fmt.Errorf("cassandrasink: %s is required", key)
		}
	}
	return nil
}

// Prepare opens one gocql.Session for the node's lifetime: cluster,
// keyspace, and consistency are fixed at construction.
func (n *node) Prepare() error {
	hosts, _ := n.self.ConfigValue("hosts")
	keyspace, _ := n.self.ConfigValue("keyspace")
	n.query, _ = n.self.ConfigValue("query")
	if keys, ok := n.self.ConfigValue("keys"); ok {
		n.keys = strings.Split(keys, ",")
	}

	cluster := gocql.NewCluster(hosts)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum

	session, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("cassandrasink: connecting to cassandra: %w", err)
	}
	n.session = session
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
		for _, buf := range blob.Buffers() {
			payload, ok := buf.AnyPayload().(map[string]any)
			if !ok {
				continue
			}
			values := make([]any, 0, len(w.node.keys))
			for _, key := range w.node.keys {
				values = append(values, payload[key])
			}
			if err := w.node.session.Query(w.node.query, values...).Exec(); err != nil {
				return err
			}
		}
	}
	return nil
}
