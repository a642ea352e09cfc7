// Package kafkasource provides a video/radar frame source node reading
// JSON-encoded frames off a Kafka topic, registered into the process-wide
// node registry under class "KafkaSource".
package kafkasource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	fusion "github.com/edge-ai-suites/fusion-pipeline"
	kaf "github.com/segmentio/kafka-go"
	"github.com/spf13/viper"
)

func init() {
	fusion.RegisterNodeClass("KafkaSource", New)
}

// New constructs a KafkaSource node bound to threadNum workers; each
// worker opens its own kaf.Reader against the same topic and partition,
// one reader per consumer.
func New(threadNum int) fusion.NodeInterface {
	return &node{}
}

type node struct {
	self *fusion.Node
}

// BindNode satisfies fusion.NodeBinder: BuildPipeline calls this right
// after constructing the owning Node so workers can reach
// SendOutput/EmitEvent through it.
func (n *node) BindNode(self *fusion.Node) { n.self = self }

// ValidateConfiguration reads the node's configuration string through
// Node.ConfigValue into a *viper.Viper.
func (n *node) ValidateConfiguration(s string) error {
	v := n.viper()
	if v.GetString("topic") == "" {
		return fmt.Errorf("kafkasource: topic is required")
	}
	if len(v.GetStringSlice("brokers")) == 0 {
		return fmt.Errorf("kafkasource: brokers is required")
	}
	return nil
}

func (n *node) Prepare() error { return nil }
func (n *node) Rearm() error   { return nil }

// Ports satisfies fusion.PortProvider: one out-port offering the "json"
// key-string, matching the payload this node emits.
func (n *node) Ports() (ins []*fusion.InPort, outs []*fusion.OutPort) {
	return nil, []*fusion.OutPort{fusion.NewOutPort(0, fusion.NewProtocol("json"))}
}

func (n *node) NewWorker(batchIndex int) fusion.NodeWorker {
	return &worker{node: n}
}

func (n *node) viper() *viper.Viper {
	v := viper.New()
	if n.self == nil {
		return v
	}
	for _, key := range []string{"topic", "brokers", "partition", "deadline", "retries"} {
		if val, ok := n.self.ConfigValue(key); ok {
			v.Set(key, val)
		}
	}
	return v
}

type worker struct {
	node     *node
	reader   *kaf.Reader
	frameID  uint64
	deadline time.Duration
}

func (w *worker) Init() {}

func (w *worker) ProcessByFirstRun() {
	v := w.node.viper()
	w.reader = kaf.NewReader(kaf.ReaderConfig{
		Brokers:     v.GetStringSlice("brokers"),
		Topic:       v.GetString("topic"),
		Partition:   v.GetInt("partition"),
		MaxWait:     v.GetDuration("deadline"),
		MaxAttempts: v.GetInt("retries"),
	})
	w.deadline = v.GetDuration("deadline")
	if w.deadline <= 0 {
		w.deadline = time.Second
	}
}

func (w *worker) ProcessByLastRun() {}

func (w *worker) Deinit() {
	if w.reader != nil {
		_ = w.reader.Close()
	}
}

func (w *worker) Process() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.deadline)
	defer cancel()

	message, err := w.reader.ReadMessage(ctx)
	if err != nil {
		// A read timeout is the normal idle case, not a node failure;
		// every other read error, a closed reader included, is treated
		// the same way.
		return nil
	}

	payload := map[string]any{}
	if err := json.Unmarshal(message.Value, &payload); err != nil {
		return nil
	}

	blob := fusion.NewBlob(message.Topic, w.frameID, message.Partition)
	blob.Push(fusion.NewBuffer("json", payload, int64(len(message.Value)), nil))
	w.frameID++

	return w.node.self.SendOutput(blob, 0, w.deadline)
}
