// Package pubsubrelay exports telemetry/latency samples to a Google Cloud Pub/Sub topic,
// registered under node class "PubsubRelay".
package pubsubrelay

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	fusion "github.com/edge-ai-suites/fusion-pipeline"
)

func init() {
	fusion.RegisterNodeClass("PubsubRelay", New)
}

func New(threadNum int) fusion.NodeInterface {
	return &node{}
}

type node struct {
	self  *fusion.Node
	topic *pubsub.Topic
}

func (n *node) BindNode(self *fusion.Node) { n.self = self }

func (n *node) ValidateConfiguration(s string) error {
	if _, ok := n.self.ConfigValue("project_id"); !ok {
		return fmt.Errorf("pubsubrelay: project_id is required")
	}
	if _, ok := n.self.ConfigValue("topic"); !ok {
		return fmt.Errorf("pubsubrelay: topic is required")
	}
	return nil
}

// Prepare connects to the configured project and registers a listener
// for EventLatencySample. One client, one topic, constructed once per
// node.
func (n *node) Prepare() error {
	projectID, _ := n.self.ConfigValue("project_id")
	topicName, _ := n.self.ConfigValue("topic")

	client, err := pubsub.NewClient(context.Background(), projectID)
	if err != nil {
		return fmt.Errorf("pubsubrelay: connecting to pubsub: %w", err)
	}
	n.topic = client.Topic(topicName)

	n.self.Events().RegisterCallback(fusion.EventLatencySample, func(data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		result := n.topic.Publish(context.Background(), &pubsub.Message{Data: payload})
		go func() {
			_, _ = result.Get(context.Background())
		}()
	})
	return nil
}

func (n *node) Rearm() error { return nil }

func (n *node) NewWorker(batchIndex int) fusion.NodeWorker {
	return &worker{}
}

// worker is idle; all activity happens from the EventLatencySample
// callback registered in Prepare.
type worker struct{}

func (w *worker) Init()              {}
func (w *worker) ProcessByFirstRun() {}
func (w *worker) ProcessByLastRun()  {}
func (w *worker) Deinit()            {}
func (w *worker) Process() error     { return nil }
