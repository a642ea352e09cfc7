// Package sqsrelay provides a fused-detection sink node publishing blobs
// to an AWS SQS queue, registered under node class "SQSRelay".
package sqsrelay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	fusion "github.com/edge-ai-suites/fusion-pipeline"
	"github.com/google/uuid"
)

func init() {
	fusion.RegisterNodeClass("SQSRelay", New)
}

func New(threadNum int) fusion.NodeInterface {
	return &node{}
}

type node struct {
	self     *fusion.Node
	queueURL string
	svc      *sqs.SQS
}

func (n *node) BindNode(self *fusion.Node) { n.self = self }

func (n *node) ValidateConfiguration(s string) error {
	if _, ok := n.self.ConfigValue("queue_url"); !ok {
		return fmt.Errorf("sqsrelay: queue_url is required")
	}
	return nil
}

// Prepare opens an AWS session and SQS client via session.Must +
// aws.NewConfig, one svc per node rather than per call.
func (n *node) Prepare() error {
	region, _ := n.self.ConfigValue("region")
	n.queueURL, _ = n.self.ConfigValue("queue_url")

	sess := session.Must(session.NewSession())
	n.svc = sqs.New(sess, aws.NewConfig().WithRegion(region))
	return nil
}

func (n *node) Rearm() error { return nil }

// Ports satisfies fusion.PortProvider: one in-port accepting "json"
// payloads, matching a fused-detection blob's typical encoding.
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

	groupID := uuid.New().String()
	var entries []*sqs.SendMessageBatchRequestEntry
	for _, blob := range blobs {
		for _, buf := range blob.Buffers() {
			payload, err := json.Marshal(buf.AnyPayload())
			if err != nil {
				continue
			}
			id := uuid.New().String()
			body := string(payload)
			entries = append(entries, &sqs.SendMessageBatchRequestEntry{
				MessageGroupId:         &groupID,
				Id:                     &id,
				MessageDeduplicationId: &id,
				MessageBody:            &body,
			})
		}
	}

	if len(entries) == 0 {
		return nil
	}

	_, err = w.node.svc.SendMessageBatch(&sqs.SendMessageBatchInput{
		QueueUrl: &w.node.queueURL,
		Entries:  entries,
	})
	return err
}
