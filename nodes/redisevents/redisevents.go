// Package redisevents relays pipeline events to a Redis
// pub/sub channel for cross-pipeline coordination, registered under node
// class "RedisEvents".
package redisevents

import (
	"encoding/json"
	"fmt"

	fusion "github.com/edge-ai-suites/fusion-pipeline"
	ps "github.com/gomodule/redigo/redis"
)

func init() {
	fusion.RegisterNodeClass("RedisEvents", New)
}

// New constructs a RedisEvents relay node. It carries no in/out ports: it
// participates in the graph only as an event listener, not as a blob
// consumer or producer.
func New(threadNum int) fusion.NodeInterface {
	return &node{}
}

type node struct {
	self *fusion.Node
	pool *ps.Pool
}

func (n *node) BindNode(self *fusion.Node) { n.self = self }

func (n *node) ValidateConfiguration(s string) error {
	if _, ok := n.self.ConfigValue("address"); !ok {
		return fmt.Errorf("redisevents: address is required")
	}
	return nil
}

// Prepare dials the configured Redis address and registers listeners for
// the well-known events worth relaying to other pipelines: EOS and
// latency samples.
func (n *node) Prepare() error {
	address, _ := n.self.ConfigValue("address")
	channel, ok := n.self.ConfigValue("channel")
	if !ok {
		channel = "fusion.events"
	}

	n.pool = &ps.Pool{
		Dial: func() (ps.Conn, error) {
			return ps.Dial("tcp", address)
		},
	}

	events := n.self.Events()
	events.RegisterCallback(fusion.EventEOS, func(data any) {
		n.publish(channel, "eos", data)
	})
	events.RegisterCallback(fusion.EventLatencySample, func(data any) {
		n.publish(channel, "latency_sample", data)
	})
	return nil
}

func (n *node) Rearm() error { return nil }

func (n *node) NewWorker(batchIndex int) fusion.NodeWorker {
	return &worker{}
}

func (n *node) publish(channel, kind string, data any) {
	if n.pool == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{"type": kind, "data": data})
	if err != nil {
		return
	}
	conn := n.pool.Get()
	defer conn.Close()
	_, _ = conn.Do("PUBLISH", channel, payload)
}

// worker does no per-blob work; the relay's only activity happens from
// the event callbacks registered in Prepare.
type worker struct{}

func (w *worker) Init()              {}
func (w *worker) ProcessByFirstRun() {}
func (w *worker) ProcessByLastRun()  {}
func (w *worker) Deinit()            {}
func (w *worker) Process() error {
	return nil
}
