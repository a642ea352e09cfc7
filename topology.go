package fusion

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// NodeSpec describes one node entry in a topology document. Ports and
// their protocols are left to the registered NodeInterface, which supplies
// them through PortProvider; the topology only carries what the
// framework needs to assemble the graph and configure the node.
type NodeSpec struct {
	Name    string `mapstructure:"name" yaml:"name" json:"name"`
	Class   string `mapstructure:"class" yaml:"class" json:"class"`
	Threads int    `mapstructure:"threads" yaml:"threads" json:"threads"`
	Config  string `mapstructure:"config" yaml:"config" json:"config"`
	Source  bool   `mapstructure:"source" yaml:"source" json:"source"`

	Batching struct {
		Kind      string `mapstructure:"kind" yaml:"kind" json:"kind"`
		BatchSize int    `mapstructure:"batchSize" yaml:"batchSize" json:"batchSize"`
	} `mapstructure:"batching" yaml:"batching" json:"batching"`
}

// EdgeSpec describes one edge entry in a topology document.
type EdgeSpec struct {
	From    string `mapstructure:"from" yaml:"from" json:"from"`
	OutPort int    `mapstructure:"outPort" yaml:"outPort" json:"outPort"`
	To      string `mapstructure:"to" yaml:"to" json:"to"`
	InPort  int    `mapstructure:"inPort" yaml:"inPort" json:"inPort"`
}

// TopologyDocument is the deserialized shape of a pipeline description: a
// node list and an edge list, bound via mapstructure, from either JSON or
// YAML.
type TopologyDocument struct {
	ID    string     `mapstructure:"id" yaml:"id" json:"id"`
	Nodes []NodeSpec `mapstructure:"nodes" yaml:"nodes" json:"nodes"`
	Edges []EdgeSpec `mapstructure:"edges" yaml:"edges" json:"edges"`
}

// ParseTopologyYAML unmarshals a YAML topology document into a generic map
// and then decodes it through mapstructure, the same two-step the
// teacher's loader.serialization.go uses so one decode path (mapstructure)
// serves both source formats.
func ParseTopologyYAML(data []byte) (*TopologyDocument, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("fusion: parsing topology yaml: %w", err)
	}
	return decodeTopology(raw)
}

// ParseTopologyJSON unmarshals a JSON topology document the same way.
func ParseTopologyJSON(data []byte) (*TopologyDocument, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("fusion: parsing topology json: %w", err)
	}
	return decodeTopology(raw)
}

func decodeTopology(raw map[string]any) (*TopologyDocument, error) {
	doc := &TopologyDocument{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           doc,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("fusion: building topology decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("fusion: decoding topology: %w", err)
	}
	return doc, nil
}

// batchingKindFromString maps a topology document's textual batching kind
// to a BatchingKind, defaulting to IgnoreStream for an empty or unknown
// value.
func batchingKindFromString(s string) BatchingKind {
	switch s {
	case "withStreamOrdered":
		return WithStreamOrdered
	case "withStreamUnordered":
		return WithStreamUnordered
	default:
		return IgnoreStream
	}
}

// BuildPipeline assembles a Pipeline from doc, resolving each node's class
// via the process-wide registry. A node implementation that has ports
// supplies them through PortProvider, which BuildPipeline calls right
// after constructing the node, before configuration and linking; it then
// wires the node-level topology (registration, configuration, edges)
// described by doc and calls Prepare on the resulting Pipeline.
func BuildPipeline(doc *TopologyDocument, opts ...PipelineOption) (*Pipeline, error) {
	p := NewPipeline(doc.ID, opts...)

	for _, ns := range doc.Nodes {
		ctor, ok := LookupNodeClass(ns.Class)
		if !ok {
			return nil, fmt.Errorf("%w: class %q for node %q", ErrUnknownNode, ns.Class, ns.Name)
		}

		threads := ns.Threads
		if threads <= 0 {
			threads = 1
		}

		batching := BatchingConfig{
			Kind:      batchingKindFromString(ns.Batching.Kind),
			BatchSize: ns.Batching.BatchSize,
		}

		impl := ctor(threads)
		node := NewNode(ns.Name, ns.Class, impl, threads, batching)
		if provider, ok := impl.(PortProvider); ok {
			ins, outs := provider.Ports()
			for _, in := range ins {
				node.AddInPort(in)
			}
			for _, out := range outs {
				node.AddOutPort(out)
			}
		}
		if err := node.ConfigureByString(ns.Config); err != nil {
			return nil, fmt.Errorf("fusion: configuring node %q: %w", ns.Name, err)
		}

		if ns.Source {
			if err := p.SetSource(node); err != nil {
				return nil, err
			}
		} else if err := p.AddNode(node); err != nil {
			return nil, err
		}
	}

	for _, es := range doc.Edges {
		if err := p.LinkNode(es.From, es.OutPort, es.To, es.InPort); err != nil {
			return nil, fmt.Errorf("fusion: linking %s:%d -> %s:%d: %w", es.From, es.OutPort, es.To, es.InPort, err)
		}
	}

	if err := p.Prepare(); err != nil {
		return nil, err
	}
	return p, nil
}
