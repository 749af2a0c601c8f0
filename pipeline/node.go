// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

// Package pipeline is the push based stream graph: typed nodes wired
// front to rear, serviced by a cooperative scheduler that mixes self
// clocked source nodes with data driven ones.
package pipeline

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/goims/imsmedia/media"
)

// NodeState is the lifecycle of a node.
type NodeState int

const (
	NodeClosed NodeState = iota
	NodeStopped
	NodeRunning
)

// Node is the capability set every pipeline element implements.
type Node interface {
	Name() string
	MediaType() media.Type
	State() NodeState

	Start() error
	Stop()

	// ProcessData services the node once: a source node produces, a data
	// driven node consumes from its input queue.
	ProcessData()

	// IsRunTime reports a self driven node (timer or device clocked); the
	// scheduler never calls ProcessData on it.
	IsRunTime() bool
	// IsRunTimeStart reports a node whose start is deferred to first input.
	IsRunTimeStart() bool
	// IsSourceNode reports a producer of the first descriptor in a graph.
	IsSourceNode() bool

	// IsSameConfig decides whether cfg can be applied without stopping and
	// restarting the node.
	IsSameConfig(cfg any) bool
	// UpdateConfig applies cfg in place; callers checked IsSameConfig.
	UpdateConfig(cfg any) error

	OnDataFromFrontNode(p *media.Packet)
	DataCount() int

	ConnectRearNode(n Node)
	RearNodes() []Node
}

// Awaker wakes a scheduler when new input lands on a node.
type Awaker interface {
	Awake()
}

// BaseNode carries the shared node mechanics: state, the input queue,
// rear node fan out and the scheduler wake hook. Concrete nodes embed it.
type BaseNode struct {
	NodeName string
	Media    media.Type

	mu    sync.Mutex
	state NodeState

	queue *media.DataQueue
	rear  []Node

	scheduler Awaker

	Log zerolog.Logger
}

func NewBaseNode(name string, mt media.Type) BaseNode {
	return BaseNode{
		NodeName: name,
		Media:    mt,
		state:    NodeStopped,
		queue:    media.NewDataQueue(),
		Log:      log.With().Str("node", name).Str("media", mt.String()).Logger(),
	}
}

func (b *BaseNode) Name() string          { return b.NodeName }
func (b *BaseNode) MediaType() media.Type { return b.Media }

func (b *BaseNode) State() NodeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BaseNode) SetState(s NodeState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// SetScheduler wires the wake hook; the graph does this on registration.
func (b *BaseNode) SetScheduler(a Awaker) {
	b.mu.Lock()
	b.scheduler = a
	b.mu.Unlock()
}

// Default capability answers; concrete nodes override as needed. A node
// that never looks at the config is trivially live updatable.
func (b *BaseNode) IsRunTime() bool      { return false }
func (b *BaseNode) IsRunTimeStart() bool { return false }
func (b *BaseNode) IsSourceNode() bool   { return false }

func (b *BaseNode) IsSameConfig(cfg any) bool  { return true }
func (b *BaseNode) UpdateConfig(cfg any) error { return nil }

// OnDataFromFrontNode queues the descriptor and wakes the scheduler.
func (b *BaseNode) OnDataFromFrontNode(p *media.Packet) {
	b.queue.Add(p)
	b.mu.Lock()
	a := b.scheduler
	b.mu.Unlock()
	if a != nil {
		a.Awake()
	}
}

// DataCount returns the input backlog.
func (b *BaseNode) DataCount() int { return b.queue.Count() }

// InputQueue exposes the queue to the embedding node.
func (b *BaseNode) InputQueue() *media.DataQueue { return b.queue }

// PopInput removes and returns the head descriptor, nil when empty.
func (b *BaseNode) PopInput() *media.Packet {
	p := b.queue.Get()
	if p == nil {
		return nil
	}
	out := p.Clone()
	b.queue.Delete()
	return out
}

// ClearInput drains the input queue.
func (b *BaseNode) ClearInput() { b.queue.Clear() }

func (b *BaseNode) ConnectRearNode(n Node) {
	b.mu.Lock()
	b.rear = append(b.rear, n)
	b.mu.Unlock()
}

func (b *BaseNode) RearNodes() []Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Node(nil), b.rear...)
}

// SendDataToRearNode delivers the descriptor exactly once to every rear.
func (b *BaseNode) SendDataToRearNode(p *media.Packet) {
	for _, n := range b.RearNodes() {
		n.OnDataFromFrontNode(p)
	}
}
