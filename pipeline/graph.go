// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package pipeline

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// GraphState is the lifecycle of a stream graph.
type GraphState int

const (
	GraphCreated GraphState = iota
	GraphRunning
	GraphStopped
)

// Graph is an ordered container of nodes, upstream first. Start walks in
// reverse so the sink is ready before its producers; Stop walks forward.
type Graph struct {
	nodes []Node
	state GraphState

	scheduler *Scheduler

	log zerolog.Logger
}

func NewGraph(name string) *Graph {
	return &Graph{
		state:     GraphCreated,
		scheduler: NewScheduler(),
		log:       log.With().Str("graph", name).Logger(),
	}
}

// AddNode appends n and, when connectPrev is set and n is not the first
// node, wires the previous node's rear to it.
func (g *Graph) AddNode(n Node, connectPrev bool) {
	if connectPrev && len(g.nodes) > 0 {
		g.nodes[len(g.nodes)-1].ConnectRearNode(n)
	}
	g.nodes = append(g.nodes, n)
	g.scheduler.RegisterNode(n)
}

// Connect wires front's rear list to rear without appending.
func (g *Graph) Connect(front, rear Node) {
	front.ConnectRearNode(rear)
}

// Nodes returns the graph's node list, upstream first.
func (g *Graph) Nodes() []Node { return g.nodes }

func (g *Graph) State() GraphState { return g.state }

func (g *Graph) Scheduler() *Scheduler { return g.scheduler }

// Start brings up the graph sink first and launches the scheduler.
func (g *Graph) Start() error {
	if g.state == GraphRunning {
		return nil
	}

	for i := len(g.nodes) - 1; i >= 0; i-- {
		n := g.nodes[i]
		if n.IsRunTimeStart() || n.State() != NodeStopped {
			continue
		}
		if err := n.Start(); err != nil {
			g.log.Error().Err(err).Str("node", n.Name()).Msg("graph start failed")
			// roll back what already started
			for j := i + 1; j < len(g.nodes); j++ {
				g.nodes[j].Stop()
			}
			return err
		}
	}

	if err := g.scheduler.Start(); err != nil {
		return err
	}
	g.state = GraphRunning
	g.log.Debug().Msg("graph running")
	return nil
}

// Stop halts the scheduler and tears nodes down in forward order.
func (g *Graph) Stop() {
	if g.state == GraphStopped {
		return
	}
	g.scheduler.Stop()
	for _, n := range g.nodes {
		n.Stop()
	}
	g.state = GraphStopped
	g.log.Debug().Msg("graph stopped")
}

// Update applies a config change node by node: a node that reports the
// config as compatible is updated live, otherwise it alone is stop/start
// cycled around the update.
func (g *Graph) Update(cfg any) error {
	var errs error
	for _, n := range g.nodes {
		if n.IsSameConfig(cfg) {
			// compatible: apply live
			if err := n.UpdateConfig(cfg); err != nil {
				errs = errors.Join(errs, err)
			}
			continue
		}

		// incompatible: cycle just this node around the update
		n.Stop()
		if err := n.UpdateConfig(cfg); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if err := n.Start(); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}
