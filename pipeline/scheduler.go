// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package pipeline

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	runWaitTimeout  = 1 * time.Millisecond
	stopWaitTimeout = 1000 * time.Millisecond
)

// Scheduler is the cooperative worker for one or more graphs: each cycle
// it services every running source node, then data driven nodes in order
// of largest backlog, then parks on a short wait until Awake or timeout.
type Scheduler struct {
	mu    sync.Mutex
	nodes []Node

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	running bool

	// startErr holds the first node start failure, if any.
	startErr error

	log zerolog.Logger
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		wake: make(chan struct{}, 1),
		log:  log.With().Str("caller", "scheduler").Logger(),
	}
}

func (s *Scheduler) RegisterNode(n Node) {
	if n == nil {
		return
	}
	s.mu.Lock()
	s.nodes = append(s.nodes, n)
	if sn, ok := n.(interface{ SetScheduler(Awaker) }); ok {
		sn.SetScheduler(s)
	}
	s.mu.Unlock()
}

func (s *Scheduler) DeRegisterNode(n Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.nodes {
		if r == n {
			s.nodes = append(s.nodes[:i], s.nodes[i+1:]...)
			return
		}
	}
}

// Awake signals the run loop that new work is queued.
func (s *Scheduler) Awake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start launches the worker. Nodes that are stopped and not deferred are
// started first; the first failure is retained and reported.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running || len(s.nodes) == 0 {
		s.mu.Unlock()
		return s.startErr
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.startErr = nil

	for _, n := range s.nodes {
		if n.IsRunTimeStart() {
			continue
		}
		if n.State() == NodeStopped {
			if err := n.Start(); err != nil {
				s.log.Error().Err(err).Str("node", n.Name()).Msg("node start failed")
				if s.startErr == nil {
					s.startErr = err
				}
			}
		}
	}
	err := s.startErr
	s.mu.Unlock()

	go s.run()
	return err
}

// Stop requests cooperative shutdown and waits up to the stop timeout.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.Awake()

	select {
	case <-s.done:
	case <-time.After(stopWaitTimeout):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Scheduler) run() {
	defer close(s.done)

	for !s.stopped() {
		s.runRegisteredNodes()

		if s.stopped() {
			return
		}

		select {
		case <-s.wake:
		case <-s.stop:
			return
		case <-time.After(runWaitTimeout):
		}
	}
}

// runRegisteredNodes services sources first, then repeatedly picks the
// data driven node with the largest backlog. Largest backlog first gives
// coarse fairness and avoids starvation without priorities.
func (s *Scheduler) runRegisteredNodes() {
	s.mu.Lock()
	nodes := append([]Node(nil), s.nodes...)
	s.mu.Unlock()

	var candidates []Node
	for _, n := range nodes {
		if n.State() != NodeRunning || n.IsRunTime() {
			continue
		}
		if n.IsSourceNode() {
			n.ProcessData()
		} else if n.DataCount() > 0 {
			candidates = append(candidates, n)
		}
	}

	for len(candidates) > 0 {
		maxIdx := 0
		for i, n := range candidates {
			if n.DataCount() > candidates[maxIdx].DataCount() {
				maxIdx = i
			}
		}

		candidates[maxIdx].ProcessData()

		if s.stopped() {
			return
		}
		candidates = append(candidates[:maxIdx], candidates[maxIdx+1:]...)
	}
}
