// Package metrics collects counters for the stream server.
//
// All increment methods are nil-receiver safe so components can be built
// without a collector in tests.
package metrics

import "sync"

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	ConnectionsOpened int64 `json:"connections_opened"`
	ConnectionsClosed int64 `json:"connections_closed"`
	RunsStarted       int64 `json:"runs_started"`
	RunsFinished      int64 `json:"runs_finished"`
	EventsAppended    int64 `json:"events_appended"`
	FramesSent        int64 `json:"frames_sent"`
	SendFailures      int64 `json:"send_failures"`
	Reconnects        int64 `json:"reconnects"`
	EventsReplayed    int64 `json:"events_replayed"`
	AuthFailures      int64 `json:"auth_failures"`
	CommandErrors     int64 `json:"command_errors"`
}

// Collector accumulates counters. Safe for concurrent use.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) add(f func(s *Snapshot)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	f(&c.s)
	c.mu.Unlock()
}

func (c *Collector) IncConnectionsOpened() { c.add(func(s *Snapshot) { s.ConnectionsOpened++ }) }
func (c *Collector) IncConnectionsClosed() { c.add(func(s *Snapshot) { s.ConnectionsClosed++ }) }
func (c *Collector) IncRunsStarted() { c.add(func(s *Snapshot) { s.RunsStarted++ }) }
func (c *Collector) IncRunsFinished() { c.add(func(s *Snapshot) { s.RunsFinished++ }) }
func (c *Collector) IncEventsAppended() { c.add(func(s *Snapshot) { s.EventsAppended++ }) }
func (c *Collector) IncFramesSent() { c.add(func(s *Snapshot) { s.FramesSent++ }) }
func (c *Collector) IncSendFailures() { c.add(func(s *Snapshot) { s.SendFailures++ }) }
func (c *Collector) IncReconnects() { c.add(func(s *Snapshot) { s.Reconnects++ }) }
func (c *Collector) IncAuthFailures() { c.add(func(s *Snapshot) { s.AuthFailures++ }) }
func (c *Collector) IncCommandErrors() { c.add(func(s *Snapshot) { s.CommandErrors++ }) }

// AddEventsReplayed records events re-sent to a reconnecting client.
func (c *Collector) AddEventsReplayed(n int) {
	c.add(func(s *Snapshot) { s.EventsReplayed += int64(n) })
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
