// Package rpc exposes run status and buffered events to internal callers
// over JSON-RPC.
package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/eventlog"
)

// Server exposes the Runs RPC service.
type Server struct {
	mu        sync.Mutex
	listener  net.Listener
	rpcServer *rpc.Server
	log       *zap.Logger
	done      chan struct{}
}

// NewServer creates a new RPC server backed by events.
func NewServer(events *eventlog.Log, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("Runs", &Handler{events: events}); err != nil {
		return nil, err
	}

	return &Server{
		rpcServer: rpcServer,
		log:       logger.Named("rpc"),
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts RPC connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.log.Warn("rpc accept error", zap.Error(err))
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	if err := ln.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the Runs RPC methods.
type Handler struct {
	events *eventlog.Log
}

// StatusRequest names the run to inspect.
type StatusRequest struct {
	RunID string `json:"run_id"`
}

// StatusResponse reports a run's status.
type StatusResponse struct {
	Found      bool             `json:"found"`
	Status     domain.RunStatus `json:"status,omitempty"`
	EventCount int              `json:"event_count"`
	// Swept is true when only a summary of the run remains.
	Swept bool `json:"swept"`
}

// Status returns the status and event count of a run.
func (h *Handler) Status(req *StatusRequest, resp *StatusResponse) error {
	if req == nil || req.RunID == "" {
		return errors.New("run_id is required")
	}

	if status, ok := h.events.GetRunStatus(req.RunID); ok {
		resp.Found = true
		resp.Status = status
		resp.EventCount = h.events.GetEventCount(req.RunID)
		return nil
	}
	if summary, ok := h.events.Summary(req.RunID); ok {
		resp.Found = true
		resp.Swept = true
		resp.Status = summary.Status
		resp.EventCount = summary.TotalEvents
	}
	return nil
}

// EventsRequest asks for the events after LastEventIndex, or all retained
// events when it is nil.
type EventsRequest struct {
	RunID          string `json:"run_id"`
	LastEventIndex *int   `json:"last_event_index"`
}

// Event is a buffered event in RPC form.
type Event struct {
	EventIndex int            `json:"event_index"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload"`
}

// EventsResponse carries the requested events.
type EventsResponse struct {
	Events []Event `json:"events"`
}

// Events returns buffered events of a run.
func (h *Handler) Events(req *EventsRequest, resp *EventsResponse) error {
	if req == nil || req.RunID == "" {
		return errors.New("run_id is required")
	}
	if _, ok := h.events.GetRunStatus(req.RunID); !ok {
		return eventlog.ErrUnknownRun
	}

	envs := h.events.GetEventsSince(req.RunID, req.LastEventIndex)
	resp.Events = make([]Event, 0, len(envs))
	for _, env := range envs {
		resp.Events = append(resp.Events, Event{
			EventIndex: env.EventIndex,
			EventType:  string(env.EventType),
			Payload:    env.Payload(),
		})
	}
	return nil
}
