// Package engine defines the execution engine the stream server drives and
// provides a remote HTTP implementation and a local echo implementation.
package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/runstream/internal/domain"
)

// ErrInvalidRequest is returned when a request is missing required fields.
var ErrInvalidRequest = errors.New("invalid run request")

// Request describes a run to start.
type Request struct {
	Kind      domain.RunKind `json:"kind"`
	TargetID  string         `json:"target_id"`
	Input     string         `json:"input"`
	SessionID string         `json:"session_id,omitempty"`
	// RunID seeds the id of the new run. Left empty, the engine assigns one.
	RunID string `json:"run_id,omitempty"`
}

// Run is a started run. Events yields the run's events in order and is
// closed after the last one.
type Run struct {
	ID        string
	SessionID string
	Events    <-chan domain.RunEvent
}

// Engine starts runs. Event production must not depend on ctx staying
// alive beyond Start: runs outlive the connection that started them.
type Engine interface {
	Start(ctx context.Context, req Request) (*Run, error)
}

// NewRunID returns a fresh run id.
func NewRunID() string {
	return uuid.New().String()
}

// NewSessionID returns a fresh session id.
func NewSessionID() string {
	return "sess_" + uuid.New().String()[:8]
}

func validate(req Request) error {
	if req.TargetID == "" {
		return errors.Join(ErrInvalidRequest, errors.New("target id is required"))
	}
	switch req.Kind {
	case domain.RunKindAgent, domain.RunKindTeam, domain.RunKindWorkflow:
		return nil
	default:
		return errors.Join(ErrInvalidRequest, errors.New("unknown run kind: "+string(req.Kind)))
	}
}
