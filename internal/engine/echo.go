package engine

import (
	"context"
	"strings"
	"time"

	"github.com/xiaot623/gogo/runstream/internal/domain"
)

// EchoEngine is a local engine that streams the input back in chunks. It
// is used when no remote engine is configured, and in tests.
//
// Inputs starting with "fail:" end in a RunError, inputs starting with
// "cancel:" end in a RunCancelled.
type EchoEngine struct {
	ChunkSize int
	Delay     time.Duration
}

// NewEchoEngine creates an echo engine.
func NewEchoEngine(chunkSize int, delay time.Duration) *EchoEngine {
	if chunkSize <= 0 {
		chunkSize = 10
	}
	return &EchoEngine{ChunkSize: chunkSize, Delay: delay}
}

var _ Engine = (*EchoEngine)(nil)

// Start implements Engine.
func (e *EchoEngine) Start(_ context.Context, req Request) (*Run, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	runID := req.RunID
	if runID == "" {
		runID = NewRunID()
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	events := make(chan domain.RunEvent)
	go e.produce(req, sessionID, events)
	return &Run{ID: runID, SessionID: sessionID, Events: events}, nil
}

func (e *EchoEngine) produce(req Request, sessionID string, events chan<- domain.RunEvent) {
	defer close(events)

	base := func() domain.Base { return domain.NewBase(sessionID) }
	events <- domain.RunStarted{Base: base(), Kind: req.Kind, TargetID: req.TargetID}

	input := req.Input
	var terminal domain.RunEvent = domain.RunCompleted{Base: base(), Content: input}
	switch {
	case strings.HasPrefix(input, "fail:"):
		input = strings.TrimPrefix(input, "fail:")
		terminal = domain.RunError{Base: base(), Code: "echo_failure", Message: strings.TrimSpace(input)}
	case strings.HasPrefix(input, "cancel:"):
		input = strings.TrimPrefix(input, "cancel:")
		terminal = domain.RunCancelled{Base: base(), Reason: "cancelled by input"}
	}

	for _, chunk := range splitIntoChunks(input, e.ChunkSize) {
		if e.Delay > 0 {
			time.Sleep(e.Delay)
		}
		events <- domain.RunContent{Base: base(), Content: chunk}
	}
	events <- terminal
}

// splitIntoChunks splits text into pieces of at most size runes.
func splitIntoChunks(text string, size int) []string {
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
