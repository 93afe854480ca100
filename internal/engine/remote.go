package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/runstream/internal/codec"
	"github.com/xiaot623/gogo/runstream/internal/domain"
)

// RemoteEngine starts runs on an HTTP execution service that answers
// POST /runs with an SSE stream of run events.
type RemoteEngine struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewRemoteEngine creates a remote engine client.
func NewRemoteEngine(baseURL string, timeout time.Duration, logger *zap.Logger) *RemoteEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteEngine{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout, // zero streams without a deadline
		},
		log: logger.Named("engine"),
	}
}

var _ Engine = (*RemoteEngine)(nil)

// ErrorResponse represents an error response from the execution service.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Start implements Engine. The run's stream is read with a context that is
// detached from ctx so the run keeps streaming after the caller returns.
func (e *RemoteEngine) Start(ctx context.Context, req Request) (*Run, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.RunID == "" {
		req.RunID = NewRunID()
	}
	if req.SessionID == "" {
		req.SessionID = NewSessionID()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, e.baseURL+"/runs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Session-ID", req.SessionID)
	httpReq.Header.Set("X-Run-ID", req.RunID)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("engine error: %s", errResp.Error)
		}
		return nil, fmt.Errorf("engine returned status %d: %s", resp.StatusCode, string(respBody))
	}

	runID := req.RunID
	if id := resp.Header.Get("X-Run-ID"); id != "" {
		runID = id
	}

	events := make(chan domain.RunEvent)
	go e.stream(runID, resp.Body, events)
	return &Run{ID: runID, SessionID: req.SessionID, Events: events}, nil
}

func (e *RemoteEngine) stream(runID string, body io.ReadCloser, events chan<- domain.RunEvent) {
	defer close(events)
	defer body.Close()

	terminated := false
	err := codec.ParseStream(body, func(frame codec.Frame) error {
		event, err := DecodeEvent(frame)
		if err != nil {
			e.log.Warn("skipping undecodable engine event", zap.String("run_id", runID), zap.Error(err))
			return nil
		}
		events <- event
		if event.Terminal() {
			terminated = true
		}
		return nil
	})
	if err != nil && !terminated {
		e.log.Error("engine stream failed", zap.String("run_id", runID), zap.Error(err))
		events <- domain.RunError{
			Base:    domain.NewBase(""),
			Code:    "engine_stream_failed",
			Message: err.Error(),
		}
	}
}
