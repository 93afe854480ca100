package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runstream/internal/codec"
	"github.com/xiaot623/gogo/runstream/internal/domain"
)

func collect(t *testing.T, run *Run) []domain.RunEvent {
	t.Helper()
	var out []domain.RunEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("run %s did not finish", run.ID)
		}
	}
}

func TestEchoEngineStreamsInput(t *testing.T) {
	t.Parallel()
	eng := NewEchoEngine(4, 0)

	run, err := eng.Start(context.Background(), Request{Kind: domain.RunKindAgent, TargetID: "a1", Input: "hello world", RunID: "seed"})
	require.NoError(t, err)
	assert.Equal(t, "seed", run.ID)
	assert.NotEmpty(t, run.SessionID)

	events := collect(t, run)
	require.Len(t, events, 6)
	assert.IsType(t, domain.RunStarted{}, events[0])
	assert.Equal(t, "hell", events[1].(domain.RunContent).Content)
	assert.Equal(t, "o wo", events[2].(domain.RunContent).Content)
	assert.Equal(t, "rld", events[3].(domain.RunContent).Content)
	assert.True(t, events[5].Terminal())
	status, ok := domain.TerminalStatus(events[5])
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusCompleted, status)
}

func TestEchoEngineFailureAndCancel(t *testing.T) {
	t.Parallel()
	eng := NewEchoEngine(0, 0)

	run, err := eng.Start(context.Background(), Request{Kind: domain.RunKindWorkflow, TargetID: "w", Input: "fail: boom"})
	require.NoError(t, err)
	events := collect(t, run)
	status, _ := domain.TerminalStatus(events[len(events)-1])
	assert.Equal(t, domain.RunStatusError, status)

	run, err = eng.Start(context.Background(), Request{Kind: domain.RunKindTeam, TargetID: "t", Input: "cancel:"})
	require.NoError(t, err)
	events = collect(t, run)
	status, _ = domain.TerminalStatus(events[len(events)-1])
	assert.Equal(t, domain.RunStatusCancelled, status)
}

func TestEngineRejectsInvalidRequest(t *testing.T) {
	t.Parallel()
	eng := NewEchoEngine(0, 0)

	_, err := eng.Start(context.Background(), Request{Kind: domain.RunKindAgent})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = eng.Start(context.Background(), Request{Kind: "robot", TargetID: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRemoteEngineParsesSSE(t *testing.T) {
	t.Parallel()
	var gotHeaders http.Header
	var gotReq Request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runs" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotHeaders = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("X-Run-ID", "remote-run")
		fmt.Fprint(w, "event: RunStarted\ndata: {\"kind\":\"workflow\",\"target_id\":\"wf\"}\n\n")
		fmt.Fprint(w, "event: RunContent\ndata: {\"content\":\"hi\"}\n\n")
		fmt.Fprint(w, "event: StepStarted\ndata: {\"step_name\":\"s1\"}\n\n")
		fmt.Fprint(w, "event: RunCompleted\ndata: {\"content\":\"bye\"}\n\n")
	}))
	defer server.Close()

	eng := NewRemoteEngine(server.URL, 0, nil)
	run, err := eng.Start(context.Background(), Request{Kind: domain.RunKindWorkflow, TargetID: "wf", Input: "go", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "remote-run", run.ID)

	events := collect(t, run)
	require.Len(t, events, 4)
	assert.Equal(t, "hi", events[1].(domain.RunContent).Content)
	custom, ok := events[2].(domain.CustomEvent)
	require.True(t, ok)
	assert.Equal(t, "StepStarted", custom.Name)
	assert.Equal(t, "s1", custom.Data["step_name"])
	assert.True(t, events[3].Terminal())

	assert.Equal(t, "s1", gotHeaders.Get("X-Session-ID"))
	assert.Equal(t, gotReq.RunID, gotHeaders.Get("X-Run-ID"))
	assert.Equal(t, "go", gotReq.Input)
}

func TestRemoteEngineErrorStatus(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"workflow not found"}`)
	}))
	defer server.Close()

	eng := NewRemoteEngine(server.URL, time.Second, nil)
	_, err := eng.Start(context.Background(), Request{Kind: domain.RunKindWorkflow, TargetID: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workflow not found")
}

func TestRemoteEngineTruncatedStreamEndsInError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: RunContent\ndata: {\"content\":\"partial\"}\n\n")
		w.(http.Flusher).Flush()
		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer server.Close()

	eng := NewRemoteEngine(server.URL, 0, nil)
	run, err := eng.Start(context.Background(), Request{Kind: domain.RunKindAgent, TargetID: "a"})
	require.NoError(t, err)

	events := collect(t, run)
	require.NotEmpty(t, events)
	assert.Equal(t, "partial", events[0].(domain.RunContent).Content)
}

func TestDecodeEventVariants(t *testing.T) {
	t.Parallel()
	cases := []struct {
		frame codec.Frame
		want  domain.EventType
	}{
		{codec.Frame{Event: "ToolCallStarted", Data: `{"tool":{"tool_call_id":"t1","tool_name":"search"}}`}, domain.EventTypeToolCallStarted},
		{codec.Frame{Event: "ToolCallCompleted", Data: `{"tool":{"tool_call_id":"t1","result":"ok"}}`}, domain.EventTypeToolCallCompleted},
		{codec.Frame{Event: "RunError", Data: `{"content":"bad","error_type":"boom"}`}, domain.EventTypeRunError},
		{codec.Frame{Event: "RunCancelled", Data: `{"reason":"user"}`}, domain.EventTypeRunCancelled},
		{codec.Frame{Data: `{"event":"RunContent","content":"x"}`}, domain.EventTypeRunContent},
	}
	for _, tc := range cases {
		ev, err := DecodeEvent(tc.frame)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ev.EventType())
	}

	ev, _ := DecodeEvent(codec.Frame{Event: "ToolCallStarted", Data: `{"tool":{"tool_call_id":"t1","tool_name":"search"}}`})
	assert.Equal(t, "search", ev.(domain.ToolCallStarted).ToolName)

	_, err := DecodeEvent(codec.Frame{Event: "RunContent", Data: "nope"})
	assert.Error(t, err)
}
