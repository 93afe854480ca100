package engine

import (
	"encoding/json"
	"fmt"

	"github.com/xiaot623/gogo/runstream/internal/codec"
	"github.com/xiaot623/gogo/runstream/internal/domain"
)

// wireEvent is the union of fields the engine may send for any event.
type wireEvent struct {
	Event       string         `json:"event"`
	RunID       string         `json:"run_id"`
	SessionID   string         `json:"session_id"`
	AgentID     string         `json:"agent_id"`
	CreatedAt   int64          `json:"created_at"`
	Content     string         `json:"content"`
	ContentType string         `json:"content_type"`
	Kind        string         `json:"kind"`
	TargetID    string         `json:"target_id"`
	ErrorType   string         `json:"error_type"`
	Reason      string         `json:"reason"`
	Tool        *wireToolEvent `json:"tool"`
}

type wireToolEvent struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	ToolArgs   map[string]any `json:"tool_args"`
	Result     any            `json:"result"`
	Failed     bool           `json:"tool_call_error"`
}

// DecodeEvent converts an engine SSE frame into a RunEvent. Event names
// the server does not model become CustomEvents.
func DecodeEvent(frame codec.Frame) (domain.RunEvent, error) {
	var w wireEvent
	if err := json.Unmarshal([]byte(frame.Data), &w); err != nil {
		return nil, fmt.Errorf("failed to parse %s event: %w", frame.Event, err)
	}

	name := frame.Event
	if name == "" {
		name = w.Event
	}
	base := domain.Base{RunID: w.RunID, SessionID: w.SessionID, AgentID: w.AgentID, CreatedAt: w.CreatedAt}
	tool := w.Tool
	if tool == nil {
		tool = &wireToolEvent{}
	}

	switch domain.EventType(name) {
	case domain.EventTypeRunStarted:
		return domain.RunStarted{Base: base, Kind: domain.RunKind(w.Kind), TargetID: w.TargetID}, nil
	case domain.EventTypeRunContent:
		return domain.RunContent{Base: base, Content: w.Content, ContentType: w.ContentType}, nil
	case domain.EventTypeToolCallStarted:
		return domain.ToolCallStarted{Base: base, ToolCallID: tool.ToolCallID, ToolName: tool.ToolName, Args: tool.ToolArgs}, nil
	case domain.EventTypeToolCallCompleted:
		return domain.ToolCallCompleted{Base: base, ToolCallID: tool.ToolCallID, ToolName: tool.ToolName, Result: tool.Result, Failed: tool.Failed}, nil
	case domain.EventTypeRunCompleted:
		return domain.RunCompleted{Base: base, Content: w.Content}, nil
	case domain.EventTypeRunError:
		return domain.RunError{Base: base, Code: w.ErrorType, Message: w.Content}, nil
	case domain.EventTypeRunCancelled:
		return domain.RunCancelled{Base: base, Reason: w.Reason}, nil
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(frame.Data), &data); err != nil {
		return nil, fmt.Errorf("failed to parse %s event: %w", name, err)
	}
	for _, k := range []string{"event", "run_id", "session_id", "agent_id", "created_at"} {
		delete(data, k)
	}
	return domain.CustomEvent{Base: base, Name: name, Data: data}, nil
}
