package domain

import "time"

// RunEvent is one unit of engine output. The set of variants is closed:
// only types in this package implement it.
type RunEvent interface {
	// EventType returns the discriminator used on the wire.
	EventType() EventType
	// Terminal reports whether this event ends the run.
	Terminal() bool
	// Wire returns the canonical wire mapping of the event. Callers may
	// mutate the returned map.
	Wire() map[string]any

	isRunEvent()
}

// Base carries the fields common to every event variant. RunID is only
// set by the engine for events that originate in a sub-run (a team member
// run, for example) and must keep their own run id on the wire.
type Base struct {
	RunID     string `json:"run_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// NewBase returns a Base stamped with the current time.
func NewBase(sessionID string) Base {
	return Base{SessionID: sessionID, CreatedAt: time.Now().Unix()}
}

func (b Base) wire(t EventType) map[string]any {
	m := map[string]any{
		"event":      string(t),
		"created_at": b.CreatedAt,
	}
	if b.RunID != "" {
		m["run_id"] = b.RunID
	}
	if b.SessionID != "" {
		m["session_id"] = b.SessionID
	}
	if b.AgentID != "" {
		m["agent_id"] = b.AgentID
	}
	return m
}

// RunStarted is emitted once when the engine begins executing a run.
type RunStarted struct {
	Base
	Kind     RunKind `json:"kind"`
	TargetID string  `json:"target_id"`
}

func (RunStarted) EventType() EventType { return EventTypeRunStarted }
func (RunStarted) Terminal() bool { return false }
func (RunStarted) isRunEvent() {}

func (e RunStarted) Wire() map[string]any {
	m := e.wire(EventTypeRunStarted)
	m["kind"] = string(e.Kind)
	m["target_id"] = e.TargetID
	return m
}

// RunContent carries a chunk of run output.
type RunContent struct {
	Base
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

func (RunContent) EventType() EventType { return EventTypeRunContent }
func (RunContent) Terminal() bool { return false }
func (RunContent) isRunEvent() {}

func (e RunContent) Wire() map[string]any {
	m := e.wire(EventTypeRunContent)
	m["content"] = e.Content
	contentType := e.ContentType
	if contentType == "" {
		contentType = "str"
	}
	m["content_type"] = contentType
	return m
}

// ToolCallStarted is emitted when the engine dispatches a tool call.
type ToolCallStarted struct {
	Base
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	Args       map[string]any `json:"args,omitempty"`
}

func (ToolCallStarted) EventType() EventType { return EventTypeToolCallStarted }
func (ToolCallStarted) Terminal() bool { return false }
func (ToolCallStarted) isRunEvent() {}

func (e ToolCallStarted) Wire() map[string]any {
	m := e.wire(EventTypeToolCallStarted)
	m["tool"] = map[string]any{
		"tool_call_id": e.ToolCallID,
		"tool_name":    e.ToolName,
		"tool_args":    e.Args,
	}
	return m
}

// ToolCallCompleted is emitted when a tool call returns.
type ToolCallCompleted struct {
	Base
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Result     any    `json:"result,omitempty"`
	Failed     bool   `json:"failed,omitempty"`
}

func (ToolCallCompleted) EventType() EventType { return EventTypeToolCallCompleted }
func (ToolCallCompleted) Terminal() bool { return false }
func (ToolCallCompleted) isRunEvent() {}

func (e ToolCallCompleted) Wire() map[string]any {
	m := e.wire(EventTypeToolCallCompleted)
	m["tool"] = map[string]any{
		"tool_call_id":    e.ToolCallID,
		"tool_name":       e.ToolName,
		"result":          e.Result,
		"tool_call_error": e.Failed,
	}
	return m
}

// RunCompleted ends a run successfully.
type RunCompleted struct {
	Base
	Content string `json:"content,omitempty"`
}

func (RunCompleted) EventType() EventType { return EventTypeRunCompleted }
func (RunCompleted) Terminal() bool { return true }
func (RunCompleted) isRunEvent() {}

func (e RunCompleted) Wire() map[string]any {
	m := e.wire(EventTypeRunCompleted)
	if e.Content != "" {
		m["content"] = e.Content
	}
	return m
}

// RunError ends a run with an engine-level failure.
type RunError struct {
	Base
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (RunError) EventType() EventType { return EventTypeRunError }
func (RunError) Terminal() bool { return true }
func (RunError) isRunEvent() {}

func (e RunError) Wire() map[string]any {
	m := e.wire(EventTypeRunError)
	m["content"] = e.Message
	if e.Code != "" {
		m["error_type"] = e.Code
	}
	return m
}

// RunCancelled ends a run that was cancelled by the engine.
type RunCancelled struct {
	Base
	Reason string `json:"reason,omitempty"`
}

func (RunCancelled) EventType() EventType { return EventTypeRunCancelled }
func (RunCancelled) Terminal() bool { return true }
func (RunCancelled) isRunEvent() {}

func (e RunCancelled) Wire() map[string]any {
	m := e.wire(EventTypeRunCancelled)
	if e.Reason != "" {
		m["reason"] = e.Reason
	}
	return m
}

// CustomEvent carries an engine event the server does not model. Name is
// used as the discriminator; an empty name falls back to "message".
type CustomEvent struct {
	Base
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

func (CustomEvent) Terminal() bool { return false }
func (CustomEvent) isRunEvent() {}

func (e CustomEvent) EventType() EventType {
	if e.Name == "" {
		return EventTypeMessage
	}
	return EventType(e.Name)
}

func (e CustomEvent) Wire() map[string]any {
	m := e.wire(e.EventType())
	for k, v := range e.Data {
		if _, exists := m[k]; !exists {
			m[k] = v
		}
	}
	return m
}

// TerminalStatus maps a terminal event to the run status it implies.
// Non-terminal events report false.
func TerminalStatus(ev RunEvent) (RunStatus, bool) {
	switch ev.(type) {
	case RunCompleted, *RunCompleted:
		return RunStatusCompleted, true
	case RunError, *RunError:
		return RunStatusError, true
	case RunCancelled, *RunCancelled:
		return RunStatusCancelled, true
	default:
		return "", false
	}
}
