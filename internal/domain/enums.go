// Package domain defines the run and event models shared by the stream server.
package domain

// RunStatus represents the status of a run as tracked by the event log.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further events will be produced for the run.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusError || s == RunStatusCancelled
}

// EventType represents the type discriminator of a run event.
type EventType string

const (
	EventTypeRunStarted        EventType = "RunStarted"
	EventTypeRunContent        EventType = "RunContent"
	EventTypeToolCallStarted   EventType = "ToolCallStarted"
	EventTypeToolCallCompleted EventType = "ToolCallCompleted"
	EventTypeRunCompleted      EventType = "RunCompleted"
	EventTypeRunError          EventType = "RunError"
	EventTypeRunCancelled      EventType = "RunCancelled"

	// EventTypeMessage is used when an event carries no discriminator of its own.
	EventTypeMessage EventType = "message"
)

// RunKind identifies what kind of target a run executes.
type RunKind string

const (
	RunKindAgent    RunKind = "agent"
	RunKindTeam     RunKind = "team"
	RunKindWorkflow RunKind = "workflow"
)
