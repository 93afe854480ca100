// Package protocol defines the WebSocket message protocol between clients and the stream server.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Actions sent by clients
const (
	ActionAuthenticate  = "authenticate"
	ActionPing          = "ping"
	ActionStartWorkflow = "start-workflow"
	ActionStartAgent    = "start-agent"
	ActionStartTeam     = "start-team"
	ActionReconnect     = "reconnect"
)

// Control frame names sent by the server
const (
	EventConnected     = "connected"
	EventAuthenticated = "authenticated"
	EventAuthError     = "auth_error"
	EventAuthRequired  = "auth_required"
	EventPong          = "pong"
	EventError         = "error"
	EventRunStarted    = "run_started"
	EventCatchUp       = "catch_up"
	EventReplay        = "replay"
	EventSubscribed    = "subscribed"
)

// Command contains the field every inbound message carries.
type Command struct {
	Action string `json:"action"`
}

// AuthenticateCommand is sent by the client to authenticate the connection.
type AuthenticateCommand struct {
	Command
	Token string `json:"token"`
}

// StartRunCommand is sent by the client to start an agent, team or workflow run.
type StartRunCommand struct {
	Command
	WorkflowID string `json:"workflow_id,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
	TeamID     string `json:"team_id,omitempty"`
	Message    string `json:"message"`
	SessionID  string `json:"session_id,omitempty"`
	// RunID optionally seeds the id of the new run.
	RunID string `json:"run_id,omitempty"`
}

// Target returns the id the command names for the given run kind.
func (c StartRunCommand) Target(kind string) string {
	switch kind {
	case "agent":
		return c.AgentID
	case "team":
		return c.TeamID
	case "workflow":
		return c.WorkflowID
	default:
		return ""
	}
}

// ReconnectCommand is sent by the client to resume a run's stream.
type ReconnectCommand struct {
	Command
	RunID          string `json:"run_id"`
	LastEventIndex *int   `json:"last_event_index"`
	WorkflowID     string `json:"workflow_id,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
	TeamID         string `json:"team_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

// ControlFrame contains the field every outbound control frame carries.
type ControlFrame struct {
	Event string `json:"event"`
}

// ConnectedFrame is sent when a connection is accepted.
type ConnectedFrame struct {
	ControlFrame
	Message      string `json:"message"`
	RequiresAuth bool   `json:"requires_auth"`
}

// AuthenticatedFrame is sent after a successful authenticate.
type AuthenticatedFrame struct {
	ControlFrame
	Message string `json:"message"`
}

// ErrorFrame is used for error, auth_error and auth_required.
type ErrorFrame struct {
	ControlFrame
	Error string `json:"error"`
}

// RunStartedFrame acknowledges a start command with the new run's id.
type RunStartedFrame struct {
	ControlFrame
	RunID     string `json:"run_id"`
	SessionID string `json:"session_id,omitempty"`
}

// CatchUpFrame tells a reconnecting client how many events it missed.
type CatchUpFrame struct {
	ControlFrame
	RunID             string `json:"run_id"`
	MissedEvents      int    `json:"missed_events"`
	Status            string `json:"status"`
	CurrentEventCount int    `json:"current_event_count"`
}

// ReplayFrame summarizes a run whose events are no longer buffered.
type ReplayFrame struct {
	ControlFrame
	RunID       string `json:"run_id"`
	Status      string `json:"status"`
	TotalEvents int    `json:"total_events"`
	Message     string `json:"message"`
}

// SubscribedFrame confirms that live events for a run now go to this connection.
type SubscribedFrame struct {
	ControlFrame
	RunID             string `json:"run_id"`
	Status            string `json:"status"`
	CurrentEventCount int    `json:"current_event_count"`
}

// Connected builds a connected frame.
func Connected(requiresAuth bool) ConnectedFrame {
	msg := "Connected to run stream"
	if requiresAuth {
		msg = "Connected to run stream. Please authenticate to continue."
	}
	return ConnectedFrame{
		ControlFrame: ControlFrame{Event: EventConnected},
		Message:      msg,
		RequiresAuth: requiresAuth,
	}
}

// Authenticated builds an authenticated frame.
func Authenticated() AuthenticatedFrame {
	return AuthenticatedFrame{
		ControlFrame: ControlFrame{Event: EventAuthenticated},
		Message:      "Authentication successful",
	}
}

// Error builds an error frame with the given name.
func Error(event, message string) ErrorFrame {
	return ErrorFrame{ControlFrame: ControlFrame{Event: event}, Error: message}
}

// UnknownAction builds the error frame for an unrecognized action.
func UnknownAction(action string) ErrorFrame {
	return Error(EventError, fmt.Sprintf("Unknown action: %s", action))
}

// Marshal encodes a control frame as a text message.
func Marshal(frame any) (string, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return "", fmt.Errorf("failed to marshal control frame: %w", err)
	}
	return string(data), nil
}
