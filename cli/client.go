package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/runstream/internal/codec"
	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/protocol"
)

// errRunEnded is returned by Stream once the run can produce no more events.
var errRunEnded = errors.New("run ended")

// serverError is an error frame sent by the server. Resuming does not help.
type serverError struct {
	event   string
	message string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("%s: %s", e.event, e.message)
}

// Client is a WebSocket client of the stream server that remembers the
// last event it saw so it can resume after a disconnect.
type Client struct {
	conn *websocket.Conn
	out  io.Writer

	runID     string
	lastIndex *int
}

// Dial connects to addr and authenticates with token when the server asks for it.
func Dial(addr, token string, out io.Writer) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	c := &Client{conn: conn, out: out}

	var connected protocol.ConnectedFrame
	if err := c.readControl(&connected); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read connected: %w", err)
	}
	if connected.Event != protocol.EventConnected {
		conn.Close()
		return nil, fmt.Errorf("expected connected, got: %s", connected.Event)
	}

	if connected.RequiresAuth {
		if err := c.authenticate(token); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return c, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RunID returns the run the client is following.
func (c *Client) RunID() string {
	return c.runID
}

// LastEventIndex returns the index of the last event received, or nil.
func (c *Client) LastEventIndex() *int {
	return c.lastIndex
}

func (c *Client) authenticate(token string) error {
	if err := c.conn.WriteJSON(protocol.AuthenticateCommand{
		Command: protocol.Command{Action: protocol.ActionAuthenticate},
		Token:   token,
	}); err != nil {
		return fmt.Errorf("write authenticate: %w", err)
	}

	var frame protocol.ErrorFrame
	if err := c.readControl(&frame); err != nil {
		return fmt.Errorf("read authenticate reply: %w", err)
	}
	if frame.Event != protocol.EventAuthenticated {
		return fmt.Errorf("authentication failed: %s", frame.Error)
	}
	return nil
}

func (c *Client) readControl(v any) error {
	c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer c.conn.SetReadDeadline(time.Time{})

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Start asks the server to start a run of the given kind.
func (c *Client) Start(kind domain.RunKind, targetID, message, sessionID string) error {
	cmd := protocol.StartRunCommand{
		Message:   message,
		SessionID: sessionID,
	}
	switch kind {
	case domain.RunKindAgent:
		cmd.Action, cmd.AgentID = protocol.ActionStartAgent, targetID
	case domain.RunKindTeam:
		cmd.Action, cmd.TeamID = protocol.ActionStartTeam, targetID
	case domain.RunKindWorkflow:
		cmd.Action, cmd.WorkflowID = protocol.ActionStartWorkflow, targetID
	default:
		return fmt.Errorf("unknown run kind: %s", kind)
	}
	c.runID = ""
	c.lastIndex = nil
	return c.conn.WriteJSON(cmd)
}

// Reconnect asks the server for everything after last and for live events
// of runID from now on.
func (c *Client) Reconnect(runID string, last *int) error {
	c.runID = runID
	c.lastIndex = last
	return c.conn.WriteJSON(protocol.ReconnectCommand{
		Command:        protocol.Command{Action: protocol.ActionReconnect},
		RunID:          runID,
		LastEventIndex: last,
	})
}

// Stream prints frames until the run ends or the connection fails. It
// returns errRunEnded when the run is over.
func (c *Client) Stream() error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := c.handle(string(data)); err != nil {
			return err
		}
	}
}

func (c *Client) handle(message string) error {
	if codec.IsDataFrame(message) {
		frame, err := codec.ParseFrame(message)
		if err != nil {
			fmt.Fprintf(c.out, "unparseable frame: %v\n", err)
			return nil
		}
		return c.handleEvent(frame)
	}

	var frame map[string]any
	if err := json.Unmarshal([]byte(message), &frame); err != nil {
		fmt.Fprintf(c.out, "unparseable message: %s\n", message)
		return nil
	}

	event, _ := frame["event"].(string)
	switch event {
	case protocol.EventRunStarted:
		c.runID, _ = frame["run_id"].(string)
		fmt.Fprintf(c.out, "run %s started\n", c.runID)
	case protocol.EventCatchUp:
		fmt.Fprintf(c.out, "catching up: %v missed, %v total\n", frame["missed_events"], frame["current_event_count"])
	case protocol.EventReplay:
		fmt.Fprintf(c.out, "events no longer buffered: %v (%v events, %v)\n", frame["message"], frame["total_events"], frame["status"])
	case protocol.EventSubscribed:
		status, _ := frame["status"].(string)
		fmt.Fprintf(c.out, "subscribed to %v (status %s)\n", frame["run_id"], status)
		if domain.RunStatus(status).Terminal() {
			return errRunEnded
		}
	case protocol.EventError, protocol.EventAuthError, protocol.EventAuthRequired:
		message, _ := frame["error"].(string)
		return &serverError{event: event, message: message}
	default:
		fmt.Fprintf(c.out, "%s\n", message)
	}
	return nil
}

func (c *Client) handleEvent(frame codec.Frame) error {
	if idx, ok := frame.EventIndex(); ok {
		if c.lastIndex != nil && idx <= *c.lastIndex {
			return nil
		}
		c.lastIndex = &idx
	}

	payload, err := frame.Payload()
	if err != nil {
		fmt.Fprintf(c.out, "[%s] %s\n", frame.Event, frame.Data)
		return nil
	}

	switch domain.EventType(frame.Event) {
	case domain.EventTypeRunContent:
		fmt.Fprint(c.out, payload["content"])
	case domain.EventTypeRunCompleted:
		fmt.Fprintln(c.out)
		fmt.Fprintf(c.out, "[%s] run completed\n", frame.Event)
		return errRunEnded
	case domain.EventTypeRunError:
		fmt.Fprintf(c.out, "\n[%s] %v\n", frame.Event, payload["content"])
		return errRunEnded
	case domain.EventTypeRunCancelled:
		fmt.Fprintf(c.out, "\n[%s] %v\n", frame.Event, payload["reason"])
		return errRunEnded
	default:
		fmt.Fprintf(c.out, "[%s] %s\n", frame.Event, frame.Data)
	}
	return nil
}
