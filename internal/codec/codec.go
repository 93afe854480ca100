// Package codec turns run events into SSE-style wire frames and parses
// those frames back on the client side.
package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/runstream/internal/domain"
)

// Encode renders event as a frame of the form
//
//	event: <type>
//	data: <json>
//
// followed by a blank line. When eventIndex is non-nil it is written to the
// payload as event_index. runID is written as run_id only if the event does
// not already carry one, so events from sub-runs keep their own run id.
func Encode(event domain.RunEvent, eventIndex *int, runID string) (string, error) {
	payload := wireOf(event)
	if eventIndex != nil {
		payload["event_index"] = *eventIndex
	}
	if runID != "" {
		if existing, ok := payload["run_id"].(string); !ok || existing == "" {
			payload["run_id"] = runID
		}
	}

	eventType := string(domain.EventTypeMessage)
	if t, ok := payload["event"].(string); ok && t != "" {
		eventType = t
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	return "event: " + eventType + "\ndata: " + string(data) + "\n\n", nil
}

// EncodeEnvelope encodes a stored envelope with its original index.
func EncodeEnvelope(env domain.EventEnvelope) (string, error) {
	index := env.EventIndex
	return Encode(env.Event, &index, env.RunID)
}

func wireOf(event domain.RunEvent) map[string]any {
	if event == nil {
		return map[string]any{"event": string(domain.EventTypeMessage), "content": ""}
	}
	if m := event.Wire(); m != nil {
		return m
	}
	return map[string]any{
		"event":   string(domain.EventTypeMessage),
		"content": fmt.Sprint(event),
	}
}

// IsDataFrame reports whether a text message received on the socket is an
// SSE data frame rather than a JSON control frame.
func IsDataFrame(message string) bool {
	return strings.HasPrefix(message, "event:")
}
