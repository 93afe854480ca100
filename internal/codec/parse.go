package codec

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Frame is one parsed SSE frame.
type Frame struct {
	Event string
	Data  string
}

// Payload decodes the frame's data as a JSON object.
func (f Frame) Payload() (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(f.Data), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s frame: %w", f.Event, err)
	}
	return payload, nil
}

// EventIndex returns the event_index carried by the frame, if any.
func (f Frame) EventIndex() (int, bool) {
	var probe struct {
		EventIndex *int `json:"event_index"`
	}
	if err := json.Unmarshal([]byte(f.Data), &probe); err != nil || probe.EventIndex == nil {
		return 0, false
	}
	return *probe.EventIndex, true
}

// FrameHandler is called for each frame read from a stream.
type FrameHandler func(frame Frame) error

// ParseStream reads SSE frames from r and calls handler for each.
func ParseStream(r io.Reader, handler FrameHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var frame Frame

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks end of frame
		if line == "" {
			if frame.Event != "" || frame.Data != "" {
				if err := handler(frame); err != nil {
					return err
				}
				frame = Frame{}
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			frame.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if frame.Data != "" {
				frame.Data += "\n" + data
			} else {
				frame.Data = data
			}
		}
		// Comments and unknown fields are ignored
	}

	if frame.Event != "" || frame.Data != "" {
		if err := handler(frame); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// ParseFrame parses a single frame, as received in one WebSocket message.
func ParseFrame(message string) (Frame, error) {
	var (
		out   Frame
		found bool
	)
	err := ParseStream(strings.NewReader(message), func(f Frame) error {
		if !found {
			out = f
			found = true
		}
		return nil
	})
	if err != nil {
		return Frame{}, err
	}
	if !found {
		return Frame{}, fmt.Errorf("no frame in message")
	}
	return out, nil
}
