package domain

import "testing"

func TestTerminalStatus(t *testing.T) {
	cases := []struct {
		event  RunEvent
		status RunStatus
		ok     bool
	}{
		{RunContent{Content: "x"}, "", false},
		{RunCompleted{}, RunStatusCompleted, true},
		{&RunError{Code: "c"}, RunStatusError, true},
		{RunCancelled{}, RunStatusCancelled, true},
		{CustomEvent{Name: "Progress"}, "", false},
	}
	for _, tc := range cases {
		status, ok := TerminalStatus(tc.event)
		if status != tc.status || ok != tc.ok {
			t.Errorf("%T: got (%q, %v), want (%q, %v)", tc.event, status, ok, tc.status, tc.ok)
		}
		if tc.event.Terminal() != tc.ok {
			t.Errorf("%T: Terminal() = %v", tc.event, tc.event.Terminal())
		}
	}
}

func TestCustomEventWire(t *testing.T) {
	ev := CustomEvent{Name: "Progress", Data: map[string]any{"percent": 40, "event": "ignored"}}
	m := ev.Wire()
	if m["event"] != "Progress" || m["percent"] != 40 {
		t.Fatalf("unexpected wire: %v", m)
	}

	if got := (CustomEvent{}).EventType(); got != EventTypeMessage {
		t.Fatalf("unnamed custom event type: got %q", got)
	}
}

func TestSubRunIDIsCarried(t *testing.T) {
	ev := RunContent{Base: Base{RunID: "member-run"}, Content: "x"}
	if ev.Wire()["run_id"] != "member-run" {
		t.Fatalf("expected sub-run id on the wire: %v", ev.Wire())
	}
}
