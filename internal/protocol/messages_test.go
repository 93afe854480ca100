package protocol

import (
	"encoding/json"
	"testing"
)

func TestStartRunTarget(t *testing.T) {
	cmd := StartRunCommand{WorkflowID: "wf", AgentID: "ag", TeamID: "tm"}
	for kind, want := range map[string]string{"workflow": "wf", "agent": "ag", "team": "tm", "other": ""} {
		if got := cmd.Target(kind); got != want {
			t.Errorf("Target(%q): got %q, want %q", kind, got, want)
		}
	}
}

func TestReconnectDistinguishesNullIndex(t *testing.T) {
	var withNull ReconnectCommand
	if err := json.Unmarshal([]byte(`{"action":"reconnect","run_id":"r","last_event_index":null}`), &withNull); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if withNull.LastEventIndex != nil {
		t.Fatalf("expected nil index, got %d", *withNull.LastEventIndex)
	}

	var withZero ReconnectCommand
	if err := json.Unmarshal([]byte(`{"action":"reconnect","run_id":"r","last_event_index":0}`), &withZero); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if withZero.LastEventIndex == nil || *withZero.LastEventIndex != 0 {
		t.Fatalf("expected index 0, got %v", withZero.LastEventIndex)
	}
}

func TestControlFrames(t *testing.T) {
	out, err := Marshal(UnknownAction("dance"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if out != `{"event":"error","error":"Unknown action: dance"}` {
		t.Fatalf("unexpected frame: %s", out)
	}

	out, err = Marshal(Connected(true))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal([]byte(out), &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame["event"] != "connected" || frame["requires_auth"] != true {
		t.Fatalf("unexpected frame: %v", frame)
	}
}
