package domain

// EventEnvelope is a RunEvent as stored in the event log: the event plus
// the run it was appended to and the index assigned at append time.
type EventEnvelope struct {
	RunID      string    `json:"run_id"`
	EventIndex int       `json:"event_index"`
	EventType  EventType `json:"event_type"`
	Event      RunEvent  `json:"-"`
}

// Payload returns the wire mapping of the wrapped event.
func (e EventEnvelope) Payload() map[string]any {
	if e.Event == nil {
		return nil
	}
	return e.Event.Wire()
}
