package metrics

import (
	"sync"
	"testing"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncFramesSent()
			c.IncEventsAppended()
		}()
	}
	wg.Wait()
	c.AddEventsReplayed(3)

	s := c.Snapshot()
	if s.FramesSent != 50 || s.EventsAppended != 50 {
		t.Fatalf("unexpected counters: %+v", s)
	}
	if s.EventsReplayed != 3 {
		t.Fatalf("expected 3 replayed, got %d", s.EventsReplayed)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.IncReconnects()
	c.AddEventsReplayed(1)
	if s := c.Snapshot(); s.Reconnects != 0 {
		t.Fatalf("nil collector should report zero, got %+v", s)
	}
}
