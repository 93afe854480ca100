package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/eventlog"
	"github.com/xiaot623/gogo/runstream/internal/hub"
	"github.com/xiaot623/gogo/runstream/internal/metrics"
)

func newTestServer(t *testing.T) (*Server, *eventlog.Log) {
	t.Helper()
	collector := metrics.NewCollector()
	events := eventlog.New(eventlog.Options{MaxEventsPerRun: 3})
	return NewServer(hub.NewHub(nil, collector), events, collector, nil), events
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s, events := newTestServer(t)
	events.Append("run-1", domain.RunContent{Content: "a"})

	rec := do(t, s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 1, resp.EventLog.Runs)
	assert.Equal(t, 1, resp.EventLog.RetainedEvents)
}

func TestRunInspection(t *testing.T) {
	t.Parallel()
	s, events := newTestServer(t)
	for i := 0; i < 5; i++ {
		events.Append("run-1", domain.RunContent{Content: "x"})
	}

	rec := do(t, s, http.MethodGet, "/internal/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var list ListRunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, 5, list.Runs[0].EventCount)
	assert.Equal(t, 3, list.Runs[0].Retained)

	rec = do(t, s, http.MethodGet, "/internal/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var run RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, domain.RunStatusRunning, run.Status)
	assert.False(t, run.Bound)

	rec = do(t, s, http.MethodGet, "/internal/runs/run-1/events?since=3")
	require.Equal(t, http.StatusOK, rec.Code)
	var evs EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evs))
	require.Len(t, evs.Events, 1)
	assert.Equal(t, 4, evs.Events[0].EventIndex)
	assert.Equal(t, domain.EventTypeRunContent, evs.Events[0].EventType)

	rec = do(t, s, http.MethodGet, "/internal/runs/run-1/events?since=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/internal/runs/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSweptRunReturnsSummary(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := eventlog.New(eventlog.Options{CleanupInterval: time.Minute, Now: func() time.Time { return now }})
	s := NewServer(hub.NewHub(nil, nil), events, nil, nil)

	events.Append("run-1", domain.RunCompleted{})
	events.SetCompleted("run-1", domain.RunStatusCompleted)
	now = now.Add(90 * time.Second)
	events.CleanupRuns()

	rec := do(t, s, http.MethodGet, "/internal/runs/run-1")
	require.Equal(t, http.StatusGone, rec.Code)
	var summary eventlog.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.TotalEvents)
}

func TestDeleteRun(t *testing.T) {
	t.Parallel()
	s, events := newTestServer(t)
	events.Append("run-1", domain.RunContent{Content: "a"})

	rec := do(t, s, http.MethodDelete, "/internal/runs/run-1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := events.GetRunStatus("run-1")
	assert.False(t, ok)

	rec = do(t, s, http.MethodDelete, "/internal/runs/run-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
