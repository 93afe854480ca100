// Package http provides the internal HTTP server: health and run inspection.
package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/eventlog"
	"github.com/xiaot623/gogo/runstream/internal/hub"
	"github.com/xiaot623/gogo/runstream/internal/metrics"
)

// Server is the internal HTTP server.
type Server struct {
	echo    *echo.Echo
	hub     *hub.Hub
	events  *eventlog.Log
	metrics *metrics.Collector
	log     *zap.Logger
}

// NewServer creates a new internal HTTP server.
func NewServer(h *hub.Hub, events *eventlog.Log, collector *metrics.Collector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		hub:     h,
		events:  events,
		metrics: collector,
		log:     logger.Named("http"),
	}

	e.GET("/health", s.handleHealth)
	e.GET("/internal/runs", s.handleListRuns)
	e.GET("/internal/runs/:run_id", s.handleGetRun)
	e.GET("/internal/runs/:run_id/events", s.handleGetEvents)
	e.DELETE("/internal/runs/:run_id", s.handleDeleteRun)

	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string           `json:"status"`
	Connections int              `json:"connections"`
	Bindings    int              `json:"bindings"`
	EventLog    eventlog.Stats   `json:"event_log"`
	Metrics     metrics.Snapshot `json:"metrics"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		Connections: s.hub.GetConnectionCount(),
		Bindings:    s.hub.GetBindingCount(),
		EventLog:    s.events.Stats(),
		Metrics:     s.metrics.Snapshot(),
	})
}

// ListRunsResponse is the body of GET /internal/runs.
type ListRunsResponse struct {
	Runs []eventlog.RunInfo `json:"runs"`
}

func (s *Server) handleListRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, ListRunsResponse{Runs: s.events.ListRuns()})
}

// RunResponse is the body of GET /internal/runs/:run_id.
type RunResponse struct {
	eventlog.RunInfo
	Bound bool `json:"bound"`
}

func (s *Server) handleGetRun(c echo.Context) error {
	runID := c.Param("run_id")
	info, ok := s.events.RunInfo(runID)
	if !ok {
		if summary, ok := s.events.Summary(runID); ok {
			return c.JSON(http.StatusGone, summary)
		}
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	_, bound := s.hub.Lookup(runID)
	return c.JSON(http.StatusOK, RunResponse{RunInfo: info, Bound: bound})
}

// EventView is one buffered event as returned by the events endpoint.
type EventView struct {
	EventIndex int              `json:"event_index"`
	EventType  domain.EventType `json:"event_type"`
	Payload    map[string]any   `json:"payload"`
}

// EventsResponse is the body of GET /internal/runs/:run_id/events.
type EventsResponse struct {
	RunID  string      `json:"run_id"`
	Events []EventView `json:"events"`
}

// handleGetEvents returns retained events, optionally only those after
// the ?since= index.
func (s *Server) handleGetEvents(c echo.Context) error {
	runID := c.Param("run_id")
	if _, ok := s.events.GetRunStatus(runID); !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	var since *int
	if raw := c.QueryParam("since"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "since must be an integer"})
		}
		since = &n
	}

	envs := s.events.GetEventsSince(runID, since)
	views := make([]EventView, 0, len(envs))
	for _, env := range envs {
		views = append(views, EventView{
			EventIndex: env.EventIndex,
			EventType:  env.EventType,
			Payload:    env.Payload(),
		})
	}
	return c.JSON(http.StatusOK, EventsResponse{RunID: runID, Events: views})
}

// handleDeleteRun drops the run's buffer and any binding to it. A run that
// is still producing starts a new buffer with its next event.
func (s *Server) handleDeleteRun(c echo.Context) error {
	runID := c.Param("run_id")
	_, tracked := s.events.GetRunStatus(runID)
	_, summarized := s.events.Summary(runID)
	if !tracked && !summarized {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}

	s.events.CleanupRun(runID)
	s.hub.UnregisterRun(runID)
	s.log.Info("run deleted", zap.String("run_id", runID))
	return c.NoContent(http.StatusNoContent)
}
