// Package ws provides the WebSocket server that lets clients start runs and
// resume their event streams after a disconnect.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/runstream/internal/auth"
	"github.com/xiaot623/gogo/runstream/internal/codec"
	"github.com/xiaot623/gogo/runstream/internal/config"
	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/engine"
	"github.com/xiaot623/gogo/runstream/internal/eventlog"
	"github.com/xiaot623/gogo/runstream/internal/hub"
	"github.com/xiaot623/gogo/runstream/internal/metrics"
	"github.com/xiaot623/gogo/runstream/internal/policy"
	"github.com/xiaot623/gogo/runstream/internal/protocol"
)

const (
	startTimeout  = 30 * time.Second
	policyTimeout = 5 * time.Second
)

// Deps are the collaborators the server drives.
type Deps struct {
	Hub       *hub.Hub
	Events    *eventlog.Log
	Engine    engine.Engine
	Validator auth.Validator
	// Policy is optional; nil allows every start.
	Policy    *policy.Engine
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// Server handles WebSocket connections.
type Server struct {
	cfg       *config.Config
	hub       *hub.Hub
	events    *eventlog.Log
	engine    engine.Engine
	validator auth.Validator
	policy    *policy.Engine
	metrics   *metrics.Collector
	log       *zap.Logger
	upgrader  websocket.Upgrader

	producers sync.WaitGroup
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		hub:       deps.Hub,
		events:    deps.Events,
		engine:    deps.Engine,
		validator: deps.Validator,
		policy:    deps.Policy,
		metrics:   deps.Metrics,
		log:       logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("failed to upgrade websocket", zap.Error(err))
		return err
	}

	conn := s.hub.NewConnection(ws)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	if err := s.hub.Connect(conn, s.cfg.RequireAuth); err != nil {
		s.log.Warn("failed to greet connection", zap.String("conn_id", conn.ID), zap.Error(err))
	}

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// Wait blocks until every run producer has drained its engine stream or
// ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.producers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump reads commands from the connection one at a time.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.UnregisterConnection(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("websocket read error", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		s.handleMessage(conn, message)
	}
}

// writePump drains the connection's queue onto the socket and keeps it alive.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	outbound := conn.Outbound()
	for {
		select {
		case message, ok := <-outbound:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Debug("failed to write message", zap.String("conn_id", conn.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches a command to its handler.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var cmd protocol.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.metrics.IncCommandErrors()
		s.sendError(conn, "Invalid JSON message")
		return
	}

	session := conn.Session()
	if cmd.Action != protocol.ActionAuthenticate && session.RequiresAuth && !session.Authenticated {
		s.send(conn, protocol.Error(protocol.EventAuthRequired, "Authentication required. Send an authenticate action with a valid token."))
		return
	}

	switch cmd.Action {
	case protocol.ActionAuthenticate:
		s.handleAuthenticate(conn, data)
	case protocol.ActionPing:
		s.send(conn, protocol.ControlFrame{Event: protocol.EventPong})
	case protocol.ActionStartWorkflow:
		s.handleStartRun(conn, data, domain.RunKindWorkflow)
	case protocol.ActionStartAgent:
		s.handleStartRun(conn, data, domain.RunKindAgent)
	case protocol.ActionStartTeam:
		s.handleStartRun(conn, data, domain.RunKindTeam)
	case protocol.ActionReconnect:
		s.handleReconnect(conn, data)
	default:
		s.metrics.IncCommandErrors()
		s.send(conn, protocol.UnknownAction(cmd.Action))
	}
}

func (s *Server) handleAuthenticate(conn *hub.Connection, data []byte) {
	var cmd protocol.AuthenticateCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.send(conn, protocol.Error(protocol.EventAuthError, "Invalid authenticate message"))
		return
	}

	if s.validator != nil && !s.validator.ValidateToken(cmd.Token) {
		s.metrics.IncAuthFailures()
		s.log.Info("authentication failed", zap.String("conn_id", conn.ID))
		s.send(conn, protocol.Error(protocol.EventAuthError, "Invalid token"))
		return
	}

	if err := s.hub.Authenticate(conn); err != nil {
		s.log.Debug("failed to acknowledge authentication", zap.String("conn_id", conn.ID), zap.Error(err))
	}
}

// handleStartRun starts a run and binds it to conn. The run's events are
// drained by a producer goroutine that outlives the connection.
func (s *Server) handleStartRun(conn *hub.Connection, data []byte, kind domain.RunKind) {
	var cmd protocol.StartRunCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.metrics.IncCommandErrors()
		s.sendError(conn, fmt.Sprintf("Invalid start-%s message", kind))
		return
	}

	targetID := cmd.Target(string(kind))
	if targetID == "" {
		s.metrics.IncCommandErrors()
		s.sendError(conn, fmt.Sprintf("%s_id is required", kind))
		return
	}

	if s.policy != nil {
		ctx, cancel := context.WithTimeout(context.Background(), policyTimeout)
		allowed, reason, err := s.policy.Allowed(ctx, policy.Input{
			Action:        cmd.Action,
			Kind:          string(kind),
			TargetID:      targetID,
			SessionID:     cmd.SessionID,
			Authenticated: s.hub.IsAuthenticated(conn),
		})
		cancel()
		if err != nil {
			s.log.Error("policy evaluation failed", zap.String("target_id", targetID), zap.Error(err))
			s.sendError(conn, "Policy evaluation failed")
			return
		}
		if !allowed {
			if reason == "" {
				reason = fmt.Sprintf("Starting %s %s is not allowed", kind, targetID)
			}
			s.sendError(conn, reason)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	run, err := s.engine.Start(ctx, engine.Request{
		Kind:      kind,
		TargetID:  targetID,
		Input:     cmd.Message,
		SessionID: cmd.SessionID,
		RunID:     cmd.RunID,
	})
	cancel()
	if err != nil {
		s.log.Warn("failed to start run", zap.String("kind", string(kind)), zap.String("target_id", targetID), zap.Error(err))
		s.sendError(conn, fmt.Sprintf("Failed to start %s: %v", kind, err))
		return
	}

	s.hub.Register(run.ID, conn)
	s.send(conn, protocol.RunStartedFrame{
		ControlFrame: protocol.ControlFrame{Event: protocol.EventRunStarted},
		RunID:        run.ID,
		SessionID:    run.SessionID,
	})
	s.metrics.IncRunsStarted()
	s.log.Info("run started", zap.String("run_id", run.ID), zap.String("kind", string(kind)),
		zap.String("target_id", targetID), zap.String("conn_id", conn.ID))

	s.producers.Add(1)
	go s.produce(run)
}

// produce appends every event of run to the log and forwards it to
// whichever connection is bound to the run at that moment.
func (s *Server) produce(run *engine.Run) {
	defer s.producers.Done()

	terminal := false
	for ev := range run.Events {
		s.events.AppendFunc(run.ID, ev, func(env domain.EventEnvelope) {
			s.forward(env)
		})
		s.metrics.IncEventsAppended()

		if status, ok := domain.TerminalStatus(ev); ok && !terminal {
			terminal = true
			s.events.SetCompleted(run.ID, status)
		}
	}

	if !terminal {
		s.events.SetCompleted(run.ID, domain.RunStatusCompleted)
	}
	s.metrics.IncRunsFinished()

	status, _ := s.events.GetRunStatus(run.ID)
	s.log.Info("run finished", zap.String("run_id", run.ID), zap.String("status", string(status)),
		zap.Int("events", s.events.GetEventCount(run.ID)))
}

// forward runs under the run's lock in the event log and must not block.
func (s *Server) forward(env domain.EventEnvelope) {
	frame, err := codec.EncodeEnvelope(env)
	if err != nil {
		s.log.Error("failed to encode event", zap.String("run_id", env.RunID),
			zap.Int("event_index", env.EventIndex), zap.Error(err))
		return
	}
	if err := s.hub.Send(env.RunID, frame); err != nil && !errors.Is(err, hub.ErrNotBound) {
		s.log.Debug("live event not delivered", zap.String("run_id", env.RunID),
			zap.Int("event_index", env.EventIndex), zap.Error(err))
	}
}

// handleReconnect replays what the client missed and binds it for live
// events. The replay and the binding happen under the run's lock, so no
// event is lost or duplicated in between.
func (s *Server) handleReconnect(conn *hub.Connection, data []byte) {
	var cmd protocol.ReconnectCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.metrics.IncCommandErrors()
		s.sendError(conn, "Invalid reconnect message")
		return
	}
	if cmd.RunID == "" {
		s.metrics.IncCommandErrors()
		s.sendError(conn, "run_id is required")
		return
	}

	err := s.events.Resume(cmd.RunID, cmd.LastEventIndex, func(snap eventlog.Snapshot) {
		s.send(conn, protocol.CatchUpFrame{
			ControlFrame:      protocol.ControlFrame{Event: protocol.EventCatchUp},
			RunID:             snap.RunID,
			MissedEvents:      snap.MissedEvents,
			Status:            string(snap.Status),
			CurrentEventCount: snap.EventCount,
		})

		if snap.Summary != nil {
			s.send(conn, protocol.ReplayFrame{
				ControlFrame: protocol.ControlFrame{Event: protocol.EventReplay},
				RunID:        snap.RunID,
				Status:       string(snap.Summary.Status),
				TotalEvents:  snap.Summary.TotalEvents,
				Message:      "Run events are no longer buffered; only a summary is available.",
			})
		} else {
			s.replay(conn, snap.Missed)
		}

		s.hub.Register(snap.RunID, conn)

		s.send(conn, protocol.SubscribedFrame{
			ControlFrame:      protocol.ControlFrame{Event: protocol.EventSubscribed},
			RunID:             snap.RunID,
			Status:            string(snap.Status),
			CurrentEventCount: snap.EventCount,
		})
	})
	if err != nil {
		if errors.Is(err, eventlog.ErrUnknownRun) {
			s.sendError(conn, fmt.Sprintf("Run %s not found", cmd.RunID))
			return
		}
		s.log.Error("reconnect failed", zap.String("run_id", cmd.RunID), zap.Error(err))
		s.sendError(conn, "Reconnect failed")
		return
	}

	s.metrics.IncReconnects()
	s.log.Info("client reconnected", zap.String("run_id", cmd.RunID), zap.String("conn_id", conn.ID))
}

func (s *Server) replay(conn *hub.Connection, missed []domain.EventEnvelope) {
	sent := 0
	for _, env := range missed {
		frame, err := codec.EncodeEnvelope(env)
		if err != nil {
			s.log.Error("failed to encode replayed event", zap.String("run_id", env.RunID),
				zap.Int("event_index", env.EventIndex), zap.Error(err))
			continue
		}
		if err := s.hub.SendToConnection(conn, frame); err != nil {
			s.log.Warn("replay interrupted", zap.String("run_id", env.RunID),
				zap.String("conn_id", conn.ID), zap.Int("event_index", env.EventIndex), zap.Error(err))
			break
		}
		sent++
	}
	s.metrics.AddEventsReplayed(sent)
}

// send queues a control frame on conn.
func (s *Server) send(conn *hub.Connection, frame any) {
	if err := s.hub.SendJSON(conn, frame); err != nil {
		s.log.Debug("failed to send control frame", zap.String("conn_id", conn.ID), zap.Error(err))
	}
}

func (s *Server) sendError(conn *hub.Connection, message string) {
	s.send(conn, protocol.Error(protocol.EventError, message))
}
