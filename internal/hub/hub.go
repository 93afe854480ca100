// Package hub provides the connection registry: which connection, if any,
// receives the live events of each run.
package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/runstream/internal/metrics"
	"github.com/xiaot623/gogo/runstream/internal/protocol"
)

var (
	// ErrBufferFull is returned when a connection's send queue is full.
	ErrBufferFull = errors.New("send buffer full")
	// ErrConnectionClosed is returned when sending to an unregistered connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotBound is returned by Send when no connection is bound to the run.
	ErrNotBound = errors.New("no connection bound to run")
)

// Hub tracks live connections and run bindings. At most one connection is
// bound to a run; binding another silently replaces it.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	runs        map[string]*Connection

	log     *zap.Logger
	metrics *metrics.Collector
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger, collector *metrics.Collector) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		runs:        make(map[string]*Connection),
		log:         logger.Named("hub"),
		metrics:     collector,
	}
}

// NewConnection wraps a socket in a Connection. It is not tracked until Connect.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		send: make(chan []byte, sendQueueSize),
	}
}

// Connect tracks the connection and sends it a connected frame.
func (h *Hub) Connect(conn *Connection, requiresAuth bool) error {
	conn.mu.Lock()
	conn.session = Session{RequiresAuth: requiresAuth, ConnectedAt: time.Now()}
	conn.mu.Unlock()

	h.mu.Lock()
	h.connections[conn.ID] = conn
	h.mu.Unlock()

	h.metrics.IncConnectionsOpened()
	h.log.Info("connection registered", zap.String("conn_id", conn.ID), zap.Bool("requires_auth", requiresAuth))
	return h.SendJSON(conn, protocol.Connected(requiresAuth))
}

// Authenticate marks the connection authenticated and sends an authenticated frame.
func (h *Hub) Authenticate(conn *Connection) error {
	conn.mu.Lock()
	conn.session.Authenticated = true
	conn.mu.Unlock()

	h.log.Info("connection authenticated", zap.String("conn_id", conn.ID))
	return h.SendJSON(conn, protocol.Authenticated())
}

// IsAuthenticated reports whether the connection has authenticated.
func (h *Hub) IsAuthenticated(conn *Connection) bool {
	return conn.Session().Authenticated
}

// Register binds runID to conn, replacing any previous binding.
func (h *Hub) Register(runID string, conn *Connection) {
	h.mu.Lock()
	prev := h.runs[runID]
	h.runs[runID] = conn
	h.mu.Unlock()

	if prev != nil && prev != conn {
		h.log.Debug("run binding replaced", zap.String("run_id", runID),
			zap.String("prev_conn_id", prev.ID), zap.String("conn_id", conn.ID))
	}
}

// Lookup returns the connection bound to runID.
func (h *Hub) Lookup(runID string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.runs[runID]
	return conn, ok
}

// Send delivers message to the connection bound to runID. On failure the
// binding is dropped; the run itself is not affected.
func (h *Hub) Send(runID, message string) error {
	conn, ok := h.Lookup(runID)
	if !ok {
		return ErrNotBound
	}

	if err := h.SendToConnection(conn, message); err != nil {
		h.unbind(runID, conn)
		h.log.Warn("send failed, dropping run binding",
			zap.String("run_id", runID), zap.String("conn_id", conn.ID), zap.Error(err))
		return err
	}
	return nil
}

// SendToConnection queues message on a specific connection.
func (h *Hub) SendToConnection(conn *Connection, message string) error {
	if err := conn.enqueue([]byte(message)); err != nil {
		h.metrics.IncSendFailures()
		return err
	}
	h.metrics.IncFramesSent()
	return nil
}

// SendJSON queues a JSON control frame on a specific connection.
func (h *Hub) SendJSON(conn *Connection, v any) error {
	message, err := protocol.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, message)
}

// unbind removes the binding only if it still points at conn.
func (h *Hub) unbind(runID string, conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runs[runID] == conn {
		delete(h.runs, runID)
	}
}

// UnregisterRun removes the binding for runID.
func (h *Hub) UnregisterRun(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.runs, runID)
}

// UnregisterConnection removes every binding pointing at conn, forgets
// the connection and closes its send queue. Runs keep executing.
func (h *Hub) UnregisterConnection(conn *Connection) {
	h.mu.Lock()
	_, tracked := h.connections[conn.ID]
	delete(h.connections, conn.ID)
	var dropped []string
	for runID, bound := range h.runs {
		if bound == conn {
			delete(h.runs, runID)
			dropped = append(dropped, runID)
		}
	}
	h.mu.Unlock()

	if conn.shutdown() && tracked {
		h.metrics.IncConnectionsClosed()
	}
	h.log.Info("connection unregistered", zap.String("conn_id", conn.ID), zap.Strings("run_ids", dropped))
}

// RunsFor returns the run ids currently bound to conn.
func (h *Hub) RunsFor(conn *Connection) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var ids []string
	for runID, bound := range h.runs {
		if bound == conn {
			ids = append(ids, runID)
		}
	}
	return ids
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetBindingCount returns the number of runs bound to a connection.
func (h *Hub) GetBindingCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.runs)
}
