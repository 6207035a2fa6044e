// Package registry tracks the live agent channels. It is the only
// place Connection entries are created or destroyed; request handlers
// must go through Connect so the one-live-connection-per-agent
// invariant cannot be bypassed.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"tokenvault-backend/lib/protocol"
	"tokenvault-backend/lib/timezone"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/registry")

// Channel is the transport handle kept for each live agent. The
// production implementation wraps a websocket; tests substitute fakes.
type Channel interface {
	Send(ctx context.Context, env protocol.Envelope) error
	Close(code websocket.StatusCode, reason string) error
}

// Connection is one registered agent. UserId stays empty until a
// token upload binds the connection to a subject.
type Connection struct {
	Channel       Channel
	ExtensionId   string
	UserId        string
	ConnectedAt   time.Time
	LastHeartbeat time.Time
}

type Registry struct {
	heartbeatInterval time.Duration

	mu          sync.Mutex
	connections map[string]*Connection

	sweepMu     sync.Mutex
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

func New(heartbeatInterval time.Duration) *Registry {
	return &Registry{
		heartbeatInterval: heartbeatInterval,
		connections:       map[string]*Connection{},
	}
}

// Connect stores a registered agent channel. A second registration for
// the same extension id evicts the previous channel first.
func (r *Registry) Connect(ch Channel, extensionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.connections[extensionId]; ok {
		// ignore close errors on the replaced channel, it may
		// already be gone
		old.Channel.Close(websocket.StatusNormalClosure, "replaced by a new connection")
		slog.Info("replaced existing agent connection", "extension_id", extensionId)
	}

	now := timezone.Now()
	r.connections[extensionId] = &Connection{
		Channel:       ch,
		ExtensionId:   extensionId,
		ConnectedAt:   now,
		LastHeartbeat: now,
	}
	slog.Info("agent connected", "extension_id", extensionId, "connections", len(r.connections))
}

// Disconnect removes and closes an agent's entry. Removing an id that
// is not present is a no-op, not an error.
func (r *Registry) Disconnect(extensionId string) bool {
	r.mu.Lock()
	conn, ok := r.connections[extensionId]
	if ok {
		delete(r.connections, extensionId)
	}
	remaining := len(r.connections)
	r.mu.Unlock()

	if !ok {
		return false
	}

	conn.Channel.Close(websocket.StatusNormalClosure, "disconnected")
	slog.Info("agent disconnected", "extension_id", extensionId, "connections", remaining)
	return true
}

// DisconnectIf removes the entry only while ch is still the registered
// channel. A handler whose connection was replaced by a newer
// registration must not evict its successor on the way out.
func (r *Registry) DisconnectIf(extensionId string, ch Channel) bool {
	r.mu.Lock()
	conn, ok := r.connections[extensionId]
	if !ok || conn.Channel != ch {
		r.mu.Unlock()
		return false
	}
	delete(r.connections, extensionId)
	remaining := len(r.connections)
	r.mu.Unlock()

	conn.Channel.Close(websocket.StatusNormalClosure, "disconnected")
	slog.Info("agent disconnected", "extension_id", extensionId, "connections", remaining)
	return true
}

// SendToExtension unicasts an envelope. A transport failure evicts the
// connection, exactly as if the agent had disconnected.
func (r *Registry) SendToExtension(ctx context.Context, extensionId string, env protocol.Envelope) bool {
	ctx, span := tracer.Start(ctx, "SendToExtension")
	defer span.End()

	r.mu.Lock()
	conn, ok := r.connections[extensionId]
	r.mu.Unlock()

	if !ok {
		slog.WarnContext(ctx, "send failed, agent not connected",
			"extension_id", extensionId, "type", env.Type)
		return false
	}

	err := conn.Channel.Send(ctx, env)
	if err != nil {
		slog.WarnContext(ctx, "send failed, evicting agent",
			"extension_id", extensionId, "type", env.Type, "err", err)
		r.Disconnect(extensionId)
		return false
	}

	slog.DebugContext(ctx, "sent", "extension_id", extensionId, "type", env.Type)
	return true
}

// Broadcast multicasts an envelope to every connection not excluded,
// evicting the ones whose transport fails. Returns the success count.
func (r *Registry) Broadcast(ctx context.Context, env protocol.Envelope, exclude map[string]bool) int {
	ctx, span := tracer.Start(ctx, "Broadcast")
	defer span.End()

	r.mu.Lock()
	targets := make([]*Connection, 0, len(r.connections))
	for extensionId, conn := range r.connections {
		if exclude[extensionId] {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.Unlock()

	success := 0
	var failed []string
	for _, conn := range targets {
		err := conn.Channel.Send(ctx, env)
		if err != nil {
			slog.WarnContext(ctx, "broadcast send failed",
				"extension_id", conn.ExtensionId, "err", err)
			failed = append(failed, conn.ExtensionId)
			continue
		}
		success++
	}
	for _, extensionId := range failed {
		r.Disconnect(extensionId)
	}

	slog.InfoContext(ctx, "broadcast done",
		"type", env.Type, "success", success, "failed", len(failed))
	return success
}

// UpdateHeartbeat resets an agent's timeout clock. False if the agent
// is not connected.
func (r *Registry) UpdateHeartbeat(extensionId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[extensionId]
	if !ok {
		return false
	}
	conn.LastHeartbeat = timezone.Now()
	return true
}

// SetUserId binds a subject to an existing connection. False if the
// agent is not connected.
func (r *Registry) SetUserId(extensionId string, userId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[extensionId]
	if !ok {
		return false
	}
	conn.UserId = userId
	slog.Info("bound agent to user", "extension_id", extensionId, "user_id", userId)
	return true
}

func (r *Registry) Get(extensionId string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[extensionId]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// GetByUser scans current entries for the connection bound to a user.
// Not indexed, the registry holds tens to low hundreds of agents.
func (r *Registry) GetByUser(userId string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, conn := range r.connections {
		if conn.UserId == userId {
			return *conn, true
		}
	}
	return Connection{}, false
}

// Snapshot copies the current entries so callers can iterate without
// holding the registry's lock.
func (r *Registry) Snapshot() []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		out = append(out, *conn)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections)
}

// StartSweeper launches the heartbeat timeout sweep. Starting twice is
// a no-op.
func (r *Registry) StartSweeper() {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	if r.sweepCancel != nil {
		slog.Warn("heartbeat sweeper already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.sweepCancel = cancel
	r.sweepDone = make(chan struct{})

	go func() {
		defer close(r.sweepDone)
		slog.Info("start daemon", "task", "heartbeat sweep", "interval", r.heartbeatInterval)

		ticker := time.NewTicker(r.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopSweeper cancels the sweep and waits for it to wind down.
// Stopping an already-stopped sweeper is a no-op.
func (r *Registry) StopSweeper() {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	if r.sweepCancel == nil {
		return
	}
	r.sweepCancel()
	<-r.sweepDone
	r.sweepCancel = nil
	r.sweepDone = nil
}

// sweep evicts every connection that has not heartbeated for longer
// than 3x the heartbeat interval.
func (r *Registry) sweep() {
	timeout := r.heartbeatInterval * 3
	now := timezone.Now()

	r.mu.Lock()
	var stale []string
	for extensionId, conn := range r.connections {
		elapsed := now.Sub(conn.LastHeartbeat)
		if elapsed > timeout {
			stale = append(stale, extensionId)
			slog.Warn("agent heartbeat timed out",
				"extension_id", extensionId, "elapsed", elapsed)
		}
	}
	r.mu.Unlock()

	for _, extensionId := range stale {
		r.Disconnect(extensionId)
	}
}

// CloseAll stops the sweeper and closes every live channel; used on
// shutdown.
func (r *Registry) CloseAll() {
	r.StopSweeper()

	r.mu.Lock()
	conns := r.connections
	r.connections = map[string]*Connection{}
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Channel.Close(websocket.StatusGoingAway, "server shutting down")
	}
	slog.Info("closed all agent connections", "count", len(conns))
}
