// Package room tracks scoped-channel membership and replays it across
// reconnections.
//
// The server does not persist room membership across a full reconnect,
// so the registry owns the desired-membership set locally: joins made
// while disconnected are deferred, and every successful open replays
// the whole set in insertion order. UI-level subscriptions never need
// to know whether an open was fresh or a reconnect.
package room

import (
	"log/slog"
	"sync"

	"github.com/gigtree/realtime/internal/transport"
)

// EmitFunc sends an event over the active connection.
type EmitFunc func(event string, data any) error

// Registry tracks desired room membership for one connection.
type Registry struct {
	mu     sync.Mutex
	order  []string            // insertion order of desired rooms
	member map[string]struct{} // desired-membership set
	emit   EmitFunc            // nil while disconnected
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		member: make(map[string]struct{}),
		logger: logger,
	}
}

// Join adds a room to the desired-membership set. If a connection is
// open the join request is emitted immediately; otherwise it is
// deferred until the next successful open.
func (r *Registry) Join(roomKey string) {
	r.mu.Lock()
	if _, ok := r.member[roomKey]; ok {
		r.mu.Unlock()
		return
	}
	r.member[roomKey] = struct{}{}
	r.order = append(r.order, roomKey)
	emit := r.emit
	r.mu.Unlock()

	if emit != nil {
		if err := emit(transport.JoinEvent(roomKey), nil); err != nil {
			r.logger.Warn("failed to emit join, will replay on reconnect",
				"room", roomKey,
				"error", err,
			)
		}
	}
}

// Leave removes a room from the desired-membership set and, if
// connected, emits a leave request.
func (r *Registry) Leave(roomKey string) {
	r.mu.Lock()
	if _, ok := r.member[roomKey]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.member, roomKey)
	for i, key := range r.order {
		if key == roomKey {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	emit := r.emit
	r.mu.Unlock()

	if emit != nil {
		if err := emit(transport.LeaveEvent(roomKey), nil); err != nil {
			r.logger.Warn("failed to emit leave", "room", roomKey, "error", err)
		}
	}
}

// HandleConnOpen binds the connection and replays a join for every
// desired room in insertion order. Called on every successful open,
// fresh or reconnect.
func (r *Registry) HandleConnOpen(emit EmitFunc) {
	r.mu.Lock()
	r.emit = emit
	keys := append([]string(nil), r.order...)
	r.mu.Unlock()

	for _, roomKey := range keys {
		if err := emit(transport.JoinEvent(roomKey), nil); err != nil {
			r.logger.Warn("failed to replay join", "room", roomKey, "error", err)
		}
	}

	if len(keys) > 0 {
		r.logger.Debug("replayed room joins", "count", len(keys))
	}
}

// HandleConnLost clears the bound connection; membership intent is kept
// for the next replay.
func (r *Registry) HandleConnLost() {
	r.mu.Lock()
	r.emit = nil
	r.mu.Unlock()
}

// Rooms returns the desired-membership set in insertion order.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}
