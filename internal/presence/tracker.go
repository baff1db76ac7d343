// Package presence tracks peer availability and asserts the local
// user's status outward.
//
// Peer state is only ever learned from inbound user:status events; the
// local user's state is only ever asserted from local signals (tab
// visibility, connection lifecycle) and never inferred from peer events.
package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gigtree/realtime/internal/events"
	"github.com/gigtree/realtime/internal/model"
	"github.com/gigtree/realtime/internal/transport"
)

// EmitFunc sends an event over the active connection.
type EmitFunc func(event string, data any) error

// Change is published whenever a peer's tracked status changes.
type Change struct {
	PeerID    string
	OldStatus model.PresenceStatus
	NewStatus model.PresenceStatus
	Timestamp time.Time
}

// Tracker maintains presence records for peers and the local user.
type Tracker struct {
	mu        sync.Mutex
	peers     map[string]model.PresenceRecord
	retention time.Duration

	// Local state.
	local     model.PresenceStatus
	emit      EmitFunc // nil while disconnected
	connected bool

	changes *events.Emitter[Change]
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker creates a tracker. Stale offline entries older than
// retention are evicted lazily on lookup.
func NewTracker(retention time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &Tracker{
		peers:     make(map[string]model.PresenceRecord),
		retention: retention,
		local:     model.StatusOnline,
		changes:   events.NewEmitter[Change](64),
		logger:    logger,
		now:       time.Now,
	}
}

// Changes returns a subscription delivering peer status transitions.
func (t *Tracker) Changes() *events.Subscription[Change] {
	return t.changes.Subscribe()
}

// HandleStatus applies an inbound user:status event.
// Self-directed events are ignored: local status is asserted, not pushed.
func (t *Tracker) HandleStatus(peerID string, status model.PresenceStatus, at time.Time) {
	if !status.Valid() {
		t.logger.Warn("ignoring unknown presence status", "peer", peerID, "status", status)
		return
	}
	if at.IsZero() {
		at = t.now()
	}

	t.mu.Lock()
	old := t.peers[peerID].Status
	if old == "" {
		old = "unknown"
	}
	t.peers[peerID] = model.PresenceRecord{
		PeerID:   peerID,
		Status:   status,
		LastSeen: at,
	}
	t.mu.Unlock()

	if old != status {
		t.changes.Publish(Change{
			PeerID:    peerID,
			OldStatus: old,
			NewStatus: status,
			Timestamp: at,
		})
	}
}

// Peer returns the tracked record for a peer. A stale offline entry
// older than the retention window is evicted instead of returned.
func (t *Tracker) Peer(peerID string) (model.PresenceRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.peers[peerID]
	if !ok {
		return model.PresenceRecord{}, false
	}

	if rec.Status == model.StatusOffline && t.now().Sub(rec.LastSeen) > t.retention {
		delete(t.peers, peerID)
		return model.PresenceRecord{}, false
	}

	return rec, true
}

// Snapshot returns all currently tracked peers.
func (t *Tracker) Snapshot() []model.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	recs := make([]model.PresenceRecord, 0, len(t.peers))
	for _, rec := range t.peers {
		recs = append(recs, rec)
	}
	return recs
}

// SetVisibility records a local tab visibility transition and asserts
// the resulting status outward when connected. Hidden maps to away,
// visible maps to online.
func (t *Tracker) SetVisibility(hidden bool) {
	status := model.StatusOnline
	if hidden {
		status = model.StatusAway
	}

	t.mu.Lock()
	t.local = status
	emit := t.emit
	connected := t.connected
	t.mu.Unlock()

	if connected {
		t.assert(status, emit)
	}
}

// LocalStatus returns the local user's current asserted status.
func (t *Tracker) LocalStatus() model.PresenceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

// HandleConnOpen binds the connection's emit function and re-asserts the
// local status. Called on every successful open, including reconnects.
func (t *Tracker) HandleConnOpen(emit EmitFunc) {
	t.mu.Lock()
	t.emit = emit
	t.connected = true
	status := t.local
	t.mu.Unlock()

	t.assert(status, emit)
}

// HandleConnLost clears the bound connection and marks every tracked
// peer offline: silence is indistinguishable from departure once the
// transport is gone.
func (t *Tracker) HandleConnLost() {
	now := t.now()

	t.mu.Lock()
	t.emit = nil
	t.connected = false

	var transitions []Change
	for id, rec := range t.peers {
		if rec.Status == model.StatusOffline {
			continue
		}
		transitions = append(transitions, Change{
			PeerID:    id,
			OldStatus: rec.Status,
			NewStatus: model.StatusOffline,
			Timestamp: now,
		})
		rec.Status = model.StatusOffline
		rec.LastSeen = now
		t.peers[id] = rec
	}
	t.mu.Unlock()

	for _, ch := range transitions {
		t.changes.Publish(ch)
	}
}

// Close tears down the change emitter. Idempotent.
func (t *Tracker) Close() {
	t.changes.Close()
}

// assert emits the local status outward.
func (t *Tracker) assert(status model.PresenceStatus, emit EmitFunc) {
	if emit == nil {
		return
	}

	event := transport.EventUserOnline
	if status == model.StatusAway {
		event = transport.EventUserAway
	}

	if err := emit(event, nil); err != nil {
		t.logger.Warn("failed to assert local status", "status", status, "error", err)
	}
}
