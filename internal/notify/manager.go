package notify

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gigtree/realtime/internal/events"
	"github.com/gigtree/realtime/internal/model"
)

// Service is the slice of the notification service REST API the manager
// consumes.
type Service interface {
	Notifications(ctx context.Context) ([]model.NotificationRecord, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

// Cache is the optional local persistence the manager writes through,
// so the UI keeps data when real-time delivery is unavailable.
type Cache interface {
	Upsert(rec model.NotificationRecord) error
	List(limit int) ([]model.NotificationRecord, error)
	MarkRead(id string, at time.Time) error
	MarkAllRead(at time.Time) error
	Prune(capacity int) error
}

// Change is the coalesced observer payload: a snapshot of the current
// collection and its derived unread count.
type Change struct {
	Records []model.NotificationRecord
	Unread  int
}

// Config configures a Manager.
type Config struct {
	Capacity        int           // bounded collection size (default 50)
	SyncMinInterval time.Duration // full-sync gate (default 30s)
	Throttle        time.Duration // emission coalescing window (default 16ms)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:        50,
		SyncMinInterval: 30 * time.Second,
		Throttle:        16 * time.Millisecond,
	}
}

// Manager owns the bounded notification collection. All mutation goes
// through its methods; the underlying slice is never handed out.
type Manager struct {
	cfg     Config
	service Service
	cache   Cache // nil disables write-through
	logger  *slog.Logger

	mu       sync.Mutex
	recs     []model.NotificationRecord // newest first
	index    map[string]int             // id -> position in recs
	lastSync time.Time
	pending  bool // emission scheduled
	closed   bool

	changes *events.Emitter[Change]
	now     func() time.Time
}

// NewManager creates a notification manager. cache may be nil.
func NewManager(cfg Config, service Service, cache Cache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Capacity < 1 {
		cfg.Capacity = def.Capacity
	}
	if cfg.SyncMinInterval <= 0 {
		cfg.SyncMinInterval = def.SyncMinInterval
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = def.Throttle
	}

	return &Manager{
		cfg:     cfg,
		service: service,
		cache:   cache,
		logger:  logger,
		index:   make(map[string]int),
		changes: events.NewEmitter[Change](16),
		now:     time.Now,
	}
}

// Changes returns a subscription delivering coalesced collection changes.
func (m *Manager) Changes() *events.Subscription[Change] {
	return m.changes.Subscribe()
}

// LoadCache seeds the collection from the local cache. Called once at
// start-up, before the first sync; cache contents count as stale local
// data and are merged over by later pushes and syncs.
func (m *Manager) LoadCache() {
	if m.cache == nil {
		return
	}

	recs, err := m.cache.List(m.cfg.Capacity)
	if err != nil {
		m.logger.Warn("failed to load notification cache", "error", err)
		return
	}

	m.mu.Lock()
	for _, rec := range recs {
		if _, ok := m.index[rec.ID]; ok {
			continue
		}
		m.recs = append(m.recs, rec)
		m.index[rec.ID] = len(m.recs) - 1
	}
	m.sortAndTrimLocked()
	m.mu.Unlock()

	m.scheduleEmit()
}

// IngestPush inserts a pushed record at the head of the collection, or
// replaces the existing record in place (last-write-wins) without
// disturbing ordering. Both transports feed this path.
func (m *Manager) IngestPush(rec model.NotificationRecord) {
	if rec.ID == "" {
		m.logger.Warn("dropping pushed notification without id")
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}

	m.mu.Lock()
	if pos, ok := m.index[rec.ID]; ok {
		m.recs[pos] = rec
	} else {
		m.recs = append([]model.NotificationRecord{rec}, m.recs...)
		m.reindexLocked()
		m.evictLocked()
	}
	m.mu.Unlock()

	m.writeThrough(rec)
	m.pruneCache()
	m.scheduleEmit()
}

// Sync fetches the authoritative recent set and merges it by id. Calls
// inside the minimum interval are dropped regardless of how often sync
// is requested, bounding load on the external service. A failed sync is
// logged; stale local data is kept and the next attempt proceeds
// normally.
func (m *Manager) Sync(ctx context.Context) {
	m.mu.Lock()
	if !m.lastSync.IsZero() && m.now().Sub(m.lastSync) < m.cfg.SyncMinInterval {
		m.mu.Unlock()
		return
	}
	// Gate on attempt, not success: a failing service is not hammered.
	m.lastSync = m.now()
	m.mu.Unlock()

	incoming, err := m.service.Notifications(ctx)
	if err != nil {
		m.logger.Warn("notification sync failed", "error", err)
		return
	}

	m.mu.Lock()
	for _, rec := range incoming {
		if rec.ID == "" {
			continue
		}
		pos, ok := m.index[rec.ID]
		if !ok {
			// Sync-only record.
			m.recs = append(m.recs, rec)
			m.index[rec.ID] = len(m.recs) - 1
			continue
		}
		// Known id: content follows the sync snapshot, read state
		// resolves to the more recent write. A local optimistic read
		// always carries a timestamp; an unread snapshot carries none,
		// so it never rolls a read back.
		existing := m.recs[pos]
		if existing.Read && (!rec.Read || existing.ReadAt.After(rec.ReadAt)) {
			rec.Read = true
			rec.ReadAt = existing.ReadAt
		}
		m.recs[pos] = rec
	}
	m.sortAndTrimLocked()
	snapshot := append([]model.NotificationRecord(nil), m.recs...)
	m.mu.Unlock()

	for _, rec := range snapshot {
		m.writeThrough(rec)
	}
	m.pruneCache()
	m.scheduleEmit()
}

// MarkRead optimistically flags a record as read and issues the server
// write. The local flip is kept even when the server write fails: read
// state is a low-stakes, eventually-consistent preference.
func (m *Manager) MarkRead(ctx context.Context, id string) {
	at := m.now()

	m.mu.Lock()
	pos, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.recs[pos].Read = true
	m.recs[pos].ReadAt = at
	m.mu.Unlock()

	if m.cache != nil {
		if err := m.cache.MarkRead(id, at); err != nil {
			m.logger.Warn("cache mark-read failed", "id", id, "error", err)
		}
	}
	m.scheduleEmit()

	if err := m.service.MarkRead(ctx, id); err != nil {
		m.logger.Warn("server mark-read failed, keeping local state",
			"id", id,
			"error", err,
		)
	}
}

// MarkAllRead applies the MarkRead contract to every held record.
func (m *Manager) MarkAllRead(ctx context.Context) {
	at := m.now()

	m.mu.Lock()
	for i := range m.recs {
		if m.recs[i].Read {
			continue
		}
		m.recs[i].Read = true
		m.recs[i].ReadAt = at
	}
	m.mu.Unlock()

	if m.cache != nil {
		if err := m.cache.MarkAllRead(at); err != nil {
			m.logger.Warn("cache mark-all-read failed", "error", err)
		}
	}
	m.scheduleEmit()

	if err := m.service.MarkAllRead(ctx); err != nil {
		m.logger.Warn("server mark-all-read failed, keeping local state", "error", err)
	}
}

// Records returns a snapshot of the collection, newest first.
func (m *Manager) Records() []model.NotificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.NotificationRecord(nil), m.recs...)
}

// UnreadCount returns the number of unread records currently held.
// Always derived from the collection itself.
func (m *Manager) UnreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unreadLocked()
}

// Close tears down the change emitter. Idempotent; a pending coalesced
// emission is discarded rather than fired against disposed state.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.changes.Close()
}

func (m *Manager) unreadLocked() int {
	n := 0
	for i := range m.recs {
		if !m.recs[i].Read {
			n++
		}
	}
	return n
}

// reindexLocked rebuilds the id index after positions shift.
func (m *Manager) reindexLocked() {
	for id := range m.index {
		delete(m.index, id)
	}
	for i := range m.recs {
		m.index[m.recs[i].ID] = i
	}
}

// evictLocked drops the oldest entries beyond capacity, regardless of
// read state. Recency beats completeness here.
func (m *Manager) evictLocked() {
	if len(m.recs) <= m.cfg.Capacity {
		return
	}
	m.recs = m.recs[:m.cfg.Capacity]
	m.reindexLocked()
}

// sortAndTrimLocked restores newest-first order after a merge, then
// evicts beyond capacity.
func (m *Manager) sortAndTrimLocked() {
	sort.SliceStable(m.recs, func(i, j int) bool {
		return m.recs[i].CreatedAt.After(m.recs[j].CreatedAt)
	})
	m.reindexLocked()
	m.evictLocked()
}

// writeThrough mirrors a record into the local cache. Callers prune
// once per batch, not per record.
func (m *Manager) writeThrough(rec model.NotificationRecord) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Upsert(rec); err != nil {
		m.logger.Warn("cache write failed", "id", rec.ID, "error", err)
	}
}

// pruneCache trims the cache to capacity after a write batch.
func (m *Manager) pruneCache() {
	if m.cache == nil {
		return
	}
	if err := m.cache.Prune(m.cfg.Capacity); err != nil {
		m.logger.Warn("cache prune failed", "error", err)
	}
}

// scheduleEmit coalesces change emissions: the first call in a window
// arms one timer, later calls ride on it, and the emission reflects the
// state at fire time. The window never restarts, so worst-case latency
// is bounded at one throttle interval.
func (m *Manager) scheduleEmit() {
	m.mu.Lock()
	if m.pending || m.closed {
		m.mu.Unlock()
		return
	}
	m.pending = true
	m.mu.Unlock()

	time.AfterFunc(m.cfg.Throttle, m.emitNow)
}

// emitNow publishes the coalesced change.
func (m *Manager) emitNow() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.pending = false
	change := Change{
		Records: append([]model.NotificationRecord(nil), m.recs...),
		Unread:  m.unreadLocked(),
	}
	m.mu.Unlock()

	m.changes.Publish(change)
}
