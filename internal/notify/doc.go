// Package notify implements the notification manager.
//
// The manager merges three update sources into one consistent, observable
// collection: server push events, interval-gated full syncs against the
// notification service, and local optimistic read-state mutations. The
// collection is newest-first, deduplicated by server-assigned ID, and
// capacity-bounded with oldest-first eviction; the unread count is always
// derived from it, never stored separately. Observer emissions are
// coalesced so an event burst produces a single change notification
// within a bounded window.
package notify
