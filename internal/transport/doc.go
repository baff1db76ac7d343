// Package transport implements the bidirectional event transport.
//
// A Client wraps a single WebSocket connection and speaks the marketplace
// event protocol: every frame is a JSON envelope {"event": ..., "data": ...}.
// The client:
//   - serializes writes and enforces write deadlines
//   - decodes inbound frames into Events for the owner to route
//   - heartbeats with application-level ping/pong and tracks round-trip latency
//   - surfaces stale or broken connections on the Errors channel so the
//     pool can route them into the backoff path
package transport
