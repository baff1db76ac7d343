// Package sse implements the server-sent-events fallback channel.
//
// When the bidirectional transport cannot be established the stream
// keeps one-way delivery alive: it holds a long-lived GET against the
// events endpoint, parses the event-stream frames, and routes
// notification and message envelopes into the same ingestion path the
// WebSocket transport feeds. The stream reconnects on its own with the
// shared backoff policy.
package sse
