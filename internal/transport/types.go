package transport

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Outbound event names.
const (
	EventUserOnline       = "user:online"
	EventUserAway         = "user:away"
	EventUserActive       = "user:active"
	EventNotificationSend = "notification:send"
	EventMessageSend      = "message:send"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
	EventPing             = "ping"
)

// Inbound event names.
const (
	EventNotificationNew    = "notification:new"
	EventMessageNew         = "message:new"
	EventJobUpdated         = "job:updated"
	EventApplicationUpdated = "application:updated"
	EventUserStatus         = "user:status"
	EventPong               = "pong"
	EventInactivityWarning  = "inactivity_warning"
)

// JoinEvent returns the join event name for a room key.
func JoinEvent(roomKey string) string { return "join:" + roomKey }

// LeaveEvent returns the leave event name for a room key.
func LeaveEvent(roomKey string) string { return "leave:" + roomKey }

// Event is a decoded inbound frame.
type Event struct {
	Name       string          // envelope event name
	Data       json.RawMessage // payload, unparsed
	ReceivedAt time.Time       // local timestamp when the frame was read
}

// envelope is the wire format for both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// StatusPayload is the payload of user:status events.
type StatusPayload struct {
	PeerID    string `json:"peerId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"` // ms since epoch
}

// PingPayload is the payload of ping and pong events.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"` // ms since epoch
}

// TypingPayload is the payload of typing:start and typing:stop events.
type TypingPayload struct {
	RoomKey string `json:"roomKey"`
}

// InactivityWarning is the payload of inactivity_warning events.
type InactivityWarning struct {
	Message   string `json:"message"`
	TimeoutMs int64  `json:"timeoutMs"`
}

// ClientConfig configures a transport client.
type ClientConfig struct {
	URL          string        // WebSocket URL (e.g., wss://rt.gigtree.example/socket)
	Token        string        // bearer token for the Authorization header
	DialTimeout  time.Duration // open window; an attempt past this fails into backoff
	PingInterval time.Duration // heartbeat cadence
	StaleTimeout time.Duration // max silence before the connection is failed
	WriteTimeout time.Duration // write deadline for sends
	BufferSize   int           // inbound event channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:  20 * time.Second,
		PingInterval: 25 * time.Second,
		StaleTimeout: 60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   256,
	}
}
