package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Presence
// -----------------------------------------------------------------------------

// PresenceStatus is a peer's tracked availability state.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// Valid reports whether s is one of the known presence states.
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// PresenceRecord tracks a single peer's availability.
type PresenceRecord struct {
	PeerID   string         `json:"peerId"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"lastSeen"`
}

// -----------------------------------------------------------------------------
// Notifications
// -----------------------------------------------------------------------------

// NotificationRecord is a single notification held in the bounded collection.
// Identity is the server-assigned ID; IDs are unique within the collection.
type NotificationRecord struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Read         bool            `json:"read"`
	ReadAt       time.Time       `json:"readAt,omitzero"`
	CreatedAt    time.Time       `json:"createdAt"`
	ActionTarget string          `json:"actionTarget,omitempty"`
}

// -----------------------------------------------------------------------------
// Messaging
// -----------------------------------------------------------------------------

// ChatMessage is a message exchanged inside a conversation room.
type ChatMessage struct {
	ID        uuid.UUID       `json:"id"`
	RoomKey   string          `json:"roomKey"`
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
	Body      string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewChatMessage builds an outbound message with a fresh local ID.
func NewChatMessage(roomKey, from, to, body string) ChatMessage {
	return ChatMessage{
		ID:        uuid.New(),
		RoomKey:   roomKey,
		From:      from,
		To:        to,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
}

// JobUpdate is the payload of job:updated and application:updated events.
type JobUpdate struct {
	JobID     string          `json:"jobId"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// SessionKey derives a stable pool key for an authenticated user's window.
// The tab component keeps a pooled connection distinct per browser tab.
func SessionKey(userID, tabID string) string {
	if tabID == "" {
		return userID
	}
	return userID + ":" + tabID
}
