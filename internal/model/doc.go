// Package model defines shared data types used across the real-time client.
//
// Conventions:
//   - Timestamps: time.Time in UTC; wire format is RFC 3339
//   - IDs: server-assigned strings for notifications, uuid.UUID for
//     locally-generated message IDs
//   - Event timestamps on the ping/pong path: int64 milliseconds since epoch
package model
