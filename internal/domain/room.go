// Package domain contains entities without logic, just meta-data.
package domain

import "time"

type (
	RoomID   string
	SocketID string
)

// Room is a call room: a transient pairing of at most two sockets
// negotiating a direct peer-to-peer audio link.
type Room struct {
	ID        RoomID    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoomDTO is a read-only view for APIs (no membership internals).
type RoomDTO struct {
	ID           RoomID    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	Participants int       `json:"participants"`
}
