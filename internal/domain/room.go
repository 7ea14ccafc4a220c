// Package domain defines the core chat room data model shared by the
// server-side room coordinator and the client-side sync core.
package domain

import "time"

// RoomType classifies a chat room.
type RoomType string

const (
	RoomTypePublic       RoomType = "public"
	RoomTypePrivateGroup RoomType = "privateGroup"
	RoomTypeOneToOne     RoomType = "oneToOne"
)

// Valid reports whether t is a known room type.
func (t RoomType) Valid() bool {
	switch t {
	case RoomTypePublic, RoomTypePrivateGroup, RoomTypeOneToOne:
		return true
	}
	return false
}

// ChatRoom is a single chat room. The id doubles as the room actor's
// addressable key. Type and organization are immutable after creation.
type ChatRoom struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Type           RoomType  `json:"type"`
	OrganizationID string    `json:"organizationId"`
	CreatedAt      time.Time `json:"createdAt"`
}
