package domain

import "time"

// MessageAuthor is the denormalized author info carried on every message,
// so clients can render history without a member lookup.
type MessageAuthor struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Image string     `json:"image,omitempty"`
	Type  MemberType `json:"type"`
}

// Mention is a reference to a room member inside message content.
type Mention struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ThreadMetadata is maintained on a thread's root message.
type ThreadMetadata struct {
	MessageCount int    `json:"messageCount"`
	LastMessage  string `json:"lastMessage,omitempty"`
}

// OptimisticData ties a server-confirmed message back to the client-local
// optimistic copy it supersedes.
type OptimisticData struct {
	ID string `json:"id"`
}

// DeliveryState is client-local send state. It is never set by the server.
type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliveryFailed  DeliveryState = "failed"
)

// MessageMetadata carries reconciliation metadata. OptimisticData is echoed
// by the server on confirmed messages; Delivery exists only on client-local
// optimistic copies.
type MessageMetadata struct {
	OptimisticData *OptimisticData `json:"optimisticData,omitempty"`
	Delivery       DeliveryState   `json:"delivery,omitempty"`
}

// ChatRoomMessage is one message in a room. Messages are append-only once
// broadcast; the only in-place replacements are the optimistic→confirmed
// swap on the client and idempotent re-delivery corrections.
type ChatRoomMessage struct {
	ID             string           `json:"id"`
	RoomID         string           `json:"roomId"`
	ThreadID       *string          `json:"threadId"`
	Content        string           `json:"content"`
	Mentions       []Mention        `json:"mentions,omitempty"`
	ToolUses       []ToolUse        `json:"toolUses,omitempty"`
	Member         MessageAuthor    `json:"member"`
	CreatedAt      time.Time        `json:"createdAt"`
	ThreadMetadata *ThreadMetadata  `json:"threadMetadata,omitempty"`
	Metadata       *MessageMetadata `json:"metadata,omitempty"`
}

// OptimisticID returns the optimistic id carried in metadata, or "".
func (m ChatRoomMessage) OptimisticID() string {
	if m.Metadata == nil || m.Metadata.OptimisticData == nil {
		return ""
	}
	return m.Metadata.OptimisticData.ID
}

// MentionsMember reports whether the message mentions the given member id.
func (m ChatRoomMessage) MentionsMember(memberID string) bool {
	for _, mn := range m.Mentions {
		if mn.ID == memberID {
			return true
		}
	}
	return false
}
