// Package wire defines the JSON frame protocol spoken over a room's
// WebSocket. Frame kinds are a closed set; decoding rejects unknown tags
// so callers can log and drop them without tearing down the connection.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/hardspoon/chatsemble/internal/domain"
)

// FrameType tags a wire frame.
type FrameType string

const (
	// Server → client.
	FrameMessagesSync     FrameType = "messages-sync"
	FrameMessageBroadcast FrameType = "message-broadcast"
	FrameMemberSync       FrameType = "member-sync"
	FrameMemberUpdate     FrameType = "member-update"

	// Client → server.
	FrameMessageReceive FrameType = "message-receive"
)

// ErrUnknownFrameType is returned by Decode for unrecognized tags.
// Protocol rule: unknown frames are logged and dropped, never fatal.
type ErrUnknownFrameType struct {
	Type string
}

func (e *ErrUnknownFrameType) Error() string {
	return fmt.Sprintf("unknown frame type: %q", e.Type)
}

// Frame is the envelope for all room socket traffic. Exactly one payload
// field is populated, determined by Type.
type Frame struct {
	Type FrameType `json:"type"`

	// messages-sync
	Messages []domain.ChatRoomMessage `json:"messages,omitempty"`

	// message-broadcast, message-receive
	Message *domain.ChatRoomMessage `json:"message,omitempty"`

	// member-sync, member-update
	Members []domain.ChatRoomMember `json:"members,omitempty"`
}

// NewMessagesSync builds the one-shot history frame sent right after a
// socket upgrade, before any live broadcast can reach the connection.
func NewMessagesSync(messages []domain.ChatRoomMessage) Frame {
	return Frame{Type: FrameMessagesSync, Messages: messages}
}

// NewMessageBroadcast builds a live single-message frame.
func NewMessageBroadcast(msg domain.ChatRoomMessage) Frame {
	return Frame{Type: FrameMessageBroadcast, Message: &msg}
}

// NewMemberSync builds the initial membership snapshot frame.
func NewMemberSync(members []domain.ChatRoomMember) Frame {
	return Frame{Type: FrameMemberSync, Members: members}
}

// NewMemberUpdate builds a membership-changed frame.
func NewMemberUpdate(members []domain.ChatRoomMember) Frame {
	return Frame{Type: FrameMemberUpdate, Members: members}
}

// NewMessageReceive builds the client → server send frame.
func NewMessageReceive(msg domain.ChatRoomMessage) Frame {
	return Frame{Type: FrameMessageReceive, Message: &msg}
}

// Decode parses a raw frame and validates its tag against the closed set.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("parsing frame: %w", err)
	}

	switch f.Type {
	case FrameMessagesSync, FrameMessageBroadcast, FrameMemberSync,
		FrameMemberUpdate, FrameMessageReceive:
		return f, nil
	default:
		return Frame{}, &ErrUnknownFrameType{Type: string(f.Type)}
	}
}

// Encode serializes a frame for the wire.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}
