package room

import (
	"context"

	"github.com/hardspoon/chatsemble/internal/domain"
)

// Store is the persistence surface the room actor requires. Satisfied by
// store.SQLiteRoomStore and store.MemoryRoomStore.
type Store interface {
	CreateRoom(room domain.ChatRoom, members []domain.ChatRoomMember) error
	GetRoom(roomID string) (domain.ChatRoom, error)

	AddMember(m domain.ChatRoomMember) error
	RemoveMember(roomID, memberID string) error
	Members(roomID string) ([]domain.ChatRoomMember, error)
	IsMember(roomID, memberID string) (bool, error)

	InsertMessage(msg domain.ChatRoomMessage) error
	UpdateMessage(msg domain.ChatRoomMessage) error
	MarkThread(roomID, rootID string) error
	GetMessage(roomID, id string) (domain.ChatRoomMessage, error)
	RecentMessages(roomID string, limit int) ([]domain.ChatRoomMessage, error)
	TopLevelMessages(roomID string, limit int) ([]domain.ChatRoomMessage, error)
	ThreadMessages(roomID, threadID string) ([]domain.ChatRoomMessage, error)
}

// Dispatcher runs an agent's response pipeline for a triggering message.
// Implemented by the agent package; a nil dispatcher disables agents.
type Dispatcher interface {
	Dispatch(ctx context.Context, actor *Actor, trigger domain.ChatRoomMessage, agent domain.ChatRoomMember)
}
