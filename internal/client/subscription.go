package client

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hardspoon/chatsemble/internal/domain"
	"github.com/hardspoon/chatsemble/internal/logging"
	"github.com/hardspoon/chatsemble/internal/wire"
)

// FrameSender sends a frame to the server. Satisfied by
// ConnectionManager.
type FrameSender interface {
	Send(f wire.Frame) error
}

// defaultSendTimeout bounds how long an optimistic message waits for
// its server echo before being marked failed.
const defaultSendTimeout = 10 * time.Second

// RoomSubscription is the client-local view of one room: the message
// list, the member list, and the optimistic-send bookkeeping. Frames
// from the connection manager are applied through HandleFrame.
type RoomSubscription struct {
	sender      FrameSender
	self        domain.MessageAuthor
	sendTimeout time.Duration
	log         *logging.Logger

	mu       sync.Mutex
	closed   bool
	messages []domain.ChatRoomMessage
	members  []domain.ChatRoomMember
	pending  map[string]*time.Timer // optimistic id → expiry timer
}

// ErrSubscriptionClosed is returned by SendMessage after Close.
var ErrSubscriptionClosed = errors.New("subscription closed")

// NewRoomSubscription creates a subscription sending as self.
// sendTimeout <= 0 selects the default.
func NewRoomSubscription(sender FrameSender, self domain.MessageAuthor, sendTimeout time.Duration, log *logging.Logger) *RoomSubscription {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if log == nil {
		log = logging.Silent()
	}
	return &RoomSubscription{
		sender:      sender,
		self:        self,
		sendTimeout: sendTimeout,
		log:         log,
		pending:     make(map[string]*time.Timer),
	}
}

// SendMessage appends an optimistic local copy, sends the message, and
// returns the optimistic copy. If the server echo does not arrive
// within the send timeout the local copy is marked failed; it is never
// silently dropped.
func (s *RoomSubscription) SendMessage(content string, threadID *string, mentions []domain.Mention) (domain.ChatRoomMessage, error) {
	msg := domain.ChatRoomMessage{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Content:   content,
		Mentions:  mentions,
		Member:    s.self,
		CreatedAt: time.Now().UTC(),
		Metadata:  &domain.MessageMetadata{Delivery: domain.DeliveryPending},
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ChatRoomMessage{}, ErrSubscriptionClosed
	}
	s.messages = UpdateMessageList(s.messages, msg, true)
	s.pending[msg.ID] = time.AfterFunc(s.sendTimeout, func() {
		s.markFailed(msg.ID)
	})
	s.mu.Unlock()

	if err := s.sender.Send(wire.NewMessageReceive(msg)); err != nil {
		s.markFailed(msg.ID)
		return msg, err
	}
	return msg, nil
}

// HandleFrame applies one server frame to the local state. Wire it to
// ConnectionManager's OnFrame.
func (s *RoomSubscription) HandleFrame(f wire.Frame) {
	switch f.Type {
	case wire.FrameMessagesSync:
		s.mu.Lock()
		for _, m := range f.Messages {
			s.messages = UpdateMessageList(s.messages, m, false)
			s.confirmLocked(m.OptimisticID())
		}
		s.mu.Unlock()

	case wire.FrameMessageBroadcast:
		if f.Message == nil {
			return
		}
		s.mu.Lock()
		s.messages = UpdateMessageList(s.messages, *f.Message, false)
		s.confirmLocked(f.Message.OptimisticID())
		s.mu.Unlock()

	case wire.FrameMemberSync, wire.FrameMemberUpdate:
		s.mu.Lock()
		s.members = append([]domain.ChatRoomMember(nil), f.Members...)
		s.mu.Unlock()

	default:
		s.log.Debug().Str("type", string(f.Type)).Msg("ignoring frame")
	}
}

// Messages returns a snapshot of the local message list.
func (s *RoomSubscription) Messages() []domain.ChatRoomMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatRoomMessage(nil), s.messages...)
}

// Members returns a snapshot of the local member list.
func (s *RoomSubscription) Members() []domain.ChatRoomMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatRoomMember(nil), s.members...)
}

// PendingCount returns how many optimistic sends await confirmation.
func (s *RoomSubscription) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// confirmLocked cancels the expiry timer for a confirmed optimistic id.
// Caller holds s.mu.
func (s *RoomSubscription) confirmLocked(optimisticID string) {
	if optimisticID == "" {
		return
	}
	if t, ok := s.pending[optimisticID]; ok {
		t.Stop()
		delete(s.pending, optimisticID)
	}
}

// Close stops every pending send-timeout timer and rejects further
// sends. Messages still awaiting confirmation keep their pending mark;
// mirrors ConnectionManager.Disconnect so no timer outlives the room
// view. Safe to call repeatedly.
func (s *RoomSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}

// markFailed flags an unconfirmed optimistic message as failed.
func (s *RoomSubscription) markFailed(optimisticID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[optimisticID]; !ok {
		return
	}
	delete(s.pending, optimisticID)
	for i := range s.messages {
		if s.messages[i].ID == optimisticID && s.messages[i].Metadata != nil {
			s.messages[i].Metadata.Delivery = domain.DeliveryFailed
			s.log.Warn().Str("message", optimisticID).Msg("send unconfirmed, marked failed")
			return
		}
	}
}
