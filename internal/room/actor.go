// Package room implements the server-side room actor: a per-room unit
// that serializes all state mutation, owns the room's live sockets, and
// fans out frames to connected members.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/hardspoon/chatsemble/internal/domain"
	"github.com/hardspoon/chatsemble/internal/hooks"
	"github.com/hardspoon/chatsemble/internal/logging"
	"github.com/hardspoon/chatsemble/internal/metrics"
	"github.com/hardspoon/chatsemble/internal/wire"
)

// ErrNotAMember is returned when a message's sender does not belong to
// the room.
var ErrNotAMember = errors.New("sender is not a room member")

// ActorOptions tunes a room actor's runtime behavior.
type ActorOptions struct {
	// HistoryWindow is the number of recent messages sent in the
	// messages-sync frame on socket registration.
	HistoryWindow int
	// MessageRatePerSec and MessageBurst bound inbound message frames
	// per socket.
	MessageRatePerSec float64
	MessageBurst      int

	// Hooks receives lifecycle events. Nil drops them.
	Hooks *hooks.Manager
}

func (o *ActorOptions) normalize() {
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 100
	}
	if o.MessageRatePerSec <= 0 {
		o.MessageRatePerSec = 10
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = 20
	}
}

// Actor owns one room. Every mutation of room state passes through its
// mutex, so concurrent requests against the same room are applied one
// at a time and each one sees the result of all previous ones.
type Actor struct {
	room     domain.ChatRoom
	store    Store
	dispatch Dispatcher
	log      *logging.Logger
	opts     ActorOptions

	mu      sync.Mutex
	members []domain.ChatRoomMember
	sockets map[string]*Socket
}

// NewActor builds an actor for a room whose state is already persisted.
// members is the room's current membership as loaded from the store.
func NewActor(r domain.ChatRoom, members []domain.ChatRoomMember, st Store, d Dispatcher, log *logging.Logger, opts ActorOptions) *Actor {
	opts.normalize()
	return &Actor{
		room:     r,
		store:    st,
		dispatch: d,
		log:      log,
		opts:     opts,
		members:  append([]domain.ChatRoomMember(nil), members...),
		sockets:  make(map[string]*Socket),
	}
}

// Room returns the actor's room record.
func (a *Actor) Room() domain.ChatRoom {
	return a.room
}

// Members returns a snapshot of the room's membership.
func (a *Actor) Members() []domain.ChatRoomMember {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.ChatRoomMember(nil), a.members...)
}

// AddMember persists a new membership and notifies connected clients
// with a member-update frame carrying the full member list.
func (a *Actor) AddMember(m domain.ChatRoomMember) error {
	m.RoomID = a.room.ID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	a.mu.Lock()
	if err := a.store.AddMember(m); err != nil {
		a.mu.Unlock()
		return err
	}
	a.members = append(a.members, m)
	members := append([]domain.ChatRoomMember(nil), a.members...)
	sockets := a.snapshotSocketsLocked()
	a.mu.Unlock()

	a.log.Info().Str("room", a.room.ID).Str("member", m.MemberID).Str("role", string(m.Role)).Msg("member added")
	a.broadcast(sockets, wire.NewMemberUpdate(members))
	a.opts.Hooks.EmitAsync(context.Background(), hooks.Event{
		Name: hooks.EventMemberAdded, RoomID: a.room.ID, MemberID: m.MemberID,
	})
	return nil
}

// RemoveMember deletes a membership and notifies connected clients.
// The removed member's sockets are closed; their next connection
// attempt will be refused at the gateway.
func (a *Actor) RemoveMember(memberID string) error {
	a.mu.Lock()
	if err := a.store.RemoveMember(a.room.ID, memberID); err != nil {
		a.mu.Unlock()
		return err
	}
	for i, m := range a.members {
		if m.MemberID == memberID {
			a.members = append(a.members[:i:i], a.members[i+1:]...)
			break
		}
	}
	members := append([]domain.ChatRoomMember(nil), a.members...)
	sockets := a.snapshotSocketsLocked()
	var evicted []*Socket
	for id, s := range a.sockets {
		if s.MemberID == memberID {
			delete(a.sockets, id)
			evicted = append(evicted, s)
		}
	}
	a.mu.Unlock()

	a.log.Info().Str("room", a.room.ID).Str("member", memberID).Msg("member removed")
	for _, s := range evicted {
		s.Close()
		metrics.ActiveSockets.Dec()
	}
	a.broadcast(sockets, wire.NewMemberUpdate(members))
	a.opts.Hooks.EmitAsync(context.Background(), hooks.Event{
		Name: hooks.EventMemberRemoved, RoomID: a.room.ID, MemberID: memberID,
	})
	return nil
}

// HandleInboundMessage validates, persists, and broadcasts a message
// from senderID. The stored message gets a fresh server id; if the
// inbound message carries a client-side id it is echoed back in the
// broadcast metadata so the sender can reconcile its optimistic copy.
// Nothing is broadcast when persistence fails.
func (a *Actor) HandleInboundMessage(ctx context.Context, senderID string, inbound domain.ChatRoomMessage) (domain.ChatRoomMessage, error) {
	a.mu.Lock()
	sender := a.findMemberLocked(senderID)
	if sender == nil {
		a.mu.Unlock()
		return domain.ChatRoomMessage{}, ErrNotAMember
	}

	msg := domain.ChatRoomMessage{
		ID:       uuid.New().String(),
		RoomID:   a.room.ID,
		ThreadID: inbound.ThreadID,
		Content:  inbound.Content,
		Mentions: inbound.Mentions,
		ToolUses: inbound.ToolUses,
		Member: domain.MessageAuthor{
			ID:    sender.MemberID,
			Name:  sender.Name,
			Type:  sender.Type,
			Image: sender.Image,
		},
		CreatedAt: time.Now().UTC(),
	}
	if inbound.ID != "" {
		msg.Metadata = &domain.MessageMetadata{
			OptimisticData: &domain.OptimisticData{ID: inbound.ID},
		}
	}

	if err := a.store.InsertMessage(msg); err != nil {
		a.mu.Unlock()
		return domain.ChatRoomMessage{}, fmt.Errorf("persisting message: %w", err)
	}
	metrics.MessagesPersisted.Inc()

	sockets := a.snapshotSocketsLocked()
	targets := a.mentionedAgentsLocked(msg)
	a.mu.Unlock()

	a.broadcast(sockets, wire.NewMessageBroadcast(msg))
	a.opts.Hooks.EmitAsync(context.Background(), hooks.Event{
		Name: hooks.EventMessagePersisted, RoomID: a.room.ID, MemberID: msg.Member.ID, MessageID: msg.ID,
	})

	for _, agent := range targets {
		if a.dispatch == nil {
			break
		}
		metrics.AgentDispatches.Inc()
		a.opts.Hooks.EmitAsync(context.Background(), hooks.Event{
			Name: hooks.EventAgentDispatched, RoomID: a.room.ID, MemberID: agent.MemberID, MessageID: msg.ID,
		})
		go a.dispatch.Dispatch(context.WithoutCancel(ctx), a, msg, agent)
	}
	return msg, nil
}

// PostAgentMessage persists and broadcasts a message authored by an
// agent member. Used by the dispatch pipeline, which runs outside any
// socket read loop.
func (a *Actor) PostAgentMessage(msg domain.ChatRoomMessage) (domain.ChatRoomMessage, error) {
	a.mu.Lock()
	if a.findMemberLocked(msg.Member.ID) == nil {
		a.mu.Unlock()
		return domain.ChatRoomMessage{}, ErrNotAMember
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.RoomID = a.room.ID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := a.store.InsertMessage(msg); err != nil {
		a.mu.Unlock()
		return domain.ChatRoomMessage{}, fmt.Errorf("persisting agent message: %w", err)
	}
	metrics.MessagesPersisted.Inc()
	sockets := a.snapshotSocketsLocked()
	a.mu.Unlock()

	a.broadcast(sockets, wire.NewMessageBroadcast(msg))
	return msg, nil
}

// UpdateAgentMessage rewrites an existing message's content and tool
// uses, then re-broadcasts the corrected copy. Clients treat the
// re-delivery as a correction keyed by message id, so streaming tool
// progress is just repeated calls with a growing annotation list.
func (a *Actor) UpdateAgentMessage(msgID, content string, toolUses []domain.ToolUse) (domain.ChatRoomMessage, error) {
	a.mu.Lock()
	msg, err := a.store.GetMessage(a.room.ID, msgID)
	if err != nil {
		a.mu.Unlock()
		return domain.ChatRoomMessage{}, err
	}
	msg.Content = content
	msg.ToolUses = toolUses
	if err := a.store.UpdateMessage(msg); err != nil {
		a.mu.Unlock()
		return domain.ChatRoomMessage{}, err
	}
	sockets := a.snapshotSocketsLocked()
	a.mu.Unlock()

	a.broadcast(sockets, wire.NewMessageBroadcast(msg))
	return msg, nil
}

// CreateThread marks a top-level message as a thread root and
// re-broadcasts it with thread metadata attached. Idempotent.
func (a *Actor) CreateThread(rootID string) (domain.ChatRoomMessage, error) {
	a.mu.Lock()
	if err := a.store.MarkThread(a.room.ID, rootID); err != nil {
		a.mu.Unlock()
		return domain.ChatRoomMessage{}, err
	}
	root, err := a.store.GetMessage(a.room.ID, rootID)
	if err != nil {
		a.mu.Unlock()
		return domain.ChatRoomMessage{}, err
	}
	sockets := a.snapshotSocketsLocked()
	a.mu.Unlock()

	a.broadcast(sockets, wire.NewMessageBroadcast(root))
	return root, nil
}

// History returns recent top-level messages, or a full thread when
// threadID is set.
func (a *Actor) History(threadID *string) ([]domain.ChatRoomMessage, error) {
	if threadID != nil {
		return a.store.ThreadMessages(a.room.ID, *threadID)
	}
	return a.store.TopLevelMessages(a.room.ID, a.opts.HistoryWindow)
}

// ConnectSocket registers an upgraded connection with the room and
// sends the initial messages-sync and member-sync frames. Both sync
// frames are written while the actor lock is held, so no concurrent
// broadcast can reach the socket before its sync arrives.
func (a *Actor) ConnectSocket(conn *websocket.Conn, memberID string) (*Socket, error) {
	sock := NewSocket(conn, memberID, a.log)

	a.mu.Lock()
	if a.findMemberLocked(memberID) == nil {
		a.mu.Unlock()
		return nil, ErrNotAMember
	}
	history, err := a.store.RecentMessages(a.room.ID, a.opts.HistoryWindow)
	if err != nil {
		a.mu.Unlock()
		return nil, fmt.Errorf("loading history: %w", err)
	}
	members := append([]domain.ChatRoomMember(nil), a.members...)
	a.sockets[sock.ConnID] = sock

	if err := sock.WriteFrame(wire.NewMessagesSync(history)); err != nil {
		delete(a.sockets, sock.ConnID)
		a.mu.Unlock()
		sock.Close()
		return nil, fmt.Errorf("writing messages sync: %w", err)
	}
	if err := sock.WriteFrame(wire.NewMemberSync(members)); err != nil {
		delete(a.sockets, sock.ConnID)
		a.mu.Unlock()
		sock.Close()
		return nil, fmt.Errorf("writing member sync: %w", err)
	}
	a.mu.Unlock()

	metrics.ActiveSockets.Inc()
	a.log.Debug().Str("room", a.room.ID).Str("member", memberID).Str("conn", sock.ConnID).Msg("socket connected")
	a.opts.Hooks.EmitAsync(context.Background(), hooks.Event{
		Name: hooks.EventSocketConnected, RoomID: a.room.ID, MemberID: memberID,
	})
	return sock, nil
}

// ReadLoop consumes frames from a registered socket until the
// connection drops. Malformed or unexpected frames are logged and
// dropped; they never terminate the connection.
func (a *Actor) ReadLoop(sock *Socket) {
	defer a.DisconnectSocket(sock)

	limiter := rate.NewLimiter(rate.Limit(a.opts.MessageRatePerSec), a.opts.MessageBurst)
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			a.log.Debug().Str("room", a.room.ID).Str("conn", sock.ConnID).Err(err).Msg("socket read ended")
			return
		}
		frame, err := wire.Decode(data)
		if err != nil {
			metrics.FramesDropped.WithLabelValues("malformed").Inc()
			a.log.Warn().Str("room", a.room.ID).Str("conn", sock.ConnID).Err(err).Msg("dropping malformed frame")
			continue
		}
		switch frame.Type {
		case wire.FrameMessageReceive:
			if frame.Message == nil {
				metrics.FramesDropped.WithLabelValues("empty").Inc()
				continue
			}
			if !limiter.Allow() {
				metrics.FramesDropped.WithLabelValues("rate_limited").Inc()
				a.log.Warn().Str("room", a.room.ID).Str("member", sock.MemberID).Msg("rate limiting socket")
				continue
			}
			if _, err := a.HandleInboundMessage(context.Background(), sock.MemberID, *frame.Message); err != nil {
				a.log.Error().Str("room", a.room.ID).Str("member", sock.MemberID).Err(err).Msg("handling inbound message")
			}
		default:
			metrics.FramesDropped.WithLabelValues("unexpected_type").Inc()
			a.log.Debug().Str("room", a.room.ID).Str("type", string(frame.Type)).Msg("ignoring frame")
		}
	}
}

// DisconnectSocket unregisters and closes a socket. Safe to call for a
// socket that was already removed.
func (a *Actor) DisconnectSocket(sock *Socket) {
	a.mu.Lock()
	_, present := a.sockets[sock.ConnID]
	delete(a.sockets, sock.ConnID)
	a.mu.Unlock()

	sock.Close()
	if present {
		metrics.ActiveSockets.Dec()
		a.log.Debug().Str("room", a.room.ID).Str("conn", sock.ConnID).Msg("socket disconnected")
		a.opts.Hooks.EmitAsync(context.Background(), hooks.Event{
			Name: hooks.EventSocketClosed, RoomID: a.room.ID, MemberID: sock.MemberID,
		})
	}
}

// CloseSockets closes every live socket, e.g. on actor eviction.
func (a *Actor) CloseSockets() {
	a.mu.Lock()
	sockets := a.snapshotSocketsLocked()
	a.sockets = make(map[string]*Socket)
	a.mu.Unlock()

	for _, s := range sockets {
		s.Close()
		metrics.ActiveSockets.Dec()
	}
}

// SocketCount returns the number of live sockets.
func (a *Actor) SocketCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sockets)
}

func (a *Actor) findMemberLocked(memberID string) *domain.ChatRoomMember {
	for i := range a.members {
		if a.members[i].MemberID == memberID {
			return &a.members[i]
		}
	}
	return nil
}

// mentionedAgentsLocked returns the agent members mentioned by msg,
// excluding its author.
func (a *Actor) mentionedAgentsLocked(msg domain.ChatRoomMessage) []domain.ChatRoomMember {
	var out []domain.ChatRoomMember
	for i := range a.members {
		m := a.members[i]
		if m.Type != domain.MemberTypeAgent || m.MemberID == msg.Member.ID {
			continue
		}
		if msg.MentionsMember(m.MemberID) {
			out = append(out, m)
		}
	}
	return out
}

// broadcast writes a frame to a socket snapshot outside the actor
// lock. Delivery is best effort; write failures are logged and the
// socket's read loop handles teardown.
func (a *Actor) broadcast(sockets []*Socket, frame wire.Frame) {
	for _, s := range sockets {
		if err := s.WriteFrame(frame); err != nil {
			a.log.Warn().Str("room", a.room.ID).Str("conn", s.ConnID).Err(err).Msg("broadcast write failed")
			continue
		}
		metrics.FramesBroadcast.Inc()
	}
}

func (a *Actor) snapshotSocketsLocked() []*Socket {
	out := make([]*Socket, 0, len(a.sockets))
	for _, s := range a.sockets {
		out = append(out, s)
	}
	return out
}
