package store

import (
	"sync"

	"github.com/hardspoon/chatsemble/internal/domain"
)

// MemoryRoomStore is an in-memory room store for tests and ephemeral
// deployments. It mirrors SQLiteRoomStore semantics exactly, including
// the thread-reference invariant and atomic room creation.
type MemoryRoomStore struct {
	mu       sync.RWMutex
	rooms    map[string]domain.ChatRoom
	members  map[string][]domain.ChatRoomMember    // roomID → members
	messages map[string][]domain.ChatRoomMessage   // roomID → messages, insert order
	threads  map[string]map[string]*threadCounters // roomID → rootID → counters
}

type threadCounters struct {
	marked bool
	count  int
	last   string
}

// NewMemoryRoomStore creates an empty in-memory room store.
func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms:    make(map[string]domain.ChatRoom),
		members:  make(map[string][]domain.ChatRoomMember),
		messages: make(map[string][]domain.ChatRoomMessage),
		threads:  make(map[string]map[string]*threadCounters),
	}
}

// CreateRoom stores a room and its initial members atomically.
func (s *MemoryRoomStore) CreateRoom(room domain.ChatRoom, members []domain.ChatRoomMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	for _, m := range members {
		if seen[m.MemberID] {
			return ErrMemberExists
		}
		seen[m.MemberID] = true
	}

	s.rooms[room.ID] = room
	s.members[room.ID] = append([]domain.ChatRoomMember(nil), members...)
	s.threads[room.ID] = make(map[string]*threadCounters)
	return nil
}

// GetRoom returns a room by id.
func (s *MemoryRoomStore) GetRoom(roomID string) (domain.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.ChatRoom{}, ErrRoomNotFound
	}
	return room, nil
}

// AddMember appends a membership row, rejecting duplicates.
func (s *MemoryRoomStore) AddMember(m domain.ChatRoomMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.members[m.RoomID] {
		if existing.MemberID == m.MemberID {
			return ErrMemberExists
		}
	}
	s.members[m.RoomID] = append(s.members[m.RoomID], m)
	return nil
}

// RemoveMember deletes a membership row.
func (s *MemoryRoomStore) RemoveMember(roomID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := s.members[roomID]
	for i, m := range members {
		if m.MemberID == memberID {
			s.members[roomID] = append(members[:i:i], members[i+1:]...)
			return nil
		}
	}
	return ErrMemberNotFound
}

// Members returns all members of a room.
func (s *MemoryRoomStore) Members(roomID string) ([]domain.ChatRoomMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ChatRoomMember(nil), s.members[roomID]...), nil
}

// IsMember reports whether (roomID, memberID) exists.
func (s *MemoryRoomStore) IsMember(roomID, memberID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members[roomID] {
		if m.MemberID == memberID {
			return true, nil
		}
	}
	return false, nil
}

// InsertMessage appends a message, enforcing the thread-reference invariant.
func (s *MemoryRoomStore) InsertMessage(msg domain.ChatRoomMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ThreadID != nil {
		root := s.findLocked(msg.RoomID, *msg.ThreadID)
		if root == nil || root.ThreadID != nil {
			return ErrInvalidThread
		}
	}

	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], msg)

	if msg.ThreadID != nil {
		tc := s.countersLocked(msg.RoomID, *msg.ThreadID)
		tc.count++
		tc.last = msg.Content
	}
	return nil
}

// UpdateMessage replaces a message's content and tool uses in place.
func (s *MemoryRoomStore) UpdateMessage(msg domain.ChatRoomMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[msg.RoomID]
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			msgs[i].Content = msg.Content
			msgs[i].ToolUses = msg.ToolUses
			return nil
		}
	}
	return ErrMessageNotFound
}

// MarkThread flags a top-level message as a thread root. Idempotent.
func (s *MemoryRoomStore) MarkThread(roomID, rootID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	root := s.findLocked(roomID, rootID)
	if root == nil {
		return ErrMessageNotFound
	}
	if root.ThreadID != nil {
		return ErrInvalidThread
	}
	s.countersLocked(roomID, rootID).marked = true
	return nil
}

// GetMessage returns a single message by id.
func (s *MemoryRoomStore) GetMessage(roomID, id string) (domain.ChatRoomMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg := s.findLocked(roomID, id)
	if msg == nil {
		return domain.ChatRoomMessage{}, ErrMessageNotFound
	}
	return s.decorateLocked(roomID, *msg), nil
}

// RecentMessages returns the most recent limit messages, oldest first.
func (s *MemoryRoomStore) RecentMessages(roomID string, limit int) ([]domain.ChatRoomMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[roomID]
	start := len(msgs) - limit
	if start < 0 {
		start = 0
	}
	out := make([]domain.ChatRoomMessage, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		out = append(out, s.decorateLocked(roomID, m))
	}
	return out, nil
}

// TopLevelMessages returns the most recent limit top-level messages,
// oldest first.
func (s *MemoryRoomStore) TopLevelMessages(roomID string, limit int) ([]domain.ChatRoomMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var top []domain.ChatRoomMessage
	for _, m := range s.messages[roomID] {
		if m.ThreadID == nil {
			top = append(top, s.decorateLocked(roomID, m))
		}
	}
	if len(top) > limit {
		top = top[len(top)-limit:]
	}
	return top, nil
}

// ThreadMessages returns a thread's root followed by its replies.
func (s *MemoryRoomStore) ThreadMessages(roomID, threadID string) ([]domain.ChatRoomMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	root := s.findLocked(roomID, threadID)
	if root == nil {
		return nil, ErrMessageNotFound
	}
	out := []domain.ChatRoomMessage{s.decorateLocked(roomID, *root)}
	for _, m := range s.messages[roomID] {
		if m.ThreadID != nil && *m.ThreadID == threadID {
			out = append(out, s.decorateLocked(roomID, m))
		}
	}
	return out, nil
}

func (s *MemoryRoomStore) findLocked(roomID, id string) *domain.ChatRoomMessage {
	msgs := s.messages[roomID]
	for i := range msgs {
		if msgs[i].ID == id {
			return &msgs[i]
		}
	}
	return nil
}

func (s *MemoryRoomStore) countersLocked(roomID, rootID string) *threadCounters {
	byRoom := s.threads[roomID]
	if byRoom == nil {
		byRoom = make(map[string]*threadCounters)
		s.threads[roomID] = byRoom
	}
	tc := byRoom[rootID]
	if tc == nil {
		tc = &threadCounters{}
		byRoom[rootID] = tc
	}
	return tc
}

// decorateLocked attaches thread metadata to marked thread roots.
func (s *MemoryRoomStore) decorateLocked(roomID string, msg domain.ChatRoomMessage) domain.ChatRoomMessage {
	if tc, ok := s.threads[roomID][msg.ID]; ok && tc.marked {
		msg.ThreadMetadata = &domain.ThreadMetadata{
			MessageCount: tc.count,
			LastMessage:  tc.last,
		}
	}
	return msg
}

// MemoryDirectoryStore is an in-memory org directory for tests.
type MemoryDirectoryStore struct {
	mu     sync.RWMutex
	idents map[string]map[string]domain.Identity // orgID → id → identity
}

// NewMemoryDirectoryStore creates an empty in-memory directory.
func NewMemoryDirectoryStore() *MemoryDirectoryStore {
	return &MemoryDirectoryStore{idents: make(map[string]map[string]domain.Identity)}
}

// Upsert inserts or replaces an identity.
func (s *MemoryDirectoryStore) Upsert(id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byOrg := s.idents[id.OrganizationID]
	if byOrg == nil {
		byOrg = make(map[string]domain.Identity)
		s.idents[id.OrganizationID] = byOrg
	}
	byOrg[id.ID] = id
	return nil
}

// Resolve looks up an identity by organization and member id.
func (s *MemoryDirectoryStore) Resolve(orgID, memberID string) (domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.idents[orgID][memberID]
	if !ok {
		return domain.Identity{}, ErrIdentityNotFound
	}
	return ident, nil
}

// List returns all identities in an organization.
func (s *MemoryDirectoryStore) List(orgID string) ([]domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Identity
	for _, ident := range s.idents[orgID] {
		out = append(out, ident)
	}
	return out, nil
}
