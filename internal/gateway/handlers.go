package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hardspoon/chatsemble/internal/domain"
	"github.com/hardspoon/chatsemble/internal/room"
	"github.com/hardspoon/chatsemble/internal/store"
)

// createRoomRequest is the POST /chat-rooms body.
type createRoomRequest struct {
	Name    string          `json:"name"`
	Type    domain.RoomType `json:"type"`
	Members []memberRef     `json:"members,omitempty"`
}

// memberRef names a member to include, with an optional role.
type memberRef struct {
	ID   string            `json:"id"`
	Role domain.MemberRole `json:"role,omitempty"`
}

// createRoomResponse carries the new room's id plus the full room and
// member records for clients that want them.
type createRoomResponse struct {
	RoomID  string                  `json:"roomId"`
	Room    domain.ChatRoom         `json:"room"`
	Members []domain.ChatRoomMember `json:"members"`
}

// handleCreateRoom creates a room with its initial members in one
// atomic step. The authenticated principal becomes the owner.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "room name is required")
		return
	}
	if !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "invalid room type")
		return
	}

	rm := domain.ChatRoom{
		ID:             uuid.New().String(),
		Name:           req.Name,
		Type:           req.Type,
		OrganizationID: s.directory.OrgID(),
		CreatedAt:      time.Now().UTC(),
	}

	// Creator first, as owner; additional members resolve through the
	// directory before anything is persisted.
	refs := append([]memberRef{{ID: userID, Role: domain.MemberRoleOwner}}, req.Members...)
	members := make([]domain.ChatRoomMember, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true

		ident, err := s.directory.Resolve(ref.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown member: "+ref.ID)
			return
		}
		role := ref.Role
		if role == "" {
			role = domain.MemberRoleMember
		}
		if !role.Valid() {
			writeError(w, http.StatusBadRequest, "invalid role: "+string(ref.Role))
			return
		}
		members = append(members, memberFromIdentity(rm.ID, ident, role))
	}

	actor, err := s.rooms.CreateChatRoom(rm, members)
	if err != nil {
		s.log.Error().Str("name", req.Name).Err(err).Msg("creating room")
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	writeJSON(w, http.StatusCreated, createRoomResponse{
		RoomID:  actor.Room().ID,
		Room:    actor.Room(),
		Members: actor.Members(),
	})
}

// addMemberRequest is the POST /chat-rooms/{roomID}/members body.
type addMemberRequest struct {
	ID   string            `json:"id"`
	Role domain.MemberRole `json:"role,omitempty"`
}

// addMemberResponse acknowledges the add and echoes the stored member.
type addMemberResponse struct {
	Success bool                  `json:"success"`
	Member  domain.ChatRoomMember `json:"member"`
}

// successResponse is the bare acknowledgement body.
type successResponse struct {
	Success bool `json:"success"`
}

// handleAddMember adds a member to an existing room. Requires the
// requester to be the room's owner or an admin.
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	actor, ok := s.lookupRoom(w, r.PathValue("roomID"))
	if !ok {
		return
	}
	if !canManageMembers(actor, userID) {
		writeError(w, http.StatusForbidden, "not allowed to manage members")
		return
	}

	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	role := req.Role
	if role == "" {
		role = domain.MemberRoleMember
	}
	if !role.Valid() || role == domain.MemberRoleOwner {
		writeError(w, http.StatusBadRequest, "invalid role: "+string(req.Role))
		return
	}

	ident, err := s.directory.Resolve(req.ID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown member: "+req.ID)
		return
	}

	member := memberFromIdentity(actor.Room().ID, ident, role)
	if err := actor.AddMember(member); err != nil {
		if errors.Is(err, store.ErrMemberExists) {
			writeError(w, http.StatusConflict, "already a member")
			return
		}
		s.log.Error().Str("room", actor.Room().ID).Str("member", req.ID).Err(err).Msg("adding member")
		writeError(w, http.StatusInternalServerError, "failed to add member")
		return
	}
	writeJSON(w, http.StatusCreated, addMemberResponse{Success: true, Member: member})
}

// handleRemoveMember removes a member. Owners and admins can remove
// anyone but the owner; any member can remove themselves.
func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	actor, ok := s.lookupRoom(w, r.PathValue("roomID"))
	if !ok {
		return
	}
	targetID := r.PathValue("memberID")

	if targetID != userID && !canManageMembers(actor, userID) {
		writeError(w, http.StatusForbidden, "not allowed to manage members")
		return
	}
	if roleOf(actor, targetID) == domain.MemberRoleOwner {
		writeError(w, http.StatusForbidden, "cannot remove the room owner")
		return
	}

	if err := actor.RemoveMember(targetID); err != nil {
		if errors.Is(err, store.ErrMemberNotFound) {
			writeError(w, http.StatusNotFound, "not a member")
			return
		}
		s.log.Error().Str("room", actor.Room().ID).Str("member", targetID).Err(err).Msg("removing member")
		writeError(w, http.StatusInternalServerError, "failed to remove member")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleMessages serves recent top-level messages, or one thread when
// threadId is given. Requires membership.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	actor, ok := s.lookupRoom(w, r.PathValue("roomID"))
	if !ok {
		return
	}
	if roleOf(actor, userID) == "" {
		writeError(w, http.StatusForbidden, "not a member of this room")
		return
	}

	var threadID *string
	if t := r.URL.Query().Get("threadId"); t != "" {
		threadID = &t
	}
	msgs, err := actor.History(threadID)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			writeError(w, http.StatusNotFound, "no such thread")
			return
		}
		s.log.Error().Str("room", actor.Room().ID).Err(err).Msg("loading history")
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// handleWebSocket authenticates, checks membership, upgrades, and runs
// the connection's read loop until it drops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	actor, ok := s.lookupRoom(w, r.PathValue("roomID"))
	if !ok {
		return
	}
	if roleOf(actor, userID) == "" {
		writeError(w, http.StatusForbidden, "not a member of this room")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(1 << 20)

	sock, err := actor.ConnectSocket(conn, userID)
	if err != nil {
		s.log.Warn().Str("room", actor.Room().ID).Str("member", userID).Err(err).Msg("socket registration failed")
		conn.Close()
		return
	}
	actor.ReadLoop(sock)
}

// lookupRoom resolves a room id to its actor, writing a 404 on miss.
func (s *Server) lookupRoom(w http.ResponseWriter, roomID string) (*room.Actor, bool) {
	actor, err := s.rooms.Get(roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "no such room")
			return nil, false
		}
		s.log.Error().Str("room", roomID).Err(err).Msg("loading room")
		writeError(w, http.StatusInternalServerError, "failed to load room")
		return nil, false
	}
	return actor, true
}

// canManageMembers reports whether userID may add or remove members.
func canManageMembers(actor *room.Actor, userID string) bool {
	switch roleOf(actor, userID) {
	case domain.MemberRoleOwner, domain.MemberRoleAdmin:
		return true
	}
	return false
}

// roleOf returns userID's role in the room, or "" for non-members.
func roleOf(actor *room.Actor, userID string) domain.MemberRole {
	for _, m := range actor.Members() {
		if m.MemberID == userID {
			return m.Role
		}
	}
	return ""
}

func memberFromIdentity(roomID string, ident domain.Identity, role domain.MemberRole) domain.ChatRoomMember {
	return domain.ChatRoomMember{
		RoomID:    roomID,
		MemberID:  ident.ID,
		Type:      ident.Type,
		Role:      role,
		Name:      ident.Name,
		Email:     ident.Email,
		Image:     ident.Image,
		CreatedAt: time.Now().UTC(),
	}
}
