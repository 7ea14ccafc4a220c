package domain

import "time"

// MemberType distinguishes human users from agents.
type MemberType string

const (
	MemberTypeUser  MemberType = "user"
	MemberTypeAgent MemberType = "agent"
)

// Valid reports whether t is a known member type.
func (t MemberType) Valid() bool {
	return t == MemberTypeUser || t == MemberTypeAgent
}

// MemberRole is a member's role within a room. At most one owner exists
// per room, assigned to the creator at room-creation time.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

// Valid reports whether r is a known member role.
func (r MemberRole) Valid() bool {
	switch r {
	case MemberRoleOwner, MemberRoleAdmin, MemberRoleMember:
		return true
	}
	return false
}

// ChatRoomMember is a room membership row, composite-keyed by
// (RoomID, MemberID).
type ChatRoomMember struct {
	RoomID    string     `json:"roomId"`
	MemberID  string     `json:"memberId"`
	Type      MemberType `json:"type"`
	Role      MemberRole `json:"role"`
	Name      string     `json:"name"`
	Email     string     `json:"email,omitempty"`
	Image     string     `json:"image,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Identity is a user or agent resolved from the organization directory.
type Identity struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	Type           MemberType `json:"type"`
	Name           string     `json:"name"`
	Email          string     `json:"email,omitempty"`
	Image          string     `json:"image,omitempty"`
}
