package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hardspoon/chatsemble/internal/domain"
)

// timeFormat is the canonical stored timestamp format. UTC RFC3339Nano
// keeps lexicographic and chronological order aligned.
const timeFormat = time.RFC3339Nano

// SQLiteRoomStore persists rooms, members, and messages.
type SQLiteRoomStore struct {
	db *DB
}

// NewSQLiteRoomStore creates a room store using the given database.
func NewSQLiteRoomStore(db *DB) *SQLiteRoomStore {
	return &SQLiteRoomStore{db: db}
}

// CreateRoom persists a room and its initial members atomically. If any
// row fails, the whole operation fails and nothing is persisted.
func (s *SQLiteRoomStore) CreateRoom(room domain.ChatRoom, members []domain.ChatRoomMember) error {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin create room: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO chat_rooms (id, name, type, organization_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		room.ID, room.Name, string(room.Type), room.OrganizationID,
		room.CreatedAt.UTC().Format(timeFormat),
	); err != nil {
		return fmt.Errorf("inserting room: %w", err)
	}

	for _, m := range members {
		if _, err := tx.Exec(
			`INSERT INTO chat_room_members (room_id, member_id, type, role, name, email, image, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			room.ID, m.MemberID, string(m.Type), string(m.Role), m.Name, m.Email, m.Image,
			m.CreatedAt.UTC().Format(timeFormat),
		); err != nil {
			return fmt.Errorf("inserting member %s: %w", m.MemberID, err)
		}
	}

	return tx.Commit()
}

// GetRoom returns a room by id.
func (s *SQLiteRoomStore) GetRoom(roomID string) (domain.ChatRoom, error) {
	var room domain.ChatRoom
	var roomType, createdAt string
	err := s.db.sql.QueryRow(
		`SELECT id, name, type, organization_id, created_at FROM chat_rooms WHERE id = ?`,
		roomID,
	).Scan(&room.ID, &room.Name, &roomType, &room.OrganizationID, &createdAt)
	if err == sql.ErrNoRows {
		return domain.ChatRoom{}, ErrRoomNotFound
	}
	if err != nil {
		return domain.ChatRoom{}, fmt.Errorf("querying room: %w", err)
	}
	room.Type = domain.RoomType(roomType)
	room.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return room, nil
}

// AddMember inserts a membership row. Adding an existing (roomId, memberId)
// pair fails with ErrMemberExists regardless of member type.
func (s *SQLiteRoomStore) AddMember(m domain.ChatRoomMember) error {
	var count int
	if err := s.db.sql.QueryRow(
		`SELECT COUNT(*) FROM chat_room_members WHERE room_id = ? AND member_id = ?`,
		m.RoomID, m.MemberID,
	).Scan(&count); err != nil {
		return fmt.Errorf("checking membership: %w", err)
	}
	if count > 0 {
		return ErrMemberExists
	}

	_, err := s.db.sql.Exec(
		`INSERT INTO chat_room_members (room_id, member_id, type, role, name, email, image, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RoomID, m.MemberID, string(m.Type), string(m.Role), m.Name, m.Email, m.Image,
		m.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership row. Messages authored by the removed
// member are left untouched.
func (s *SQLiteRoomStore) RemoveMember(roomID, memberID string) error {
	res, err := s.db.sql.Exec(
		`DELETE FROM chat_room_members WHERE room_id = ? AND member_id = ?`,
		roomID, memberID,
	)
	if err != nil {
		return fmt.Errorf("deleting member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// Members returns all members of a room.
func (s *SQLiteRoomStore) Members(roomID string) ([]domain.ChatRoomMember, error) {
	rows, err := s.db.sql.Query(
		`SELECT room_id, member_id, type, role, name, email, image, created_at
		 FROM chat_room_members WHERE room_id = ? ORDER BY created_at, member_id`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	var members []domain.ChatRoomMember
	for rows.Next() {
		var m domain.ChatRoomMember
		var mType, role, createdAt string
		if err := rows.Scan(&m.RoomID, &m.MemberID, &mType, &role, &m.Name, &m.Email, &m.Image, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		m.Type = domain.MemberType(mType)
		m.Role = domain.MemberRole(role)
		m.CreatedAt, _ = time.Parse(timeFormat, createdAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// IsMember reports whether (roomID, memberID) exists.
func (s *SQLiteRoomStore) IsMember(roomID, memberID string) (bool, error) {
	var count int
	err := s.db.sql.QueryRow(
		`SELECT COUNT(*) FROM chat_room_members WHERE room_id = ? AND member_id = ?`,
		roomID, memberID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return count > 0, nil
}

// InsertMessage persists a message. Thread replies must reference an
// existing top-level message in the same room; the root's thread counters
// are updated in the same transaction.
func (s *SQLiteRoomStore) InsertMessage(msg domain.ChatRoomMessage) error {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin insert message: %w", err)
	}
	defer tx.Rollback()

	if msg.ThreadID != nil {
		var rootThreadID sql.NullString
		err := tx.QueryRow(
			`SELECT thread_id FROM chat_room_messages WHERE id = ? AND room_id = ?`,
			*msg.ThreadID, msg.RoomID,
		).Scan(&rootThreadID)
		if err == sql.ErrNoRows || (err == nil && rootThreadID.Valid) {
			return ErrInvalidThread
		}
		if err != nil {
			return fmt.Errorf("checking thread root: %w", err)
		}
	}

	mentions, toolUses, optimisticID, err := encodeMessageFields(msg)
	if err != nil {
		return err
	}

	var threadID sql.NullString
	if msg.ThreadID != nil {
		threadID = sql.NullString{String: *msg.ThreadID, Valid: true}
	}

	if _, err := tx.Exec(
		`INSERT INTO chat_room_messages
		 (id, room_id, thread_id, content, mentions, tool_uses,
		  member_id, member_name, member_image, member_type, optimistic_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, threadID, msg.Content, mentions, toolUses,
		msg.Member.ID, msg.Member.Name, msg.Member.Image, string(msg.Member.Type),
		optimisticID, msg.CreatedAt.UTC().Format(timeFormat),
	); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if msg.ThreadID != nil {
		if _, err := tx.Exec(
			`UPDATE chat_room_messages
			 SET thread_count = thread_count + 1, thread_last = ?
			 WHERE id = ? AND room_id = ?`,
			msg.Content, *msg.ThreadID, msg.RoomID,
		); err != nil {
			return fmt.Errorf("updating thread counters: %w", err)
		}
	}

	return tx.Commit()
}

// UpdateMessage replaces a message's content and tool uses. Used for
// idempotent correction re-broadcasts (agent tool progress), never for
// user edits.
func (s *SQLiteRoomStore) UpdateMessage(msg domain.ChatRoomMessage) error {
	_, toolUses, _, err := encodeMessageFields(msg)
	if err != nil {
		return err
	}
	res, err := s.db.sql.Exec(
		`UPDATE chat_room_messages SET content = ?, tool_uses = ? WHERE id = ? AND room_id = ?`,
		msg.Content, toolUses, msg.ID, msg.RoomID,
	)
	if err != nil {
		return fmt.Errorf("updating message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MarkThread flags a top-level message as a thread root. Idempotent.
func (s *SQLiteRoomStore) MarkThread(roomID, rootID string) error {
	var threadID sql.NullString
	err := s.db.sql.QueryRow(
		`SELECT thread_id FROM chat_room_messages WHERE id = ? AND room_id = ?`,
		rootID, roomID,
	).Scan(&threadID)
	if err == sql.ErrNoRows {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("checking thread root: %w", err)
	}
	if threadID.Valid {
		return ErrInvalidThread
	}

	_, err = s.db.sql.Exec(
		`UPDATE chat_room_messages SET is_thread = 1 WHERE id = ? AND room_id = ?`,
		rootID, roomID,
	)
	if err != nil {
		return fmt.Errorf("marking thread: %w", err)
	}
	return nil
}

// GetMessage returns a single message by id.
func (s *SQLiteRoomStore) GetMessage(roomID, id string) (domain.ChatRoomMessage, error) {
	rows, err := s.db.sql.Query(messageSelect+` WHERE room_id = ? AND id = ?`, roomID, id)
	if err != nil {
		return domain.ChatRoomMessage{}, fmt.Errorf("querying message: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return domain.ChatRoomMessage{}, ErrMessageNotFound
	}
	return scanMessage(rows)
}

// RecentMessages returns the most recent limit messages in a room, oldest
// first. This is the bounded window sent in the messages-sync frame.
func (s *SQLiteRoomStore) RecentMessages(roomID string, limit int) ([]domain.ChatRoomMessage, error) {
	rows, err := s.db.sql.Query(
		messageSelect+` WHERE room_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// TopLevelMessages returns the most recent limit top-level messages in a
// room, oldest first.
func (s *SQLiteRoomStore) TopLevelMessages(roomID string, limit int) ([]domain.ChatRoomMessage, error) {
	rows, err := s.db.sql.Query(
		messageSelect+` WHERE room_id = ? AND thread_id IS NULL ORDER BY created_at DESC, id DESC LIMIT ?`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying top-level messages: %w", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	reverse(msgs)
	return msgs, nil
}

// ThreadMessages returns a thread's root message followed by its replies
// in chronological order.
func (s *SQLiteRoomStore) ThreadMessages(roomID, threadID string) ([]domain.ChatRoomMessage, error) {
	root, err := s.GetMessage(roomID, threadID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.sql.Query(
		messageSelect+` WHERE room_id = ? AND thread_id = ? ORDER BY created_at, id`,
		roomID, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying thread messages: %w", err)
	}
	defer rows.Close()

	replies, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	return append([]domain.ChatRoomMessage{root}, replies...), nil
}

const messageSelect = `
	SELECT id, room_id, thread_id, content, mentions, tool_uses,
	       member_id, member_name, member_image, member_type,
	       optimistic_id, is_thread, thread_count, thread_last, created_at
	FROM chat_room_messages`

func encodeMessageFields(msg domain.ChatRoomMessage) (mentions, toolUses, optimisticID sql.NullString, err error) {
	if len(msg.Mentions) > 0 {
		data, merr := json.Marshal(msg.Mentions)
		if merr != nil {
			return mentions, toolUses, optimisticID, fmt.Errorf("encoding mentions: %w", merr)
		}
		mentions = sql.NullString{String: string(data), Valid: true}
	}
	if len(msg.ToolUses) > 0 {
		data, merr := json.Marshal(msg.ToolUses)
		if merr != nil {
			return mentions, toolUses, optimisticID, fmt.Errorf("encoding tool uses: %w", merr)
		}
		toolUses = sql.NullString{String: string(data), Valid: true}
	}
	if oid := msg.OptimisticID(); oid != "" {
		optimisticID = sql.NullString{String: oid, Valid: true}
	}
	return mentions, toolUses, optimisticID, nil
}

func collectMessages(rows *sql.Rows) ([]domain.ChatRoomMessage, error) {
	var msgs []domain.ChatRoomMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func scanMessage(rows *sql.Rows) (domain.ChatRoomMessage, error) {
	var msg domain.ChatRoomMessage
	var threadID, mentions, toolUses, optimisticID sql.NullString
	var memberType, createdAt, threadLast string
	var isThread, threadCount int

	if err := rows.Scan(
		&msg.ID, &msg.RoomID, &threadID, &msg.Content, &mentions, &toolUses,
		&msg.Member.ID, &msg.Member.Name, &msg.Member.Image, &memberType,
		&optimisticID, &isThread, &threadCount, &threadLast, &createdAt,
	); err != nil {
		return domain.ChatRoomMessage{}, fmt.Errorf("scanning message: %w", err)
	}

	if threadID.Valid {
		msg.ThreadID = &threadID.String
	}
	if mentions.Valid && mentions.String != "" {
		_ = json.Unmarshal([]byte(mentions.String), &msg.Mentions)
	}
	if toolUses.Valid && toolUses.String != "" {
		_ = json.Unmarshal([]byte(toolUses.String), &msg.ToolUses)
	}
	if optimisticID.Valid && optimisticID.String != "" {
		msg.Metadata = &domain.MessageMetadata{
			OptimisticData: &domain.OptimisticData{ID: optimisticID.String},
		}
	}
	if isThread == 1 {
		msg.ThreadMetadata = &domain.ThreadMetadata{
			MessageCount: threadCount,
			LastMessage:  threadLast,
		}
	}
	msg.Member.Type = domain.MemberType(memberType)
	msg.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	return msg, nil
}

func reverse(msgs []domain.ChatRoomMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
