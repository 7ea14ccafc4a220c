package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hardspoon/chatsemble/internal/domain"
	"github.com/hardspoon/chatsemble/internal/logging"
)

// roomStore is the shared surface exercised against both backends.
type roomStore interface {
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

func openSQLite(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), logging.Silent())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func eachStore(t *testing.T, fn func(t *testing.T, s roomStore)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, NewSQLiteRoomStore(openSQLite(t)))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryRoomStore())
	})
}

func testRoom(id string) domain.ChatRoom {
	return domain.ChatRoom{
		ID:             id,
		Name:           "general",
		Type:           domain.RoomTypePublic,
		OrganizationID: "org1",
		CreatedAt:      time.Now().UTC(),
	}
}

func testMember(roomID, memberID string, role domain.MemberRole) domain.ChatRoomMember {
	return domain.ChatRoomMember{
		RoomID:    roomID,
		MemberID:  memberID,
		Type:      domain.MemberTypeUser,
		Role:      role,
		Name:      memberID,
		CreatedAt: time.Now().UTC(),
	}
}

func testMessage(roomID, id, content string) domain.ChatRoomMessage {
	return domain.ChatRoomMessage{
		ID:        id,
		RoomID:    roomID,
		Content:   content,
		Member:    domain.MessageAuthor{ID: "u1", Name: "Ada", Type: domain.MemberTypeUser},
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateRoomAndMembers(t *testing.T) {
	eachStore(t, func(t *testing.T, s roomStore) {
		rm := testRoom("r1")
		members := []domain.ChatRoomMember{
			testMember("r1", "u1", domain.MemberRoleOwner),
			testMember("r1", "u2", domain.MemberRoleMember),
		}
		require.NoError(t, s.CreateRoom(rm, members))

		got, err := s.GetRoom("r1")
		require.NoError(t, err)
		assert.Equal(t, rm.Name, got.Name)
		assert.Equal(t, rm.Type, got.Type)

		list, err := s.Members("r1")
		require.NoError(t, err)
		assert.Len(t, list, 2)

		ok, err := s.IsMember("r1", "u2")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestCreateRoomDuplicateMemberAtomic(t *testing.T) {
	eachStore(t, func(t *testing.T, s roomStore) {
		rm := testRoom("r1")
		members := []domain.ChatRoomMember{
			testMember("r1", "u1", domain.MemberRoleOwner),
			testMember("r1", "u1", domain.MemberRoleMember),
		}
		require.Error(t, s.CreateRoom(rm, members))

		// Nothing may survive a failed creation.
		_, err := s.GetRoom("r1")
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})
}

func TestGetRoomNotFound(t *testing.T) {
	eachStore(t, func(t *testing.T, s roomStore) {
		_, err := s.GetRoom("nope")
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})
}

func TestAddMemberDuplicate(t *testing.T) {
	eachStore(t, func(t *testing.T, s roomStore) {
		require.NoError(t, s.CreateRoom(testRoom("r1"), []domain.ChatRoomMember{
			testMember("r1", "u1", domain.MemberRoleOwner),
		}))

		err := s.AddMember(testMember("r1", "u1", domain.MemberRoleMember))
		assert.ErrorIs(t, err, ErrMemberExists)
	})
}

func TestRemoveMember(t *testing.T) {
	eachStore(t, func(t *testing.T, s roomStore) {
		require.NoError(t, s.CreateRoom(testRoom("r1"), []domain.ChatRoomMember{
			testMember("r1", "u1", domain.MemberRoleOwner),
			testMember("r1", "u2", domain.MemberRoleMember),
		}))

		require.NoError(t, s.RemoveMember("r1", "u2"))
		ok, err := s.IsMember("r1", "u2")
		require.NoError(t, err)
		assert.False(t, ok)

		assert.ErrorIs(t, s.RemoveMember("r1", "u2"), ErrMemberNotFound)
	})
}

func TestInsertMessageThreadInvariant(t *testing.T) {
	eachStore(t, func(t *testing.T, s roomStore) {
		require.NoError(t, s.CreateRoom(testRoom("r1"), nil))
		require.NoError(t, s.InsertMessage(testMessage("r1", "m1", "root")))

		// Reply to an existing top-level message is fine.
		reply := testMessage("r1", "m2", "reply")
		root := "m1"
		reply.ThreadID = &root
		require.NoError(t, s.InsertMessage(reply))

		// Reply to a missing message is rejected.
		bad := testMessage("r1", "m3", "orphan")
		missing := "ghost"
		bad.ThreadID = &missing
		assert.ErrorIs(t, s.InsertMessage(bad), ErrInvalidThread)

		// Reply to a reply is rejected: threads never nest.
		nested := testMessage("r1", "m4", "nested")
		parent := "m2"
		nested.ThreadID = &parent
		assert.ErrorIs(t, s.InsertMessage(nested), ErrInvalidThread)
	})
}

func TestMarkThreadAndCounters(t *testing.T) {
	eachStore(t, func(t *testing.T, s roomStore) {
		require.NoError(t, s.CreateRoom(testRoom("r1"), nil))
		require.NoError(t, s.InsertMessage(testMessage("r1", "m1", "root")))
		require.NoError(t, s.MarkThread("r1", "m1"))
		// Idempotent.
		require.NoError(t, s.MarkThread("r1", "m1"))

		root := "m1"
		for _, id := range []string{"m2", "m3"} {
			reply := testMessage("r1", id, "reply "+id)
			reply.ThreadID = &root
			require.NoError(t, s.InsertMessage(reply))
		}

		got, err := s.GetMessage("r1", "m1")
		require.NoError(t, err)
		require.NotNil(t, got.ThreadMetadata)
		assert.Equal(t, 2, got.ThreadMetadata.MessageCount)
		assert.Equal(t, "reply m3", got.ThreadMetadata.LastMessage)

		// Marking a reply as a thread root is rejected.
		assert.ErrorIs(t, s.MarkThread("r1", "m2"), ErrInvalidThread)
		assert.ErrorIs(t, s.MarkThread("r1", "ghost"), ErrMessageNotFound)
	})
}

func TestRecentMessagesWindow(t *testing.T) {
	eachStore(t, func(t *testing.T, s roomStore) {
		require.NoError(t, s.CreateRoom(testRoom("r1"), nil))
		for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
			msg := testMessage("r1", id, id)
			require.NoError(t, s.InsertMessage(msg))
		}

		got, err := s.RecentMessages("r1", 3)
		require.NoError(t, err)
		require.Len(t, got, 3)
		// Oldest first within the window.
		assert.Equal(t, "m3", got[0].ID)
		assert.Equal(t, "m5", got[2].ID)
	})
}

func TestTopLevelAndThreadMessages(t *testing.T) {
	eachStore(t, func(t *testing.T, s roomStore) {
		require.NoError(t, s.CreateRoom(testRoom("r1"), nil))
		require.NoError(t, s.InsertMessage(testMessage("r1", "m1", "root")))
		require.NoError(t, s.InsertMessage(testMessage("r1", "m2", "other")))

		root := "m1"
		reply := testMessage("r1", "m3", "reply")
		reply.ThreadID = &root
		require.NoError(t, s.InsertMessage(reply))

		top, err := s.TopLevelMessages("r1", 10)
		require.NoError(t, err)
		require.Len(t, top, 2)

		thread, err := s.ThreadMessages("r1", "m1")
		require.NoError(t, err)
		require.Len(t, thread, 2)
		assert.Equal(t, "m1", thread[0].ID)
		assert.Equal(t, "m3", thread[1].ID)
	})
}

func TestUpdateMessage(t *testing.T) {
	eachStore(t, func(t *testing.T, s roomStore) {
		require.NoError(t, s.CreateRoom(testRoom("r1"), nil))
		require.NoError(t, s.InsertMessage(testMessage("r1", "m1", "draft")))

		msg, err := s.GetMessage("r1", "m1")
		require.NoError(t, err)
		msg.Content = "final"
		msg.ToolUses = []domain.ToolUse{{
			Type:       domain.ToolUseResult,
			ToolCallID: "tc1",
			ToolName:   "webSearch",
		}}
		require.NoError(t, s.UpdateMessage(msg))

		got, err := s.GetMessage("r1", "m1")
		require.NoError(t, err)
		assert.Equal(t, "final", got.Content)
		require.Len(t, got.ToolUses, 1)
		assert.Equal(t, "webSearch", got.ToolUses[0].ToolName)

		missing := testMessage("r1", "ghost", "x")
		assert.ErrorIs(t, s.UpdateMessage(missing), ErrMessageNotFound)
	})
}

func TestOptimisticMetadataRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, s roomStore) {
		require.NoError(t, s.CreateRoom(testRoom("r1"), nil))
		msg := testMessage("r1", "m1", "hello")
		msg.Metadata = &domain.MessageMetadata{
			OptimisticData: &domain.OptimisticData{ID: "opt-1"},
		}
		require.NoError(t, s.InsertMessage(msg))

		got, err := s.GetMessage("r1", "m1")
		require.NoError(t, err)
		assert.Equal(t, "opt-1", got.OptimisticID())
	})
}

func TestDirectoryStore(t *testing.T) {
	stores := map[string]interface {
		Upsert(id domain.Identity) error
		Resolve(orgID, memberID string) (domain.Identity, error)
		List(orgID string) ([]domain.Identity, error)
	}{
		"sqlite": NewSQLiteDirectoryStore(openSQLite(t)),
		"memory": NewMemoryDirectoryStore(),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ident := domain.Identity{
				ID:             "u1",
				OrganizationID: "org1",
				Type:           domain.MemberTypeUser,
				Name:           "Ada",
				Email:          "ada@example.com",
			}
			require.NoError(t, s.Upsert(ident))

			got, err := s.Resolve("org1", "u1")
			require.NoError(t, err)
			assert.Equal(t, "Ada", got.Name)

			// Upsert replaces.
			ident.Name = "Ada L."
			require.NoError(t, s.Upsert(ident))
			got, err = s.Resolve("org1", "u1")
			require.NoError(t, err)
			assert.Equal(t, "Ada L.", got.Name)

			_, err = s.Resolve("org1", "ghost")
			assert.ErrorIs(t, err, ErrIdentityNotFound)

			list, err := s.List("org1")
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}
