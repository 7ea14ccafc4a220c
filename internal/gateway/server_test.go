package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hardspoon/chatsemble/internal/config"
	"github.com/hardspoon/chatsemble/internal/directory"
	"github.com/hardspoon/chatsemble/internal/domain"
	"github.com/hardspoon/chatsemble/internal/logging"
	"github.com/hardspoon/chatsemble/internal/room"
	"github.com/hardspoon/chatsemble/internal/store"
	"github.com/hardspoon/chatsemble/internal/wire"
)

const (
	adaToken = "tok-ada"
	bobToken = "tok-bob"
)

type testEnv struct {
	ts    *httptest.Server
	rooms *room.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logging.Silent()

	cfg := config.Config{}
	cfg.Server.Auth.Tokens = map[string]string{
		adaToken: "u1",
		bobToken: "u2",
	}

	dir := directory.New("org-1", store.NewMemoryDirectoryStore(), log)
	require.NoError(t, dir.Seed(config.OrgConfig{
		Users: []config.UserEntry{
			{ID: "u1", Name: "Ada"},
			{ID: "u2", Name: "Bob"},
		},
	}, []config.AgentEntry{
		{ID: "a1", Name: "Scout"},
	}))

	rooms := room.NewRegistry(store.NewMemoryRoomStore(), nil, log, room.ActorOptions{})
	srv := New(cfg, rooms, dir, log)

	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	ts := httptest.NewServer(withMiddleware(mux, log, nil))
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, rooms: rooms}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) createRoom(t *testing.T, members ...memberRef) createRoomResponse {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/chat-rooms", adaToken, createRoomRequest{
		Name:    "general",
		Type:    domain.RoomTypePublic,
		Members: members,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[createRoomResponse](t, resp)
}

func TestCreateRoomMakesCreatorOwner(t *testing.T) {
	env := newTestEnv(t)

	created := env.createRoom(t, memberRef{ID: "u2"}, memberRef{ID: "a1"})

	require.NotEmpty(t, created.RoomID)
	assert.Equal(t, created.Room.ID, created.RoomID)
	assert.Equal(t, "general", created.Room.Name)
	assert.Equal(t, "org-1", created.Room.OrganizationID)
	require.Len(t, created.Members, 3)

	byID := map[string]domain.ChatRoomMember{}
	for _, m := range created.Members {
		byID[m.MemberID] = m
	}
	assert.Equal(t, domain.MemberRoleOwner, byID["u1"].Role)
	assert.Equal(t, domain.MemberRoleMember, byID["u2"].Role)
	assert.Equal(t, domain.MemberTypeAgent, byID["a1"].Type)
}

func TestCreateRoomRejectsUnknownMember(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/chat-rooms", adaToken, createRoomRequest{
		Name:    "general",
		Type:    domain.RoomTypePublic,
		Members: []memberRef{{ID: "ghost"}},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	for _, token := range []string{"", "wrong-token"} {
		resp := env.do(t, http.MethodPost, "/chat-rooms", token, createRoomRequest{
			Name: "general",
			Type: domain.RoomTypePublic,
		})
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestAddMemberPermissions(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t, memberRef{ID: "u2"})
	roomPath := "/chat-rooms/" + created.Room.ID + "/members"

	// A plain member cannot manage membership.
	resp := env.do(t, http.MethodPost, roomPath, bobToken, addMemberRequest{ID: "a1"})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The owner can.
	resp = env.do(t, http.MethodPost, roomPath, adaToken, addMemberRequest{ID: "a1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	added := decodeBody[addMemberResponse](t, resp)
	assert.True(t, added.Success)
	assert.Equal(t, "a1", added.Member.MemberID)

	// Adding the same member again conflicts.
	resp = env.do(t, http.MethodPost, roomPath, adaToken, addMemberRequest{ID: "a1"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown identities are rejected.
	resp = env.do(t, http.MethodPost, roomPath, adaToken, addMemberRequest{ID: "ghost"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Unknown room.
	resp = env.do(t, http.MethodPost, "/chat-rooms/nope/members", adaToken, addMemberRequest{ID: "a1"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRemoveMember(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t, memberRef{ID: "u2"})
	base := "/chat-rooms/" + created.Room.ID + "/members/"

	// The owner cannot be removed, even by themselves.
	resp := env.do(t, http.MethodDelete, base+"u1", adaToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Members may remove themselves.
	resp = env.do(t, http.MethodDelete, base+"u2", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	removed := decodeBody[successResponse](t, resp)
	assert.True(t, removed.Success)

	// Gone now.
	resp = env.do(t, http.MethodDelete, base+"u2", adaToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessagesRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t)
	path := "/chat-rooms/" + created.Room.ID + "/messages"

	resp := env.do(t, http.MethodGet, path, bobToken, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodGet, path, adaToken, nil)
	body := decodeBody[map[string][]domain.ChatRoomMessage](t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["messages"])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/health", "", nil)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func (e *testEnv) dial(t *testing.T, roomID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/chat-room/ws/" + roomID + "?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wire.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := wire.Decode(data)
	require.NoError(t, err)
	return f
}

func TestWebSocketSyncFramesArriveFirst(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t, memberRef{ID: "u2"})

	// Seed history before anyone connects.
	actor, err := env.rooms.Get(created.Room.ID)
	require.NoError(t, err)
	seeded, err := actor.HandleInboundMessage(context.Background(), "u1", domain.ChatRoomMessage{Content: "welcome"})
	require.NoError(t, err)

	conn := env.dial(t, created.Room.ID, bobToken)

	sync := readFrame(t, conn)
	require.Equal(t, wire.FrameMessagesSync, sync.Type)
	require.Len(t, sync.Messages, 1)
	assert.Equal(t, seeded.ID, sync.Messages[0].ID)

	members := readFrame(t, conn)
	require.Equal(t, wire.FrameMemberSync, members.Type)
	assert.Len(t, members.Members, 2)
}

func TestWebSocketOptimisticEcho(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t)

	conn := env.dial(t, created.Room.ID, adaToken)
	readFrame(t, conn) // messages-sync
	readFrame(t, conn) // member-sync

	send := wire.NewMessageReceive(domain.ChatRoomMessage{
		ID:      "local-1",
		Content: "hello room",
	})
	require.NoError(t, conn.WriteJSON(send))

	echo := readFrame(t, conn)
	require.Equal(t, wire.FrameMessageBroadcast, echo.Type)
	require.NotNil(t, echo.Message)

	// The server assigns its own id and echoes the client's id back so
	// the sender can reconcile its optimistic copy.
	assert.NotEqual(t, "local-1", echo.Message.ID)
	require.NotNil(t, echo.Message.Metadata)
	require.NotNil(t, echo.Message.Metadata.OptimisticData)
	assert.Equal(t, "local-1", echo.Message.Metadata.OptimisticData.ID)
	assert.Equal(t, "hello room", echo.Message.Content)
	assert.Equal(t, "u1", echo.Message.Member.ID)
}

func TestWebSocketBroadcastReachesOtherMembers(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t, memberRef{ID: "u2"})

	ada := env.dial(t, created.Room.ID, adaToken)
	bob := env.dial(t, created.Room.ID, bobToken)
	for _, c := range []*websocket.Conn{ada, bob} {
		readFrame(t, c)
		readFrame(t, c)
	}

	require.NoError(t, ada.WriteJSON(wire.NewMessageReceive(domain.ChatRoomMessage{
		ID:      "local-1",
		Content: "hi bob",
	})))

	got := readFrame(t, bob)
	require.Equal(t, wire.FrameMessageBroadcast, got.Type)
	assert.Equal(t, "hi bob", got.Message.Content)
}

func TestWebSocketMalformedFramesAreDropped(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t)

	conn := env.dial(t, created.Room.ID, adaToken)
	readFrame(t, conn)
	readFrame(t, conn)

	// Garbage and unknown tags are ignored; the connection survives.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`)))

	require.NoError(t, conn.WriteJSON(wire.NewMessageReceive(domain.ChatRoomMessage{
		ID:      "local-1",
		Content: "still here",
	})))
	got := readFrame(t, conn)
	require.Equal(t, wire.FrameMessageBroadcast, got.Type)
	assert.Equal(t, "still here", got.Message.Content)
}

func TestWebSocketRejections(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t)

	dialStatus := func(roomID, token string) int {
		url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/chat-room/ws/" + roomID
		if token != "" {
			url += "?token=" + token
		}
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, dialStatus(created.Room.ID, ""))
	assert.Equal(t, http.StatusNotFound, dialStatus("nope", adaToken))
	// Authenticated but not a member.
	assert.Equal(t, http.StatusForbidden, dialStatus(created.Room.ID, bobToken))
}

func TestRemovedMemberSocketIsClosed(t *testing.T) {
	env := newTestEnv(t)
	created := env.createRoom(t, memberRef{ID: "u2"})

	bob := env.dial(t, created.Room.ID, bobToken)
	readFrame(t, bob)
	readFrame(t, bob)

	resp := env.do(t, http.MethodDelete, "/chat-rooms/"+created.Room.ID+"/members/u2", adaToken, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	bob.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := bob.ReadMessage()
		if err != nil {
			return
		}
	}
}
