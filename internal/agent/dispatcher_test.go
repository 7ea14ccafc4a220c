package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hardspoon/chatsemble/internal/domain"
	"github.com/hardspoon/chatsemble/internal/llm"
	"github.com/hardspoon/chatsemble/internal/logging"
	"github.com/hardspoon/chatsemble/internal/room"
	"github.com/hardspoon/chatsemble/internal/store"
)

func newDispatchFixture(t *testing.T, client llm.Client, tools *ToolRegistry) (*room.Actor, *Dispatcher) {
	t.Helper()
	st := store.NewMemoryRoomStore()
	rm := domain.ChatRoom{ID: "r1", Name: "general", Type: domain.RoomTypePublic, CreatedAt: time.Now().UTC()}
	members := []domain.ChatRoomMember{
		{RoomID: "r1", MemberID: "u1", Type: domain.MemberTypeUser, Role: domain.MemberRoleOwner, Name: "Ada"},
		{RoomID: "r1", MemberID: "a1", Type: domain.MemberTypeAgent, Role: domain.MemberRoleMember, Name: "Scout"},
	}
	require.NoError(t, st.CreateRoom(rm, members))
	actor := room.NewActor(rm, members, st, nil, logging.Silent(), room.ActorOptions{})

	d := NewDispatcher(client, tools, []Config{
		{ID: "a1", Name: "Scout", Model: "test-model"},
	}, logging.Silent())
	return actor, d
}

func agentMember() domain.ChatRoomMember {
	return domain.ChatRoomMember{RoomID: "r1", MemberID: "a1", Type: domain.MemberTypeAgent, Name: "Scout"}
}

func trigger(t *testing.T, actor *room.Actor, content string) domain.ChatRoomMessage {
	t.Helper()
	msg, err := actor.HandleInboundMessage(context.Background(), "u1", domain.ChatRoomMessage{
		Content:  content,
		Mentions: []domain.Mention{{ID: "a1", Name: "Scout"}},
	})
	require.NoError(t, err)
	return msg
}

func TestDispatchCreatesThreadBeforeReplying(t *testing.T) {
	mock := &llm.MockClient{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "Hello there"}, nil
	}}
	actor, d := newDispatchFixture(t, mock, nil)
	trig := trigger(t, actor, "@Scout hi")

	d.Dispatch(context.Background(), actor, trig, agentMember())

	thread, err := actor.History(&trig.ID)
	require.NoError(t, err)
	require.Len(t, thread, 2)

	// Root became a thread before the reply landed.
	require.NotNil(t, thread[0].ThreadMetadata)

	reply := thread[1]
	assert.Equal(t, "a1", reply.Member.ID)
	assert.Equal(t, "Hello there", reply.Content)
	require.NotNil(t, reply.ThreadID)
	assert.Equal(t, trig.ID, *reply.ThreadID)

	// Thread creation is recorded as the reply's first tool use.
	require.NotEmpty(t, reply.ToolUses)
	assert.Equal(t, "createThread", reply.ToolUses[0].ToolName)
}

func TestDispatchInsideExistingThread(t *testing.T) {
	mock := &llm.MockClient{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "continuing"}, nil
	}}
	actor, d := newDispatchFixture(t, mock, nil)
	root := trigger(t, actor, "root message")
	_, err := actor.CreateThread(root.ID)
	require.NoError(t, err)

	reply, err := actor.HandleInboundMessage(context.Background(), "u1", domain.ChatRoomMessage{
		Content:  "@Scout follow up",
		ThreadID: &root.ID,
		Mentions: []domain.Mention{{ID: "a1", Name: "Scout"}},
	})
	require.NoError(t, err)

	d.Dispatch(context.Background(), actor, reply, agentMember())

	thread, err := actor.History(&root.ID)
	require.NoError(t, err)
	require.Len(t, thread, 3)

	agentReply := thread[2]
	assert.Equal(t, "a1", agentReply.Member.ID)
	// No thread was created, so no createThread record.
	for _, u := range agentReply.ToolUses {
		assert.NotEqual(t, "createThread", u.ToolName)
	}
}

func TestDispatchMapsHistoryToRoles(t *testing.T) {
	mock := &llm.MockClient{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: "ok"}, nil
	}}
	actor, d := newDispatchFixture(t, mock, nil)
	trig := trigger(t, actor, "@Scout hi")

	d.Dispatch(context.Background(), actor, trig, agentMember())

	require.NotEmpty(t, mock.Requests)
	first := mock.Requests[0]
	require.NotEmpty(t, first.Messages)
	// Human messages arrive as user turns with the sender's name.
	assert.Equal(t, llm.RoleUser, first.Messages[0].Role)
	assert.Equal(t, "Ada: @Scout hi", first.Messages[0].Content)
	assert.Contains(t, first.System, "Scout")
}

func TestDispatchErrorDegradesToApology(t *testing.T) {
	mock := &llm.MockClient{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, errors.New("provider down")
	}}
	actor, d := newDispatchFixture(t, mock, nil)
	trig := trigger(t, actor, "@Scout hi")

	d.Dispatch(context.Background(), actor, trig, agentMember())

	thread, err := actor.History(&trig.ID)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Contains(t, thread[1].Content, "Sorry")
}

// echoTool is a deterministic tool for pipeline tests.
type echoTool struct {
	calls int
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echoes its input." }
func (e *echoTool) InputSchema() string {
	return `{"type":"object","properties":{"text":{"type":"string"}}}`
}

func (e *echoTool) Execute(ctx context.Context, input string, emit AnnotationFunc) (string, error) {
	e.calls++
	if emit != nil {
		emit(domain.AnnotationProcessing, "echoing")
		emit(domain.AnnotationComplete, "echoed")
	}
	return "echo says: " + input, nil
}

func TestDispatchToolLoop(t *testing.T) {
	round := 0
	mock := &llm.MockClient{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		round++
		if round == 1 {
			return &llm.CompletionResponse{
				Content: "Let me check.\n```tool_call\n{\"tool\": \"echo\", \"input\": {\"text\": \"hi\"}}\n```",
			}, nil
		}
		return &llm.CompletionResponse{Content: "The echo answered."}, nil
	}}

	tool := &echoTool{}
	tools := NewToolRegistry()
	tools.Register(tool)

	actor, d := newDispatchFixture(t, mock, tools)
	trig := trigger(t, actor, "@Scout use the echo")

	d.Dispatch(context.Background(), actor, trig, agentMember())

	assert.Equal(t, 1, tool.calls)
	assert.Equal(t, 2, round)

	thread, err := actor.History(&trig.ID)
	require.NoError(t, err)
	require.Len(t, thread, 2)

	reply := thread[1]
	assert.Equal(t, "The echo answered.", reply.Content)

	// createThread first, then the echo invocation with its annotations.
	require.Len(t, reply.ToolUses, 2)
	assert.Equal(t, "createThread", reply.ToolUses[0].ToolName)
	echoUse := reply.ToolUses[1]
	assert.Equal(t, "echo", echoUse.ToolName)
	assert.Equal(t, domain.ToolUseResult, echoUse.Type)
	require.Len(t, echoUse.Annotations, 2)
	assert.Equal(t, domain.AnnotationProcessing, echoUse.Annotations[0].Status)
	assert.Equal(t, domain.AnnotationComplete, echoUse.Annotations[1].Status)

	// The tool result fed the second LLM round.
	require.Len(t, mock.Requests, 2)
	assert.Contains(t, mock.Requests[1].Messages[len(mock.Requests[1].Messages)-1].Content, "echo says")
}

func TestDispatchUnknownToolReportedToLLM(t *testing.T) {
	round := 0
	mock := &llm.MockClient{CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		round++
		if round == 1 {
			return &llm.CompletionResponse{
				Content: "```tool_call\n{\"tool\": \"missing\", \"input\": {}}\n```",
			}, nil
		}
		return &llm.CompletionResponse{Content: "done"}, nil
	}}

	actor, d := newDispatchFixture(t, mock, NewToolRegistry())
	trig := trigger(t, actor, "@Scout go")

	d.Dispatch(context.Background(), actor, trig, agentMember())

	require.Len(t, mock.Requests, 2)
	assert.Contains(t, mock.Requests[1].Messages[len(mock.Requests[1].Messages)-1].Content, "unknown tool")
}

func TestParseToolCalls(t *testing.T) {
	calls := parseToolCalls("before\n```tool_call\n{\"tool\": \"echo\", \"input\": {\"a\": 1}}\n```\nafter")
	require.Len(t, calls, 1)
	assert.Equal(t, "echo", calls[0].Tool)

	assert.Empty(t, parseToolCalls("no calls here"))
	assert.Empty(t, parseToolCalls("```tool_call\nnot json\n```"))
}

func TestStripToolCalls(t *testing.T) {
	in := "Answer.\n```tool_call\n{\"tool\": \"echo\", \"input\": {}}\n```\nMore."
	out := stripToolCalls(in)
	assert.NotContains(t, out, "tool_call")
	assert.Contains(t, out, "Answer.")
	assert.Contains(t, out, "More.")
}
