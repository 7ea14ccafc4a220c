// Package agent implements the server-side agent pipeline: when a
// room message mentions an agent member, the dispatcher builds
// conversation context, runs the LLM with a tool loop, and posts the
// reply into a thread rooted at the triggering message.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hardspoon/chatsemble/internal/domain"
	"github.com/hardspoon/chatsemble/internal/llm"
	"github.com/hardspoon/chatsemble/internal/logging"
	"github.com/hardspoon/chatsemble/internal/room"
)

// maxToolIterations limits how many tool call rounds one dispatch can
// perform.
const maxToolIterations = 5

// Config describes one configured agent identity.
type Config struct {
	ID          string
	Name        string
	Image       string
	Model       string
	Persona     string
	MaxTokens   int
	Temperature *float64
}

// Dispatcher runs agent response pipelines. It implements
// room.Dispatcher; the room actor calls Dispatch in its own goroutine
// for every mentioned agent member.
type Dispatcher struct {
	client llm.Client
	tools  *ToolRegistry
	agents map[string]Config
	log    *logging.Logger
}

// NewDispatcher creates a dispatcher for the given agent configs.
func NewDispatcher(client llm.Client, tools *ToolRegistry, agents []Config, log *logging.Logger) *Dispatcher {
	byID := make(map[string]Config, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Dispatcher{client: client, tools: tools, agents: byID, log: log}
}

// Dispatch runs the full response pipeline for one mentioned agent.
// Errors never propagate to the sender's request; they degrade into an
// apologetic message in the thread.
func (d *Dispatcher) Dispatch(ctx context.Context, actor *room.Actor, trigger domain.ChatRoomMessage, member domain.ChatRoomMember) {
	start := time.Now()
	cfg, ok := d.agents[member.MemberID]
	if !ok {
		cfg = Config{ID: member.MemberID, Name: member.Name, Image: member.Image}
	}
	log := d.log.Sub("agent." + cfg.ID)

	var initialUses []domain.ToolUse

	// An agent always replies inside a thread. When the trigger is a
	// top-level message, create a thread rooted at it before anything
	// else; the thread creation is recorded as the reply's first tool
	// use so clients can surface it.
	rootID := trigger.ID
	if trigger.ThreadID != nil {
		rootID = *trigger.ThreadID
	} else {
		if _, err := actor.CreateThread(trigger.ID); err != nil {
			log.Error().Str("room", trigger.RoomID).Str("trigger", trigger.ID).Err(err).Msg("creating thread")
			return
		}
		initialUses = append(initialUses, domain.ToolUse{
			Type:       domain.ToolUseCall,
			ToolCallID: uuid.New().String(),
			ToolName:   "createThread",
			Args:       json.RawMessage(fmt.Sprintf(`{"messageId":%q}`, trigger.ID)),
			Annotations: []domain.ToolAnnotation{{
				ID:        uuid.New().String(),
				Status:    domain.AnnotationComplete,
				Message:   "Thread created",
				Timestamp: time.Now().UTC(),
			}},
		})
	}

	// Post the reply shell first so clients see the agent responding;
	// content and tool uses stream into it via corrections.
	posted, err := actor.PostAgentMessage(domain.ChatRoomMessage{
		ThreadID: &rootID,
		Content:  "",
		ToolUses: initialUses,
		Member: domain.MessageAuthor{
			ID:    member.MemberID,
			Name:  cfg.Name,
			Type:  domain.MemberTypeAgent,
			Image: cfg.Image,
		},
	})
	if err != nil {
		log.Error().Str("room", trigger.RoomID).Err(err).Msg("posting agent reply shell")
		return
	}

	content, toolUses, err := d.run(ctx, actor, cfg, rootID, posted, log)
	if err != nil {
		log.Error().Str("room", trigger.RoomID).Err(err).Msg("agent pipeline failed")
		content = "Sorry, I ran into a problem and couldn't finish that. Please try again."
	}
	if _, err := actor.UpdateAgentMessage(posted.ID, content, toolUses); err != nil {
		log.Error().Str("room", trigger.RoomID).Str("message", posted.ID).Err(err).Msg("finalizing agent reply")
		return
	}

	log.Info().
		Str("room", trigger.RoomID).
		Str("thread", rootID).
		Int("toolUses", len(toolUses)).
		Dur("duration", time.Since(start)).
		Msg("agent reply posted")
}

// run executes the LLM tool loop and returns the final content plus
// the accumulated tool use records.
func (d *Dispatcher) run(ctx context.Context, actor *room.Actor, cfg Config, rootID string, posted domain.ChatRoomMessage, log *logging.Logger) (string, []domain.ToolUse, error) {
	toolUses := append([]domain.ToolUse(nil), posted.ToolUses...)

	history, err := actor.History(&rootID)
	if err != nil {
		return "", toolUses, fmt.Errorf("loading thread history: %w", err)
	}

	system := BuildSystemPrompt(PromptConfig{
		AgentName: cfg.Name,
		Persona:   cfg.Persona,
		RoomName:  actor.Room().Name,
		Tools:     d.tools.Definitions(),
	})
	messages := historyToTurns(history, cfg.ID, posted.ID)

	var finalResp *llm.CompletionResponse
	for i := 0; i < maxToolIterations; i++ {
		resp, err := d.client.Complete(ctx, llm.CompletionRequest{
			Model:       cfg.Model,
			System:      system,
			Messages:    messages,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return "", toolUses, fmt.Errorf("LLM completion: %w", err)
		}
		finalResp = resp

		calls := parseToolCalls(resp.Content)
		if len(calls) == 0 {
			break
		}

		log.Info().Int("toolCalls", len(calls)).Msg("executing tool calls")
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})

		var results strings.Builder
		results.WriteString("Tool execution results:\n\n")
		for _, tc := range calls {
			output, use := d.executeToolCall(ctx, actor, posted.ID, &toolUses, tc)
			toolUses = append(toolUses, use)

			fmt.Fprintf(&results, "### %s\n", tc.Tool)
			if use.Result == nil {
				fmt.Fprintf(&results, "Error: %s\n\n", output)
			} else {
				results.WriteString(output)
				results.WriteString("\n\n")
			}
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: results.String()})
	}

	if finalResp == nil {
		return "", toolUses, fmt.Errorf("no response from LLM")
	}
	return stripToolCalls(finalResp.Content), toolUses, nil
}

// executeToolCall runs one tool, streaming its annotations to the room
// as corrections of the in-flight reply. Returns the text fed back to
// the LLM and the completed tool use record.
func (d *Dispatcher) executeToolCall(ctx context.Context, actor *room.Actor, msgID string, prior *[]domain.ToolUse, tc toolCall) (string, domain.ToolUse) {
	use := domain.ToolUse{
		Type:       domain.ToolUseCall,
		ToolCallID: uuid.New().String(),
		ToolName:   tc.Tool,
		Args:       tc.Input,
	}

	tool, ok := d.tools.Get(tc.Tool)
	if !ok {
		return fmt.Sprintf("unknown tool: %s", tc.Tool), use
	}

	emit := func(status domain.AnnotationStatus, message string) {
		use.Annotations = append(use.Annotations, domain.ToolAnnotation{
			ID:        uuid.New().String(),
			Status:    status,
			Message:   message,
			Timestamp: time.Now().UTC(),
		})
		inFlight := append(append([]domain.ToolUse(nil), *prior...), use)
		if _, err := actor.UpdateAgentMessage(msgID, "", inFlight); err != nil {
			d.log.Warn().Str("message", msgID).Err(err).Msg("streaming tool annotation")
		}
	}

	output, err := tool.Execute(ctx, string(tc.Input), emit)
	if err != nil {
		use.Annotations = append(use.Annotations, domain.ToolAnnotation{
			ID:        uuid.New().String(),
			Status:    domain.AnnotationFailed,
			Message:   err.Error(),
			Timestamp: time.Now().UTC(),
		})
		return err.Error(), use
	}

	use.Type = domain.ToolUseResult
	use.Result = json.RawMessage(mustJSONString(output))
	return output, use
}

// historyToTurns maps thread messages onto LLM conversation turns.
// Messages authored by the responding agent become assistant turns;
// everything else becomes a user turn prefixed with the sender's name.
// The agent's own empty reply shell is skipped.
func historyToTurns(history []domain.ChatRoomMessage, agentID, skipID string) []llm.Message {
	var out []llm.Message
	for _, m := range history {
		if m.ID == skipID {
			continue
		}
		if m.Member.ID == agentID {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
			continue
		}
		out = append(out, llm.Message{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("%s: %s", m.Member.Name, m.Content),
		})
	}
	return out
}

// toolCall is a parsed tool invocation from the LLM response.
type toolCall struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// toolCallRe matches ```tool_call\n{...}\n``` blocks in LLM output.
var toolCallRe = regexp.MustCompile("(?s)```tool_call\\s*\n(\\{.*?\\})\n\\s*```")

// blankLineCollapseRe collapses 3+ consecutive newlines to a single blank line.
var blankLineCollapseRe = regexp.MustCompile(`\n{3,}`)

// parseToolCalls extracts tool_call blocks from LLM response text.
func parseToolCalls(text string) []toolCall {
	matches := toolCallRe.FindAllStringSubmatch(text, -1)
	var calls []toolCall
	for _, match := range matches {
		if len(match) < 2 {
			continue
		}
		var tc toolCall
		if err := json.Unmarshal([]byte(match[1]), &tc); err != nil {
			continue
		}
		if tc.Tool != "" {
			calls = append(calls, tc)
		}
	}
	return calls
}

// stripToolCalls removes tool_call code blocks from the final response,
// leaving surrounding text.
func stripToolCalls(text string) string {
	cleaned := toolCallRe.ReplaceAllString(text, "\n\n")
	cleaned = blankLineCollapseRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}

func mustJSONString(s string) []byte {
	b, err := json.Marshal(s)
	if err != nil {
		return []byte(`""`)
	}
	return b
}
