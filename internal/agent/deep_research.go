package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hardspoon/chatsemble/internal/domain"
	"github.com/hardspoon/chatsemble/internal/llm"
)

// maxResearchQueries bounds how many search rounds one research run
// may perform inside its time budget.
const maxResearchQueries = 3

// DeepResearchTool runs a multi-step research pipeline: plan search
// queries with the LLM, execute them, then synthesize a summary. The
// whole run is bounded by a time budget; progress is streamed through
// annotations so clients can watch the phases.
type DeepResearchTool struct {
	search *SearchTool
	client llm.Client
	model  string
	budget time.Duration
}

// NewDeepResearchTool creates a research tool. budget caps the total
// wall-clock time of one run.
func NewDeepResearchTool(search *SearchTool, client llm.Client, model string, budget time.Duration) *DeepResearchTool {
	if budget <= 0 {
		budget = 2 * time.Minute
	}
	return &DeepResearchTool{search: search, client: client, model: model, budget: budget}
}

func (t *DeepResearchTool) Name() string { return "deepResearch" }

func (t *DeepResearchTool) Description() string {
	return "Research a topic in depth: plans multiple searches, runs them, and synthesizes the findings into a summary. Slower than webSearch; use for open-ended questions."
}

func (t *DeepResearchTool) InputSchema() string {
	return `{"type":"object","properties":{"topic":{"type":"string","description":"The topic to research"}},"required":["topic"]}`
}

func (t *DeepResearchTool) Execute(ctx context.Context, input string, emit AnnotationFunc) (string, error) {
	var args struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("parsing research input: %w", err)
	}
	if args.Topic == "" {
		return "", errors.New("empty research topic")
	}

	ctx, cancel := context.WithTimeout(ctx, t.budget)
	defer cancel()

	if emit != nil {
		emit(domain.AnnotationProcessing, fmt.Sprintf("Planning research on %q", args.Topic))
	}

	queries, err := t.planQueries(ctx, args.Topic)
	if err != nil {
		if emit != nil {
			emit(domain.AnnotationFailed, "Research planning failed")
		}
		return "", fmt.Errorf("planning queries: %w", err)
	}

	var findings strings.Builder
	for i, q := range queries {
		if ctx.Err() != nil {
			break
		}
		if emit != nil {
			emit(domain.AnnotationProcessing, fmt.Sprintf("Searching (%d/%d): %s", i+1, len(queries), q))
		}
		result, err := t.search.Execute(ctx, fmt.Sprintf(`{"query":%q}`, q), nil)
		if err != nil {
			// Partial results are still useful; record the failure and
			// keep going.
			fmt.Fprintf(&findings, "## %s\n(search failed: %v)\n\n", q, err)
			continue
		}
		fmt.Fprintf(&findings, "## %s\n%s\n\n", q, result)
	}

	if emit != nil {
		emit(domain.AnnotationProcessing, "Synthesizing findings")
	}

	summary, err := t.synthesize(ctx, args.Topic, findings.String())
	if err != nil {
		if emit != nil {
			emit(domain.AnnotationFailed, "Synthesis failed")
		}
		return "", fmt.Errorf("synthesizing findings: %w", err)
	}

	if emit != nil {
		emit(domain.AnnotationComplete, fmt.Sprintf("Research on %q finished", args.Topic))
	}
	return summary, nil
}

// planQueries asks the LLM for search queries, one per line.
func (t *DeepResearchTool) planQueries(ctx context.Context, topic string) ([]string, error) {
	resp, err := t.client.Complete(ctx, llm.CompletionRequest{
		Model:  t.model,
		System: "You plan web research. Reply with search queries only, one per line, no numbering.",
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Give up to %d search queries for researching: %s", maxResearchQueries, topic),
		}},
	})
	if err != nil {
		return nil, err
	}

	var queries []string
	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		queries = append(queries, line)
		if len(queries) == maxResearchQueries {
			break
		}
	}
	if len(queries) == 0 {
		queries = []string{topic}
	}
	return queries, nil
}

func (t *DeepResearchTool) synthesize(ctx context.Context, topic, findings string) (string, error) {
	resp, err := t.client.Complete(ctx, llm.CompletionRequest{
		Model:  t.model,
		System: "You synthesize research findings into a concise, well-organized summary.",
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Topic: %s\n\nFindings:\n%s\n\nWrite a summary of what was found.", topic, findings),
		}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
