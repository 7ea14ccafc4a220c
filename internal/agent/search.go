package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hardspoon/chatsemble/internal/domain"
)

// ErrSearchUnconfigured is returned when no search endpoint is set.
var ErrSearchUnconfigured = errors.New("search endpoint not configured")

// SearchTool queries an external web search endpoint.
type SearchTool struct {
	endpoint string
	client   *http.Client
}

// NewSearchTool creates a search tool against the given endpoint. The
// endpoint receives GET requests with a q query parameter and returns
// a JSON or plain-text result body.
func NewSearchTool(endpoint string) *SearchTool {
	return &SearchTool{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *SearchTool) Name() string { return "webSearch" }

func (t *SearchTool) Description() string {
	return "Search the web for current information. Returns a list of results with titles and snippets."
}

func (t *SearchTool) InputSchema() string {
	return `{"type":"object","properties":{"query":{"type":"string","description":"The search query"}},"required":["query"]}`
}

// Execute runs a search. Progress is reported through emit so clients
// see the query while it is in flight.
func (t *SearchTool) Execute(ctx context.Context, input string, emit AnnotationFunc) (string, error) {
	if t.endpoint == "" {
		return "", ErrSearchUnconfigured
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("parsing search input: %w", err)
	}
	if args.Query == "" {
		return "", errors.New("empty search query")
	}

	if emit != nil {
		emit(domain.AnnotationProcessing, fmt.Sprintf("Searching for %q", args.Query))
	}

	u := fmt.Sprintf("%s?q=%s", t.endpoint, url.QueryEscape(args.Query))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return "", fmt.Errorf("creating search request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search error (%d): %s", resp.StatusCode, string(body))
	}

	if emit != nil {
		emit(domain.AnnotationComplete, fmt.Sprintf("Search for %q finished", args.Query))
	}
	return string(body), nil
}
