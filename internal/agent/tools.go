package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/Core-65536/Project-Ghost/internal/tabs"
)

const (
	// previewRunes caps the text preview in search results fed to the model.
	previewRunes = 200
	// contentRunes caps read_tab content to keep the model context bounded.
	contentRunes = 5000
	// defaultSearchK is used when the model omits top_k.
	defaultSearchK = 5
)

// Encoder embeds one query string.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Searcher recalls the nearest chunks for a vector.
type Searcher interface {
	Query(ctx context.Context, vector []float32, k int, withText bool) ([]tabs.SearchResult, error)
}

// Library reads archived pages by URL and lists them.
type Library interface {
	ListAll(ctx context.Context) ([]tabs.PageSummary, error)
	ReadPage(ctx context.Context, url string) (tabs.PageContent, error)
}

// Deps are the collaborators the tools run against.
type Deps struct {
	Encoder  Encoder
	Searcher Searcher
	Library  Library
}

// toolCall is the closed set of invocations the model can make. Each variant
// carries its own parsed arguments and knows how to run itself; results are
// maps so their JSON shape is exactly what the model and frontend expect.
type toolCall interface {
	run(ctx context.Context, deps Deps) map[string]any
}

type searchTabsCall struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type readTabCall struct {
	URL string `json:"url"`
}

type listTabsCall struct{}

type batchRestoreCall struct {
	URLs   []string `json:"urls"`
	Reason string   `json:"reason"`
}

// parseToolCall maps a model tool call onto one of the typed variants.
// Malformed argument JSON degrades to zero-value arguments; only an unknown
// tool name is an error.
func parseToolCall(name, arguments string) (toolCall, error) {
	switch name {
	case "search_tabs":
		var c searchTabsCall
		_ = json.Unmarshal([]byte(arguments), &c)
		return c, nil
	case "read_tab":
		var c readTabCall
		_ = json.Unmarshal([]byte(arguments), &c)
		return c, nil
	case "list_tabs":
		return listTabsCall{}, nil
	case "batch_restore":
		var c batchRestoreCall
		_ = json.Unmarshal([]byte(arguments), &c)
		return c, nil
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (c searchTabsCall) run(ctx context.Context, deps Deps) map[string]any {
	k := c.TopK
	if k <= 0 {
		k = defaultSearchK
	}
	vector, err := deps.Encoder.Encode(ctx, c.Query)
	if err != nil {
		return map[string]any{"error": "search failed: " + err.Error()}
	}
	results, err := deps.Searcher.Query(ctx, vector, k, true)
	if err != nil {
		return map[string]any{"error": "search failed: " + err.Error()}
	}
	if len(results) == 0 {
		return map[string]any{"found": 0, "message": "no matching tabs", "results": []any{}}
	}

	formatted := make([]map[string]any, 0, len(results))
	for _, r := range results {
		formatted = append(formatted, map[string]any{
			"title":        r.Title,
			"url":          r.URL,
			"score":        r.Score,
			"text_preview": textPreview(r.Text),
		})
	}
	return map[string]any{"found": len(formatted), "results": formatted}
}

func (c readTabCall) run(ctx context.Context, deps Deps) map[string]any {
	page, err := deps.Library.ReadPage(ctx, c.URL)
	if err != nil {
		if errors.Is(err, tabs.ErrPageNotFound) {
			return map[string]any{"error": "no archived content for URL: " + c.URL}
		}
		return map[string]any{"error": "read failed: " + err.Error()}
	}

	content := page.Content
	truncated := false
	if runes := []rune(content); len(runes) > contentRunes {
		content = string(runes[:contentRunes])
		truncated = true
	}
	return map[string]any{
		"url":          page.URL,
		"title":        page.Title,
		"total_chunks": page.Total,
		"content":      content,
		"truncated":    truncated,
	}
}

func (listTabsCall) run(ctx context.Context, deps Deps) map[string]any {
	pages, err := deps.Library.ListAll(ctx)
	if err != nil {
		return map[string]any{"error": "list failed: " + err.Error()}
	}
	if len(pages) == 0 {
		return map[string]any{"count": 0, "message": "no archived tabs yet", "tabs": []any{}}
	}

	entries := make([]map[string]any, 0, len(pages))
	for _, p := range pages {
		entries = append(entries, map[string]any{
			"title":  p.Title,
			"url":    p.URL,
			"chunks": p.Chunks,
		})
	}
	return map[string]any{"count": len(entries), "tabs": entries}
}

func (c batchRestoreCall) run(ctx context.Context, deps Deps) map[string]any {
	if len(c.URLs) == 0 {
		return map[string]any{"error": "no urls given to restore"}
	}
	return map[string]any{
		"action": "batch_restore",
		"urls":   c.URLs,
		"count":  len(c.URLs),
		"reason": c.Reason,
	}
}

func textPreview(text string) string {
	if text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) > previewRunes {
		runes = runes[:previewRunes]
	}
	return string(runes) + "..."
}

// toolsSchema advertises the four tools to the completion provider.
var toolsSchema = []openai.Tool{
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name: "search_tabs",
			Description: "Semantic search over the user's archived browser tabs. " +
				"Takes a natural-language query and returns the most relevant tabs with similarity scores and text previews. " +
				"Use when the user wants tabs about some topic or keyword.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"query": {
						Type:        jsonschema.String,
						Description: "Natural-language search query, e.g. 'Redis distributed locks' or 'Python async programming'",
					},
					"top_k": {
						Type:        jsonschema.Integer,
						Description: "Number of results to return, default 5",
					},
				},
				Required: []string{"query"},
			},
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name: "read_tab",
			Description: "Read the full text of one archived tab. " +
				"Get the URL from search_tabs or list_tabs first. " +
				"Use only when you need the article's details, e.g. to summarize or compare content.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"url": {
						Type:        jsonschema.String,
						Description: "URL of the tab to read",
					},
				},
				Required: []string{"url"},
			},
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name: "list_tabs",
			Description: "List basic info (title, URL) for every archived tab. " +
				"No text content; use for an overview or to count tabs.",
			Parameters: jsonschema.Definition{
				Type:       jsonschema.Object,
				Properties: map[string]jsonschema.Definition{},
			},
		},
	},
	{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name: "batch_restore",
			Description: "Restore a set of archived tabs by reopening them in the user's browser. " +
				"This is an ACTION tool that really opens pages; search and confirm the targets first. " +
				"Use when the user asks to open or bring back tabs.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"urls": {
						Type:        jsonschema.Array,
						Items:       &jsonschema.Definition{Type: jsonschema.String},
						Description: "URLs of the tabs to restore",
					},
					"reason": {
						Type:        jsonschema.String,
						Description: "Short reason for restoring these tabs",
					},
				},
				Required: []string{"urls", "reason"},
			},
		},
	},
}
