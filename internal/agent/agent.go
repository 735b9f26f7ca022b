// Package agent implements the ReAct loop behind the chat endpoint: the
// model reasons over the archived tabs through typed tool calls and streams
// its progress as events.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/Core-65536/Project-Ghost/internal/llm"
)

const (
	// MaxSteps bounds the reasoning loop so a confused model cannot spin.
	MaxSteps = 15
	// DefaultTimeout bounds one completion call.
	DefaultTimeout = 60 * time.Second
)

// Event kinds pushed over the stream.
const (
	EventThinking   = "thinking"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventAction     = "action"
	EventAnswer     = "answer"
	EventError      = "error"
)

// Event is one step of the reasoning stream.
type Event struct {
	Type string
	Data map[string]any
}

// MarshalJSON flattens Data next to the type tag, which is the wire shape
// the frontend consumes.
func (e Event) MarshalJSON() ([]byte, error) {
	payload := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		payload[k] = v
	}
	payload["type"] = e.Type
	return json.Marshal(payload)
}

const systemPrompt = `You are Ghost Agent, an action-oriented assistant for archived browser tabs. You do not just search for information; your defining ability is to ACT by reopening tabs in the user's browser.

Your tools:
1. search_tabs(query, top_k) - semantic search returning titles, URLs, similarity scores and text previews
2. read_tab(url) - read one tab's full text (only when you need the details)
3. list_tabs() - list every archived tab
4. batch_restore(urls, reason) - THE core ability: reopen a set of tabs in the user's browser

Rules you must follow:
1. You are an acting agent, not a search engine. When the user says "find X", "show me X" or "open X", search first and then CALL batch_restore on the relevant results instead of merely listing links.
2. Search results already include previews. Do not read_tab each hit; use read_tab only when the user explicitly wants a summary or comparison, and read at most 2-3 pages.
3. Keep answers short. Say what you found and which pages you restored; no long reports.
4. Mention page titles as references in your answer.

Typical flows:
- "find the Golang articles" -> search_tabs("Golang") -> batch_restore(matching URLs) -> short answer "restored N Golang pages for you"
- "what did that Redis article say" -> search_tabs("Redis") -> read_tab(best URL) -> summarize
- "list everything I saved" -> list_tabs() -> show the list`

// Completer is the slice of the completion provider the agent needs.
type Completer interface {
	Configured() bool
	Chat(ctx context.Context, messages []openai.ChatCompletionMessage, opts llm.ChatOptions) (openai.ChatCompletionMessage, error)
}

// Agent runs the reasoning loop against a completion provider and the
// archived-tab collaborators.
type Agent struct {
	completer Completer
	deps      Deps
	maxSteps  int
	timeout   time.Duration
	logger    *log.Logger
}

// New builds an Agent. Zero maxSteps and timeout select the defaults.
func New(completer Completer, deps Deps, maxSteps int, timeout time.Duration, logger *log.Logger) *Agent {
	if maxSteps <= 0 {
		maxSteps = MaxSteps
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	}
	return &Agent{completer: completer, deps: deps, maxSteps: maxSteps, timeout: timeout, logger: logger}
}

// Run starts the loop for one query and returns its event stream. The
// channel closes when the loop finishes; cancelling ctx stops the loop at
// the next event boundary.
func (a *Agent) Run(ctx context.Context, query string) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		a.loop(ctx, query, events)
	}()
	return events
}

func (a *Agent) loop(ctx context.Context, query string, events chan<- Event) {
	if !a.completer.Configured() {
		emit(ctx, events, errorEvent("llm provider not configured; set the API details before using the agent"))
		return
	}

	runID := uuid.NewString()[:8]
	a.logger.Printf("run %s: %q", runID, query)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: query},
	}

	// URLs collected from batch_restore calls, deduplicated in call order.
	var restored []string
	seen := make(map[string]bool)

	for step := 1; step <= a.maxSteps; step++ {
		if !emit(ctx, events, Event{EventThinking, map[string]any{
			"step":    step,
			"message": fmt.Sprintf("thinking (step %d/%d)...", step, a.maxSteps),
		}}) {
			return
		}

		msg, err := a.completer.Chat(ctx, messages, llm.ChatOptions{
			Temperature: 0.3,
			MaxTokens:   2048,
			Tools:       toolsSchema,
			Timeout:     a.timeout,
		})
		if err != nil {
			a.logger.Printf("run %s: completion failed at step %d: %v", runID, step, err)
			emit(ctx, events, errorEvent("llm call failed: "+err.Error()))
			return
		}

		if len(msg.ToolCalls) == 0 {
			// Final answer. Flush the merged restore action first so the
			// frontend opens the tabs before rendering the reply.
			if len(restored) > 0 {
				if !emit(ctx, events, Event{EventAction, map[string]any{
					"action": "batch_restore",
					"urls":   restored,
					"count":  len(restored),
				}}) {
					return
				}
			}
			emit(ctx, events, Event{EventAnswer, map[string]any{
				"content":    msg.Content,
				"steps_used": step,
			}})
			return
		}

		messages = append(messages, msg)
		for _, tc := range msg.ToolCalls {
			name := tc.Function.Name
			if !emit(ctx, events, Event{EventToolCall, map[string]any{
				"step":      step,
				"tool":      name,
				"arguments": parseArguments(tc.Function.Arguments),
			}}) {
				return
			}

			a.logger.Printf("run %s: step %d: %s(%s)", runID, step, name, tc.Function.Arguments)
			result := a.dispatch(ctx, name, tc.Function.Arguments)

			if name == "batch_restore" && result["action"] == "batch_restore" {
				if urls, ok := result["urls"].([]string); ok {
					for _, u := range urls {
						if !seen[u] {
							seen[u] = true
							restored = append(restored, u)
						}
					}
				}
			}

			if !emit(ctx, events, Event{EventToolResult, map[string]any{
				"step":   step,
				"tool":   name,
				"result": summarizeResult(result),
			}}) {
				return
			}

			payload, err := json.Marshal(result)
			if err != nil {
				payload = []byte(`{"error":"tool result not serializable"}`)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    string(payload),
				ToolCallID: tc.ID,
			})
		}
	}

	a.logger.Printf("run %s: gave up after %d steps", runID, a.maxSteps)
	emit(ctx, events, Event{EventAnswer, map[string]any{
		"content":    "Sorry, I reasoned through several steps but could not reach a conclusion. Try a more specific question.",
		"steps_used": a.maxSteps,
		"truncated":  true,
	}})
}

func (a *Agent) dispatch(ctx context.Context, name, arguments string) map[string]any {
	call, err := parseToolCall(name, arguments)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return call.run(ctx, a.deps)
}

// summarizeResult compacts a tool result for display; the model still gets
// the full result in its context.
func summarizeResult(result map[string]any) map[string]any {
	summary := make(map[string]any)

	switch {
	case result["error"] != nil:
		summary["status"] = "error"
		summary["message"] = result["error"]
	case result["found"] != nil:
		summary["status"] = "success"
		summary["found"] = result["found"]
		if results, ok := result["results"].([]map[string]any); ok && len(results) > 0 {
			if len(results) > 5 {
				results = results[:5]
			}
			titles := make([]any, 0, len(results))
			for _, r := range results {
				titles = append(titles, r["title"])
			}
			summary["titles"] = titles
		}
	case result["count"] != nil && result["tabs"] != nil:
		summary["status"] = "success"
		summary["count"] = result["count"]
	case result["content"] != nil:
		summary["status"] = "success"
		summary["title"] = result["title"]
		if content, ok := result["content"].(string); ok {
			summary["length"] = len([]rune(content))
		}
	case result["action"] != nil:
		summary["status"] = "action"
		summary["action"] = result["action"]
		summary["count"] = result["count"]
	default:
		summary["status"] = "success"
	}
	return summary
}

func parseArguments(raw string) map[string]any {
	args := make(map[string]any)
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

func errorEvent(message string) Event {
	return Event{EventError, map[string]any{"message": message}}
}

func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
