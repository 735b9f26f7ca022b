package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Core-65536/Project-Ghost/internal/llm"
	"github.com/Core-65536/Project-Ghost/internal/tabs"
)

type scriptedCompleter struct {
	unconfigured bool
	replies      []openai.ChatCompletionMessage
	errs         []error
	calls        int
	lastTools    int
	lastMessages []openai.ChatCompletionMessage
}

func (s *scriptedCompleter) Configured() bool { return !s.unconfigured }

func (s *scriptedCompleter) Chat(ctx context.Context, messages []openai.ChatCompletionMessage, opts llm.ChatOptions) (openai.ChatCompletionMessage, error) {
	i := s.calls
	s.calls++
	s.lastTools = len(opts.Tools)
	s.lastMessages = messages
	if i < len(s.errs) && s.errs[i] != nil {
		return openai.ChatCompletionMessage{}, s.errs[i]
	}
	if len(s.replies) == 0 {
		return openai.ChatCompletionMessage{}, nil
	}
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i], nil
}

func toolCallMsg(id, name, args string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleAssistant,
		ToolCalls: []openai.ToolCall{{
			ID:       id,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: name, Arguments: args},
		}},
	}
}

func answerMsg(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}
}

type fakeDeps struct {
	searchResults []tabs.SearchResult
	searchErr     error
	gotK          int
	pages         []tabs.PageSummary
	content       map[string]tabs.PageContent
}

func (f *fakeDeps) Encode(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}

func (f *fakeDeps) Query(ctx context.Context, vector []float32, k int, withText bool) ([]tabs.SearchResult, error) {
	f.gotK = k
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if k < len(f.searchResults) {
		return f.searchResults[:k], nil
	}
	return f.searchResults, nil
}

func (f *fakeDeps) ListAll(ctx context.Context) ([]tabs.PageSummary, error) {
	return f.pages, nil
}

func (f *fakeDeps) ReadPage(ctx context.Context, url string) (tabs.PageContent, error) {
	if c, ok := f.content[url]; ok {
		return c, nil
	}
	return tabs.PageContent{}, tabs.ErrPageNotFound
}

func (f *fakeDeps) deps() Deps {
	return Deps{Encoder: f, Searcher: f, Library: f}
}

func testAgent(completer Completer, deps Deps, maxSteps int) *Agent {
	return New(completer, deps, maxSteps, time.Second, log.New(io.Discard, "", 0))
}

func collect(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestRunDirectAnswer(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{replies: []openai.ChatCompletionMessage{answerMsg("all done")}}
	a := testAgent(completer, (&fakeDeps{}).deps(), 0)

	events := collect(a.Run(context.Background(), "hello"))
	want := []string{EventThinking, EventAnswer}
	if got := eventTypes(events); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	answer := events[1].Data
	if answer["content"] != "all done" || answer["steps_used"] != 1 {
		t.Fatalf("answer = %v, want content and steps_used=1", answer)
	}
	if completer.lastTools != 4 {
		t.Fatalf("completion received %d tools, want 4", completer.lastTools)
	}
}

func TestRunUnconfiguredProviderFailsFast(t *testing.T) {
	t.Parallel()

	a := testAgent(&scriptedCompleter{unconfigured: true}, (&fakeDeps{}).deps(), 0)
	events := collect(a.Run(context.Background(), "hello"))
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %v, want a single error event", eventTypes(events))
	}
}

func TestRunMergesRestoredURLsBeforeAnswer(t *testing.T) {
	t.Parallel()

	deps := &fakeDeps{searchResults: []tabs.SearchResult{
		{URL: "https://a.dev", Title: "A", Score: 0.9, Text: "golang concurrency"},
		{URL: "https://b.dev", Title: "B", Score: 0.8, Text: "golang generics"},
		{URL: "https://c.dev", Title: "C", Score: 0.7, Text: "golang modules"},
	}}
	completer := &scriptedCompleter{replies: []openai.ChatCompletionMessage{
		toolCallMsg("t1", "search_tabs", `{"query": "golang", "top_k": 2}`),
		toolCallMsg("t2", "batch_restore", `{"urls": ["https://a.dev", "https://b.dev"], "reason": "requested"}`),
		toolCallMsg("t3", "batch_restore", `{"urls": ["https://b.dev", "https://c.dev"], "reason": "more"}`),
		answerMsg("restored them"),
	}}
	a := testAgent(completer, deps.deps(), 0)

	events := collect(a.Run(context.Background(), "find golang tabs"))
	types := eventTypes(events)
	want := []string{
		EventThinking, EventToolCall, EventToolResult,
		EventThinking, EventToolCall, EventToolResult,
		EventThinking, EventToolCall, EventToolResult,
		EventThinking, EventAction, EventAnswer,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s (full: %v)", i, types[i], want[i], types)
		}
	}

	if deps.gotK != 2 {
		t.Fatalf("search used k=%d, want the top_k argument 2", deps.gotK)
	}

	action := events[10].Data
	urls, ok := action["urls"].([]string)
	if !ok || len(urls) != 3 {
		t.Fatalf("action urls = %v, want 3 deduplicated urls", action["urls"])
	}
	for i, u := range []string{"https://a.dev", "https://b.dev", "https://c.dev"} {
		if urls[i] != u {
			t.Fatalf("action urls[%d] = %s, want %s (insertion order)", i, urls[i], u)
		}
	}
	if action["count"] != 3 {
		t.Fatalf("action count = %v, want 3", action["count"])
	}

	answer := events[11].Data
	if answer["steps_used"] != 4 {
		t.Fatalf("answer steps_used = %v, want 4", answer["steps_used"])
	}
	if _, ok := answer["truncated"]; ok {
		t.Fatal("completed run must not be marked truncated")
	}
}

func TestRunSearchResultSummary(t *testing.T) {
	t.Parallel()

	deps := &fakeDeps{searchResults: []tabs.SearchResult{
		{URL: "https://a.dev", Title: "A", Score: 0.9, Text: "body"},
	}}
	completer := &scriptedCompleter{replies: []openai.ChatCompletionMessage{
		toolCallMsg("t1", "search_tabs", `{"query": "q"}`),
		answerMsg("ok"),
	}}
	a := testAgent(completer, deps.deps(), 0)

	events := collect(a.Run(context.Background(), "q"))
	result, ok := events[2].Data["result"].(map[string]any)
	if !ok {
		t.Fatalf("tool_result payload = %v", events[2].Data)
	}
	if result["status"] != "success" || result["found"] != 1 {
		t.Fatalf("summary = %v, want success with found=1", result)
	}
	titles, ok := result["titles"].([]any)
	if !ok || len(titles) != 1 || titles[0] != "A" {
		t.Fatalf("summary titles = %v, want [A]", result["titles"])
	}
}

func TestRunExhaustionTruncatesAndDropsRestores(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{replies: []openai.ChatCompletionMessage{
		toolCallMsg("t1", "batch_restore", `{"urls": ["https://a.dev"], "reason": "loop"}`),
	}}
	a := testAgent(completer, (&fakeDeps{}).deps(), 3)

	events := collect(a.Run(context.Background(), "q"))
	last := events[len(events)-1]
	if last.Type != EventAnswer {
		t.Fatalf("last event = %s, want answer", last.Type)
	}
	if last.Data["truncated"] != true || last.Data["steps_used"] != 3 {
		t.Fatalf("exhausted answer = %v, want truncated at 3 steps", last.Data)
	}
	for _, ev := range events {
		if ev.Type == EventAction {
			t.Fatal("truncated run must not emit a restore action")
		}
	}
}

func TestRunUnknownToolKeepsLooping(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{replies: []openai.ChatCompletionMessage{
		toolCallMsg("t1", "fetch_weather", `{}`),
		answerMsg("recovered"),
	}}
	a := testAgent(completer, (&fakeDeps{}).deps(), 0)

	events := collect(a.Run(context.Background(), "q"))
	result := events[2].Data["result"].(map[string]any)
	if result["status"] != "error" || !strings.Contains(result["message"].(string), "unknown tool") {
		t.Fatalf("summary = %v, want an unknown-tool error", result)
	}
	if events[len(events)-1].Data["content"] != "recovered" {
		t.Fatalf("loop should continue to the final answer, got %v", events[len(events)-1].Data)
	}

	// The error is also fed back so the model can correct itself.
	fedBack := completer.lastMessages[len(completer.lastMessages)-1]
	if fedBack.Role != openai.ChatMessageRoleTool || !strings.Contains(fedBack.Content, "unknown tool") {
		t.Fatalf("tool message = %+v, want the error payload", fedBack)
	}
}

func TestRunMalformedArgumentsDegrade(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{replies: []openai.ChatCompletionMessage{
		toolCallMsg("t1", "search_tabs", `{not json`),
		answerMsg("ok"),
	}}
	a := testAgent(completer, (&fakeDeps{}).deps(), 0)

	events := collect(a.Run(context.Background(), "q"))
	args, ok := events[1].Data["arguments"].(map[string]any)
	if !ok || len(args) != 0 {
		t.Fatalf("tool_call arguments = %v, want an empty object", events[1].Data["arguments"])
	}
	result := events[2].Data["result"].(map[string]any)
	if result["status"] != "success" || result["found"] != 0 {
		t.Fatalf("summary = %v, want an empty search result", result)
	}
}

func TestRunCompletionFailureEmitsError(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{errs: []error{errors.New("upstream 500")}}
	a := testAgent(completer, (&fakeDeps{}).deps(), 0)

	events := collect(a.Run(context.Background(), "q"))
	want := []string{EventThinking, EventError}
	got := eventTypes(events)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	if !strings.Contains(events[1].Data["message"].(string), "upstream 500") {
		t.Fatalf("error message = %v", events[1].Data["message"])
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{replies: []openai.ChatCompletionMessage{
		toolCallMsg("t1", "list_tabs", `{}`),
	}}
	a := testAgent(completer, (&fakeDeps{}).deps(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	events := a.Run(ctx, "q")
	if ev := <-events; ev.Type != EventThinking {
		t.Fatalf("first event = %s, want thinking", ev.Type)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		for range events {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not close after cancellation")
	}
}

func TestEventMarshalFlattensData(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(Event{EventAnswer, map[string]any{"content": "hi", "steps_used": 2}})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload["type"] != "answer" || payload["content"] != "hi" {
		t.Fatalf("payload = %v, want flattened type and data", payload)
	}
}

func TestReadTabTruncatesLongContent(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("汉", 6000)
	deps := &fakeDeps{content: map[string]tabs.PageContent{
		"https://a.dev": {URL: "https://a.dev", Title: "A", Total: 3, Content: long},
	}}

	result := readTabCall{URL: "https://a.dev"}.run(context.Background(), deps.deps())
	content := result["content"].(string)
	if got := len([]rune(content)); got != 5000 {
		t.Fatalf("content = %d runes, want 5000", got)
	}
	if result["truncated"] != true {
		t.Fatal("long content must be marked truncated")
	}
	if result["total_chunks"] != 3 {
		t.Fatalf("total_chunks = %v, want 3", result["total_chunks"])
	}
}

func TestReadTabMissingURL(t *testing.T) {
	t.Parallel()

	result := readTabCall{URL: "https://gone.dev"}.run(context.Background(), (&fakeDeps{}).deps())
	msg, ok := result["error"].(string)
	if !ok || !strings.Contains(msg, "https://gone.dev") {
		t.Fatalf("result = %v, want a not-found error naming the url", result)
	}
}

func TestBatchRestoreRejectsEmptyURLs(t *testing.T) {
	t.Parallel()

	result := batchRestoreCall{Reason: "nothing"}.run(context.Background(), Deps{})
	if result["error"] == nil {
		t.Fatalf("result = %v, want an error for empty urls", result)
	}
}

func TestSearchTabsPreviewAppendsEllipsis(t *testing.T) {
	t.Parallel()

	deps := &fakeDeps{searchResults: []tabs.SearchResult{
		{URL: "https://a.dev", Title: "A", Score: 0.9, Text: "short body"},
		{URL: "https://b.dev", Title: "B", Score: 0.8},
	}}
	result := searchTabsCall{Query: "q"}.run(context.Background(), deps.deps())
	formatted := result["results"].([]map[string]any)
	if formatted[0]["text_preview"] != "short body..." {
		t.Fatalf("preview = %v, want the text with an ellipsis", formatted[0]["text_preview"])
	}
	if formatted[1]["text_preview"] != "" {
		t.Fatalf("preview = %v, want empty for missing text", formatted[1]["text_preview"])
	}
}
