package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/Core-65536/Project-Ghost/internal/agent"
	"github.com/Core-65536/Project-Ghost/internal/chunker"
)

type stubAgent struct {
	events   []agent.Event
	gotQuery string
}

func (s *stubAgent) Run(ctx context.Context, query string) <-chan agent.Event {
	s.gotQuery = query
	out := make(chan agent.Event, len(s.events))
	go func() {
		defer close(out)
		for _, ev := range s.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func sseFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		if block == "" {
			continue
		}
		if !strings.HasPrefix(block, "data: ") {
			t.Fatalf("frame missing data prefix: %q", block)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &payload); err != nil {
			t.Fatalf("decode frame %q: %v", block, err)
		}
		frames = append(frames, payload)
	}
	return frames
}

func TestAgentChatStreamsEvents(t *testing.T) {
	stub := &stubAgent{events: []agent.Event{
		{Type: agent.EventThinking, Data: map[string]any{"message": "thinking (step 1/15)..."}},
		{Type: agent.EventToolCall, Data: map[string]any{"step": 1, "tool": "search_tabs"}},
		{Type: agent.EventAnswer, Data: map[string]any{"content": "done", "steps_used": 1}},
	}}
	e := New(Services{
		Splitter: chunker.New(),
		Encoder:  &stubEncoder{},
		Archive:  newArchive(t),
		Provider: &stubProvider{},
		Agent:    stub,
		Logger:   discardLogger(),
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/agent/chat", strings.NewReader(`{"query":"find my redis tab"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if stub.gotQuery != "find my redis tab" {
		t.Fatalf("agent got query %q", stub.gotQuery)
	}

	frames := sseFrames(t, rec.Body.String())
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames got %d: %s", len(frames), rec.Body.String())
	}
	if frames[0]["type"] != "thinking" || frames[1]["type"] != "tool_call" || frames[2]["type"] != "answer" {
		t.Fatalf("unexpected frame order: %v", frames)
	}
	if frames[2]["content"] != "done" {
		t.Fatalf("answer data not flattened: %v", frames[2])
	}
}

func TestAgentChatRequiresQuery(t *testing.T) {
	e := New(Services{
		Splitter: chunker.New(),
		Encoder:  &stubEncoder{},
		Archive:  newArchive(t),
		Provider: &stubProvider{},
		Agent:    &stubAgent{},
		Logger:   discardLogger(),
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/agent/chat", strings.NewReader(`{"query":" "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 got %d", rec.Code)
	}
	var resp HTTPError
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "query required" {
		t.Fatalf("unexpected error %+v", resp)
	}
}
