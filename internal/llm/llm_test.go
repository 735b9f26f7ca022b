package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func TestMaskedKey(t *testing.T) {
	t.Parallel()
	if got := (Config{APIKey: "sk-abcdef123456"}).MaskedKey(); got != "sk-abcde..." {
		t.Fatalf("MaskedKey = %q", got)
	}
	if got := (Config{APIKey: "short"}).MaskedKey(); got != "***" {
		t.Fatalf("MaskedKey short = %q", got)
	}
}

func TestStripFence(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want string
	}{
		{`{"keywords":["a"]}`, `{"keywords":["a"]}`},
		{"```json\n{\"keywords\":[\"a\"]}\n```", `{"keywords":["a"]}`},
		{"```\n[1,2]\n```", "[1,2]"},
		{"  ```json\n{}\n```  ", "{}"},
		{"```json\n{\"open\": true}", `{"open": true}`},
	}
	for _, c := range cases {
		if got := StripFence(c.in); got != c.want {
			t.Fatalf("StripFence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestProviderPersistence(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "llm_config.json")

	p := NewProvider(path, discard())
	if p.Configured() {
		t.Fatalf("fresh provider should not be configured")
	}

	cfg := Config{BaseURL: "https://api.test/v1", APIKey: "sk-1234567890", Model: "test-model"}
	p.SetConfig(cfg)
	if !p.Configured() {
		t.Fatalf("provider should be configured after SetConfig")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	var onDisk Config
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("config file not valid JSON: %v", err)
	}
	if onDisk != cfg {
		t.Fatalf("persisted config = %+v, want %+v", onDisk, cfg)
	}

	reloaded := NewProvider(path, discard())
	got, ok := reloaded.Config()
	if !ok || got != cfg {
		t.Fatalf("reloaded config = %+v (%v), want %+v", got, ok, cfg)
	}
}

func TestChatNotConfigured(t *testing.T) {
	t.Parallel()
	p := NewProvider(filepath.Join(t.TempDir(), "missing.json"), discard())

	_, err := p.Chat(context.Background(), nil, ChatOptions{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestChatCallsConfiguredEndpoint(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"role": "assistant", "content": "pong"}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := NewProvider(filepath.Join(t.TempDir(), "llm_config.json"), discard())
	p.SetConfig(Config{BaseURL: srv.URL + "/v1/", APIKey: "test-key", Model: "test-model"})

	msg, err := p.Chat(context.Background(), []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "ping"},
	}, ChatOptions{Temperature: 0.3, MaxTokens: 64})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if msg.Content != "pong" {
		t.Fatalf("Chat content = %q, want pong", msg.Content)
	}
}
