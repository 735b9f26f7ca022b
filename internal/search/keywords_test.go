package search

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Core-65536/Project-Ghost/internal/llm"
)

type fakeChat struct {
	reply    string
	err      error
	lastOpts llm.ChatOptions
	lastUser string
}

func (f *fakeChat) Chat(ctx context.Context, messages []openai.ChatCompletionMessage, opts llm.ChatOptions) (openai.ChatCompletionMessage, error) {
	f.lastOpts = opts
	for _, m := range messages {
		if m.Role == openai.ChatMessageRoleUser {
			f.lastUser = m.Content
		}
	}
	if f.err != nil {
		return openai.ChatCompletionMessage{}, f.err
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.reply}, nil
}

func testExpander(chat Completer) *KeywordExpander {
	return NewKeywordExpander(chat, nil, 0, 0, log.New(io.Discard, "", 0))
}

func TestExpandParsesFencedKeywords(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{reply: "```json\n{\"keywords\": [\"Redis 分布式锁\", \"distributed lock\", \"  \", \"\"]}\n```"}
	got, err := testExpander(chat).Expand(context.Background(), "那篇讲 redis 锁的文章")
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if len(got) != 2 || got[0] != "Redis 分布式锁" || got[1] != "distributed lock" {
		t.Fatalf("Expand = %v, want the two non-blank keywords", got)
	}
	if chat.lastOpts.Temperature != 0.3 || chat.lastOpts.MaxTokens != 1024 {
		t.Fatalf("unexpected chat options: %+v", chat.lastOpts)
	}
	if !strings.Contains(chat.lastUser, "那篇讲 redis 锁的文章") {
		t.Fatalf("prompt missing the query:\n%s", chat.lastUser)
	}
}

func TestExpandRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{reply: "sure, here are some keywords: redis, lock"}
	if _, err := testExpander(chat).Expand(context.Background(), "q"); err == nil {
		t.Fatal("Expand should reject non-JSON replies")
	}
}

func TestExpandPropagatesProviderErrors(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{err: llm.ErrNotConfigured}
	_, err := testExpander(chat).Expand(context.Background(), "q")
	if !errors.Is(err, llm.ErrNotConfigured) {
		t.Fatalf("Expand error = %v, want ErrNotConfigured", err)
	}
}

func TestCacheKeyIsStable(t *testing.T) {
	t.Parallel()

	if cacheKey("q") != cacheKey("q") {
		t.Fatal("cacheKey must be deterministic")
	}
	if cacheKey("q") == cacheKey("other") {
		t.Fatal("cacheKey must vary with the query")
	}
	if !strings.HasPrefix(cacheKey("q"), "ghosttab:keywords:") {
		t.Fatalf("cacheKey = %q, want the namespaced prefix", cacheKey("q"))
	}
}
