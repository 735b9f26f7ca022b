package search

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	"github.com/Core-65536/Project-Ghost/internal/llm"
)

const (
	// DefaultExpandTimeout bounds one keyword expansion call.
	DefaultExpandTimeout = 30 * time.Second
	// DefaultCacheTTL is how long expanded keywords stay cached.
	DefaultCacheTTL = 12 * time.Hour
)

const keywordSystemPrompt = `You are a search query optimization assistant. The user describes, in natural language, a web page they want to find again among their archived browser tabs.

Your task:
1. Understand the real search intent behind the description.
2. Produce 3-5 keywords or short phrases most likely to match the target page's content.
3. Cover different angles: title wording, body wording, topic terms.
4. Mix Chinese and English keywords when both could appear in the page.

Return strict JSON, nothing else:
{"keywords": ["keyword1", "keyword2", ...]}`

// Completer is the slice of the completion provider the expander needs.
type Completer interface {
	Chat(ctx context.Context, messages []openai.ChatCompletionMessage, opts llm.ChatOptions) (openai.ChatCompletionMessage, error)
}

// KeywordExpander asks the completion provider for recall keywords, with an
// optional Redis cache in front. A nil cache client disables caching; cache
// failures degrade to a miss and never fail the expansion.
type KeywordExpander struct {
	completer Completer
	cache     *redis.Client
	ttl       time.Duration
	timeout   time.Duration
	logger    *log.Logger
}

// NewKeywordExpander builds a KeywordExpander. Zero ttl and timeout select
// the defaults; cache may be nil.
func NewKeywordExpander(completer Completer, cache *redis.Client, ttl, timeout time.Duration, logger *log.Logger) *KeywordExpander {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if timeout <= 0 {
		timeout = DefaultExpandTimeout
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	return &KeywordExpander{completer: completer, cache: cache, ttl: ttl, timeout: timeout, logger: logger}
}

// Expand returns 3-5 keywords for the query. Errors include the provider
// being unconfigured; callers decide whether that is fatal.
func (e *KeywordExpander) Expand(ctx context.Context, query string) ([]string, error) {
	if cached, ok := e.cachedKeywords(ctx, query); ok {
		return cached, nil
	}

	msg, err := e.completer.Chat(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: keywordSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: "Page I am looking for: " + query},
	}, llm.ChatOptions{Temperature: 0.3, MaxTokens: 1024, Timeout: e.timeout})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(llm.StripFence(msg.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("keyword response is not valid JSON: %w", err)
	}

	keywords := make([]string, 0, len(parsed.Keywords))
	for _, kw := range parsed.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) > 0 {
		e.storeKeywords(ctx, query, keywords)
	}
	return keywords, nil
}

func (e *KeywordExpander) cachedKeywords(ctx context.Context, query string) ([]string, bool) {
	if e.cache == nil {
		return nil, false
	}
	raw, err := e.cache.Get(ctx, cacheKey(query)).Result()
	if err != nil {
		if err != redis.Nil {
			e.logger.Printf("keyword cache read failed: %v", err)
		}
		return nil, false
	}
	var keywords []string
	if err := json.Unmarshal([]byte(raw), &keywords); err != nil || len(keywords) == 0 {
		return nil, false
	}
	return keywords, true
}

func (e *KeywordExpander) storeKeywords(ctx context.Context, query string, keywords []string) {
	if e.cache == nil {
		return
	}
	raw, err := json.Marshal(keywords)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, cacheKey(query), raw, e.ttl).Err(); err != nil {
		e.logger.Printf("keyword cache write failed: %v", err)
	}
}

func cacheKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("ghosttab:keywords:%x", sum[:16])
}
