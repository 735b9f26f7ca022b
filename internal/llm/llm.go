// Package llm manages the OpenAI-compatible completion provider: the
// reconfigurable endpoint settings persisted to disk, and the chat calls
// used by keyword expansion, reranking and the reasoning agent.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNotConfigured reports a completion call without a configured provider.
var ErrNotConfigured = errors.New("llm provider not configured")

// Defaults applied when a reconfiguration omits the endpoint or model.
const (
	DefaultBaseURL = "https://api.xiaomimimo.com/v1"
	DefaultModel   = "mimo-v2-flash"
)

// Config is the endpoint configuration. It is persisted as JSON and replaced
// atomically on reconfiguration; snapshots are immutable after each write.
type Config struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
}

// Configured reports whether the config carries an API key.
func (c Config) Configured() bool { return c.APIKey != "" }

// MaskedKey returns the API key with only a short prefix left readable.
func (c Config) MaskedKey() string {
	if len(c.APIKey) > 8 {
		return c.APIKey[:8] + "..."
	}
	return "***"
}

// ChatOptions carries the per-call knobs for a completion request.
type ChatOptions struct {
	Temperature float32
	MaxTokens   int
	Tools       []openai.Tool
	Timeout     time.Duration
}

// Provider serves chat completions against the currently configured
// endpoint. The active Config is read without locking.
type Provider struct {
	path    string
	current atomic.Pointer[Config]
	logger  *log.Logger
}

// NewProvider loads the persisted configuration from path when present. A
// missing file just leaves the provider unconfigured.
func NewProvider(path string, logger *log.Logger) *Provider {
	if logger == nil {
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	p := &Provider{path: path, logger: logger}

	cfg, err := loadConfigFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Printf("no config at %s; completion features disabled until configured", path)
	case err != nil:
		logger.Printf("load config %s: %v", path, err)
	default:
		p.current.Store(&cfg)
		if cfg.Configured() {
			logger.Printf("configured: %s @ %s (key: %s)", cfg.Model, cfg.BaseURL, cfg.MaskedKey())
		} else {
			logger.Printf("config %s has no api key; completion features disabled", path)
		}
	}
	return p
}

// Config returns the active configuration and whether one was ever set.
func (p *Provider) Config() (Config, bool) {
	cfg := p.current.Load()
	if cfg == nil {
		return Config{}, false
	}
	return *cfg, true
}

// Configured reports whether a usable API key is active.
func (p *Provider) Configured() bool {
	cfg, ok := p.Config()
	return ok && cfg.Configured()
}

// SetConfig activates a new configuration and persists it. Persistence is
// best-effort: a write failure keeps the new config active for the process.
func (p *Provider) SetConfig(cfg Config) {
	p.current.Store(&cfg)
	if err := saveConfigFile(p.path, cfg); err != nil {
		p.logger.Printf("save config %s: %v", p.path, err)
		return
	}
	p.logger.Printf("config saved to %s", p.path)
}

// Chat sends the conversation to the configured endpoint and returns the
// first choice message. The client is rebuilt from the active snapshot on
// every call so reconfiguration takes effect immediately.
func (p *Provider) Chat(ctx context.Context, messages []openai.ChatCompletionMessage, opts ChatOptions) (openai.ChatCompletionMessage, error) {
	cfg, ok := p.Config()
	if !ok || !cfg.Configured() {
		return openai.ChatCompletionMessage{}, ErrNotConfigured
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	client := openai.NewClientWithConfig(clientCfg)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Tools:       opts.Tools,
	})
	if err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat completion: empty response")
	}
	return resp.Choices[0].Message, nil
}

// StripFence removes a wrapping markdown code fence, with or without a json
// language tag, from model output. Models often fence their JSON replies
// despite instructions not to.
func StripFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	parts := strings.SplitN(content, "```", 3)
	if len(parts) < 2 {
		return content
	}
	inner := strings.TrimPrefix(parts[1], "json")
	return strings.TrimSpace(inner)
}

func loadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func saveConfigFile(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
