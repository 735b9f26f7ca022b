// Package rerank orders retrieval candidates by how well they answer the
// query. With a configured completion provider the model scores each
// candidate; otherwise structural heuristics downweight list-like pages.
package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Core-65536/Project-Ghost/internal/llm"
	"github.com/Core-65536/Project-Ghost/internal/tabs"
)

// Weights fuse the original embedding similarity with the model's judgment.
type Weights struct {
	Similarity float64
	LLM        float64
}

// DefaultWeights biases toward the model's judgment; the exact split is a
// tuning choice, not an invariant.
var DefaultWeights = Weights{Similarity: 0.3, LLM: 0.7}

const (
	// DefaultTimeout bounds one scoring call to the provider.
	DefaultTimeout = 60 * time.Second
	// defaultLLMScore is assumed for candidates the model left unscored.
	defaultLLMScore = 50.0
	// previewLimit caps the per-candidate text shown to the model, in runes.
	previewLimit = 500
)

const scoringSystemPrompt = `You are a search result reranking expert. The user gives you a search query and a set of candidate documents.

Score each document from 0 to 100 for relevance:
1. Prefer documents that substantively answer or solve the query, not ones that merely mention its keywords.
2. Downweight tables of contents, navigation pages and bare link lists; they name topics without developing them.

Return strict JSON, nothing else:
{"scores": [{"index": 0, "score": 85, "reason": "short justification"}, ...]}`

// Completer is the slice of the completion provider the reranker needs.
type Completer interface {
	Configured() bool
	Chat(ctx context.Context, messages []openai.ChatCompletionMessage, opts llm.ChatOptions) (openai.ChatCompletionMessage, error)
}

// Reranker reorders candidates and truncates to the requested size. Scores
// stay in the 0..1 similarity scale in both modes.
type Reranker struct {
	completer Completer
	weights   Weights
	timeout   time.Duration
	logger    *log.Logger
}

// New builds a Reranker. Zero weights select DefaultWeights; a zero timeout
// selects DefaultTimeout. completer may be nil for heuristics-only use.
func New(completer Completer, weights Weights, timeout time.Duration, logger *log.Logger) *Reranker {
	if weights.Similarity == 0 && weights.LLM == 0 {
		weights = DefaultWeights
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[RERANK] ", log.LstdFlags)
	}
	return &Reranker{completer: completer, weights: weights, timeout: timeout, logger: logger}
}

// Rerank orders candidates by final relevance and keeps the top k. Any
// provider or parse failure falls back to the first k inputs unranked; the
// request itself never fails.
func (r *Reranker) Rerank(ctx context.Context, query string, docs []tabs.SearchResult, k int) []tabs.SearchResult {
	if len(docs) == 0 || k <= 0 {
		return nil
	}
	if r.completer != nil && r.completer.Configured() {
		return r.rerankWithLLM(ctx, query, docs, k)
	}
	return r.rerankByHeuristics(query, docs, k)
}

func (r *Reranker) rerankWithLLM(ctx context.Context, query string, docs []tabs.SearchResult, k int) []tabs.SearchResult {
	var sb strings.Builder
	for i, d := range docs {
		title := d.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&sb, "[Document %d]\nTitle: %s\nPreview: %s\n", i, title, preview(d.Text, previewLimit))
	}
	userMessage := fmt.Sprintf("Search query: %s\n\nCandidate documents:\n%s\nScore all %d documents for relevance.", query, sb.String(), len(docs))

	msg, err := r.completer.Chat(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: scoringSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userMessage},
	}, llm.ChatOptions{Temperature: 0.1, MaxTokens: 2048, Timeout: r.timeout})
	if err != nil {
		r.logger.Printf("scoring call failed, keeping original order: %v", err)
		return truncated(docs, k)
	}

	var parsed struct {
		Scores []struct {
			Index  int     `json:"index"`
			Score  float64 `json:"score"`
			Reason string  `json:"reason"`
		} `json:"scores"`
	}
	if err := json.Unmarshal([]byte(llm.StripFence(msg.Content)), &parsed); err != nil {
		r.logger.Printf("scoring response not valid JSON, keeping original order: %v", err)
		return truncated(docs, k)
	}

	byIndex := make(map[int]float64, len(parsed.Scores))
	for _, s := range parsed.Scores {
		byIndex[s.Index] = s.Score
	}

	out := make([]tabs.SearchResult, len(docs))
	copy(out, docs)
	for i := range out {
		llmScore := defaultLLMScore
		if s, ok := byIndex[i]; ok {
			llmScore = s
		}
		fused := r.weights.Similarity*(out[i].Score*100) + r.weights.LLM*llmScore
		out[i].Score = round4(fused / 100)
	}
	sortByScore(out)
	r.logger.Printf("reranked %d candidates with llm scoring", len(docs))
	return truncated(out, k)
}

var listMarker = regexp.MustCompile(`^(\d+\.|-|•|\*|\[)`)

func (r *Reranker) rerankByHeuristics(query string, docs []tabs.SearchResult, k int) []tabs.SearchResult {
	terms := queryTerms(query)
	out := make([]tabs.SearchResult, len(docs))
	copy(out, docs)
	for i := range out {
		text := out[i].Text
		if text == "" {
			text = out[i].Title
		}
		out[i].Score = round4(out[i].Score * structuralPenalty(text) * termBonus(terms, text))
	}
	sortByScore(out)
	return truncated(out, k)
}

// structuralPenalty downweights text that looks like a table of contents:
// average line length under 20 runes multiplies by 0.7, and list markers on
// more than half the lines multiply by 0.6.
func structuralPenalty(text string) float64 {
	penalty := 1.0
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(text), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return penalty
	}

	total := 0
	marked := 0
	for _, l := range lines {
		total += len([]rune(l))
		if listMarker.MatchString(l) {
			marked++
		}
	}
	if float64(total)/float64(len(lines)) < 20 {
		penalty *= 0.7
	}
	if float64(marked)/float64(len(lines)) > 0.5 {
		penalty *= 0.6
	}
	return penalty
}

// termBonus rewards each distinct query term found in the text with +5%.
func termBonus(terms []string, text string) float64 {
	lower := strings.ToLower(text)
	matches := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matches++
		}
	}
	return 1 + 0.05*float64(matches)
}

func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			terms = append(terms, f)
		}
	}
	return terms
}

func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func sortByScore(docs []tabs.SearchResult) {
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
}

func truncated(docs []tabs.SearchResult, k int) []tabs.SearchResult {
	if k < len(docs) {
		return docs[:k]
	}
	return docs
}

func round4(s float64) float64 {
	return math.Round(s*10000) / 10000
}
