// Package search implements the retrieval pipeline: keyword expansion,
// per-keyword vector recall, URL-level merge and reranking.
package search

import (
	"context"
	"log"
	"sort"

	"github.com/Core-65536/Project-Ghost/internal/tabs"
)

const (
	// DefaultTopK is the result count when the caller does not ask for one.
	DefaultTopK = 5
	// DefaultRecallMultiplier oversamples each keyword's recall relative to k.
	DefaultRecallMultiplier = 3
	// DefaultRecallCap bounds per-keyword recall regardless of k.
	DefaultRecallCap = 20
)

// Encoder embeds one query string.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Searcher recalls the nearest chunks for a vector.
type Searcher interface {
	Query(ctx context.Context, vector []float32, k int, withText bool) ([]tabs.SearchResult, error)
}

// Ranker reorders merged candidates and truncates to k.
type Ranker interface {
	Rerank(ctx context.Context, query string, docs []tabs.SearchResult, k int) []tabs.SearchResult
}

// Expander widens a query into recall keywords.
type Expander interface {
	Expand(ctx context.Context, query string) ([]string, error)
}

// Options bound the recall stage.
type Options struct {
	RecallMultiplier int
	RecallCap        int
}

// Retrieval is the pipeline output. LLMError carries a non-fatal keyword
// expansion failure; Results are still valid when it is set.
type Retrieval struct {
	Results  []tabs.SearchResult
	Keywords []string
	LLMError string
}

// Pipeline wires the retrieval stages together.
type Pipeline struct {
	expander Expander
	encoder  Encoder
	searcher Searcher
	ranker   Ranker
	opts     Options
	logger   *log.Logger
}

// NewPipeline builds a Pipeline. Zero option fields select the defaults.
func NewPipeline(expander Expander, encoder Encoder, searcher Searcher, ranker Ranker, opts Options, logger *log.Logger) *Pipeline {
	if opts.RecallMultiplier <= 0 {
		opts.RecallMultiplier = DefaultRecallMultiplier
	}
	if opts.RecallCap <= 0 {
		opts.RecallCap = DefaultRecallCap
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	return &Pipeline{expander: expander, encoder: encoder, searcher: searcher, ranker: ranker, opts: opts, logger: logger}
}

// Retrieve runs the full pipeline for one query. Keyword expansion failures
// degrade to searching with the raw query and are reported in
// Retrieval.LLMError; encoder and index failures abort the call.
func (p *Pipeline) Retrieve(ctx context.Context, query string, k int) (Retrieval, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	var ret Retrieval
	keywords, err := p.expander.Expand(ctx, query)
	if err != nil {
		ret.LLMError = err.Error()
		p.logger.Printf("keyword expansion failed, searching with raw query: %v", err)
	}
	if len(keywords) == 0 {
		keywords = []string{query}
	}
	ret.Keywords = keywords

	recall := k * p.opts.RecallMultiplier
	if recall > p.opts.RecallCap {
		recall = p.opts.RecallCap
	}

	best := make(map[string]tabs.SearchResult)
	for _, kw := range keywords {
		vector, err := p.encoder.Encode(ctx, kw)
		if err != nil {
			return Retrieval{}, err
		}
		matches, err := p.searcher.Query(ctx, vector, recall, true)
		if err != nil {
			return Retrieval{}, err
		}
		for _, m := range matches {
			if cur, ok := best[m.URL]; !ok || m.Score > cur.Score {
				best[m.URL] = m
			}
		}
	}

	merged := make([]tabs.SearchResult, 0, len(best))
	for _, m := range best {
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].URL < merged[j].URL
	})

	ret.Results = p.ranker.Rerank(ctx, query, merged, k)
	p.logger.Printf("retrieved %d candidates for %d keywords, kept %d", len(merged), len(keywords), len(ret.Results))
	return ret, nil
}
