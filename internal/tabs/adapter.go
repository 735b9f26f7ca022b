package tabs

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/Core-65536/Project-Ghost/internal/index"
)

// DefaultOversample is how many times k raw candidates a query fetches
// before page-level deduplication.
const DefaultOversample = 5

// Adapter exposes page-level operations over an index.Engine.
type Adapter struct {
	engine     index.Engine
	oversample int
	logger     *log.Logger
}

// NewAdapter wraps an engine. oversample <= 0 selects DefaultOversample.
func NewAdapter(engine index.Engine, oversample int, logger *log.Logger) *Adapter {
	if oversample <= 0 {
		oversample = DefaultOversample
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[INDEX] ", log.LstdFlags)
	}
	return &Adapter{engine: engine, oversample: oversample, logger: logger}
}

// EnsureDimension verifies the stored vectors match dim, dropping and
// recreating the index when they do not. The rebuild is destructive; it is
// the one-time self-heal after an embedding model change.
func (a *Adapter) EnsureDimension(ctx context.Context, dim int) error {
	current, err := a.engine.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("inspect index dimension: %w", err)
	}
	if current == dim {
		return nil
	}
	if current >= 0 {
		a.logger.Printf("embedding dimension changed (%d -> %d), rebuilding index", current, dim)
	}
	return a.engine.Reset(ctx, dim)
}

// Write replaces every stored chunk for the page with the supplied chunks
// and their embeddings, as one logical replace. Returns the page id.
func (a *Adapter) Write(ctx context.Context, page Page, chunks []string, vectors [][]float32) (string, error) {
	if len(chunks) != len(vectors) {
		return "", &WriteError{Err: fmt.Errorf("%d chunks with %d vectors", len(chunks), len(vectors))}
	}
	pageID := PageID(page.URL)
	recs := make([]index.Record, 0, len(chunks))
	for i, text := range chunks {
		recs = append(recs, index.Record{
			ID:        chunkID(pageID, i),
			PageID:    pageID,
			URL:       page.URL,
			Title:     page.Title,
			TabID:     page.TabID,
			Favicon:   page.Favicon,
			Ordinal:   i,
			Total:     len(chunks),
			Content:   text,
			Embedding: vectors[i],
		})
	}
	if err := a.engine.ReplacePage(ctx, pageID, recs); err != nil {
		return "", &WriteError{Err: err}
	}
	a.logger.Printf("indexed %d chunks for %s (page %s)", len(recs), page.URL, pageID)
	return pageID, nil
}

// Query finds the k pages nearest to the vector. It oversamples raw chunk
// candidates, then keeps the highest-scoring chunk per URL. Similarity is
// 1 - cosine distance rounded to 4 decimals.
func (a *Adapter) Query(ctx context.Context, vector []float32, k int, withText bool) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	total, err := a.engine.Count(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}
	fetch := int64(k * a.oversample)
	if fetch > total {
		fetch = total
	}

	matches, err := a.engine.Query(ctx, vector, int(fetch), withText)
	if err != nil {
		return nil, err
	}

	best := make(map[string]SearchResult, len(matches))
	for _, m := range matches {
		score := roundScore(1 - m.Distance)
		if cur, ok := best[m.URL]; ok && score <= cur.Score {
			continue
		}
		res := SearchResult{URL: m.URL, Title: m.Title, TabID: m.TabID, Favicon: m.Favicon, Score: score}
		if withText {
			res.Text = m.Content
		}
		best[m.URL] = res
	}

	results := make([]SearchResult, 0, len(best))
	for _, r := range best {
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].URL < results[j].URL
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Delete removes every chunk for the URL, plus a legacy record keyed
// directly by the page id when one exists. Reports whether anything went
// away; deleting an unknown URL is not an error.
func (a *Adapter) Delete(ctx context.Context, url string) (bool, error) {
	pageID := PageID(url)
	removed, err := a.engine.DeletePage(ctx, pageID)
	if err != nil {
		return false, err
	}
	legacy, err := a.engine.Delete(ctx, pageID)
	if err != nil {
		return removed > 0, err
	}
	return removed > 0 || legacy, nil
}

// ListAll returns one summary per distinct URL.
func (a *Adapter) ListAll(ctx context.Context) ([]PageSummary, error) {
	recs, err := a.engine.All(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(recs))
	var pages []PageSummary
	for _, r := range recs {
		if seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		total := r.Total
		if total <= 0 {
			total = 1
		}
		pages = append(pages, PageSummary{URL: r.URL, Title: r.Title, TabID: r.TabID, Favicon: r.Favicon, Chunks: total})
	}
	return pages, nil
}

// pageLookup tells which storage shape served a page read.
type pageLookup int

const (
	pageLookupChunks pageLookup = iota
	pageLookupLegacy
	pageLookupMissing
)

// resolvePage tries the chunked shape first, then the legacy single-record
// shape keyed directly by the page id.
func (a *Adapter) resolvePage(ctx context.Context, pageID string) (pageLookup, []index.Record, error) {
	recs, err := a.engine.PageRecords(ctx, pageID)
	if err != nil {
		return pageLookupMissing, nil, err
	}
	if len(recs) > 0 {
		return pageLookupChunks, recs, nil
	}
	rec, ok, err := a.engine.Get(ctx, pageID)
	if err != nil {
		return pageLookupMissing, nil, err
	}
	if ok {
		return pageLookupLegacy, []index.Record{rec}, nil
	}
	return pageLookupMissing, nil, nil
}

// ReadPage reassembles a page's text by concatenating its chunks in ordinal
// order. Returns ErrPageNotFound when neither shape holds the URL.
func (a *Adapter) ReadPage(ctx context.Context, url string) (PageContent, error) {
	shape, recs, err := a.resolvePage(ctx, PageID(url))
	if err != nil {
		return PageContent{}, err
	}
	if shape == pageLookupMissing {
		return PageContent{}, ErrPageNotFound
	}

	var b strings.Builder
	title := ""
	for i, r := range recs {
		if title == "" && r.Title != "" {
			title = r.Title
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(r.Content)
	}
	return PageContent{URL: url, Title: title, Total: len(recs), Content: b.String()}, nil
}

func roundScore(s float64) float64 {
	return math.Round(s*10000) / 10000
}
