// Package tabs bridges saved pages and their chunks to the vector index.
// It owns page and chunk identity, hides chunk-level storage behind
// page-level operations, and collapses chunk hits into per-URL results.
package tabs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Page is the metadata indexed alongside every chunk of a saved tab.
type Page struct {
	URL     string
	Title   string
	TabID   int64
	Favicon string
}

// SearchResult is one page-level hit. Text carries the best-matching
// chunk's content when the caller asked for it.
type SearchResult struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	TabID   int64   `json:"tab_id"`
	Favicon string  `json:"favicon"`
	Score   float64 `json:"score"`
	Text    string  `json:"text,omitempty"`
}

// PageSummary describes one indexed page without content.
type PageSummary struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	TabID   int64  `json:"tab_id"`
	Favicon string `json:"favicon"`
	Chunks  int    `json:"chunks"`
}

// PageContent is the full text of a page reassembled from its chunks.
type PageContent struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Total   int    `json:"total_chunks"`
	Content string `json:"content"`
}

// ErrPageNotFound reports a read for a URL with nothing stored under either
// the chunked or the legacy shape.
var ErrPageNotFound = errors.New("page not found")

// WriteError wraps a failure from the underlying index during a replace.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return "index write: " + e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }

// PageID returns the stable storage id for a URL: the first 16 hex
// characters of its SHA-256. Hashing decouples storage identity from URL
// string formatting.
func PageID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

func chunkID(pageID string, ordinal int) string {
	return fmt.Sprintf("%s_chunk_%d", pageID, ordinal)
}
