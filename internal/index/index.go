// Package index abstracts the vector store holding tab chunks. Two engines
// implement the contract: a pgvector-backed Postgres table for persistent
// deployments and an in-memory engine for local runs and tests.
package index

import "context"

// Record is one stored chunk together with its embedding and page metadata.
// ID is derived from the page id and the chunk ordinal; PageID is a stable
// hash of the page URL.
type Record struct {
	ID        string
	PageID    string
	URL       string
	Title     string
	TabID     int64
	Favicon   string
	Ordinal   int
	Total     int
	Content   string
	Embedding []float32
}

// Match is a query hit carrying the cosine distance to the query vector.
type Match struct {
	Record
	Distance float64
}

// Engine is the storage contract for tab chunks.
//
// ReplacePage atomically removes every chunk belonging to pageID (including
// a legacy single record keyed directly by the page id) and inserts the
// supplied records; no partial replace may become visible. Query returns the
// n nearest records by cosine distance, ascending; Content is populated only
// when withContent is set. Dimension reports the dimensionality of stored
// vectors, or -1 when the engine holds none and declares none. Reset drops
// all stored chunks and re-declares the embedding dimension.
type Engine interface {
	ReplacePage(ctx context.Context, pageID string, recs []Record) error
	PageRecords(ctx context.Context, pageID string) ([]Record, error)
	Get(ctx context.Context, id string) (Record, bool, error)
	All(ctx context.Context) ([]Record, error)
	Query(ctx context.Context, vector []float32, n int, withContent bool) ([]Match, error)
	DeletePage(ctx context.Context, pageID string) (int64, error)
	Delete(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int64, error)
	Dimension(ctx context.Context) (int, error)
	Reset(ctx context.Context, dim int) error
	Close() error
}
