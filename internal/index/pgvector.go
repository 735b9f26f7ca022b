package index

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PGVector stores chunks in a Postgres table with a pgvector embedding
// column. Cosine distance is computed by the database via the <=> operator.
type PGVector struct {
	DB *sql.DB
}

// NewPGVector opens a Postgres connection and verifies it with a short ping.
func NewPGVector(ctx context.Context, dsn string) (*PGVector, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PGVector{DB: db}, nil
}

// ReplacePage deletes every chunk stored for pageID, including a legacy
// record keyed directly by the page id, then inserts the supplied records.
// The whole replace runs in one transaction.
func (p *PGVector) ReplacePage(ctx context.Context, pageID string, recs []Record) (err error) {
	if pageID == "" {
		return fmt.Errorf("page id required")
	}
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM tab_chunks WHERE page_id=$1 OR id=$1`, pageID); err != nil {
		return fmt.Errorf("delete existing chunks: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO tab_chunks (id, page_id, url, title, tab_id, favicon, ordinal, chunk_total, content, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::vector,NOW())
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, rec := range recs {
		var lit string
		lit, err = encodeVectorLiteral(rec.Embedding)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", rec.ID, err)
		}
		if _, err = stmt.ExecContext(ctx, rec.ID, rec.PageID, rec.URL, rec.Title, rec.TabID, rec.Favicon, rec.Ordinal, rec.Total, rec.Content, lit); err != nil {
			return fmt.Errorf("insert chunk %s: %w", rec.ID, err)
		}
	}
	return nil
}

// PageRecords returns the chunks stored for pageID ordered by ordinal,
// content included.
func (p *PGVector) PageRecords(ctx context.Context, pageID string) ([]Record, error) {
	rows, err := p.DB.QueryContext(ctx, `
SELECT id, page_id, url, title, tab_id, favicon, ordinal, chunk_total, content
FROM tab_chunks
WHERE page_id=$1
ORDER BY ordinal ASC
`, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.PageID, &r.URL, &r.Title, &r.TabID, &r.Favicon, &r.Ordinal, &r.Total, &r.Content); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Get fetches one record by its chunk id. The boolean reports existence.
func (p *PGVector) Get(ctx context.Context, id string) (Record, bool, error) {
	var r Record
	row := p.DB.QueryRowContext(ctx, `
SELECT id, page_id, url, title, tab_id, favicon, ordinal, chunk_total, content
FROM tab_chunks
WHERE id=$1
`, id)
	switch err := row.Scan(&r.ID, &r.PageID, &r.URL, &r.Title, &r.TabID, &r.Favicon, &r.Ordinal, &r.Total, &r.Content); err {
	case nil:
		return r, true, nil
	case sql.ErrNoRows:
		return Record{}, false, nil
	default:
		return Record{}, false, err
	}
}

// All returns the metadata of every stored chunk ordered by URL then
// ordinal. Content and embeddings are not loaded.
func (p *PGVector) All(ctx context.Context) ([]Record, error) {
	rows, err := p.DB.QueryContext(ctx, `
SELECT id, page_id, url, title, tab_id, favicon, ordinal, chunk_total
FROM tab_chunks
ORDER BY url ASC, ordinal ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.PageID, &r.URL, &r.Title, &r.TabID, &r.Favicon, &r.Ordinal, &r.Total); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Query returns the n nearest chunks to the supplied vector by cosine
// distance, ascending.
func (p *PGVector) Query(ctx context.Context, vector []float32, n int, withContent bool) ([]Match, error) {
	if n <= 0 {
		return nil, nil
	}
	lit, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := p.DB.QueryContext(ctx, `
SELECT id, page_id, url, title, tab_id, favicon, ordinal, chunk_total,
       CASE WHEN $3 THEN content ELSE '' END AS content,
       embedding <=> $1::vector AS distance
FROM tab_chunks
ORDER BY embedding <=> $1::vector
LIMIT $2
`, lit, n, withContent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.PageID, &m.URL, &m.Title, &m.TabID, &m.Favicon, &m.Ordinal, &m.Total, &m.Content, &m.Distance); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// DeletePage removes every chunk whose page_id matches and reports how many
// rows went away.
func (p *PGVector) DeletePage(ctx context.Context, pageID string) (int64, error) {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM tab_chunks WHERE page_id=$1`, pageID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes a single record by chunk id and reports whether it existed.
func (p *PGVector) Delete(ctx context.Context, id string) (bool, error) {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM tab_chunks WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Count returns the number of stored chunks.
func (p *PGVector) Count(ctx context.Context) (int64, error) {
	var n int64
	err := p.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tab_chunks`).Scan(&n)
	return n, err
}

// Dimension reports the declared dimensionality of the embedding column.
// pgvector stores the dimension in atttypmod. Returns -1 when the table does
// not exist yet.
func (p *PGVector) Dimension(ctx context.Context) (int, error) {
	var dim int
	row := p.DB.QueryRowContext(ctx, `
SELECT atttypmod
FROM pg_attribute
WHERE attrelid = to_regclass('tab_chunks') AND attname = 'embedding'
`)
	switch err := row.Scan(&dim); err {
	case nil:
		return dim, nil
	case sql.ErrNoRows:
		return -1, nil
	default:
		return -1, err
	}
}

// Reset drops and recreates the chunk table with the supplied embedding
// dimension. Destructive: every indexed page is lost.
func (p *PGVector) Reset(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`DROP TABLE IF EXISTS tab_chunks`,
		fmt.Sprintf(`CREATE TABLE tab_chunks (
  id          TEXT PRIMARY KEY,
  page_id     TEXT NOT NULL DEFAULT '',
  url         TEXT NOT NULL,
  title       TEXT NOT NULL DEFAULT '',
  tab_id      BIGINT NOT NULL DEFAULT 0,
  favicon     TEXT NOT NULL DEFAULT '',
  ordinal     INT NOT NULL DEFAULT 0,
  chunk_total INT NOT NULL DEFAULT 1,
  content     TEXT NOT NULL DEFAULT '',
  embedding   vector(%d) NOT NULL,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, dim),
		`CREATE INDEX tab_chunks_page_id_idx ON tab_chunks (page_id)`,
		`CREATE INDEX tab_chunks_embedding_idx ON tab_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
	}
	for _, stmt := range stmts {
		if _, err := p.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset index: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (p *PGVector) Close() error {
	return p.DB.Close()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
