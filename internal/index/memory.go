package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process Engine used for local runs without Postgres and
// for tests. Stored records are copied on the way in and out so callers
// cannot mutate shared state.
type Memory struct {
	mu   sync.RWMutex
	dim  int
	recs map[string]Record
}

// NewMemory returns an empty in-memory engine with no declared dimension.
func NewMemory() *Memory {
	return &Memory{dim: -1, recs: make(map[string]Record)}
}

func (m *Memory) ReplacePage(ctx context.Context, pageID string, recs []Record) error {
	if pageID == "" {
		return fmt.Errorf("page id required")
	}
	for _, r := range recs {
		if len(r.Embedding) == 0 {
			return fmt.Errorf("chunk %s: vector must not be empty", r.ID)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.recs {
		if r.PageID == pageID || id == pageID {
			delete(m.recs, id)
		}
	}
	for _, r := range recs {
		if m.dim < 0 {
			m.dim = len(r.Embedding)
		}
		m.recs[r.ID] = cloneRecord(r)
	}
	return nil
}

func (m *Memory) PageRecords(ctx context.Context, pageID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var recs []Record
	for _, r := range m.recs {
		if r.PageID == pageID {
			recs = append(recs, cloneRecord(r))
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Ordinal < recs[j].Ordinal })
	return recs, nil
}

func (m *Memory) Get(ctx context.Context, id string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recs[id]
	if !ok {
		return Record{}, false, nil
	}
	return cloneRecord(r), true, nil
}

func (m *Memory) All(ctx context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]Record, 0, len(m.recs))
	for _, r := range m.recs {
		c := cloneRecord(r)
		c.Content = ""
		c.Embedding = nil
		recs = append(recs, c)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].URL != recs[j].URL {
			return recs[i].URL < recs[j].URL
		}
		return recs[i].Ordinal < recs[j].Ordinal
	})
	return recs, nil
}

func (m *Memory) Query(ctx context.Context, vector []float32, n int, withContent bool) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if n <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	matches := make([]Match, 0, len(m.recs))
	for _, r := range m.recs {
		c := cloneRecord(r)
		c.Embedding = nil
		if !withContent {
			c.Content = ""
		}
		matches = append(matches, Match{Record: c, Distance: cosineDistance(vector, r.Embedding)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
	if n < len(matches) {
		matches = matches[:n]
	}
	return matches, nil
}

func (m *Memory) DeletePage(ctx context.Context, pageID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, r := range m.recs {
		if r.PageID == pageID {
			delete(m.recs, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[id]; !ok {
		return false, nil
	}
	delete(m.recs, id)
	return true, nil
}

func (m *Memory) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.recs)), nil
}

func (m *Memory) Dimension(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dim, nil
}

func (m *Memory) Reset(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = make(map[string]Record)
	m.dim = dim
	return nil
}

func (m *Memory) Close() error { return nil }

func cloneRecord(r Record) Record {
	c := r
	if r.Embedding != nil {
		c.Embedding = append([]float32(nil), r.Embedding...)
	}
	return c
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
