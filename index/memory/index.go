// Package memory implements index.VectorIndex in process memory.
//
// It backs tests and local dry runs where no Qdrant server is
// available. Query scores with cosine similarity, matching the
// production collection's distance metric.
package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/poiesic/regdex/index"
)

// Index is an in-memory index.VectorIndex.
type Index struct {
	mu     sync.RWMutex
	dims   int
	points map[string]index.Point
	closed bool
}

// New creates an empty in-memory index.
func New() *Index {
	return &Index{points: make(map[string]index.Point)}
}

// EnsureCollection records the vector width for later validation.
func (m *Index) EnsureCollection(ctx context.Context, dims int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("memory index closed")
	}
	if m.dims == 0 {
		m.dims = dims
	}
	return nil
}

// Upsert stores points, replacing any with the same ID.
func (m *Index) Upsert(ctx context.Context, points []index.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("memory index closed")
	}
	for _, p := range points {
		if m.dims > 0 && len(p.Vector) != m.dims {
			return errors.New("memory index: vector width mismatch")
		}
		stored := index.Point{
			ID:      p.ID,
			Vector:  append([]float32(nil), p.Vector...),
			Payload: make(map[string]string, len(p.Payload)),
		}
		for k, v := range p.Payload {
			stored.Payload[k] = v
		}
		m.points[p.ID] = stored
	}
	return nil
}

// Fetch retrieves points by ID. Missing IDs are absent from the result.
func (m *Index) Fetch(ctx context.Context, ids []string) ([]index.Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []index.Point
	for _, id := range ids {
		if p, ok := m.points[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// DeleteByDoc removes points whose doc_id payload matches.
func (m *Index) DeleteByDoc(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if p.Payload["doc_id"] == docID {
			delete(m.points, id)
		}
	}
	return nil
}

// Query scores every stored point against the vector with cosine
// similarity and returns the topK best, filtered by payload equality.
func (m *Index) Query(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]index.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []index.Match
	for _, p := range m.points {
		if !payloadMatches(p.Payload, filters) {
			continue
		}
		matches = append(matches, index.Match{
			ID:      p.ID,
			Score:   cosine(vector, p.Vector),
			Payload: p.Payload,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Scroll visits every stored point in ID order.
func (m *Index) Scroll(ctx context.Context, fn func(index.Point) error) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.points))
	for id := range m.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	points := make([]index.Point, len(ids))
	for i, id := range ids {
		points[i] = m.points[id]
	}
	m.mu.RUnlock()

	for _, p := range points {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the index closed.
func (m *Index) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of stored points.
func (m *Index) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

// IDsForDoc returns the stored chunk IDs for a document, sorted.
func (m *Index) IDsForDoc(docID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, p := range m.points {
		if p.Payload["doc_id"] == docID || strings.HasPrefix(id, docID+"#") {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func payloadMatches(payload, filters map[string]string) bool {
	for k, v := range filters {
		if payload[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
