// Package vectorstore provides the embedding index behind long-term memory.
// Two engines implement the same contract: a local JSON-persisted exact scan
// for zero-dependency runs, and a pgvector-backed adapter for postgres.
package vectorstore

import (
	"context"
	"math"
)

// Record is one stored document with its vector.
type Record struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
	Vector   []float32              `json:"vector"`
}

// Neighbor is a query result. Distance is cosine distance in [0,2];
// similarity is 1 - Distance.
type Neighbor struct {
	Record
	Distance float64 `json:"distance"`
}

// Filter is an exact-match metadata filter; every key must match.
type Filter map[string]interface{}

// Engine is the storage contract the memory store is written against.
type Engine interface {
	Upsert(ctx context.Context, rec Record) error
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Neighbor, error)
	Get(ctx context.Context, ids []string) ([]Record, error)
	All(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
}

// CosineDistance returns 1 - cos(a, b). A zero-magnitude operand yields the
// maximum distance 1 so degenerate vectors never rank as near-duplicates.
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func matchesFilter(meta map[string]interface{}, filter Filter) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
