package vectorstore

import (
	"context"
	"math"
	"path/filepath"
	"testing"
)

func TestCosineDistance(t *testing.T) {
	if d := CosineDistance([]float32{1, 0}, []float32{1, 0}); math.Abs(d) > 1e-9 {
		t.Fatalf("identical vectors: distance = %v", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{0, 1}); math.Abs(d-1) > 1e-9 {
		t.Fatalf("orthogonal vectors: distance = %v", d)
	}
	if d := CosineDistance([]float32{1, 0}, []float32{-1, 0}); math.Abs(d-2) > 1e-9 {
		t.Fatalf("opposite vectors: distance = %v", d)
	}
	if d := CosineDistance([]float32{0, 0}, []float32{1, 0}); d != 1 {
		t.Fatalf("zero vector: distance = %v", d)
	}
}

func TestLocalEngineQueryOrderAndFilter(t *testing.T) {
	e, err := NewLocalEngine("")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	ctx := context.Background()

	recs := []Record{
		{ID: "near", Text: "near", Vector: []float32{1, 0.1}, Metadata: map[string]interface{}{"source": "web_search"}},
		{ID: "far", Text: "far", Vector: []float32{0, 1}, Metadata: map[string]interface{}{"source": "user_input"}},
		{ID: "mid", Text: "mid", Vector: []float32{1, 1}, Metadata: map[string]interface{}{"source": "user_input"}},
	}
	for _, r := range recs {
		if err := e.Upsert(ctx, r); err != nil {
			t.Fatalf("upsert %s: %v", r.ID, err)
		}
	}

	got, err := e.Query(ctx, []float32{1, 0}, 10, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 || got[0].ID != "near" || got[1].ID != "mid" || got[2].ID != "far" {
		t.Fatalf("unexpected order: %+v", got)
	}

	got, err = e.Query(ctx, []float32{1, 0}, 10, Filter{"source": "user_input"})
	if err != nil {
		t.Fatalf("filtered query: %v", err)
	}
	if len(got) != 2 || got[0].ID != "mid" {
		t.Fatalf("unexpected filtered result: %+v", got)
	}

	got, err = e.Query(ctx, []float32{1, 0}, 1, nil)
	if err != nil {
		t.Fatalf("topK query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("topK not applied: %+v", got)
	}
}

func TestLocalEngineUpsertDeleteCount(t *testing.T) {
	e, _ := NewLocalEngine("")
	ctx := context.Background()

	if err := e.Upsert(ctx, Record{ID: "a", Text: "one", Vector: []float32{1}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := e.Upsert(ctx, Record{ID: "a", Text: "one updated", Vector: []float32{1}}); err != nil {
		t.Fatalf("upsert existing: %v", err)
	}
	n, _ := e.Count(ctx)
	if n != 1 {
		t.Fatalf("upsert of same id must not grow store, count = %d", n)
	}
	recs, _ := e.Get(ctx, []string{"a", "missing"})
	if len(recs) != 1 || recs[0].Text != "one updated" {
		t.Fatalf("get returned %+v", recs)
	}
	if err := e.Delete(ctx, []string{"a"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, _ = e.Count(ctx)
	if n != 0 {
		t.Fatalf("count after delete = %d", n)
	}
}

func TestLocalEnginePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store", "memory.json")
	ctx := context.Background()

	e, err := NewLocalEngine(path)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e.Upsert(ctx, Record{ID: "a", Text: "kept", Vector: []float32{1, 2}, Metadata: map[string]interface{}{"source": "user_input"}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	reopened, err := NewLocalEngine(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	recs, _ := reopened.All(ctx)
	if len(recs) != 1 || recs[0].Text != "kept" {
		t.Fatalf("persisted records = %+v", recs)
	}
	if recs[0].Metadata["source"] != "user_input" {
		t.Fatalf("metadata not persisted: %+v", recs[0].Metadata)
	}
}
