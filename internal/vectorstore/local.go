package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// LocalEngine is an in-process engine with an exact cosine scan. Records are
// persisted as one JSON file so memory survives across CLI invocations, the
// same role a vector database's persist directory plays in a server setup.
type LocalEngine struct {
	mu      sync.RWMutex
	path    string
	records map[string]Record
	order   []string
}

// NewLocalEngine opens (or creates) the store persisted at path. An empty
// path keeps the engine purely in memory.
func NewLocalEngine(path string) (*LocalEngine, error) {
	e := &LocalEngine{path: path, records: make(map[string]Record)}
	if path == "" {
		return e, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return e, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vector store file: %w", err)
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse vector store file %s: %w", path, err)
	}
	for _, r := range recs {
		e.records[r.ID] = r
		e.order = append(e.order, r.ID)
	}
	return e, nil
}

// persist writes the full record set. Caller holds the write lock.
func (e *LocalEngine) persist() error {
	if e.path == "" {
		return nil
	}
	recs := make([]Record, 0, len(e.order))
	for _, id := range e.order {
		recs = append(recs, e.records[id])
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encode vector store: %w", err)
	}
	if dir := filepath.Dir(e.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create vector store dir: %w", err)
		}
	}
	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write vector store: %w", err)
	}
	return os.Rename(tmp, e.path)
}

func (e *LocalEngine) Upsert(_ context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.records[rec.ID]; !exists {
		e.order = append(e.order, rec.ID)
	}
	e.records[rec.ID] = rec
	return e.persist()
}

func (e *LocalEngine) Query(_ context.Context, vector []float32, topK int, filter Filter) ([]Neighbor, error) {
	if topK <= 0 {
		return nil, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Neighbor
	for _, id := range e.order {
		rec := e.records[id]
		if !matchesFilter(rec.Metadata, filter) {
			continue
		}
		out = append(out, Neighbor{Record: rec, Distance: CosineDistance(vector, rec.Vector)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (e *LocalEngine) Get(_ context.Context, ids []string) ([]Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Record
	for _, id := range ids {
		if rec, ok := e.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (e *LocalEngine) All(_ context.Context) ([]Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Record, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.records[id])
	}
	return out, nil
}

func (e *LocalEngine) Delete(_ context.Context, ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := e.records[id]; ok {
			drop[id] = true
			delete(e.records, id)
		}
	}
	if len(drop) == 0 {
		return nil
	}
	kept := e.order[:0]
	for _, id := range e.order {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	e.order = kept
	return e.persist()
}

func (e *LocalEngine) Count(_ context.Context) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.records), nil
}
