// Package memory is the long-term store behind the research pipeline. It
// wraps a vector engine with duplicate detection, metadata stamping,
// retention and statistics.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quilldeep/quill/internal/embedding"
	"github.com/quilldeep/quill/internal/vectorstore"
)

// DefaultDuplicateThreshold is the similarity above which a new text is
// treated as a restatement of an existing memory.
const DefaultDuplicateThreshold = 0.95

// ErrNotFound is returned when an operation names a memory id that does not
// exist.
var ErrNotFound = errors.New("memory not found")

// SearchResult is one memory ranked by similarity to the query.
// Similarity is 1 - cosine distance.
type SearchResult struct {
	ID         string                 `json:"id"`
	Text       string                 `json:"text"`
	Metadata   map[string]interface{} `json:"metadata"`
	Similarity float64                `json:"similarity"`
}

// Statistics summarizes store contents for dashboards and the CLI.
// EmbeddingDim is the vector width of the stored embeddings, 0 when the
// store is empty.
type Statistics struct {
	TotalMemories int             `json:"total_memories"`
	EmbeddingDim  int             `json:"embedding_dim"`
	BySource      map[string]int  `json:"by_source"`
	AgeBuckets    map[string]int  `json:"age_buckets"`
	AvgTextLength float64         `json:"avg_text_length"`
	CacheStats    embedding.Stats `json:"embedding_cache"`
}

// AddOptions tunes a single insert. ID overrides the generated uuid;
// SkipDuplicateCheck inserts unconditionally, even next to a near-duplicate.
type AddOptions struct {
	ID                 string
	SkipDuplicateCheck bool
}

// Store is the memory manager. Single-writer: callers serialize mutations.
type Store struct {
	engine    vectorstore.Engine
	embedder  *embedding.Cache
	threshold float64
	logger    *log.Logger
	now       func() time.Time
}

// NewStore wires a store over engine and embedder. threshold <= 0 selects
// DefaultDuplicateThreshold.
func NewStore(engine vectorstore.Engine, embedder *embedding.Cache, threshold float64) *Store {
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}
	return &Store{
		engine:    engine,
		embedder:  embedder,
		threshold: threshold,
		logger:    log.New(log.Writer(), "[MEMORY] ", log.LstdFlags),
		now:       time.Now,
	}
}

// CheckDuplicate reports whether text is a near-duplicate of a stored
// memory. A non-nil result carries the matched memory's id, text, metadata
// and similarity; nil means no stored memory clears the duplicate threshold.
func (s *Store) CheckDuplicate(ctx context.Context, text string) (*SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.checkDuplicateVec(ctx, vec)
}

func (s *Store) checkDuplicateVec(ctx context.Context, vec []float32) (*SearchResult, error) {
	neighbors, err := s.engine.Query(ctx, vec, 1, nil)
	if err != nil {
		return nil, fmt.Errorf("duplicate query: %w", err)
	}
	if len(neighbors) == 0 {
		return nil, nil
	}
	sim := 1 - neighbors[0].Distance
	if sim < s.threshold {
		return nil, nil
	}
	return &SearchResult{
		ID:         neighbors[0].ID,
		Text:       neighbors[0].Text,
		Metadata:   neighbors[0].Metadata,
		Similarity: sim,
	}, nil
}

// Add stores text with metadata and returns the memory id. Adding a
// near-duplicate of an existing memory is idempotent: the existing id is
// returned and isNew is false. Caller metadata is copied and stamped with
// timestamp, text_length and a default source of "user_input".
func (s *Store) Add(ctx context.Context, text string, metadata map[string]interface{}) (id string, isNew bool, err error) {
	return s.AddWithOptions(ctx, text, metadata, AddOptions{})
}

// AddWithOptions is Add with a caller-chosen id and an optional bypass of
// duplicate detection.
func (s *Store) AddWithOptions(ctx context.Context, text string, metadata map[string]interface{}, opts AddOptions) (id string, isNew bool, err error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return "", false, err
	}

	if !opts.SkipDuplicateCheck {
		match, err := s.checkDuplicateVec(ctx, vec)
		if err != nil {
			return "", false, err
		}
		if match != nil {
			s.logger.Printf("duplicate of %s (similarity %.3f), skipping insert", match.ID, match.Similarity)
			return match.ID, false, nil
		}
	}

	stamped := make(map[string]interface{}, len(metadata)+3)
	for k, v := range metadata {
		stamped[k] = v
	}
	stamped["timestamp"] = s.now().UTC().Format(time.RFC3339)
	stamped["text_length"] = len(text)
	if _, ok := stamped["source"]; !ok {
		stamped["source"] = "user_input"
	}

	id = opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := s.engine.Upsert(ctx, vectorstore.Record{ID: id, Text: text, Metadata: stamped, Vector: vec}); err != nil {
		return "", false, fmt.Errorf("store memory: %w", err)
	}
	return id, true, nil
}

// Search returns up to topK memories ranked by similarity descending.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	return s.search(ctx, query, topK, nil)
}

// SearchBySource is Search restricted to memories whose source metadata
// matches exactly.
func (s *Store) SearchBySource(ctx context.Context, query, source string, topK int) ([]SearchResult, error) {
	return s.search(ctx, query, topK, vectorstore.Filter{"source": source})
}

func (s *Store) search(ctx context.Context, query string, topK int, filter vectorstore.Filter) ([]SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	neighbors, err := s.engine.Query(ctx, vec, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	out := make([]SearchResult, 0, len(neighbors))
	for _, n := range neighbors {
		out = append(out, SearchResult{
			ID:         n.ID,
			Text:       n.Text,
			Metadata:   n.Metadata,
			Similarity: 1 - n.Distance,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

// Delete removes one memory. Returns false when the id does not exist.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	recs, err := s.engine.Get(ctx, []string{id})
	if err != nil {
		return false, fmt.Errorf("lookup memory: %w", err)
	}
	if len(recs) == 0 {
		return false, nil
	}
	if err := s.engine.Delete(ctx, []string{id}); err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	return true, nil
}

// ClearAll removes every memory.
func (s *Store) ClearAll(ctx context.Context) error {
	recs, err := s.engine.All(ctx)
	if err != nil {
		return fmt.Errorf("list memories: %w", err)
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.engine.Delete(ctx, ids); err != nil {
		return fmt.Errorf("clear memories: %w", err)
	}
	s.logger.Printf("cleared %d memories", len(ids))
	return nil
}

// MarkImportant flags a memory as exempt from retention cleanup. The memory
// is removed and reinserted with important=true, so the returned id differs
// from the input id.
func (s *Store) MarkImportant(ctx context.Context, id string) (string, error) {
	recs, err := s.engine.Get(ctx, []string{id})
	if err != nil {
		return "", fmt.Errorf("lookup memory: %w", err)
	}
	if len(recs) == 0 {
		return "", fmt.Errorf("mark important %s: %w", id, ErrNotFound)
	}
	rec := recs[0]

	if err := s.engine.Delete(ctx, []string{id}); err != nil {
		return "", fmt.Errorf("delete memory: %w", err)
	}
	meta := make(map[string]interface{}, len(rec.Metadata)+1)
	for k, v := range rec.Metadata {
		meta[k] = v
	}
	meta["important"] = true
	newID, _, err := s.Add(ctx, rec.Text, meta)
	if err != nil {
		return "", fmt.Errorf("reinsert memory: %w", err)
	}
	return newID, nil
}

// CleanupOld deletes memories older than the given number of days. When
// keepImportant is set, memories flagged important survive regardless of
// age. Memories with a missing or unparseable timestamp are kept.
func (s *Store) CleanupOld(ctx context.Context, days int, keepImportant bool) (int, error) {
	if days <= 0 {
		return 0, fmt.Errorf("days must be positive, got %d", days)
	}
	cutoff := s.now().UTC().AddDate(0, 0, -days)

	recs, err := s.engine.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("list memories: %w", err)
	}
	var stale []string
	for _, r := range recs {
		ts, ok := parseTimestamp(r.Metadata)
		if !ok || !ts.Before(cutoff) {
			continue
		}
		if keepImportant && isImportant(r.Metadata) {
			continue
		}
		stale = append(stale, r.ID)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.engine.Delete(ctx, stale); err != nil {
		return 0, fmt.Errorf("delete stale memories: %w", err)
	}
	s.logger.Printf("cleanup removed %d memories older than %d days", len(stale), days)
	return len(stale), nil
}

// Statistics reports store contents by source and age, plus embedding cache
// effectiveness.
func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	recs, err := s.engine.All(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("list memories: %w", err)
	}

	stats := Statistics{
		TotalMemories: len(recs),
		BySource:      map[string]int{},
		AgeBuckets: map[string]int{
			"last_24h":     0,
			"last_7_days":  0,
			"last_30_days": 0,
			"older":        0,
		},
		CacheStats: s.embedder.Stats(),
	}

	now := s.now().UTC()
	var totalLen int
	for _, r := range recs {
		if stats.EmbeddingDim == 0 && len(r.Vector) > 0 {
			stats.EmbeddingDim = len(r.Vector)
		}
		source := "unknown"
		if v, ok := r.Metadata["source"].(string); ok && v != "" {
			source = v
		}
		stats.BySource[source]++
		totalLen += len(r.Text)

		ts, ok := parseTimestamp(r.Metadata)
		if !ok {
			stats.AgeBuckets["older"]++
			continue
		}
		switch age := now.Sub(ts); {
		case age <= 24*time.Hour:
			stats.AgeBuckets["last_24h"]++
		case age <= 7*24*time.Hour:
			stats.AgeBuckets["last_7_days"]++
		case age <= 30*24*time.Hour:
			stats.AgeBuckets["last_30_days"]++
		default:
			stats.AgeBuckets["older"]++
		}
	}
	if len(recs) > 0 {
		stats.AvgTextLength = float64(totalLen) / float64(len(recs))
	}
	return stats, nil
}

func parseTimestamp(meta map[string]interface{}) (time.Time, bool) {
	raw, ok := meta["timestamp"].(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func isImportant(meta map[string]interface{}) bool {
	v, ok := meta["important"].(bool)
	return ok && v
}
