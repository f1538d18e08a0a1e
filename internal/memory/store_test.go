package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/quilldeep/quill/internal/embedding"
	"github.com/quilldeep/quill/internal/vectorstore"
)

// vecProvider returns preset vectors per text. Texts without a preset get
// successive basis vectors, so distinct texts are exactly orthogonal and
// never trip duplicate detection by accident.
type vecProvider struct {
	vectors  map[string][]float32
	assigned map[string]int
}

const basisDim = 32

func (p *vecProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := p.vectors[text]; ok {
		return v, nil
	}
	if p.assigned == nil {
		p.assigned = make(map[string]int)
	}
	idx, ok := p.assigned[text]
	if !ok {
		idx = len(p.assigned)
		p.assigned[text] = idx
	}
	v := make([]float32, basisDim)
	v[idx%basisDim] = 1
	return v, nil
}

func (p *vecProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// angled returns a unit vector whose cosine similarity with [1,0] is sim.
func angled(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

func newTestStore(t *testing.T, vectors map[string][]float32) *Store {
	t.Helper()
	engine, err := vectorstore.NewLocalEngine("")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	cache := embedding.NewCache(&vecProvider{vectors: vectors}, 3, time.Millisecond, nil)
	return NewStore(engine, cache, 0)
}

func TestAddIsIdempotentForNearDuplicates(t *testing.T) {
	s := newTestStore(t, map[string][]float32{
		"The Eiffel Tower is 330 meters tall.":       {1, 0},
		"The Eiffel Tower stands 330 meters high.":   angled(0.97),
		"Photosynthesis converts light into energy.": {0, 1},
	})
	ctx := context.Background()

	id1, isNew, err := s.Add(ctx, "The Eiffel Tower is 330 meters tall.", nil)
	if err != nil || !isNew {
		t.Fatalf("first add: id=%s isNew=%v err=%v", id1, isNew, err)
	}
	id2, isNew, err := s.Add(ctx, "The Eiffel Tower stands 330 meters high.", nil)
	if err != nil {
		t.Fatalf("duplicate add: %v", err)
	}
	if isNew || id2 != id1 {
		t.Fatalf("expected existing id %s, got id=%s isNew=%v", id1, id2, isNew)
	}

	id3, isNew, err := s.Add(ctx, "Photosynthesis converts light into energy.", nil)
	if err != nil || !isNew || id3 == id1 {
		t.Fatalf("unrelated add: id=%s isNew=%v err=%v", id3, isNew, err)
	}

	n, _ := s.engine.Count(ctx)
	if n != 2 {
		t.Fatalf("expected 2 stored memories, got %d", n)
	}
}

func TestAddBelowThresholdStoresBoth(t *testing.T) {
	s := newTestStore(t, map[string][]float32{
		"first":  {1, 0},
		"second": angled(0.90),
	})
	ctx := context.Background()

	if _, _, err := s.Add(ctx, "first", nil); err != nil {
		t.Fatalf("add first: %v", err)
	}
	_, isNew, err := s.Add(ctx, "second", nil)
	if err != nil {
		t.Fatalf("add second: %v", err)
	}
	if !isNew {
		t.Fatal("similarity 0.90 must not trigger duplicate detection")
	}
}

func TestCheckDuplicateReturnsMatchedMemory(t *testing.T) {
	s := newTestStore(t, map[string][]float32{
		"Water boils at 100 degrees Celsius.":   {1, 0},
		"Water boils at one hundred Celsius.":   angled(0.97),
		"The Moon orbits the Earth in 27 days.": {0, 1},
	})
	ctx := context.Background()

	id, _, err := s.Add(ctx, "Water boils at 100 degrees Celsius.", map[string]interface{}{"topic": "physics"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	match, err := s.CheckDuplicate(ctx, "Water boils at one hundred Celsius.")
	if err != nil {
		t.Fatalf("check duplicate: %v", err)
	}
	if match == nil {
		t.Fatal("expected a duplicate match")
	}
	if match.ID != id || match.Text != "Water boils at 100 degrees Celsius." {
		t.Fatalf("match must carry the stored memory, got %+v", match)
	}
	if match.Metadata["topic"] != "physics" {
		t.Fatalf("match metadata lost: %+v", match.Metadata)
	}
	if math.Abs(match.Similarity-0.97) > 1e-6 {
		t.Fatalf("similarity = %v, want 0.97", match.Similarity)
	}

	match, err = s.CheckDuplicate(ctx, "The Moon orbits the Earth in 27 days.")
	if err != nil {
		t.Fatalf("check unrelated: %v", err)
	}
	if match != nil {
		t.Fatalf("unrelated text must not match, got %+v", match)
	}
}

func TestAddWithOptions(t *testing.T) {
	s := newTestStore(t, map[string][]float32{
		"original fact": {1, 0},
		"restated fact": angled(0.97),
	})
	ctx := context.Background()

	id, isNew, err := s.AddWithOptions(ctx, "original fact", nil, AddOptions{ID: "mem-42"})
	if err != nil || !isNew {
		t.Fatalf("add with id: id=%s isNew=%v err=%v", id, isNew, err)
	}
	if id != "mem-42" {
		t.Fatalf("caller id ignored, got %s", id)
	}

	id2, isNew, err := s.AddWithOptions(ctx, "restated fact", nil, AddOptions{SkipDuplicateCheck: true})
	if err != nil || !isNew {
		t.Fatalf("skip-check add: isNew=%v err=%v", isNew, err)
	}
	if id2 == id {
		t.Fatal("skip-check insert must produce its own record")
	}
	n, _ := s.engine.Count(ctx)
	if n != 2 {
		t.Fatalf("expected near-duplicate stored alongside, count = %d", n)
	}
}

func TestAddStampsMetadata(t *testing.T) {
	s := newTestStore(t, nil)
	s.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	id, _, err := s.Add(ctx, "hello memory", map[string]interface{}{"topic": "greeting"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	recs, _ := s.engine.Get(ctx, []string{id})
	meta := recs[0].Metadata
	if meta["source"] != "user_input" {
		t.Fatalf("default source missing: %+v", meta)
	}
	if meta["timestamp"] != "2026-08-24T12:00:00Z" {
		t.Fatalf("timestamp not stamped: %+v", meta)
	}
	if meta["text_length"] != len("hello memory") {
		t.Fatalf("text_length not stamped: %+v", meta)
	}
	if meta["topic"] != "greeting" {
		t.Fatalf("caller metadata dropped: %+v", meta)
	}

	id2, _, err := s.Add(ctx, "from the web", map[string]interface{}{"source": "web_search"})
	if err != nil {
		t.Fatalf("add with source: %v", err)
	}
	recs, _ = s.engine.Get(ctx, []string{id2})
	if recs[0].Metadata["source"] != "web_search" {
		t.Fatalf("caller source overwritten: %+v", recs[0].Metadata)
	}
}

func TestSearchRanksBySimilarity(t *testing.T) {
	s := newTestStore(t, map[string][]float32{
		"query": {1, 0},
		"close": angled(0.9),
		"mid":   angled(0.6),
		"far":   angled(0.1),
	})
	ctx := context.Background()
	for _, text := range []string{"far", "close", "mid"} {
		if _, _, err := s.Add(ctx, text, nil); err != nil {
			t.Fatalf("add %s: %v", text, err)
		}
	}

	results, err := s.Search(ctx, "query", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 || results[0].Text != "close" || results[1].Text != "mid" {
		t.Fatalf("unexpected ranking: %+v", results)
	}
	if math.Abs(results[0].Similarity-0.9) > 1e-6 {
		t.Fatalf("similarity must be 1 - distance, got %v", results[0].Similarity)
	}
}

func TestSearchBySource(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	if _, _, err := s.Add(ctx, "manual note about tides", nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, _, err := s.Add(ctx, "web article about tides", map[string]interface{}{"source": "web_search"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	results, err := s.SearchBySource(ctx, "tides", "web_search", 10)
	if err != nil {
		t.Fatalf("search by source: %v", err)
	}
	if len(results) != 1 || results[0].Text != "web article about tides" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	removed, err := s.Delete(ctx, "missing")
	if err != nil || removed {
		t.Fatalf("delete missing: removed=%v err=%v", removed, err)
	}

	id, _, _ := s.Add(ctx, "ephemeral", nil)
	removed, err = s.Delete(ctx, id)
	if err != nil || !removed {
		t.Fatalf("delete existing: removed=%v err=%v", removed, err)
	}
	n, _ := s.engine.Count(ctx)
	if n != 0 {
		t.Fatalf("count after delete = %d", n)
	}
}

func TestMarkImportant(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	if _, err := s.MarkImportant(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	id, _, _ := s.Add(ctx, "keep this forever", nil)
	newID, err := s.MarkImportant(ctx, id)
	if err != nil {
		t.Fatalf("mark important: %v", err)
	}
	if newID == id {
		t.Fatal("reinsert must produce a new id")
	}
	recs, _ := s.engine.Get(ctx, []string{newID})
	if len(recs) != 1 || recs[0].Text != "keep this forever" {
		t.Fatalf("reinserted record = %+v", recs)
	}
	if recs[0].Metadata["important"] != true {
		t.Fatalf("important flag missing: %+v", recs[0].Metadata)
	}
	n, _ := s.engine.Count(ctx)
	if n != 1 {
		t.Fatalf("expected single record after mark important, got %d", n)
	}
}

func TestCleanupOld(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base.AddDate(0, 0, -40) }
	if _, _, err := s.Add(ctx, "stale note", nil); err != nil {
		t.Fatalf("add stale: %v", err)
	}
	if _, _, err := s.Add(ctx, "stale but important", map[string]interface{}{"important": true}); err != nil {
		t.Fatalf("add important: %v", err)
	}
	s.now = func() time.Time { return base.AddDate(0, 0, -2) }
	if _, _, err := s.Add(ctx, "recent note", nil); err != nil {
		t.Fatalf("add recent: %v", err)
	}

	s.now = func() time.Time { return base }
	removed, err := s.CleanupOld(ctx, 30, true)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	recs, _ := s.engine.All(ctx)
	for _, r := range recs {
		if r.Text == "stale note" {
			t.Fatal("stale note survived cleanup")
		}
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(recs))
	}

	if _, err := s.CleanupOld(ctx, 0, true); err == nil {
		t.Fatal("days=0 must be rejected")
	}
}

func TestStatistics(t *testing.T) {
	s := newTestStore(t, nil)
	ctx := context.Background()
	base := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base.Add(-2 * time.Hour) }
	if _, _, err := s.Add(ctx, "today", nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.now = func() time.Time { return base.AddDate(0, 0, -3) }
	if _, _, err := s.Add(ctx, "this week", map[string]interface{}{"source": "web_search"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.now = func() time.Time { return base.AddDate(0, 0, -60) }
	if _, _, err := s.Add(ctx, "ancient history", map[string]interface{}{"source": "web_search"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.now = func() time.Time { return base }
	stats, err := s.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalMemories != 3 {
		t.Fatalf("total = %d", stats.TotalMemories)
	}
	if stats.EmbeddingDim != basisDim {
		t.Fatalf("embedding dim = %d, want %d", stats.EmbeddingDim, basisDim)
	}
	if stats.BySource["user_input"] != 1 || stats.BySource["web_search"] != 2 {
		t.Fatalf("by source = %+v", stats.BySource)
	}
	if stats.AgeBuckets["last_24h"] != 1 || stats.AgeBuckets["last_7_days"] != 1 || stats.AgeBuckets["older"] != 1 {
		t.Fatalf("age buckets = %+v", stats.AgeBuckets)
	}
	wantAvg := float64(len("today")+len("this week")+len("ancient history")) / 3
	if math.Abs(stats.AvgTextLength-wantAvg) > 1e-9 {
		t.Fatalf("avg text length = %v, want %v", stats.AvgTextLength, wantAvg)
	}
	if stats.CacheStats.TotalRequests == 0 {
		t.Fatal("cache stats not populated")
	}
}
