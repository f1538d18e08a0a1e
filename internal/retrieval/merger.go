// Package retrieval answers queries memory-first, falling back to web search
// and merging both origins into one ranked result list.
package retrieval

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/quilldeep/quill/internal/memory"
	"github.com/quilldeep/quill/internal/websearch"
)

// Origin tags where a retrieved item came from.
type Origin string

const (
	OriginMemory Origin = "memory"
	OriginWeb    Origin = "web_search"
)

// containmentMaxLen bounds the substring duplicate rule: a text this short
// contained in another text is treated as the same fact. Longer texts are
// duplicates only on exact equality.
const containmentMaxLen = 50

var mergeLogger = log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)

// Item is one retrieved result. Score is origin-native: similarity for
// memory items, the provider relevance score for web items. Scores are
// sorted on a single key without cross-origin normalization.
type Item struct {
	Origin   Origin                 `json:"origin"`
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	ID       string                 `json:"id,omitempty"`
	Title    string                 `json:"title,omitempty"`
	URL      string                 `json:"url,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Result is the outcome of one retrieval with its origin breakdown.
type Result struct {
	Items         []Item `json:"items"`
	FromMemory    int    `json:"from_memory"`
	FromWeb       int    `json:"from_web"`
	WebSkipped    bool   `json:"web_skipped"`
	SavedToMemory int    `json:"saved_to_memory"`
	SaveFailed    int    `json:"save_failures"`
	Answer        string `json:"answer,omitempty"`
}

// Options controls the memory-first gate and web result persistence.
// MemoryTopK bounds the memory search; TopK bounds the web search.
type Options struct {
	MemoryThreshold int
	MemoryTopK      int
	TopK            int
	SaveWebResults  bool
	FetchTopN       int
}

// Merger coordinates memory search, the web fallback and result merging.
type Merger struct {
	store    *memory.Store
	searcher websearch.Searcher
	fetcher  *websearch.Fetcher
	opts     Options
	logger   *log.Logger
}

// NewMerger builds a merger. fetcher may be nil to skip page enrichment.
func NewMerger(store *memory.Store, searcher websearch.Searcher, fetcher *websearch.Fetcher, opts Options) *Merger {
	if opts.MemoryThreshold <= 0 {
		opts.MemoryThreshold = 3
	}
	if opts.MemoryTopK <= 0 {
		opts.MemoryTopK = 3
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &Merger{
		store:    store,
		searcher: searcher,
		fetcher:  fetcher,
		opts:     opts,
		logger:   log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags),
	}
}

// Retrieve searches memory first and only hits the web when memory yields
// fewer than the threshold. Web results are optionally persisted to memory
// before merging; persistence failures are counted, never fatal.
func (m *Merger) Retrieve(ctx context.Context, query string) (Result, error) {
	memResults, err := m.store.Search(ctx, query, m.opts.MemoryTopK)
	if err != nil {
		return Result{}, err
	}
	memItems := tagMemory(memResults)

	if len(memItems) >= m.opts.MemoryThreshold {
		m.logger.Printf("query %q answered from memory (%d hits)", query, len(memItems))
		return Result{Items: memItems, FromMemory: len(memItems), WebSkipped: true}, nil
	}

	resp, err := m.searcher.Search(ctx, query, m.opts.TopK)
	if err != nil {
		// Web being down still leaves memory results usable.
		m.logger.Printf("web search failed, serving %d memory hits: %v", len(memItems), err)
		return Result{Items: memItems, FromMemory: len(memItems)}, nil
	}
	if m.fetcher != nil && m.opts.FetchTopN > 0 {
		m.fetcher.Enrich(ctx, resp.Results, m.opts.FetchTopN)
	}

	res := Result{Answer: resp.Answer}
	if m.opts.SaveWebResults {
		res.SavedToMemory, res.SaveFailed = m.saveWebResults(ctx, query, resp.Results)
	}

	res.Items = Merge(memItems, tagWeb(resp.Results))
	res.FromMemory = len(memItems)
	res.FromWeb = len(resp.Results)
	return res, nil
}

func (m *Merger) saveWebResults(ctx context.Context, query string, results []websearch.Result) (saved, failed int) {
	for _, r := range results {
		text := r.Content
		if r.Title != "" {
			text = r.Title + "\n\n" + r.Content
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		_, isNew, err := m.store.Add(ctx, text, map[string]interface{}{
			"source": string(OriginWeb),
			"query":  query,
			"url":    r.URL,
			"title":  r.Title,
			"score":  r.Score,
		})
		if err != nil {
			failed++
			m.logger.Printf("save web result %s failed: %v", r.URL, err)
			continue
		}
		if isNew {
			saved++
		}
	}
	return saved, failed
}

func tagMemory(results []memory.SearchResult) []Item {
	out := make([]Item, 0, len(results))
	for _, r := range results {
		out = append(out, Item{
			Origin:   OriginMemory,
			Text:     r.Text,
			Score:    r.Similarity,
			ID:       r.ID,
			Metadata: r.Metadata,
		})
	}
	return out
}

func tagWeb(results []websearch.Result) []Item {
	out := make([]Item, 0, len(results))
	for _, r := range results {
		out = append(out, Item{
			Origin: OriginWeb,
			Text:   r.Content,
			Score:  r.Score,
			Title:  r.Title,
			URL:    r.URL,
		})
	}
	return out
}

// Merge concatenates memory items before web items, removes duplicates and
// sorts by score descending. The first occurrence of a duplicated text wins,
// so memory items shadow equal web items.
func Merge(memoryItems, webItems []Item) []Item {
	combined := make([]Item, 0, len(memoryItems)+len(webItems))
	combined = append(combined, memoryItems...)
	combined = append(combined, webItems...)

	var unique []Item
	removed := 0
	for _, cand := range combined {
		dup := false
		for _, kept := range unique {
			if isDuplicate(cand.Text, kept.Text) {
				dup = true
				break
			}
		}
		if dup {
			removed++
			continue
		}
		unique = append(unique, cand)
	}
	if removed > 0 {
		mergeLogger.Printf("merge removed %d duplicates", removed)
	}

	sort.SliceStable(unique, func(i, j int) bool { return unique[i].Score > unique[j].Score })
	return unique
}

func isDuplicate(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) <= containmentMaxLen && strings.Contains(b, a) {
		return true
	}
	if len(b) <= containmentMaxLen && strings.Contains(a, b) {
		return true
	}
	return false
}
