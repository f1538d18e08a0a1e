package embedding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/quilldeep/quill/internal/telemetry"
)

// ErrEmptyText is returned when a caller asks to embed empty or
// whitespace-only text.
var ErrEmptyText = errors.New("cannot embed empty text")

// Stats is a snapshot of cache effectiveness. HitRate is hits divided by
// total requests, 0 when nothing has been requested yet.
type Stats struct {
	Size          int     `json:"cache_size"`
	Hits          int64   `json:"cache_hits"`
	Misses        int64   `json:"cache_misses"`
	TotalRequests int64   `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"`
}

// Cache memoizes provider calls keyed by exact text. Two texts differing in
// whitespace or case are distinct entries. The cache is unbounded and lives
// for the lifetime of the owning store; Stats exposes its size.
type Cache struct {
	provider  Provider
	cache     map[string][]float32
	hits      int64
	misses    int64
	maxTries  int
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *log.Logger
	telemetry *telemetry.Telemetry
}

// NewCache wraps provider with memoization and retry. maxTries attempts are
// made per provider call with delays of baseDelay doubling each time.
// Telemetry may be nil.
func NewCache(provider Provider, maxTries int, baseDelay time.Duration, tele *telemetry.Telemetry) *Cache {
	if maxTries <= 0 {
		maxTries = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Cache{
		provider:  provider,
		cache:     make(map[string][]float32),
		maxTries:  maxTries,
		baseDelay: baseDelay,
		sleep:     sleepCtx,
		logger:    log.New(log.Writer(), "[EMBED] ", log.LstdFlags),
		telemetry: tele,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Embed returns the vector for text, serving repeats from the cache. On a
// miss the provider is called with bounded exponential-backoff retries; the
// result is cached only on success.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if vec, ok := c.cache[text]; ok {
		c.hits++
		c.telemetry.ObserveEmbeddingCache(true)
		return vec, nil
	}
	c.misses++
	c.telemetry.ObserveEmbeddingCache(false)

	vec, err := c.withRetry(ctx, func() ([][]float32, error) {
		v, err := c.provider.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return [][]float32{v}, nil
	})
	if err != nil {
		return nil, err
	}
	c.cache[text] = vec[0]
	return vec[0], nil
}

// EmbedBatch embeds texts preserving order. Cached texts are served without a
// provider call; all misses go to the provider in one request. The batch is
// atomic: if the provider call fails, no result is returned and the cache is
// left untouched.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("batch item %d: %w", i, ErrEmptyText)
		}
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if vec, ok := c.cache[t]; ok {
			c.hits++
			c.telemetry.ObserveEmbeddingCache(true)
			out[i] = vec
			continue
		}
		c.misses++
		c.telemetry.ObserveEmbeddingCache(false)
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.withRetry(ctx, func() ([][]float32, error) {
		return c.provider.EmbedBatch(ctx, missTexts)
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(missTexts))
	}
	for j, i := range missIdx {
		c.cache[missTexts[j]] = vecs[j]
		out[i] = vecs[j]
	}
	return out, nil
}

func (c *Cache) withRetry(ctx context.Context, call func() ([][]float32, error)) ([][]float32, error) {
	var lastErr error
	delay := c.baseDelay
	for attempt := 1; attempt <= c.maxTries; attempt++ {
		vecs, err := call()
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if attempt == c.maxTries {
			break
		}
		c.logger.Printf("embedding attempt %d/%d failed, retrying in %s: %v", attempt, c.maxTries, delay, err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", c.maxTries, lastErr)
}

// ClearCache drops all memoized vectors. Counters are kept.
func (c *Cache) ClearCache() {
	c.cache = make(map[string][]float32)
}

// Stats reports cache size and hit/miss counters.
func (c *Cache) Stats() Stats {
	total := c.hits + c.misses
	s := Stats{
		Size:          len(c.cache),
		Hits:          c.hits,
		Misses:        c.misses,
		TotalRequests: total,
	}
	if total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
