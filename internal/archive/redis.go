// Package archive persists completed pipeline runs in redis so they can be
// listed and fetched later.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quilldeep/quill/config"
	"github.com/quilldeep/quill/internal/pipeline"
)

const (
	runKeyPrefix = "quill:runs:"
	indexKey     = "quill:runs:index"
)

// ErrNotFound is returned when a run id is not archived.
var ErrNotFound = errors.New("run not found")

// Summary is the listing view of an archived run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Topic      string    `json:"topic"`
	Score      float64   `json:"score"`
	Passed     bool      `json:"passed"`
	FinishedAt time.Time `json:"finished_at"`
}

// Archive stores pipeline results under quill:runs:<id> with a sorted index
// for recency-ordered listings.
type Archive struct {
	client *redis.Client
	logger *log.Logger
}

// Connect dials redis and verifies the connection with a ping.
func Connect(ctx context.Context, cfg config.ArchiveConfig) (*Archive, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if pong != "PONG" {
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return &Archive{
		client: client,
		logger: log.New(log.Writer(), "[ARCHIVE] ", log.LstdFlags),
	}, nil
}

// Save archives one run result keyed by its run id.
func (a *Archive) Save(ctx context.Context, res pipeline.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	pipe := a.client.TxPipeline()
	pipe.Set(ctx, runKeyPrefix+res.RunID, data, 0)
	pipe.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(res.FinishedAt.Unix()),
		Member: res.RunID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("archive run %s: %w", res.RunID, err)
	}
	a.logger.Printf("archived run %s (%q)", res.RunID, res.Topic)
	return nil
}

// Get returns one archived run by id.
func (a *Archive) Get(ctx context.Context, runID string) (pipeline.Result, error) {
	data, err := a.client.Get(ctx, runKeyPrefix+runID).Bytes()
	if errors.Is(err, redis.Nil) {
		return pipeline.Result{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("fetch run %s: %w", runID, err)
	}
	var res pipeline.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return pipeline.Result{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return res, nil
}

// List returns up to limit runs, most recent first.
func (a *Archive) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := a.client.ZRevRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		res, err := a.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Summary{
			RunID:      res.RunID,
			Topic:      res.Topic,
			Score:      res.Score,
			Passed:     res.Passed,
			FinishedAt: res.FinishedAt,
		})
	}
	return out, nil
}

// Close releases the redis connection.
func (a *Archive) Close() error {
	return a.client.Close()
}
