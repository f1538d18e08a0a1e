package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quilldeep/quill/config"
	"github.com/quilldeep/quill/internal/embedding"
	"github.com/quilldeep/quill/internal/llm"
	"github.com/quilldeep/quill/internal/memory"
	"github.com/quilldeep/quill/internal/pipeline"
	"github.com/quilldeep/quill/internal/retrieval"
	"github.com/quilldeep/quill/internal/scheduler"
	"github.com/quilldeep/quill/internal/telemetry"
	"github.com/quilldeep/quill/internal/vectorstore"
	"github.com/quilldeep/quill/internal/websearch"
)

// embeddingDim matches text-embedding-3-small; the pgvector column is sized
// to it.
const embeddingDim = 1536

// deps holds the wired components shared by the CLI commands.
type deps struct {
	cfg       *config.Config
	store     *memory.Store
	merger    *retrieval.Merger
	provider  llm.Provider
	telemetry *telemetry.Telemetry
}

func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	var tele *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tele = telemetry.New(prometheus.DefaultRegisterer)
	}

	engine, err := buildEngine(ctx, cfg.Memory)
	if err != nil {
		return nil, err
	}

	cache := embedding.NewCache(
		embedding.NewOpenAIProvider(cfg.Embedding),
		cfg.Embedding.MaxRetries,
		cfg.Embedding.BaseDelay,
		tele,
	)
	store := memory.NewStore(engine, cache, cfg.Memory.DuplicateThreshold)

	searcher := websearch.NewTavilyClient(cfg.Search, tele)
	var fetcher *websearch.Fetcher
	if cfg.Search.FetchPages {
		fetcher = websearch.NewFetcher(cfg.Search.Timeout)
	}
	merger := retrieval.NewMerger(store, searcher, fetcher, retrieval.Options{
		MemoryThreshold: cfg.Retrieval.MemoryThreshold,
		MemoryTopK:      cfg.Retrieval.MemoryTopK,
		TopK:            cfg.Retrieval.TopK,
		SaveWebResults:  cfg.Retrieval.SaveWebResults,
		FetchTopN:       cfg.Search.FetchTopN,
	})

	provider := llm.NewOpenAIProvider(cfg.LLM, tele)

	return &deps{
		cfg:       cfg,
		store:     store,
		merger:    merger,
		provider:  provider,
		telemetry: tele,
	}, nil
}

func buildEngine(ctx context.Context, cfg config.MemoryConfig) (vectorstore.Engine, error) {
	switch cfg.Provider {
	case "pgvector":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return vectorstore.NewPGEngine(ctx, pool, cfg.Table, embeddingDim)
	default:
		return vectorstore.NewLocalEngine(cfg.PersistPath)
	}
}

// newCoordinator builds a fresh pipeline run. Coordinators carry per-run
// scheduler state and are not reused across runs.
func (d *deps) newCoordinator() *pipeline.Coordinator {
	sched := scheduler.New(d.provider, d.cfg.Scheduler.MaxAttempts, d.cfg.Scheduler.MaxTasks)
	return pipeline.NewCoordinator(d.provider, sched, d.merger, pipeline.Options{
		MaxRevisionRounds: d.cfg.Pipeline.MaxRevisionRounds,
		PassThreshold:     d.cfg.Pipeline.PassThreshold,
		MaxTokens:         d.cfg.LLM.MaxTokens,
	}, d.telemetry)
}
