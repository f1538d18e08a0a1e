package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/quilldeep/quill/internal/llm"
	"github.com/quilldeep/quill/internal/scheduler"
	"github.com/quilldeep/quill/internal/telemetry"
)

// Options bounds one coordinator.
type Options struct {
	MaxRevisionRounds int
	PassThreshold     float64
	MaxTokens         int
}

// Coordinator drives one report run end to end. It is single-use per topic
// in spirit but safe to reuse sequentially; it never runs stages
// concurrently.
type Coordinator struct {
	provider      llm.Provider
	sched         *scheduler.Scheduler
	retriever     Retriever
	maxRevisions  int
	passThreshold float64
	maxTokens     int
	logger        *log.Logger
	telemetry     *telemetry.Telemetry
	now           func() time.Time
}

// NewCoordinator wires the pipeline. Telemetry may be nil.
func NewCoordinator(provider llm.Provider, sched *scheduler.Scheduler, retriever Retriever, opts Options, tele *telemetry.Telemetry) *Coordinator {
	if opts.MaxRevisionRounds <= 0 {
		opts.MaxRevisionRounds = DefaultMaxRevisionRounds
	}
	if opts.PassThreshold <= 0 {
		opts.PassThreshold = PassThreshold
	}
	return &Coordinator{
		provider:      provider,
		sched:         sched,
		retriever:     retriever,
		maxRevisions:  opts.MaxRevisionRounds,
		passThreshold: opts.PassThreshold,
		maxTokens:     opts.MaxTokens,
		logger:        log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
		telemetry:     tele,
		now:           time.Now,
	}
}

// Execute runs collect, analyze, write and critique for topic. Stage
// failures degrade (empty research, sentinel insights, default scores)
// rather than abort, so Execute always returns a best-effort Result.
func (c *Coordinator) Execute(ctx context.Context, topic string) Result {
	result := Result{
		RunID:     uuid.NewString(),
		Topic:     topic,
		StartedAt: c.now().UTC(),
	}

	c.logger.Printf("run %s: collecting research for %q", result.RunID, topic)
	items, summary := c.collect(ctx, topic)
	result.ResearchSummary = summary

	c.logger.Printf("run %s: analyzing %d items", result.RunID, len(items))
	analysis := c.analyze(ctx, topic, items)
	result.Clusters = analysis.Clusters
	result.Insights = analysis.Insights
	result.Trends = analysis.Trends

	c.logger.Printf("run %s: writing draft", result.RunID)
	report := c.write(ctx, topic, analysis.Insights, items)
	crit := c.critique(ctx, topic, report)

	for !crit.Passed && result.RevisionCount < c.maxRevisions {
		result.RevisionCount++
		c.logger.Printf("run %s: revision %d (score %.1f): %s",
			result.RunID, result.RevisionCount, crit.Overall, crit.Feedback)
		report = c.revise(ctx, topic, analysis.Insights, items, report, crit.Feedback)
		crit = c.critique(ctx, topic, report)
	}

	result.Report = report
	result.Score = crit.Overall
	result.Scores = crit.Scores
	result.Passed = crit.Passed
	result.Feedback = crit.Feedback
	result.FinishedAt = c.now().UTC()

	c.telemetry.ObservePipelineRun(result.Passed, result.RevisionCount, result.Score)
	c.logger.Printf("run %s: finished, score %.1f, passed=%v, revisions=%d",
		result.RunID, result.Score, result.Passed, result.RevisionCount)
	return result
}
