// Package pipeline runs the research report flow: collect sources, analyze
// them, write a report and critique it until it passes or the revision
// budget runs out.
package pipeline

import (
	"context"
	"time"

	"github.com/quilldeep/quill/internal/retrieval"
	"github.com/quilldeep/quill/internal/scheduler"
)

// AnalysisFailedSentinel is the single insight reported when the analysis
// stage cannot produce usable output. Downstream stages still run.
const AnalysisFailedSentinel = "analysis failed"

// DefaultMaxRevisionRounds bounds the write/critique loop.
const DefaultMaxRevisionRounds = 2

// PassThreshold is the overall critique score a report needs to pass.
const PassThreshold = 7.0

// Retriever is the search surface the collect stage runs queries through.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (retrieval.Result, error)
}

// ResearchSummary describes what the collect stage gathered. Queries lists
// the subtask descriptions that were searched; SourceURLs the distinct web
// sources behind the items.
type ResearchSummary struct {
	TaskCounts    map[scheduler.Status]int `json:"task_counts"`
	Items         int                      `json:"items"`
	FromMemory    int                      `json:"from_memory"`
	FromWeb       int                      `json:"from_web"`
	SavedToMemory int                      `json:"saved_to_memory"`
	Queries       []string                 `json:"queries"`
	SourceURLs    []string                 `json:"source_urls"`
	SourceCount   int                      `json:"source_count"`
}

// Analysis is the analyze stage output. All three lists are always non-nil;
// a failed analysis carries the sentinel as its only insight.
type Analysis struct {
	Clusters []string `json:"clusters"`
	Insights []string `json:"insights"`
	Trends   []string `json:"trends"`
}

// Result is the outcome of one pipeline run. Execute always returns one,
// even when every stage degraded.
type Result struct {
	RunID           string             `json:"run_id"`
	Topic           string             `json:"topic"`
	Report          string             `json:"report"`
	Score           float64            `json:"score"`
	Scores          map[string]float64 `json:"scores"`
	Passed          bool               `json:"passed"`
	Feedback        string             `json:"feedback,omitempty"`
	Clusters        []string           `json:"clusters"`
	Insights        []string           `json:"insights"`
	Trends          []string           `json:"trends"`
	RevisionCount   int                `json:"revision_count"`
	ResearchSummary ResearchSummary    `json:"research_summary"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
}
