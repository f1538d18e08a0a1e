// Package telemetry exposes prometheus metrics for the research pipeline.
// All methods are safe on a nil receiver so components can be wired without
// metrics in tests and one-shot CLI runs.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Telemetry struct {
	llmRequests     prometheus.Counter
	llmPromptTokens prometheus.Counter
	llmOutputTokens prometheus.Counter

	embedCacheHits   prometheus.Counter
	embedCacheMisses prometheus.Counter

	webSearches prometheus.Counter

	pipelineRuns   *prometheus.CounterVec
	revisionRounds prometheus.Histogram
	finalScores    prometheus.Histogram
}

// New registers the pipeline collectors with reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func New(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		llmRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_llm_requests_total",
			Help: "Chat completion requests issued.",
		}),
		llmPromptTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_llm_prompt_tokens_total",
			Help: "Prompt tokens consumed.",
		}),
		llmOutputTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_llm_completion_tokens_total",
			Help: "Completion tokens consumed.",
		}),
		embedCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_embedding_cache_hits_total",
			Help: "Embedding requests served from the in-memory cache.",
		}),
		embedCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_embedding_cache_misses_total",
			Help: "Embedding requests that went to the provider.",
		}),
		webSearches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_web_searches_total",
			Help: "Web search API calls.",
		}),
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_pipeline_runs_total",
			Help: "Completed pipeline runs by outcome.",
		}, []string{"passed"}),
		revisionRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quill_pipeline_revision_rounds",
			Help:    "Revision rounds per run.",
			Buckets: []float64{0, 1, 2, 3, 4},
		}),
		finalScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quill_pipeline_final_score",
			Help:    "Final critique score per run.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
	}
	reg.MustRegister(
		t.llmRequests, t.llmPromptTokens, t.llmOutputTokens,
		t.embedCacheHits, t.embedCacheMisses,
		t.webSearches,
		t.pipelineRuns, t.revisionRounds, t.finalScores,
	)
	return t
}

func (t *Telemetry) ObserveLLM(promptTokens, completionTokens int) {
	if t == nil {
		return
	}
	t.llmRequests.Inc()
	t.llmPromptTokens.Add(float64(promptTokens))
	t.llmOutputTokens.Add(float64(completionTokens))
}

func (t *Telemetry) ObserveEmbeddingCache(hit bool) {
	if t == nil {
		return
	}
	if hit {
		t.embedCacheHits.Inc()
	} else {
		t.embedCacheMisses.Inc()
	}
}

func (t *Telemetry) ObserveWebSearch() {
	if t == nil {
		return
	}
	t.webSearches.Inc()
}

func (t *Telemetry) ObservePipelineRun(passed bool, revisions int, score float64) {
	if t == nil {
		return
	}
	label := "false"
	if passed {
		label = "true"
	}
	t.pipelineRuns.WithLabelValues(label).Inc()
	t.revisionRounds.Observe(float64(revisions))
	t.finalScores.Observe(score)
}
