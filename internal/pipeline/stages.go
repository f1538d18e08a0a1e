package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quilldeep/quill/internal/llm"
	"github.com/quilldeep/quill/internal/retrieval"
	"github.com/quilldeep/quill/internal/scheduler"
)

// itemExcerptLen caps how much of each retrieved item reaches the analysis
// prompt, keeping the call inside model context limits.
const itemExcerptLen = 500

// collect plans research subtasks for the topic and runs each through the
// retriever. A failed subtask burns one attempt and stays retryable; a
// subtask yielding nothing is recorded as completed with an empty result.
func (c *Coordinator) collect(ctx context.Context, topic string) ([]retrieval.Item, ResearchSummary) {
	var items []retrieval.Item
	summary := ResearchSummary{TaskCounts: map[scheduler.Status]int{}}

	if _, err := c.sched.Decompose(ctx, topic); err != nil {
		c.logger.Printf("collect: decompose failed: %v", err)
		return nil, summary
	}

	seenQueries := map[string]bool{}
	seenURLs := map[string]bool{}
	for {
		task := c.sched.NextTask()
		if task == nil {
			break
		}
		if !seenQueries[task.Description] {
			seenQueries[task.Description] = true
			summary.Queries = append(summary.Queries, task.Description)
		}
		res, err := c.retriever.Retrieve(ctx, task.Description)
		if err != nil {
			c.logger.Printf("collect: task %s failed: %v", task.ID, err)
			_ = c.sched.UpdateStatus(task.ID, scheduler.StatusFailed, err.Error())
			continue
		}
		items = append(items, res.Items...)
		for _, item := range res.Items {
			if item.URL != "" && !seenURLs[item.URL] {
				seenURLs[item.URL] = true
				summary.SourceURLs = append(summary.SourceURLs, item.URL)
			}
		}
		summary.FromMemory += res.FromMemory
		summary.FromWeb += res.FromWeb
		summary.SavedToMemory += res.SavedToMemory
		_ = c.sched.UpdateStatus(task.ID, scheduler.StatusCompleted, fmt.Sprintf("%d items", len(res.Items)))
	}

	summary.TaskCounts = c.sched.Summary()
	summary.Items = len(items)
	summary.SourceCount = len(summary.SourceURLs)
	return items, summary
}

// failedAnalysis is what analyze degrades to when the provider errors or
// returns nothing parseable.
func failedAnalysis() Analysis {
	return Analysis{
		Clusters: []string{},
		Insights: []string{AnalysisFailedSentinel},
		Trends:   []string{},
	}
}

// analyze extracts topic clusters, insights and trends from the collected
// material. A provider or parse failure degrades to the analysis-failed
// sentinel instead of aborting; a parseable response with a missing or
// malformed field keeps the other fields and defaults that one to empty.
func (c *Coordinator) analyze(ctx context.Context, topic string, items []retrieval.Item) Analysis {
	var b strings.Builder
	for i, item := range items {
		text := item.Text
		if len(text) > itemExcerptLen {
			text = text[:itemExcerptLen]
		}
		fmt.Fprintf(&b, "[%d] (%s, score %.2f) %s\n", i+1, item.Origin, item.Score, text)
	}
	if b.Len() == 0 {
		b.WriteString("(no research material was collected)")
	}

	raw, err := c.provider.Complete(ctx, llm.Request{
		System:      analyzeSystemPrompt,
		User:        fmt.Sprintf("Topic: %s\n\nResearch material:\n%s", topic, b.String()),
		Temperature: 0.3,
		JSONMode:    true,
	})
	if err != nil {
		c.logger.Printf("analyze failed: %v", err)
		return failedAnalysis()
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(llm.FirstJSON(raw)), &parsed); err != nil {
		c.logger.Printf("analyze returned unusable output: %v", err)
		return failedAnalysis()
	}
	return Analysis{
		Clusters: stringList(parsed["clusters"]),
		Insights: stringList(parsed["insights"]),
		Trends:   stringList(parsed["trends"]),
	}
}

// stringList coerces a decoded JSON value into a list of strings, skipping
// non-string elements. Anything that is not a list yields an empty list.
func stringList(v interface{}) []string {
	out := []string{}
	raw, ok := v.([]interface{})
	if !ok {
		return out
	}
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// write produces the initial report draft. An error yields an empty report;
// the critique stage will score it accordingly.
func (c *Coordinator) write(ctx context.Context, topic string, insights []string, items []retrieval.Item) string {
	report, err := c.provider.Complete(ctx, llm.Request{
		System:      writeSystemPrompt,
		User:        writeUserPrompt(topic, insights, items, "", ""),
		Temperature: 0.5,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		c.logger.Printf("write failed: %v", err)
		return ""
	}
	return report
}

// revise rewrites the full report against reviewer feedback.
func (c *Coordinator) revise(ctx context.Context, topic string, insights []string, items []retrieval.Item, previous, feedback string) string {
	report, err := c.provider.Complete(ctx, llm.Request{
		System:      reviseSystemPrompt,
		User:        writeUserPrompt(topic, insights, items, previous, feedback),
		Temperature: 0.5,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		c.logger.Printf("revise failed, keeping previous draft: %v", err)
		return previous
	}
	return report
}

func writeUserPrompt(topic string, insights []string, items []retrieval.Item, previous, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nKey insights:\n", topic)
	for _, ins := range insights {
		fmt.Fprintf(&b, "- %s\n", ins)
	}
	b.WriteString("\nResearch material:\n")
	for i, item := range items {
		text := item.Text
		if len(text) > itemExcerptLen {
			text = text[:itemExcerptLen]
		}
		fmt.Fprintf(&b, "[%d] %s\n", i+1, text)
	}
	if previous != "" {
		fmt.Fprintf(&b, "\nPrevious report:\n%s\n\nReviewer feedback:\n%s\n", previous, feedback)
	}
	return b.String()
}
