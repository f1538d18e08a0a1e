package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/quilldeep/quill/internal/llm"
)

// scoreDimensions are the critique axes. Every critique carries all five;
// missing or unparseable values default to the midpoint.
var scoreDimensions = []string{"completeness", "accuracy", "clarity", "structure", "source_quality"}

const defaultScore = 5.0

// Critique is one review of a report draft. Overall is the reviewer's own
// overall score when it supplies one, otherwise the mean of the dimension
// scores, rounded to one decimal either way.
type Critique struct {
	Scores   map[string]float64 `json:"scores"`
	Overall  float64            `json:"overall"`
	Passed   bool               `json:"passed"`
	Feedback string             `json:"feedback"`
}

// critique scores the report. A provider or parse failure degrades to
// all-default scores, which never pass, so the loop keeps its bound.
func (c *Coordinator) critique(ctx context.Context, topic, report string) Critique {
	raw, err := c.provider.Complete(ctx, llm.Request{
		System:      critiqueSystemPrompt,
		User:        fmt.Sprintf("Topic: %s\n\nReport:\n%s", topic, report),
		Temperature: 0.2,
		JSONMode:    true,
	})
	var parsed map[string]interface{}
	if err != nil {
		c.logger.Printf("critique failed: %v", err)
	} else if jsonErr := json.Unmarshal([]byte(llm.FirstJSON(raw)), &parsed); jsonErr != nil {
		c.logger.Printf("critique parse failed: %v", jsonErr)
	}
	return buildCritique(parsed, c.passThreshold)
}

func buildCritique(parsed map[string]interface{}, passThreshold float64) Critique {
	out := Critique{Scores: make(map[string]float64, len(scoreDimensions))}
	var sum float64
	for _, dim := range scoreDimensions {
		score := defaultScore
		if v, ok := parsed[dim]; ok {
			if f, ok := toFloat(v); ok {
				score = clampScore(f)
			}
		}
		out.Scores[dim] = score
		sum += score
	}
	out.Overall = math.Round(sum/float64(len(scoreDimensions))*10) / 10
	if v, ok := parsed["overall"]; ok {
		if f, ok := toFloat(v); ok {
			out.Overall = math.Round(clampScore(f)*10) / 10
		}
	}
	out.Passed = out.Overall >= passThreshold
	if v, ok := parsed["feedback"].(string); ok {
		out.Feedback = v
	}
	return out
}

func clampScore(f float64) float64 {
	if f < 1 {
		return 1
	}
	if f > 10 {
		return 10
	}
	return f
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
