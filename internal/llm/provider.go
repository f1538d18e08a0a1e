package llm

import "context"

// Request describes a single completion call.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// Provider is a chat-completion backend. Implementations return the raw
// assistant text; callers that expect JSON extract it with FirstJSON.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}
