package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/quilldeep/quill/config"
	"github.com/quilldeep/quill/internal/telemetry"
)

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatReq struct {
	Model          string          `json:"model"`
	Messages       []chatMsg       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// OpenAIProvider talks to an OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	backoff    time.Duration
	client     *http.Client
	logger     *log.Logger
	telemetry  *telemetry.Telemetry
}

// NewOpenAIProvider builds a provider from config. Telemetry may be nil.
func NewOpenAIProvider(cfg config.LLMConfig, tele *telemetry.Telemetry) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &OpenAIProvider{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      cfg.Model,
		maxRetries: maxRetries,
		backoff:    time.Second,
		client:     &http.Client{Timeout: timeout},
		logger:     log.New(log.Writer(), "[LLM] ", log.LstdFlags),
		telemetry:  tele,
	}
}

// Complete sends one chat completion request, retrying transient failures
// with exponential backoff (1s, 2s, 4s ... capped by maxRetries attempts).
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	body := chatReq{
		Model:       p.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMsg{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMsg{Role: "user", Content: req.User})
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	var lastErr error
	delay := p.backoff
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		content, retryable, err := p.doOnce(ctx, payload)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable || attempt == p.maxRetries {
			break
		}
		p.logger.Printf("attempt %d/%d failed, retrying in %s: %v", attempt, p.maxRetries, delay, err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return "", fmt.Errorf("chat completion failed after %d attempts: %w", p.maxRetries, lastErr)
}

func (p *OpenAIProvider) doOnce(ctx context.Context, payload []byte) (content string, retryable bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", true, fmt.Errorf("chat completions status %d: %s", resp.StatusCode, string(b))
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", false, fmt.Errorf("chat completions status %d: %s", resp.StatusCode, string(b))
	}

	var out chatResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, fmt.Errorf("decode chat response: %w", err)
	}
	if out.Error != nil {
		return "", false, fmt.Errorf("chat completions error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", false, fmt.Errorf("chat completions returned no choices")
	}
	if p.telemetry != nil {
		p.telemetry.ObserveLLM(out.Usage.PromptTokens, out.Usage.CompletionTokens)
	}
	return out.Choices[0].Message.Content, false, nil
}
