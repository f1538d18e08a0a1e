// Package websearch provides the Tavily search client and page-content
// enrichment for web results.
package websearch

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

// Result is one web search hit. Score is the provider's relevance score in
// [0,1].
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response is a full search answer.
type Response struct {
	Answer       string   `json:"answer"`
	Results      []Result `json:"results"`
	ResponseTime float64  `json:"response_time"`
}

// Searcher is the web search contract the retrieval layer depends on.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) (Response, error)
}

// TavilyClient calls the Tavily search API.
type TavilyClient struct {
	apiKey      string
	baseURL     string
	searchDepth string
	client      *http.Client
	logger      *log.Logger
	telemetry   *telemetry.Telemetry
}

func NewTavilyClient(cfg config.SearchConfig, tele *telemetry.Telemetry) *TavilyClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.tavily.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	depth := cfg.SearchDepth
	if depth == "" {
		depth = "basic"
	}
	return &TavilyClient{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		searchDepth: depth,
		client:      &http.Client{Timeout: timeout},
		logger:      log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
		telemetry:   tele,
	}
}

type tavilyReq struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) (Response, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	payload, err := json.Marshal(tavilyReq{
		APIKey:        c.apiKey,
		Query:         query,
		MaxResults:    maxResults,
		SearchDepth:   c.searchDepth,
		IncludeAnswer: true,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, fmt.Errorf("search status %d: %s", resp.StatusCode, string(b))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode search response: %w", err)
	}
	if len(out.Results) > maxResults {
		out.Results = out.Results[:maxResults]
	}
	c.telemetry.ObserveWebSearch()
	c.logger.Printf("query %q returned %d results in %.2fs", query, len(out.Results), out.ResponseTime)
	return out, nil
}
