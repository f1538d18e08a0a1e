package websearch

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const maxArticleChars = 8000

// Fetcher replaces short search snippets with readable article text pulled
// from the result pages. Failures leave the original snippet in place.
type Fetcher struct {
	client *http.Client
	logger *log.Logger
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		logger: log.New(log.Writer(), "[FETCH] ", log.LstdFlags),
	}
}

// Enrich fetches up to topN result pages and swaps in extracted article text
// when it is longer than the snippet. The input slice is modified in place.
func (f *Fetcher) Enrich(ctx context.Context, results []Result, topN int) {
	for i := range results {
		if i >= topN {
			break
		}
		text, err := f.fetchArticle(ctx, results[i].URL)
		if err != nil {
			f.logger.Printf("fetch %s failed: %v", results[i].URL, err)
			continue
		}
		if len(text) > len(results[i].Content) {
			results[i].Content = text
		}
	}
}

func (f *Fetcher) fetchArticle(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "quill/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, u)
	if err != nil {
		return "", fmt.Errorf("extract article: %w", err)
	}
	text := article.TextContent
	if len(text) > maxArticleChars {
		text = text[:maxArticleChars]
	}
	return text, nil
}
