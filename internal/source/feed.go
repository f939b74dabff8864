package source

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/mmcdole/gofeed"

	"legal_kb/internal/model"
)

// maxBodySize caps every downloaded document.
const maxBodySize = 5 * 1024 * 1024

const userAgent = "LegalKB/1.0"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// download performs a GET and returns at most maxBodySize bytes of body.
func download(ctx context.Context, client HTTPClient, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// FeedDriver reads RSS and Atom feeds. Each entry becomes one item.
type FeedDriver struct {
	client HTTPClient
}

// NewFeedDriver creates a FeedDriver with the given HTTP client.
func NewFeedDriver(client HTTPClient) *FeedDriver {
	return &FeedDriver{client: client}
}

// Fetch downloads and parses the feed at src.URL.
func (d *FeedDriver) Fetch(ctx context.Context, src model.SourceConfig) ([]model.Item, error) {
	body, err := download(ctx, d.client, src.URL)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]model.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		content := entry.Content
		if content == "" {
			content = entry.Description
		}
		items = append(items, model.Item{
			Title:   entry.Title,
			Content: content,
			URL:     entry.Link,
		})
	}
	return items, nil
}
