package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"legal_kb/internal/model"
)

// Default selectors used when a web source leaves them empty.
const (
	defaultItemSelector    = "article"
	defaultTitleSelector   = "h1, h2, h3"
	defaultContentSelector = "p"
	defaultLinkSelector    = "a[href]"
)

// WebDriver scrapes an HTML page. Every element matching the item selector
// becomes one item.
type WebDriver struct {
	client HTTPClient
}

// NewWebDriver creates a WebDriver with the given HTTP client.
func NewWebDriver(client HTTPClient) *WebDriver {
	return &WebDriver{client: client}
}

// Fetch downloads src.URL and extracts items with src.Selectors.
func (d *WebDriver) Fetch(ctx context.Context, src model.SourceConfig) ([]model.Item, error) {
	body, err := download(ctx, d.client, src.URL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	sel := withDefaults(src.Selectors)
	base, _ := url.Parse(src.URL)

	var items []model.Item
	doc.Find(sel.Item).Each(func(_ int, s *goquery.Selection) {
		it := model.Item{
			Title: s.Find(sel.Title).First().Text(),
		}
		var content bytes.Buffer
		s.Find(sel.Content).Each(func(_ int, p *goquery.Selection) {
			content.WriteString(p.Text())
			content.WriteByte('\n')
		})
		it.Content = content.String()

		if href, ok := s.Find(sel.Link).First().Attr("href"); ok {
			it.URL = resolveLink(base, href)
		}
		items = append(items, it)
	})
	return items, nil
}

func withDefaults(s model.Selectors) model.Selectors {
	if s.Item == "" {
		s.Item = defaultItemSelector
	}
	if s.Title == "" {
		s.Title = defaultTitleSelector
	}
	if s.Content == "" {
		s.Content = defaultContentSelector
	}
	if s.Link == "" {
		s.Link = defaultLinkSelector
	}
	return s
}

func resolveLink(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
