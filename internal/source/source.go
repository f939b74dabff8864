// Package source fetches raw knowledge items from configured ingestion
// sources and normalizes them at the boundary.
package source

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"legal_kb/internal/filter"
	"legal_kb/internal/model"
)

var (
	// ErrFetch wraps every driver failure. It is transient: the next run
	// may succeed.
	ErrFetch = errors.New("fetch failed")
	// ErrUnknownSource is returned for ids that are not registered.
	ErrUnknownSource = errors.New("unknown source")
	// ErrInvalidItem marks records dropped during normalization.
	ErrInvalidItem = errors.New("invalid item")
)

// Driver fetches raw items for one kind of source.
type Driver interface {
	Fetch(ctx context.Context, src model.SourceConfig) ([]model.Item, error)
}

// DriverFunc adapts a function to Driver.
type DriverFunc func(ctx context.Context, src model.SourceConfig) ([]model.Item, error)

// Fetch calls f.
func (f DriverFunc) Fetch(ctx context.Context, src model.SourceConfig) ([]model.Item, error) {
	return f(ctx, src)
}

// DefaultDrivers returns one driver per supported source kind.
func DefaultDrivers(client HTTPClient) map[model.SourceKind]Driver {
	return map[model.SourceKind]Driver{
		model.KindRSS:  NewFeedDriver(client),
		model.KindWeb:  NewWebDriver(client),
		model.KindPDF:  NewPDFDriver(client),
		model.KindSeed: NewSeedDriver(),
	}
}

// Registry holds the registered sources in registration order.
type Registry struct {
	sources []model.SourceConfig
	byID    map[string]int
	drivers map[model.SourceKind]Driver
	policy  *bluemonday.Policy
	now     func() time.Time
	logger  *slog.Logger
}

// NewRegistry registers sources in the given order. Ids must be unique and
// each kind must have a driver.
func NewRegistry(sources []model.SourceConfig, drivers map[model.SourceKind]Driver, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		byID:    make(map[string]int, len(sources)),
		drivers: drivers,
		policy:  bluemonday.StrictPolicy(),
		now:     time.Now,
		logger:  logger,
	}
	for _, src := range sources {
		if src.ID == "" {
			return nil, fmt.Errorf("register source: empty id")
		}
		if _, dup := r.byID[src.ID]; dup {
			return nil, fmt.Errorf("register source %s: duplicate id", src.ID)
		}
		if _, ok := drivers[src.Kind]; !ok {
			return nil, fmt.Errorf("register source %s: no driver for kind %q", src.ID, src.Kind)
		}
		r.byID[src.ID] = len(r.sources)
		r.sources = append(r.sources, src)
	}
	return r, nil
}

// SetClock overrides the clock used to stamp LastUpdated.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// IDs returns the registered source ids in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.sources))
	for i, src := range r.sources {
		ids[i] = src.ID
	}
	return ids
}

// Source returns the configuration of a registered source.
func (r *Registry) Source(id string) (model.SourceConfig, bool) {
	i, ok := r.byID[id]
	if !ok {
		return model.SourceConfig{}, false
	}
	return r.sources[i], true
}

// Fetch retrieves and normalizes the current items of a source. Every
// returned item carries LastUpdated set to the fetch time.
func (r *Registry) Fetch(ctx context.Context, id string) ([]model.Item, error) {
	src, ok := r.Source(id)
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", id, ErrUnknownSource)
	}

	raw, err := r.drivers[src.Kind].Fetch(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w: %w", id, ErrFetch, err)
	}

	fetchedAt := r.now().UTC()
	items := make([]model.Item, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	dropped := 0
	for _, it := range raw {
		it, err := r.normalize(it)
		if err != nil {
			dropped++
			r.logger.Debug("drop item", "source", id, "error", err)
			continue
		}
		if seen[it.Title] {
			continue
		}
		seen[it.Title] = true
		it.Source = id
		it.LastUpdated = fetchedAt
		items = append(items, it)
	}

	items = filter.Apply(items, src.Filters)
	if dropped > 0 {
		r.logger.Info("dropped invalid items", "source", id, "count", dropped)
	}
	return items, nil
}

func (r *Registry) normalize(it model.Item) (model.Item, error) {
	it.ID = 0
	it.Title = r.cleanText(it.Title)
	it.Content = r.cleanText(it.Content)
	it.URL = strings.TrimSpace(it.URL)
	if it.Title == "" {
		return it, fmt.Errorf("%w: empty title", ErrInvalidItem)
	}
	if it.Content == "" {
		return it, fmt.Errorf("%w: empty content for %q", ErrInvalidItem, it.Title)
	}
	return it, nil
}

// cleanText strips markup and collapses whitespace.
func (r *Registry) cleanText(s string) string {
	return CollapseSpace(html.UnescapeString(r.policy.Sanitize(s)))
}

// CollapseSpace trims s and replaces every run of whitespace with one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
