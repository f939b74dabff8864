// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"time"
)

// Category is a coarse label from a closed set used to filter items.
type Category string

// Supported categories.
const (
	CategoryLabourLaw        Category = "labour-law"
	CategoryVisaServices     Category = "visa-services"
	CategoryCompanyFormation Category = "company-formation"
	CategoryGeneral          Category = "general-legal"
	CategoryOther            Category = "other"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryLabourLaw,
	CategoryVisaServices,
	CategoryCompanyFormation,
	CategoryGeneral,
	CategoryOther,
}

// Valid reports whether c belongs to the closed category set.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// MatchesAny reports whether c should be treated as "no category filter".
// Both the empty category and the generic legal category match everything.
func (c Category) MatchesAny() bool {
	return c == "" || c == CategoryGeneral
}

// ParseCategory converts s into a Category. An empty string yields the
// empty category (no filter).
func ParseCategory(s string) (Category, error) {
	if s == "" {
		return "", nil
	}
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// DefaultLanguage is used when a request or item carries no language.
const DefaultLanguage = "en"

// Item is a single retrievable knowledge snippet.
type Item struct {
	ID          int64     `json:"id" yaml:"-"`
	Title       string    `json:"title" yaml:"title"`
	Content     string    `json:"content" yaml:"content"`
	Category    Category  `json:"category" yaml:"category"`
	Source      string    `json:"source" yaml:"-"`
	URL         string    `json:"url,omitempty" yaml:"url"`
	Language    string    `json:"language" yaml:"language"`
	LastUpdated time.Time `json:"last_updated" yaml:"-"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
}

// RunStatus is the outcome of one ingestion run for a source.
type RunStatus string

// Supported run statuses.
const (
	StatusSuccess RunStatus = "success"
	StatusNoData  RunStatus = "no_data"
	StatusError   RunStatus = "error"
)

// DefaultRefreshInterval is the age after which a source is stale.
const DefaultRefreshInterval = 48 * time.Hour

// SourceMetadata tracks the last ingestion run of a source.
type SourceMetadata struct {
	Source      string    `json:"source"`
	LastScraped time.Time `json:"last_scraped"`
	ItemCount   int       `json:"item_count"`
	Status      RunStatus `json:"status"`
}

// NeedsUpdate reports whether a source with metadata m is stale at now.
// A nil metadata record is always stale.
func (m *SourceMetadata) NeedsUpdate(now time.Time, interval time.Duration) bool {
	if m == nil {
		return true
	}
	return now.Sub(m.LastScraped) >= interval
}

// SourceRun is one entry of the ingestion history.
type SourceRun struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	ItemCount  int       `json:"item_count"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// SourceKind selects the ingestion driver for a source.
type SourceKind string

// Supported source kinds.
const (
	KindRSS  SourceKind = "rss"
	KindWeb  SourceKind = "web"
	KindPDF  SourceKind = "pdf"
	KindSeed SourceKind = "seed"
)

// Selectors configures CSS selectors for web sources.
type Selectors struct {
	Item    string `yaml:"item"`
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
	Link    string `yaml:"link"`
}

// SourceConfig describes a registered ingestion source.
type SourceConfig struct {
	ID        string     `yaml:"id"`
	Kind      SourceKind `yaml:"kind"`
	URL       string     `yaml:"url"`
	Path      string     `yaml:"path"`
	Category  Category   `yaml:"category"`
	Language  string     `yaml:"language"`
	Selectors Selectors  `yaml:"selectors"`
	Filters   []Filter   `yaml:"filters"`
}

// FilterKind defines the type of filter rule.
type FilterKind string

// Supported filter kinds.
const (
	FilterInclude   FilterKind = "include"
	FilterExclude   FilterKind = "exclude"
	FilterIncludeRe FilterKind = "include_re"
	FilterExcludeRe FilterKind = "exclude_re"
)

// FilterScope defines which part of an item a filter matches against.
type FilterScope string

// Supported filter scopes.
const (
	ScopeTitle   FilterScope = "title"
	ScopeContent FilterScope = "content"
	ScopeAll     FilterScope = "all"
)

// Filter is a rule deciding whether a fetched item is kept.
type Filter struct {
	Kind  FilterKind  `yaml:"kind"`
	Scope FilterScope `yaml:"scope"`
	Value string      `yaml:"value"`
}

// Count is a labelled aggregate used in Stats.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Stats aggregates store contents for observability.
type Stats struct {
	Total      int         `json:"total"`
	BySource   []Count     `json:"by_source"`
	ByCategory []Count     `json:"by_category"`
	RecentRuns []SourceRun `json:"recent_runs"`
}
