package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"legal_kb/internal/filter"
	"legal_kb/internal/model"
)

// PrewarmQuery is a popular query loaded into the cache at startup.
type PrewarmQuery struct {
	Query    string         `yaml:"query"`
	Category model.Category `yaml:"category"`
	Language string         `yaml:"language"`
}

// Sources is the content of the sources file.
type Sources struct {
	Sources        []model.SourceConfig `yaml:"sources"`
	PrewarmQueries []PrewarmQuery       `yaml:"prewarm_queries"`
}

// LoadSources reads and validates the sources file at path. A missing file
// yields DefaultSources.
func LoadSources(path string) (*Sources, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultSources(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return ParseSources(data)
}

// ParseSources decodes and validates a sources document. Empty categories
// and languages are filled with their defaults.
func ParseSources(data []byte) (*Sources, error) {
	var s Sources
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	if err := s.normalize(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Sources) normalize() error {
	var errs []error
	seen := make(map[string]bool, len(s.Sources))
	for i := range s.Sources {
		src := &s.Sources[i]
		if src.Category == "" {
			src.Category = model.CategoryGeneral
		}
		if src.Language == "" {
			src.Language = model.DefaultLanguage
		}
		if err := validateSource(*src); err != nil {
			errs = append(errs, fmt.Errorf("source %d (%s): %w", i, src.ID, err))
			continue
		}
		if seen[src.ID] {
			errs = append(errs, fmt.Errorf("source %d: duplicate id %q", i, src.ID))
		}
		seen[src.ID] = true
	}

	for i := range s.PrewarmQueries {
		q := &s.PrewarmQueries[i]
		if q.Query == "" {
			errs = append(errs, fmt.Errorf("prewarm query %d: empty query", i))
		}
		if q.Category != "" && !q.Category.Valid() {
			errs = append(errs, fmt.Errorf("prewarm query %d: unknown category %q", i, q.Category))
		}
		if q.Language == "" {
			q.Language = model.DefaultLanguage
		}
	}
	return errors.Join(errs...)
}

func validateSource(src model.SourceConfig) error {
	if src.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !src.Category.Valid() {
		return fmt.Errorf("unknown category %q", src.Category)
	}
	switch src.Kind {
	case model.KindRSS, model.KindWeb:
		if src.URL == "" {
			return fmt.Errorf("url is required for %s sources", src.Kind)
		}
	case model.KindPDF:
		if src.URL == "" && src.Path == "" {
			return fmt.Errorf("url or path is required for pdf sources")
		}
	case model.KindSeed:
		if src.Path == "" {
			return fmt.Errorf("path is required for seed sources")
		}
	default:
		return fmt.Errorf("unknown kind %q", src.Kind)
	}
	for _, f := range src.Filters {
		if err := filter.Validate(f); err != nil {
			return err
		}
	}
	return nil
}

// DefaultSources returns the built-in source list and popular queries.
func DefaultSources() *Sources {
	return &Sources{
		Sources: []model.SourceConfig{
			{
				ID:        "lmra-faq",
				Kind:      model.KindWeb,
				URL:       "https://lmra.gov.bh/en/faqs",
				Category:  model.CategoryLabourLaw,
				Language:  "en",
				Selectors: model.Selectors{Item: ".faq-item", Title: ".question", Content: ".answer"},
			},
			{
				ID:        "npra-visas",
				Kind:      model.KindWeb,
				URL:       "https://www.npra.gov.bh/en/visas",
				Category:  model.CategoryVisaServices,
				Language:  "en",
				Selectors: model.Selectors{Item: "article"},
			},
			{
				ID:        "moic-news",
				Kind:      model.KindRSS,
				URL:       "https://www.moic.gov.bh/en/rss",
				Category:  model.CategoryCompanyFormation,
				Language:  "en",
				Filters: []model.Filter{
					{Kind: model.FilterIncludeRe, Scope: model.ScopeAll, Value: `regist|licen[cs]e|company|commercial`},
				},
			},
			{
				ID:       "curated-faq",
				Kind:     model.KindSeed,
				Path:     "./seed/faq.yaml",
				Category: model.CategoryGeneral,
				Language: "en",
			},
		},
		PrewarmQueries: []PrewarmQuery{
			{Query: "work visa", Language: "en"},
			{Query: "labour law notice period", Language: "en"},
			{Query: "company registration", Language: "en"},
			{Query: "end of service gratuity", Language: "en"},
			{Query: "residence permit renewal", Language: "en"},
			{Query: "commercial registration requirements", Language: "en"},
		},
	}
}
