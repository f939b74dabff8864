package source

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"legal_kb/internal/model"
)

// seedFile is the on-disk layout of a curated FAQ file.
type seedFile struct {
	Items []model.Item `yaml:"items"`
}

// SeedDriver loads curated items from a YAML file at src.Path.
type SeedDriver struct{}

// NewSeedDriver creates a SeedDriver.
func NewSeedDriver() *SeedDriver {
	return &SeedDriver{}
}

// Fetch reads and parses the seed file.
func (d *SeedDriver) Fetch(_ context.Context, src model.SourceConfig) ([]model.Item, error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a seed document.
func ParseSeed(data []byte) ([]model.Item, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return f.Items, nil
}
