// Package storage defines the item store interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"legal_kb/internal/model"
)

// ErrUnavailable marks failures of the persistence layer itself. Callers
// degrade to empty results when errors.Is(err, ErrUnavailable).
var ErrUnavailable = errors.New("store unavailable")

// ErrInvalidItem is reported for items rejected before reaching the database.
var ErrInvalidItem = errors.New("invalid item")

// Search limits.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// SearchQuery selects items for Search.
type SearchQuery struct {
	Query    string
	Category model.Category
	Language string
	Limit    int
}

// Storage is the interface for all item and source-metadata persistence.
type Storage interface {
	UpsertItems(ctx context.Context, items []model.Item) (int, error)
	ReplaceSource(ctx context.Context, source string, items []model.Item) (int, error)
	Search(ctx context.Context, q SearchQuery) ([]model.Item, error)
	ByCategory(ctx context.Context, category model.Category, language string, limit int) ([]model.Item, error)
	ClearSource(ctx context.Context, source string) (int, error)

	RecordSourceRun(ctx context.Context, run model.SourceRun) error
	NeedsUpdate(ctx context.Context, source string) (bool, error)
	SourceMetadata(ctx context.Context, source string) (*model.SourceMetadata, error)
	ListSourceMetadata(ctx context.Context) ([]model.SourceMetadata, error)
	Stats(ctx context.Context) (*model.Stats, error)

	Close() error
}

// Clock returns the current time.
type Clock func() time.Time

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
