package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"legal_kb/internal/model"
)

func staticDriver(items []model.Item, err error) Driver {
	return DriverFunc(func(context.Context, model.SourceConfig) ([]model.Item, error) {
		return items, err
	})
}

func newTestRegistry(t *testing.T, sources []model.SourceConfig, d Driver) *Registry {
	t.Helper()
	r, err := NewRegistry(sources, map[model.SourceKind]Driver{model.KindSeed: d}, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRegistryFetchNormalizes(t *testing.T) {
	fetchedAt := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	raw := []model.Item{
		{ID: 99, Title: "  <b>Work</b>   visa ", Content: "<p>Requires a sponsor &amp; a contract.</p>", URL: " https://lmra.example/visa "},
		{Title: "", Content: "orphan content"},
		{Title: "No body", Content: "<br/>  "},
		{Title: "Work visa", Content: "duplicate title"},
		{Title: "Notice period", Content: "30 days\n\n for monthly wages"},
	}
	r := newTestRegistry(t, []model.SourceConfig{{ID: "lmra", Kind: model.KindSeed}}, staticDriver(raw, nil))
	r.SetClock(func() time.Time { return fetchedAt })

	got, err := r.Fetch(context.Background(), "lmra")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	want := []model.Item{
		{Title: "Work visa", Content: "Requires a sponsor & a contract.", Source: "lmra", URL: "https://lmra.example/visa", LastUpdated: fetchedAt},
		{Title: "Notice period", Content: "30 days for monthly wages", Source: "lmra", LastUpdated: fetchedAt},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Fetch() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryFetchAppliesFilters(t *testing.T) {
	raw := []model.Item{
		{Title: "Labour law amendment", Content: "New leave rules"},
		{Title: "Hotel opening", Content: "Tourism"},
		{Title: "Labour law webinar", Content: "Paid event"},
	}
	src := model.SourceConfig{
		ID:   "gazette",
		Kind: model.KindSeed,
		Filters: []model.Filter{
			{Kind: model.FilterInclude, Scope: model.ScopeTitle, Value: "labour"},
			{Kind: model.FilterExclude, Scope: model.ScopeAll, Value: "event"},
		},
	}
	r := newTestRegistry(t, []model.SourceConfig{src}, staticDriver(raw, nil))

	got, err := r.Fetch(context.Background(), "gazette")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Labour law amendment" {
		t.Errorf("unexpected items: %+v", got)
	}
}

func TestRegistryFetchErrors(t *testing.T) {
	boom := errors.New("connection reset")
	r := newTestRegistry(t, []model.SourceConfig{{ID: "flaky", Kind: model.KindSeed}}, staticDriver(nil, boom))

	_, err := r.Fetch(context.Background(), "flaky")
	if !errors.Is(err, ErrFetch) || !errors.Is(err, boom) {
		t.Errorf("expected ErrFetch wrapping driver error, got %v", err)
	}

	_, err = r.Fetch(context.Background(), "missing")
	if !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}
}

func TestNewRegistryValidation(t *testing.T) {
	drivers := map[model.SourceKind]Driver{model.KindSeed: staticDriver(nil, nil)}
	tests := []struct {
		name    string
		sources []model.SourceConfig
	}{
		{name: "empty id", sources: []model.SourceConfig{{Kind: model.KindSeed}}},
		{name: "duplicate id", sources: []model.SourceConfig{{ID: "a", Kind: model.KindSeed}, {ID: "a", Kind: model.KindSeed}}},
		{name: "no driver", sources: []model.SourceConfig{{ID: "a", Kind: model.KindRSS}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.sources, drivers, nil); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestRegistryIDsKeepOrder(t *testing.T) {
	sources := []model.SourceConfig{
		{ID: "moic", Kind: model.KindSeed},
		{ID: "lmra", Kind: model.KindSeed},
		{ID: "npra", Kind: model.KindSeed},
	}
	r := newTestRegistry(t, sources, staticDriver(nil, nil))
	if diff := cmp.Diff([]string{"moic", "lmra", "npra"}, r.IDs()); diff != "" {
		t.Errorf("IDs() mismatch (-want +got):\n%s", diff)
	}
	if _, ok := r.Source("lmra"); !ok {
		t.Error("expected lmra to be registered")
	}
}

func TestCollapseSpace(t *testing.T) {
	if diff := cmp.Diff("a b c", CollapseSpace("\n a \t b\n\nc  ")); diff != "" {
		t.Errorf("CollapseSpace() mismatch (-want +got):\n%s", diff)
	}
}
