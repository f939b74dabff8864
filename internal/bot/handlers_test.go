package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"legal_kb/internal/contextcache"
	"legal_kb/internal/model"
	"legal_kb/internal/scheduler"
)

func TestParseAskArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      string
		wantCat   model.Category
		wantQuery string
		wantErr   bool
	}{
		{name: "plain question", args: "how to renew a work visa", wantQuery: "how to renew a work visa"},
		{name: "with category", args: "-c labour-law notice period", wantCat: model.CategoryLabourLaw, wantQuery: "notice period"},
		{name: "extra spaces", args: "  -c   visa-services   visa  ", wantCat: model.CategoryVisaServices, wantQuery: "visa"},
		{name: "empty", args: "", wantErr: true},
		{name: "category only", args: "-c labour-law", wantErr: true},
		{name: "bad category", args: "-c tax refund", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, query, err := ParseAskArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantCat, cat); diff != "" {
				t.Errorf("category mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantQuery, query); diff != "" {
				t.Errorf("query mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseFAQArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      string
		wantCat   model.Category
		wantLimit int
		wantErr   bool
	}{
		{name: "default limit", args: "labour-law", wantCat: model.CategoryLabourLaw, wantLimit: defaultFAQLimit},
		{name: "explicit limit", args: "visa-services 3", wantCat: model.CategoryVisaServices, wantLimit: 3},
		{name: "empty", args: "", wantErr: true},
		{name: "bad category", args: "tax", wantErr: true},
		{name: "zero limit", args: "labour-law 0", wantErr: true},
		{name: "limit too large", args: "labour-law 51", wantErr: true},
		{name: "limit not a number", args: "labour-law many", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, limit, err := ParseFAQArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cat != tt.wantCat || limit != tt.wantLimit {
				t.Errorf("got (%s, %d), want (%s, %d)", cat, limit, tt.wantCat, tt.wantLimit)
			}
		})
	}
}

func TestParseSourceArgs(t *testing.T) {
	tests := []struct {
		args string
		want []string
	}{
		{args: "", want: nil},
		{args: "lmra-faq", want: []string{"lmra-faq"}},
		{args: "lmra-faq npra-visas", want: []string{"lmra-faq", "npra-visas"}},
		{args: "lmra-faq,npra-visas , moic-news", want: []string{"lmra-faq", "npra-visas", "moic-news"}},
	}

	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseSourceArgs(tt.args)); diff != "" {
				t.Errorf("ParseSourceArgs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTruncateMessage(t *testing.T) {
	short := "hello"
	if got := truncateMessage(short); got != short {
		t.Errorf("short message changed: %q", got)
	}

	long := strings.Repeat("م", maxMessageLen+10)
	got := truncateMessage(long)
	if n := len([]rune(got)); n != maxMessageLen {
		t.Errorf("truncated length = %d runes, want %d", n, maxMessageLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis suffix")
	}
}

func TestFormatCacheStats(t *testing.T) {
	got := FormatCacheStats(contextcache.Stats{
		Entries: 12, MaxEntries: 1000, Hits: 1500, Misses: 500, Evictions: 3,
		HitRate: 0.75, TTLSeconds: 1800,
	})
	requireContains(t, got, "Entries: 12 / 1,000")
	requireContains(t, got, "Hits: 1,500, misses: 500 (hit rate 75.0%)")
	requireContains(t, got, "Evictions: 3, expirations: 0")
	requireContains(t, got, "TTL: 30m0s")
}

func TestFormatSources(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("none registered", func(t *testing.T) {
		if diff := cmp.Diff("No sources registered.", FormatSources(nil, nil, false, now)); diff != "" {
			t.Errorf("FormatSources() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("metadata joined by id", func(t *testing.T) {
		metas := []model.SourceMetadata{
			{Source: "moic-news", LastScraped: now.Add(-50 * time.Hour), ItemCount: 0, Status: model.StatusNoData},
			{Source: "orphan", LastScraped: now, Status: model.StatusSuccess},
		}
		got := FormatSources([]string{"lmra-faq", "moic-news"}, metas, false, now)
		requireContains(t, got, "lmra-faq [never run]")
		requireContains(t, got, "moic-news [no_data]\n   0 items, last run 2 days ago")
		if strings.Contains(got, "orphan") {
			t.Errorf("unregistered source listed:\n%s", got)
		}
		if strings.Contains(got, "running") {
			t.Errorf("unexpected running note:\n%s", got)
		}
	})
}

func TestFormatReport(t *testing.T) {
	r := scheduler.Report{Results: []scheduler.SourceResult{
		{Source: "lmra-faq", Status: model.StatusSuccess, Count: 7},
		{Source: "moic-news", Status: model.StatusNoData},
		{Source: "npra-visas", Status: model.StatusError, Error: "fetch npra-visas: status 503"},
	}}
	got := FormatReport(r)
	want := "Refresh finished: 1 ok, 1 empty, 1 failed\n" +
		"\nlmra-faq: success, 7 items" +
		"\nmoic-news: no_data, 0 items" +
		"\nnpra-visas: error (fetch npra-visas: status 503)"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FormatReport() mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatAnswer(t *testing.T) {
	tests := []struct {
		name string
		res  contextcache.Result
		want string
	}{
		{
			name: "store error",
			res:  contextcache.Result{Metadata: contextcache.Metadata{CacheStatus: contextcache.StatusError}},
			want: "The knowledge base is unavailable right now.",
		},
		{
			name: "no context",
			res:  contextcache.Result{Metadata: contextcache.Metadata{CacheStatus: contextcache.StatusMiss}},
			want: "No relevant information found.",
		},
		{
			name: "context",
			res: contextcache.Result{
				Context:  "ctx",
				Metadata: contextcache.Metadata{CacheStatus: contextcache.StatusHit, ItemCount: 2},
			},
			want: "ctx\n\n(2 items, cache hit)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatAnswer(tt.res)); diff != "" {
				t.Errorf("FormatAnswer() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatFAQ(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	if diff := cmp.Diff("No items in labour-law yet.", FormatFAQ(model.CategoryLabourLaw, nil, now)); diff != "" {
		t.Errorf("FormatFAQ() mismatch (-want +got):\n%s", diff)
	}

	got := FormatFAQ(model.CategoryVisaServices, []model.Item{
		{Source: "npra-visas", Title: "Work visa", Content: "Requires a sponsor", URL: "https://npra.example/visa", LastUpdated: now.Add(-2 * time.Hour)},
	}, now)
	want := "visa-services (1):\n\n[npra-visas] Work visa (2 hours ago)\nRequires a sponsor\nhttps://npra.example/visa\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FormatFAQ() mismatch (-want +got):\n%s", diff)
	}
}
