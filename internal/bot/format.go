package bot

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"legal_kb/internal/contextcache"
	"legal_kb/internal/model"
	"legal_kb/internal/relevance"
	"legal_kb/internal/scheduler"
)

// maxMessageLen stays under Telegram's 4096-character message limit.
const maxMessageLen = 4000

func truncateMessage(s string) string {
	if utf8.RuneCountInString(s) <= maxMessageLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxMessageLen-3]) + "..."
}

func ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// FormatStats formats store statistics.
func FormatStats(st *model.Stats, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Items: %s\n", humanize.Comma(int64(st.Total)))

	if len(st.BySource) > 0 {
		b.WriteString("\nBy source:\n")
		for _, c := range st.BySource {
			fmt.Fprintf(&b, "  %s: %s\n", c.Key, humanize.Comma(int64(c.Count)))
		}
	}
	if len(st.ByCategory) > 0 {
		b.WriteString("\nBy category:\n")
		for _, c := range st.ByCategory {
			fmt.Fprintf(&b, "  %s: %s\n", c.Key, humanize.Comma(int64(c.Count)))
		}
	}
	if len(st.RecentRuns) > 0 {
		b.WriteString("\nRecent runs:\n")
		for _, r := range st.RecentRuns {
			fmt.Fprintf(&b, "  %s %s (%d items, %s)", r.Source, r.Status, r.ItemCount, ago(r.FinishedAt, now))
			if r.Error != "" {
				fmt.Fprintf(&b, ": %s", relevance.Excerpt(r.Error, 80))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// FormatCacheStats formats context cache statistics.
func FormatCacheStats(st contextcache.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entries: %s / %s\n", humanize.Comma(int64(st.Entries)), humanize.Comma(int64(st.MaxEntries)))
	fmt.Fprintf(&b, "Hits: %s, misses: %s (hit rate %.1f%%)\n",
		humanize.Comma(st.Hits), humanize.Comma(st.Misses), st.HitRate*100)
	fmt.Fprintf(&b, "Evictions: %s, expirations: %s\n", humanize.Comma(st.Evictions), humanize.Comma(st.Expirations))
	fmt.Fprintf(&b, "Store errors: %s\n", humanize.Comma(st.StoreErrors))
	fmt.Fprintf(&b, "TTL: %s", time.Duration(st.TTLSeconds)*time.Second)
	return b.String()
}

// FormatSources lists every registered source with its last run.
func FormatSources(ids []string, metas []model.SourceMetadata, running bool, now time.Time) string {
	if len(ids) == 0 {
		return "No sources registered."
	}
	byID := make(map[string]model.SourceMetadata, len(metas))
	for _, m := range metas {
		byID[m.Source] = m
	}

	var b strings.Builder
	b.WriteString("Sources:\n")
	for _, id := range ids {
		m, ok := byID[id]
		if !ok {
			fmt.Fprintf(&b, "\n%s [never run]\n", id)
			continue
		}
		fmt.Fprintf(&b, "\n%s [%s]\n   %d items, last run %s\n", id, m.Status, m.ItemCount, ago(m.LastScraped, now))
	}
	if running {
		b.WriteString("\nA refresh is running now.")
	}
	return b.String()
}

// FormatReport summarizes a finished refresh.
func FormatReport(r scheduler.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Refresh finished: %d ok, %d empty, %d failed\n",
		r.Count(model.StatusSuccess), r.Count(model.StatusNoData), r.Count(model.StatusError))
	for _, res := range r.Results {
		switch {
		case res.Skipped:
			fmt.Fprintf(&b, "\n%s: fresh, skipped", res.Source)
		case res.Error != "":
			fmt.Fprintf(&b, "\n%s: %s (%s)", res.Source, res.Status, relevance.Excerpt(res.Error, 80))
		default:
			fmt.Fprintf(&b, "\n%s: %s, %d items", res.Source, res.Status, res.Count)
		}
	}
	return b.String()
}

// FormatAnswer shows the context produced for a question.
func FormatAnswer(res contextcache.Result) string {
	if res.Metadata.CacheStatus == contextcache.StatusError {
		return "The knowledge base is unavailable right now."
	}
	if res.Context == "" {
		return "No relevant information found."
	}
	return fmt.Sprintf("%s\n\n(%d items, cache %s)", res.Context, res.Metadata.ItemCount, res.Metadata.CacheStatus)
}

// FormatFAQ lists the items of a category.
func FormatFAQ(cat model.Category, items []model.Item, now time.Time) string {
	if len(items) == 0 {
		return fmt.Sprintf("No items in %s yet.", cat)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d):\n", cat, len(items))
	for _, it := range items {
		fmt.Fprintf(&b, "\n[%s] %s (%s)\n%s\n", it.Source, it.Title, ago(it.LastUpdated, now), relevance.Excerpt(it.Content, 200))
		if it.URL != "" {
			b.WriteString(it.URL + "\n")
		}
	}
	return b.String()
}
