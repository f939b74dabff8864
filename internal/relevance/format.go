package relevance

import (
	"fmt"
	"strings"
	"time"

	"legal_kb/internal/model"
)

// Rendering constants.
const (
	Header           = "Relevant legal information:\n"
	TruncationMarker = "\n[... additional results truncated]"
	ExcerptLimit     = 300
)

// FormatForPrompt renders items, in order, into a context block no longer
// than maxLength bytes plus len(TruncationMarker). Items that do not fit are
// dropped and the marker is appended. No items yield an empty string.
func FormatForPrompt(items []model.Item, maxLength int, now time.Time) string {
	if len(items) == 0 || maxLength <= 0 {
		return ""
	}
	if len(Header) > maxLength {
		return strings.TrimPrefix(TruncationMarker, "\n")
	}

	var b strings.Builder
	b.WriteString(Header)
	for _, item := range items {
		entry := formatEntry(item, now)
		if b.Len()+len(entry) > maxLength {
			b.WriteString(TruncationMarker)
			break
		}
		b.WriteString(entry)
	}
	return b.String()
}

func formatEntry(item model.Item, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n- [%s] %s (%s)\n", item.Source, item.Title, FormatAge(now.Sub(item.LastUpdated)))
	if excerpt := Excerpt(item.Content, ExcerptLimit); excerpt != "" {
		b.WriteString("  ")
		b.WriteString(excerpt)
		b.WriteString("\n")
	}
	return b.String()
}

// Excerpt collapses whitespace in s and cuts it to at most limit runes,
// appending "..." when something was cut.
func Excerpt(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit])) + "..."
}

// FormatAge renders d as whole hours below one day and whole days above.
func FormatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < 24*time.Hour {
		return plural(int(d/time.Hour), "hour") + " ago"
	}
	return plural(int(d/(24*time.Hour)), "day") + " ago"
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
