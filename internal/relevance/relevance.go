// Package relevance scores knowledge-base items against a query and renders
// them into a length-bounded block of text for an LLM prompt.
package relevance

import (
	"sort"
	"strings"
	"unicode"

	"legal_kb/internal/model"
)

// Scoring weights.
const (
	TitleWeight    = 10.0
	ContentWeight  = 2.0
	LengthDivisor  = 200.0
	LengthBonusCap = 3.0
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "what": true,
	"how": true, "can": true, "does": true, "with": true, "from": true,
	"this": true, "that": true, "you": true, "your": true, "have": true,
	"about": true, "which": true, "who": true, "when": true, "where": true,
	"there": true, "their": true, "will": true, "into": true, "not": true,
}

// Normalize lowercases s, replaces every non-alphanumeric rune with a
// space and collapses runs of whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Keywords returns the distinct query words longer than two characters,
// excluding common English stop-words, in order of first appearance.
func Keywords(query string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(Normalize(query)) {
		if len([]rune(w)) <= 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// Score returns the relevance of item for query. Each keyword found in the
// title adds TitleWeight, each keyword occurrence in the content adds
// ContentWeight, and longer content earns a small capped bonus.
func Score(item model.Item, query string) float64 {
	title := strings.ToLower(item.Title)
	content := strings.ToLower(item.Content)

	var score float64
	for _, w := range Keywords(query) {
		if strings.Contains(title, w) {
			score += TitleWeight
		}
		score += ContentWeight * float64(strings.Count(content, w))
	}

	bonus := float64(len(item.Content)) / LengthDivisor
	if bonus > LengthBonusCap {
		bonus = LengthBonusCap
	}
	return score + bonus
}

// Rank returns a copy of items ordered by descending Score. Items with
// equal scores keep their original relative order.
func Rank(items []model.Item, query string) []model.Item {
	type scored struct {
		item  model.Item
		score float64
	}
	tmp := make([]scored, len(items))
	for i, it := range items {
		tmp[i] = scored{item: it, score: Score(it, query)}
	}
	sort.SliceStable(tmp, func(i, j int) bool {
		return tmp[i].score > tmp[j].score
	})

	ranked := make([]model.Item, len(tmp))
	for i, s := range tmp {
		ranked[i] = s.item
	}
	return ranked
}
