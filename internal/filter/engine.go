// Package filter decides which fetched items a source keeps.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"legal_kb/internal/model"
)

// Match reports whether item passes rules. With no rules every item passes.
// Include rules are OR'ed: at least one must match when any is present.
// Exclude rules veto: a single match drops the item.
func Match(item model.Item, rules []model.Filter) bool {
	if len(rules) == 0 {
		return true
	}

	hasIncludes := false
	anyIncludeMatched := false

	for _, f := range rules {
		switch f.Kind {
		case model.FilterInclude, model.FilterIncludeRe:
			hasIncludes = true
			if matchesRule(item, f) {
				anyIncludeMatched = true
			}
		case model.FilterExclude, model.FilterExcludeRe:
			if matchesRule(item, f) {
				return false
			}
		}
	}

	return !hasIncludes || anyIncludeMatched
}

// Apply returns the items of in that pass rules, preserving order.
func Apply(in []model.Item, rules []model.Filter) []model.Item {
	if len(rules) == 0 {
		return in
	}
	var out []model.Item
	for _, it := range in {
		if Match(it, rules) {
			out = append(out, it)
		}
	}
	return out
}

func matchesRule(item model.Item, f model.Filter) bool {
	text := textForScope(item, f.Scope)
	switch f.Kind {
	case model.FilterInclude, model.FilterExclude:
		return strings.Contains(text, strings.ToLower(f.Value))
	case model.FilterIncludeRe, model.FilterExcludeRe:
		re, err := regexp.Compile("(?i)" + f.Value)
		if err != nil {
			return false
		}
		return re.MatchString(text)
	}
	return false
}

func textForScope(item model.Item, scope model.FilterScope) string {
	switch scope {
	case model.ScopeTitle:
		return strings.ToLower(item.Title)
	case model.ScopeContent:
		return strings.ToLower(item.Content)
	default:
		return strings.ToLower(item.Title + " " + item.Content)
	}
}

// Validate checks a rule's kind, scope and, for regex kinds, its pattern.
func Validate(f model.Filter) error {
	switch f.Kind {
	case model.FilterInclude, model.FilterExclude:
	case model.FilterIncludeRe, model.FilterExcludeRe:
		if err := ValidateRegex(f.Value); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown filter kind %q", f.Kind)
	}
	switch f.Scope {
	case "", model.ScopeAll, model.ScopeTitle, model.ScopeContent:
	default:
		return fmt.Errorf("unknown filter scope %q", f.Scope)
	}
	if strings.TrimSpace(f.Value) == "" {
		return fmt.Errorf("filter value is required")
	}
	return nil
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}
