package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"legal_kb/internal/model"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name  string
		item  model.Item
		rules []model.Filter
		want  bool
	}{
		{
			name: "no rules passes everything",
			item: model.Item{Title: "anything", Content: "whatever"},
			want: true,
		},
		{
			name: "include word matches",
			item: model.Item{Title: "Work permit fees", Content: "LMRA schedule"},
			rules: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "permit"},
			},
			want: true,
		},
		{
			name: "include word no match",
			item: model.Item{Title: "Tourism news", Content: "Hotel openings"},
			rules: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "permit"},
			},
			want: false,
		},
		{
			name: "include is case insensitive",
			item: model.Item{Title: "LABOUR LAW amendments"},
			rules: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "labour law"},
			},
			want: true,
		},
		{
			name: "exclude wins over include",
			item: model.Item{Title: "Labour law seminar", Content: "Paid event"},
			rules: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "labour"},
				{Kind: model.FilterExclude, Scope: model.ScopeAll, Value: "event"},
			},
			want: false,
		},
		{
			name: "multiple includes OR logic",
			item: model.Item{Title: "Commercial registration"},
			rules: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "visa"},
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "registration"},
			},
			want: true,
		},
		{
			name: "regex exclude blocks",
			item: model.Item{Title: "Job vacancy: legal assistant"},
			rules: []model.Filter{
				{Kind: model.FilterExcludeRe, Scope: model.ScopeAll, Value: "vacanc(y|ies)"},
			},
			want: false,
		},
		{
			name: "invalid regex never matches",
			item: model.Item{Title: "anything"},
			rules: []model.Filter{
				{Kind: model.FilterIncludeRe, Scope: model.ScopeAll, Value: "[invalid"},
			},
			want: false,
		},
		{
			name: "arabic include",
			item: model.Item{Title: "قانون العمل", Content: "تعديلات"},
			rules: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeTitle, Value: "العمل"},
			},
			want: true,
		},
		{
			name: "title scope ignores content",
			item: model.Item{Title: "Release notes", Content: "visa changes"},
			rules: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeTitle, Value: "visa"},
			},
			want: false,
		},
		{
			name: "content scope ignores title",
			item: model.Item{Title: "Sponsored", Content: "General guidance"},
			rules: []model.Filter{
				{Kind: model.FilterExclude, Scope: model.ScopeContent, Value: "sponsored"},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(tt.item, tt.rules)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Match() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApply(t *testing.T) {
	items := []model.Item{
		{Title: "Work visa"},
		{Title: "Hotel news"},
		{Title: "Visa renewal"},
	}
	rules := []model.Filter{{Kind: model.FilterInclude, Scope: model.ScopeTitle, Value: "visa"}}

	got := Apply(items, rules)
	want := []model.Item{{Title: "Work visa"}, {Title: "Visa renewal"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Apply() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    model.Filter
		wantErr bool
	}{
		{name: "include word", rule: model.Filter{Kind: model.FilterInclude, Value: "visa"}},
		{name: "regex with scope", rule: model.Filter{Kind: model.FilterExcludeRe, Scope: model.ScopeTitle, Value: "ad(s)?"}},
		{name: "bad regex", rule: model.Filter{Kind: model.FilterIncludeRe, Value: "[bad"}, wantErr: true},
		{name: "unknown kind", rule: model.Filter{Kind: "maybe", Value: "x"}, wantErr: true},
		{name: "unknown scope", rule: model.Filter{Kind: model.FilterInclude, Scope: "body", Value: "x"}, wantErr: true},
		{name: "empty value", rule: model.Filter{Kind: model.FilterInclude, Value: " "}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rule)
			if diff := cmp.Diff(tt.wantErr, err != nil); diff != "" {
				t.Errorf("Validate() error mismatch (-want +got):\n%s\nerr: %v", diff, err)
			}
		})
	}
}
