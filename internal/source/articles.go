package source

import (
	"regexp"
	"strings"
)

// Article is one numbered provision of a law text.
type Article struct {
	Title string
	Body  string
}

// articleHeaderRe matches a line opening an article in English or Arabic
// legislation, e.g. "Article 12" or "المادة (12)".
var articleHeaderRe = regexp.MustCompile(`^(?i:article\s+[0-9]+\b|المادة\s*\(?[0-9٠-٩]+\)?)`)

// SplitArticles splits law text into articles. Text before the first header
// is dropped. Text without any header yields a single article titled by its
// first non-empty line.
func SplitArticles(text string) []Article {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return nil
	}

	var (
		articles []Article
		cur      *Article
		body     []string
	)
	closeCur := func() {
		if cur != nil {
			cur.Body = strings.Join(body, "\n")
			articles = append(articles, *cur)
		}
		body = nil
	}

	for _, l := range lines {
		if articleHeaderRe.MatchString(l) {
			closeCur()
			cur = &Article{Title: l}
			continue
		}
		if cur != nil {
			body = append(body, l)
		}
	}
	closeCur()

	if len(articles) == 0 {
		a := Article{Title: lines[0], Body: strings.Join(lines[1:], "\n")}
		if a.Body == "" {
			a.Body = lines[0]
		}
		return []Article{a}
	}
	return articles
}
