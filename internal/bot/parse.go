package bot

import (
	"fmt"
	"strconv"
	"strings"

	"legal_kb/internal/model"
)

// Limits for /faq.
const (
	defaultFAQLimit = 10
	maxFAQLimit     = 50
)

// ParseAskArgs parses arguments of /ask.
// Format: [-c category] <question...>
func ParseAskArgs(args string) (model.Category, string, error) {
	parts := strings.Fields(args)
	var cat model.Category
	if len(parts) >= 2 && parts[0] == "-c" {
		c, err := model.ParseCategory(parts[1])
		if err != nil {
			return "", "", fmt.Errorf("invalid category %q, use one of: %s", parts[1], categoryList())
		}
		cat = c
		parts = parts[2:]
	}
	if len(parts) == 0 {
		return "", "", fmt.Errorf("usage: /ask [-c category] <question>")
	}
	return cat, strings.Join(parts, " "), nil
}

// ParseFAQArgs parses arguments of /faq.
// Format: <category> [limit]
func ParseFAQArgs(args string) (model.Category, int, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return "", 0, fmt.Errorf("usage: /faq <category> [limit]")
	}
	cat, err := model.ParseCategory(parts[0])
	if err != nil {
		return "", 0, fmt.Errorf("invalid category %q, use one of: %s", parts[0], categoryList())
	}
	limit := defaultFAQLimit
	if len(parts) > 1 {
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 1 || n > maxFAQLimit {
			return "", 0, fmt.Errorf("limit must be between 1 and %d", maxFAQLimit)
		}
		limit = n
	}
	return cat, limit, nil
}

// ParseSourceArgs splits source ids given to /refresh. Commas and spaces
// both separate ids.
func ParseSourceArgs(args string) []string {
	return strings.FieldsFunc(args, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

func categoryList() string {
	names := make([]string, len(model.Categories))
	for i, c := range model.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}
