// Package strings provides string list helpers for configuration values.
package strings

import (
	"strings"
)

// DedupeAndTrim trims each element and drops empties and repeats, keeping the
// first occurrence. Field names are case-sensitive, so "Title" and "title"
// are distinct.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}

	return result
}

// SplitList splits a comma-separated environment value such as
// "Password, Token" into a clean list. An empty input returns nil.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(s, ","))
}
