// Package shared provides common utility functions used across multiple
// packages in the pkgkeeper codebase.
package shared

import (
	"fmt"
	"strings"
)

// NormalizePipName lowercases a Python package name and replaces
// underscores and dots with hyphens, following PEP 503 normalization.
func NormalizePipName(value string) string {
	lower := strings.ToLower(strings.TrimSpace(value))
	replacer := strings.NewReplacer("_", "-", ".", "-")
	return replacer.Replace(lower)
}

// HTTPStatusError creates a formatted error for non-2xx HTTP responses.
func HTTPStatusError(status int, url string) error {
	return fmt.Errorf("status=%d url=%s", status, url)
}

// Unquote strips one pair of surrounding double or single quotes.
func Unquote(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return strings.Trim(value, "\"")
}
