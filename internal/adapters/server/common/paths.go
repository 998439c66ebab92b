package common

import "strings"

// CleanPath returns a rooted mount path without a trailing slash.
// Blank or root-only input yields fallback.
func CleanPath(path, fallback string) string {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	if trimmed == "" {
		return fallback
	}
	return "/" + trimmed
}
