package cache

import "strings"

// MatchPattern reports whether key matches a glob pattern with at most one
// "*" wildcard token. A pattern without a wildcard matches exactly.
func MatchPattern(pattern, key string) bool {
	star := strings.Index(pattern, "*")
	if star < 0 {
		return pattern == key
	}

	prefix := pattern[:star]
	suffix := pattern[star+1:]
	if len(key) < len(prefix)+len(suffix) {
		return false
	}
	return strings.HasPrefix(key, prefix) && strings.HasSuffix(key, suffix)
}
