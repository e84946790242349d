package executor

import (
	"path/filepath"
	"strings"
)

// isFiltered implements the "filter commands" policy:
// a name matching any block pattern is rejected unless it also matches an
// allow exception (a pattern prefixed with "!"), in which case it is always
// accepted regardless of how many block patterns also match.
//
// No glob-matching library appears anywhere in the example corpus; this
// reuses filepath.Match, the same stdlib primitive internal/sniffer already
// uses for RuleFilePattern, rather than introduce a new dependency for a
// single predicate.
func isFiltered(fqName string, patterns []string) bool {
	blocked := false
	allowed := false
	for _, p := range patterns {
		if strings.HasPrefix(p, "!") {
			if ok, _ := filepath.Match(p[1:], fqName); ok {
				allowed = true
			}
			continue
		}
		if ok, _ := filepath.Match(p, fqName); ok {
			blocked = true
		}
	}
	return blocked && !allowed
}
