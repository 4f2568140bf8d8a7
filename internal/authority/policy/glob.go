package policy

import (
	"path/filepath"
	"strings"
)

const wildcardChars = "*?["

func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, wildcardChars); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// covers reports whether every string matching q also matches p (spec.md
// §4.D): "a pattern P covers Q iff every string matching Q also matches P".
//
// Exact when q is a concrete resource identifier (the common case: a
// requested resource_scope entry is rarely itself a glob). When q carries
// its own wildcard, containment is approximated conservatively by requiring
// p to be a trailing-wildcard pattern whose literal prefix is itself a
// prefix of q's literal prefix; anything more exotic (multiple wildcards on
// either side, character classes interacting) is refused rather than
// guessed, since the policy evaluator must fail closed on ambiguity.
func covers(p, q string) bool {
	if p == q {
		return true
	}
	if !strings.ContainsAny(p, wildcardChars) {
		return false // p is literal; only an identical q could be covered, handled above
	}

	qPrefix := literalPrefix(q)
	if ok, err := filepath.Match(p, qPrefix); err == nil && ok && qPrefix == q {
		return true
	}
	if qPrefix == q {
		return false // q is itself literal and didn't match p above
	}

	pPrefix := literalPrefix(p)
	return strings.HasSuffix(p, "*") &&
		p[len(pPrefix):] == "*" &&
		strings.HasPrefix(qPrefix, pPrefix)
}

// coveredByAny reports whether resource is covered by at least one pattern
// in allowed under covers' containment semantics.
func coveredByAny(allowed []string, resource string) bool {
	for _, p := range allowed {
		if covers(p, resource) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
