// Copyright 2026 TheRock Authors
// SPDX-License-Identifier: Apache-2.0

package descriptor

import (
	"fmt"
	"path"
	"strings"
)

// PredicateKind identifies how a path pattern is interpreted.
type PredicateKind int

const (
	// KindGlob matches slash-separated glob patterns. Each pattern
	// segment matches one path segment (path.Match semantics); a
	// literal "**" segment matches zero or more path segments.
	KindGlob PredicateKind = iota

	// KindPrefix matches every file under a directory subtree.
	KindPrefix

	// KindExact matches a single relative path.
	KindExact
)

func (k PredicateKind) String() string {
	switch k {
	case KindGlob:
		return "glob"
	case KindPrefix:
		return "prefix"
	case KindExact:
		return "exact"
	}
	return fmt.Sprintf("PredicateKind(%d)", int(k))
}

// Predicate is one typed path-selection rule. Selection rules are
// kept as typed predicates rather than rewritten strings so that
// overlap detection and matching stay inspectable and testable.
type Predicate struct {
	Kind    PredicateKind
	Pattern string
}

// ParsePredicate parses the descriptor string form of a predicate.
// A "glob:", "prefix:", or "exact:" prefix selects the kind; a bare
// pattern is a glob, the overwhelmingly common case.
func ParsePredicate(s string) (Predicate, error) {
	kind := KindGlob
	pattern := s
	switch {
	case strings.HasPrefix(s, "glob:"):
		pattern = strings.TrimPrefix(s, "glob:")
	case strings.HasPrefix(s, "prefix:"):
		kind = KindPrefix
		pattern = strings.TrimPrefix(s, "prefix:")
	case strings.HasPrefix(s, "exact:"):
		kind = KindExact
		pattern = strings.TrimPrefix(s, "exact:")
	}

	pattern = strings.Trim(path.Clean("/"+pattern), "/")
	if pattern == "" || pattern == "." {
		return Predicate{}, fmt.Errorf("empty path pattern %q", s)
	}

	if kind == KindGlob {
		// Validate the glob syntax up front so a malformed pattern is
		// a load-time configuration error, not a silent non-match
		// during slicing.
		for _, segment := range strings.Split(pattern, "/") {
			if segment == "**" {
				continue
			}
			if _, err := path.Match(segment, "probe"); err != nil {
				return Predicate{}, fmt.Errorf("invalid glob pattern %q: %w", s, err)
			}
		}
	}

	return Predicate{Kind: kind, Pattern: pattern}, nil
}

// Matches reports whether the slash-separated relative path rel
// satisfies the predicate.
func (p Predicate) Matches(rel string) bool {
	switch p.Kind {
	case KindExact:
		return rel == p.Pattern
	case KindPrefix:
		return rel == p.Pattern || strings.HasPrefix(rel, p.Pattern+"/")
	case KindGlob:
		return matchGlob(strings.Split(p.Pattern, "/"), strings.Split(rel, "/"))
	}
	return false
}

func (p Predicate) String() string {
	return p.Kind.String() + ":" + p.Pattern
}

// matchGlob matches pattern segments against path segments. A "**"
// pattern segment matches zero or more path segments; every other
// segment matches exactly one path segment with path.Match.
func matchGlob(pattern, segments []string) bool {
	if len(pattern) == 0 {
		return len(segments) == 0
	}

	if pattern[0] == "**" {
		// Zero segments consumed, or one segment consumed with the
		// "**" kept active.
		if matchGlob(pattern[1:], segments) {
			return true
		}
		return len(segments) > 0 && matchGlob(pattern, segments[1:])
	}

	if len(segments) == 0 {
		return false
	}

	// Patterns are validated at parse time, so path.Match cannot
	// return an error here.
	ok, _ := path.Match(pattern[0], segments[0])
	if !ok {
		return false
	}
	return matchGlob(pattern[1:], segments[1:])
}
