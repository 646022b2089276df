// Package pattern provides domain pattern matching for route selection.
// It supports three types of patterns:
//   - Match-all: * (or an empty pattern)
//   - Exact: example.com
//   - Suffix wildcard: *.example.com
//
// Matching is case-insensitive and ignores a trailing dot on either side.
// Patterns are plain string comparisons; no regular expressions are built,
// so domains containing metacharacters can never match by accident.
package pattern

import (
	"fmt"
	"strings"
)

// PatternType represents the type of domain pattern.
type PatternType int

const (
	// PatternTypeMatchAll matches every domain (* or empty)
	PatternTypeMatchAll PatternType = iota
	// PatternTypeExact matches exact domain names (e.g., example.com)
	PatternTypeExact
	// PatternTypeSuffixWildcard matches subdomains (e.g., *.example.com)
	PatternTypeSuffixWildcard
)

// String returns a human-readable name for the pattern type.
func (pt PatternType) String() string {
	switch pt {
	case PatternTypeMatchAll:
		return "all"
	case PatternTypeExact:
		return "exact"
	case PatternTypeSuffixWildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

// Pattern represents a compiled domain matching pattern.
type Pattern struct {
	Raw  string      // Original pattern string
	Type PatternType // Pattern type

	// value is the normalized exact name, or the ".suffix" for wildcards
	value string
}

// Compile parses a pattern string and determines its type.
func Compile(raw string) Pattern {
	p := normalize(raw)

	switch {
	case p == "" || p == "*":
		return Pattern{Raw: raw, Type: PatternTypeMatchAll}
	case strings.HasPrefix(p, "*."):
		// keep the leading dot so HasSuffix requires a label boundary
		return Pattern{Raw: raw, Type: PatternTypeSuffixWildcard, value: p[1:]}
	default:
		return Pattern{Raw: raw, Type: PatternTypeExact, value: p}
	}
}

// CompileList compiles patterns preserving their order. An empty list
// compiles to a single match-all pattern.
func CompileList(raw []string) []Pattern {
	if len(raw) == 0 {
		return []Pattern{Compile("*")}
	}
	out := make([]Pattern, 0, len(raw))
	for _, r := range raw {
		out = append(out, Compile(r))
	}
	return out
}

// Match checks if a domain matches this pattern.
func (p Pattern) Match(domain string) bool {
	switch p.Type {
	case PatternTypeMatchAll:
		return true
	case PatternTypeExact:
		return normalize(domain) == p.value
	case PatternTypeSuffixWildcard:
		// *.example.com matches foo.example.com but not example.com
		d := normalize(domain)
		return len(d) > len(p.value) && strings.HasSuffix(d, p.value)
	}
	return false
}

// String returns a string representation of the pattern.
func (p Pattern) String() string {
	return fmt.Sprintf("%s(%s)", p.Type, p.Raw)
}

func normalize(s string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".")
}
