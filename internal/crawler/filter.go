package crawler

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter applies a case-insensitive pattern to locators and canonicalizes the
// ones that pass. It holds no mutable state and is safe for concurrent use.
type Filter struct {
	pattern *regexp.Regexp
}

// NewFilter compiles pattern as a case-insensitive regular expression. A plain
// substring such as "/products/" is a valid pattern.
func NewFilter(pattern string) (*Filter, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("filter pattern is required")
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("compile filter pattern %q: %w", pattern, err)
	}
	return &Filter{pattern: re}, nil
}

// Pattern returns the source expression without the case-insensitivity flag.
func (f *Filter) Pattern() string {
	return strings.TrimPrefix(f.pattern.String(), "(?i)")
}

// Matches reports whether locator satisfies the pattern.
func (f *Filter) Matches(locator string) bool {
	return locator != "" && f.pattern.MatchString(locator)
}

// Accept returns the canonical form of locator when it matches the pattern.
func (f *Filter) Accept(locator string) (CanonicalID, bool) {
	if !f.Matches(locator) {
		return "", false
	}
	id := Canonicalize(locator)
	if id == "" {
		return "", false
	}
	return id, true
}

// Canonicalize drops everything from the first '?' onward, then strips any
// trailing '/' characters.
func Canonicalize(locator string) CanonicalID {
	if i := strings.IndexByte(locator, '?'); i >= 0 {
		locator = locator[:i]
	}
	return CanonicalID(strings.TrimRight(locator, "/"))
}
