// Package classifier decides whether a URL looks like a product page.
package classifier

import (
	"net/url"
	"strings"
)

// DefaultPatterns are the substrings that mark a URL as product-like.
//
// The heuristic is deliberately coarse: "shop" also matches "workshop" or
// "/shopping-cart". It is kept as-is so results stay comparable between runs.
var DefaultPatterns = []string{"/product/", "/item/", "shop"}

// Classifier tags URLs as product-like by substring matching.
// A Classifier is immutable and safe for concurrent use.
type Classifier struct {
	patterns []string
}

// New creates a Classifier matching any of patterns.
// With no patterns, DefaultPatterns is used. Empty strings are ignored.
func New(patterns ...string) *Classifier {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	c := &Classifier{patterns: make([]string, 0, len(patterns))}
	for _, p := range patterns {
		if p != "" {
			c.patterns = append(c.patterns, p)
		}
	}
	return c
}

// Patterns returns a copy of the configured substrings.
func (c *Classifier) Patterns() []string {
	out := make([]string, len(c.patterns))
	copy(out, c.patterns)
	return out
}

// Classify reports whether the decoded path or query of rawURL contains any
// of the configured substrings. Matching is case-sensitive. The host is not
// inspected. Unparsable URLs are never product-like.
func (c *Classifier) Classify(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	path := u.Path
	query, err := url.QueryUnescape(u.RawQuery)
	if err != nil {
		query = u.RawQuery
	}

	for _, p := range c.patterns {
		if strings.Contains(path, p) || strings.Contains(query, p) {
			return true
		}
	}
	return false
}
