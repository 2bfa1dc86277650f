package model

import (
	"errors"
	"net/url"
	"strings"
)

// ErrNotAbsoluteURL is returned by NormalizeURL for relative references.
var ErrNotAbsoluteURL = errors.New("url is not absolute")

// NormalizeURL returns the canonical form of an absolute URL used for
// deduplication: scheme and host are lowercased, the fragment is dropped,
// and an empty path becomes "/". Path and query are kept as they are.
//
// NormalizeURL is idempotent.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", ErrNotAbsoluteURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	// http://example.com and http://example.com/ are the same page
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}

	return u.String(), nil
}
