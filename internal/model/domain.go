package model

import (
	"errors"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Domain errors.
var (
	// ErrEmptyDomain is returned when the domain is empty.
	ErrEmptyDomain = errors.New("domain cannot be empty")
	// ErrInvalidDomain is returned when the domain cannot be parsed as a host.
	ErrInvalidDomain = errors.New("invalid domain format")
	// ErrPublicSuffix is returned when the domain is a bare public suffix
	// such as "com" or "co.uk", which would put every site under it in scope.
	ErrPublicSuffix = errors.New("domain is a public suffix")
)

// DefaultScheme is used for seeds given without a scheme.
const DefaultScheme = "https"

// Domain is an immutable value object representing one seed of a crawl.
// The key is what results are grouped by; the start URL is the homepage
// the crawl of this domain begins from.
type Domain struct {
	key      string // lowercase host[:port]
	hostname string // lowercase host without port
	startURL string // normalized homepage URL
}

// NewDomain parses a seed. A bare domain ("shop.example") is turned into
// scheme://domain/; a seed that already carries a scheme
// ("http://127.0.0.1:8080/") is kept and its host becomes the key.
func NewDomain(seed, scheme string) (Domain, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return Domain{}, ErrEmptyDomain
	}
	if scheme == "" {
		scheme = DefaultScheme
	}

	raw := seed
	if !strings.Contains(seed, "://") {
		raw = scheme + "://" + seed
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return Domain{}, ErrInvalidDomain
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Domain{}, ErrInvalidDomain
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return Domain{}, ErrInvalidDomain
	}
	if isPublicSuffix(hostname) {
		return Domain{}, ErrPublicSuffix
	}

	start, err := NormalizeURL(u.String())
	if err != nil {
		return Domain{}, ErrInvalidDomain
	}

	return Domain{
		key:      strings.ToLower(u.Host),
		hostname: hostname,
		startURL: start,
	}, nil
}

// isPublicSuffix reports whether hostname is itself an effective TLD.
// IP addresses and private names like "localhost" are allowed.
func isPublicSuffix(hostname string) bool {
	if net.ParseIP(hostname) != nil {
		return false
	}
	suffix, icann := publicsuffix.PublicSuffix(hostname)
	return icann && suffix == hostname
}

// String returns the domain key.
func (d Domain) String() string {
	return d.key
}

// Hostname returns the domain without port.
func (d Domain) Hostname() string {
	return d.hostname
}

// StartURL returns the normalized homepage URL for this domain.
func (d Domain) StartURL() string {
	return d.startURL
}

// IsZero returns true if this is the zero value.
func (d Domain) IsZero() bool {
	return d.key == ""
}

// Contains reports whether rawURL points at this domain or one of its
// subdomains. Ports are ignored.
func (d Domain) Contains(rawURL string) bool {
	return InScope(rawURL, d.hostname)
}

// InScope reports whether rawURL's host equals domain or is a subdomain
// of it. domain may carry a port, which is ignored, as is the URL's port.
// Unparsable URLs are never in scope.
func InScope(rawURL, domain string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}

	base := strings.ToLower(domain)
	if h, _, err := net.SplitHostPort(base); err == nil {
		base = h
	}
	if base == "" {
		return false
	}

	return host == base || strings.HasSuffix(host, "."+base)
}
