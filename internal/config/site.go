package config

import (
	"fmt"
	"maps"
	"strings"
)

// SiteConfig holds site-specific configuration for a single shop domain.
// This allows customizing crawl behavior per shop.
type SiteConfig struct {
	// Cookie is an HTTP cookie to use when crawling this site, for example a
	// consent or region cookie. Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers to include in requests to this site.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Depth overrides the global crawl depth for this site. Nil keeps the
	// global depth; 0 crawls the seed page only.
	Depth *int `yaml:"depth,omitempty"`

	// MaxURLs overrides the global per-domain budget for this site. Nil
	// keeps the global budget; 0 means unlimited.
	MaxURLs *int `yaml:"maxURLs,omitempty"`
}

// File represents the structure of the .prodcrawl configuration file.
//
//	patterns: ["/product/", "/item/", "/p/"]
//	defaults:
//	  headers:
//	    Accept-Language: en-US
//	sites:
//	  shop.example:
//	    cookie: "consent=yes"
//	    depth: 5
type File struct {
	// Sites maps domains to their site-specific configurations.
	// Keys are the domain without the scheme (e.g., "shop.example").
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults contains default site configuration applied to all sites
	// unless overridden in the site-specific configuration.
	Defaults SiteConfig `yaml:"defaults,omitempty"`

	// Patterns replace the built-in product URL substrings.
	Patterns []string `yaml:"patterns,omitempty"`
}

// GetSiteConfig returns the configuration for a specific domain.
// It merges the site-specific configuration with defaults. Domain keys are
// matched case-insensitively.
func (cf *File) GetSiteConfig(domain string) SiteConfig {
	result := cf.Defaults
	result.Headers = maps.Clone(cf.Defaults.Headers)

	siteConfig, ok := cf.lookup(domain)
	if !ok {
		return result
	}

	if siteConfig.Cookie != "" {
		result.Cookie = siteConfig.Cookie
	}
	if siteConfig.Depth != nil {
		result.Depth = siteConfig.Depth
	}
	if siteConfig.MaxURLs != nil {
		result.MaxURLs = siteConfig.MaxURLs
	}
	if len(siteConfig.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string)
		}
		maps.Copy(result.Headers, siteConfig.Headers)
	}

	return result
}

// HasSite reports whether the file has an entry for domain.
func (cf *File) HasSite(domain string) bool {
	_, ok := cf.lookup(domain)
	return ok
}

// lookup finds the entry for domain, trying an exact key first.
func (cf *File) lookup(domain string) (SiteConfig, bool) {
	if sc, ok := cf.Sites[domain]; ok {
		return sc, true
	}
	for key, sc := range cf.Sites {
		if strings.EqualFold(key, domain) {
			return sc, true
		}
	}
	return SiteConfig{}, false
}

// Validate rejects negative depth or budget values.
func (cf *File) Validate() error {
	if !cf.Defaults.valid() {
		return fmt.Errorf("%w: defaults", ErrInvalidSiteConfig)
	}
	for domain, sc := range cf.Sites {
		if !sc.valid() {
			return fmt.Errorf("%w: %s", ErrInvalidSiteConfig, domain)
		}
	}
	return nil
}

func (sc SiteConfig) valid() bool {
	return (sc.Depth == nil || *sc.Depth >= 0) && (sc.MaxURLs == nil || *sc.MaxURLs >= 0)
}
