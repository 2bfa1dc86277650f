// Package config provides configuration structures and utilities for
// prodcrawl. It defines the crawl bounds, fetcher settings, output
// destinations and the per-site YAML configuration file.
package config
