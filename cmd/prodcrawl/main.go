// Package main provides the entry point for the prodcrawl CLI.
//
// prodcrawl crawls e-commerce sites from their homepages and writes the
// product page URLs it finds, grouped by domain.
//
// Usage:
//
//	prodcrawl crawl <domain>...
//	prodcrawl crawl --list <file>
//	prodcrawl history [domain]
//
// See --help for all available options.
package main

func main() {
	Execute()
}
