// Package model defines the core data structures shared by the crawler,
// the fetchers, and the sinks.
//
// This package contains the following main types:
//   - Domain: A validated seed domain that keys the frontier and results
//   - CrawlTask: One unit of crawl work (URL, owning domain, depth)
//   - CrawlResult: The persisted outcome of a crawl run
//
// Design decision: We separate models into their own package to avoid circular
// dependencies. The crawler, fetch, sink and database packages all need these
// types, so centralizing them prevents import cycles.
package model
