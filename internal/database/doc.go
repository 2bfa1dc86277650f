// Package database provides SQLite-based crawl history for prodcrawl.
//
// This package implements the CrawlDB, which stores:
//   - One row per crawl run with its timing and counters
//   - The product URLs each run found, per domain and in discovery order
//
// Comparing two runs of the same domain shows which products appeared or
// disappeared from a shop.
//
// Design decision: We use SQLite (via modernc.org/sqlite) instead of other
// databases because:
// 1. No external dependencies - the database is a single file
// 2. CGO-free implementation allows easy cross-compilation
// 3. WAL mode provides good concurrent read performance
package database
