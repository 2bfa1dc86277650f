// Package crawler discovers product-like URLs by crawling e-commerce sites.
//
// # Architecture
//
// The package is built around three pieces of state and one driver:
//
//   - Frontier: per-domain queues of pending CrawlTasks plus the visited
//     ledger that keeps a URL from entering a domain's queue twice
//   - ResultStore: per-domain, insertion-ordered, deduplicated product URLs
//   - Parser: extracts absolute link targets from fetched HTML
//   - Engine: a fixed pool of workers that pull tasks from the Frontier,
//     fetch them, classify the extracted links, and push same-domain links
//     back into the Frontier one level deeper
//
// The Engine does not know how pages are fetched. It depends on the Fetcher
// interface, which the fetch package implements with a direct HTTP client and
// a headless browser.
//
// # Termination
//
// The crawl ends when the Frontier is drained: no task is pending and no task
// is in flight. Depth and per-domain URL budgets bound the traversal, so a
// crawl always terminates. Cancelling the context closes the Frontier; workers
// finish the page they are on and exit, and whatever was found so far is the
// result.
//
// # Errors
//
// Per-URL problems (FetchError, ParseError) are logged and contained. Only a
// ConfigError (before any fetch) or a PersistError (after the crawl) reach the
// caller.
//
// # Usage
//
//	engine := crawler.NewEngine(fetcher, classifier.New(),
//	    crawler.WithMaxDepth(3),
//	    crawler.WithConcurrency(8),
//	)
//	store, err := engine.Run(ctx, []string{"shop.example"})
package crawler
