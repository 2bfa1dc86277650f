package model

import (
	"sort"
	"time"
)

// CrawlStats contains counters collected during a crawl.
type CrawlStats struct {
	// PagesFetched is the number of pages that were fetched successfully.
	PagesFetched int `json:"pagesFetched"`

	// FetchFailures is the number of tasks skipped because the fetch failed.
	FetchFailures int `json:"fetchFailures"`

	// LinksSeen is the number of links extracted across all pages.
	LinksSeen int `json:"linksSeen"`

	// URLsEnqueued is the number of tasks that entered the frontier,
	// seeds included.
	URLsEnqueued int `json:"urlsEnqueued"`

	// Cancelled is true when the crawl stopped before the frontier drained.
	Cancelled bool `json:"cancelled"`
}

// CrawlResult is the outcome of one crawl run, handed to sinks once the
// crawl has finished.
type CrawlResult struct {
	// RunID uniquely identifies the run.
	RunID string `json:"runId"`

	// StartedAt is when the crawl started.
	StartedAt time.Time `json:"startedAt"`

	// FinishedAt is when the last worker exited.
	FinishedAt time.Time `json:"finishedAt"`

	// Seeds are the domain keys the crawl started from.
	Seeds []string `json:"seeds"`

	// Products maps a domain key to its product URLs in discovery order.
	Products map[string][]string `json:"products"`

	// Stats contains crawl counters.
	Stats CrawlStats `json:"stats"`
}

// Domains returns the domain keys of Products in sorted order.
func (r *CrawlResult) Domains() []string {
	domains := make([]string, 0, len(r.Products))
	for d := range r.Products {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// TotalProducts returns the number of product URLs across all domains.
func (r *CrawlResult) TotalProducts() int {
	total := 0
	for _, urls := range r.Products {
		total += len(urls)
	}
	return total
}

// Duration returns how long the crawl took.
func (r *CrawlResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
