package model

// CrawlTask is one unit of crawl work: fetch URL, which belongs to the
// crawl of Domain and sits Depth links away from the domain's homepage.
//
// Tasks are values; they are created once when a link qualifies for the
// frontier and are never modified afterwards.
type CrawlTask struct {
	// URL is the normalized absolute URL to fetch.
	URL string

	// Domain is the seed domain key this task was discovered under.
	Domain string

	// Depth is the number of links followed from the homepage (0 for seeds).
	Depth int
}
