package crawler

import (
	"context"

	"github.com/nao1215/prodcrawl/internal/model"
)

// Fetcher returns the HTML of a page.
//
// Implementations decide how the page is obtained (plain HTTP or a headless
// browser). Failures should be returned as *FetchError, but the Engine treats
// any error as a skipped URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (string, error)

// Fetch calls f(ctx, url).
func (f FetcherFunc) Fetch(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// Classifier decides whether a URL is product-like.
type Classifier interface {
	Classify(url string) bool
}

// Sink persists the result of a finished crawl.
type Sink interface {
	Write(ctx context.Context, result *model.CrawlResult) error
}
