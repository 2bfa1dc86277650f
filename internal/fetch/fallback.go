package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/prodcrawl/internal/crawler"
)

// Render modes accepted by NewFetcher.
const (
	RenderStatic   = "static"
	RenderHeadless = "headless"
	RenderAuto     = "auto"
)

// ErrUnknownRenderMode is returned by NewFetcher for an unsupported mode.
var ErrUnknownRenderMode = errors.New("unknown render mode")

// FallbackFetcher tries a static fetch first and renders the page in a
// browser only when the static HTML has no followable links, which is what
// a client-side rendered storefront looks like to a plain GET.
type FallbackFetcher struct {
	static   crawler.Fetcher
	renderer crawler.Fetcher
	logger   *slog.Logger
}

// NewFallbackFetcher creates a FallbackFetcher.
func NewFallbackFetcher(static, renderer crawler.Fetcher, logger *slog.Logger) *FallbackFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackFetcher{static: static, renderer: renderer, logger: logger}
}

// Fetch implements crawler.Fetcher.
func (f *FallbackFetcher) Fetch(ctx context.Context, url string) (string, error) {
	body, err := f.static.Fetch(ctx, url)
	if err != nil {
		var fetchErr *crawler.FetchError
		// the page exists but is not what we want; a browser will not help
		if errors.As(err, &fetchErr) && fetchErr.StatusCode != 0 {
			return "", err
		}
		f.logger.Debug("static fetch failed, rendering", "url", url, "error", err)
		return f.renderer.Fetch(ctx, url)
	}

	links, err := crawler.ExtractLinks(url, body)
	if err == nil && len(links) > 0 {
		return body, nil
	}

	f.logger.Debug("no links in static HTML, rendering", "url", url)
	rendered, err := f.renderer.Fetch(ctx, url)
	if err != nil {
		// keep the static page rather than losing it entirely
		f.logger.Debug("render failed, using static HTML", "url", url, "error", err)
		return body, nil
	}
	return rendered, nil
}

// Closer is implemented by fetchers that hold resources.
type Closer interface {
	Close() error
}

// Close releases the renderer if it holds resources.
func (f *FallbackFetcher) Close() error {
	if c, ok := f.renderer.(Closer); ok {
		return c.Close()
	}
	return nil
}

// NewFetcher builds the fetcher for a render mode. The returned close
// function must be called when the crawl is over.
func NewFetcher(mode string, httpFetcher *HTTPFetcher, browser *BrowserFetcher, logger *slog.Logger) (crawler.Fetcher, func() error, error) {
	noop := func() error { return nil }

	switch mode {
	case RenderStatic, "":
		return httpFetcher, noop, nil
	case RenderHeadless:
		return browser, browser.Close, nil
	case RenderAuto:
		fb := NewFallbackFetcher(httpFetcher, browser, logger)
		return fb, fb.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: %q (want %s, %s or %s)", ErrUnknownRenderMode, mode, RenderStatic, RenderHeadless, RenderAuto)
	}
}
