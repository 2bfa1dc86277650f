package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/nao1215/prodcrawl/internal/crawler"
	"github.com/nao1215/prodcrawl/internal/model"
)

// DefaultUserAgent mimics a desktop browser. Many shops serve a reduced page
// (or a bot wall) to unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

// DefaultMaxBodySize limits how much of a response is read.
const DefaultMaxBodySize = 10 * 1024 * 1024 // 10MB

// SiteOptions are request settings for one site. They apply to the host
// they are registered for and all of its subdomains.
type SiteOptions struct {
	// Cookie is sent verbatim as the Cookie header.
	Cookie string

	// Headers are added to every request.
	Headers map[string]string
}

// HTTPFetcher fetches pages with a single shared http.Client.
//
// Design decision: requests to the same host are spaced by the crawl delay
// with a token bucket per host rather than one global limiter, so a slow
// shop does not throttle the others.
type HTTPFetcher struct {
	client      *http.Client
	transport   http.RoundTripper
	userAgent   string
	maxBodySize int64
	timeout     time.Duration
	crawlDelay  time.Duration
	sites       map[string]SiteOptions
	logger      *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		f.client = client
	}
}

// WithTransport sets the transport of the default client, for example one
// built by NewProxyTransport. It is ignored when WithHTTPClient is given.
func WithTransport(rt http.RoundTripper) HTTPOption {
	return func(f *HTTPFetcher) {
		f.transport = rt
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(f *HTTPFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithMaxBodySize sets the maximum number of body bytes read per page.
func WithMaxBodySize(size int64) HTTPOption {
	return func(f *HTTPFetcher) {
		f.maxBodySize = size
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		f.timeout = timeout
	}
}

// WithCrawlDelay sets the minimum interval between two requests to the same
// host. 0 disables the delay.
func WithCrawlDelay(delay time.Duration) HTTPOption {
	return func(f *HTTPFetcher) {
		f.crawlDelay = delay
	}
}

// WithSiteOptions registers cookie and header settings for host.
func WithSiteOptions(host string, opts SiteOptions) HTTPOption {
	return func(f *HTTPFetcher) {
		f.sites[strings.ToLower(host)] = opts
	}
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(f *HTTPFetcher) {
		f.logger = logger
	}
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		userAgent:   DefaultUserAgent,
		maxBodySize: DefaultMaxBodySize,
		timeout:     30 * time.Second,
		sites:       make(map[string]SiteOptions),
		limiters:    make(map[string]*rate.Limiter),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		f.client = &http.Client{
			Transport: f.transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after %d redirects", len(via))
				}
				return nil
			},
		}
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}

	return f
}

// Fetch implements crawler.Fetcher. Every failure is a *crawler.FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", &crawler.FetchError{URL: rawURL, Err: err}
	}
	host := strings.ToLower(u.Hostname())

	if err := f.wait(ctx, host); err != nil {
		return "", &crawler.FetchError{URL: rawURL, Err: err}
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &crawler.FetchError{URL: rawURL, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	if site, ok := f.siteFor(host); ok {
		for k, v := range site.Headers {
			req.Header.Set(k, v)
		}
		if site.Cookie != "" {
			req.Header.Set("Cookie", site.Cookie)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &crawler.FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain a little so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck // best effort
		return "", &crawler.FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: crawler.ErrUnexpectedStatus}
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return "", &crawler.FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %s", crawler.ErrNotHTML, contentType)}
	}

	var body io.Reader = io.LimitReader(resp.Body, f.maxBodySize)
	if decoded, err := charset.NewReader(body, contentType); err == nil {
		body = decoded
	} else {
		f.logger.Debug("unknown charset, reading raw body", "url", rawURL, "contentType", contentType, "error", err)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", &crawler.FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	return string(data), nil
}

// wait blocks until host may be requested again.
func (f *HTTPFetcher) wait(ctx context.Context, host string) error {
	if f.crawlDelay <= 0 {
		return ctx.Err()
	}

	f.mu.Lock()
	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(f.crawlDelay), 1)
		f.limiters[host] = limiter
	}
	f.mu.Unlock()

	return limiter.Wait(ctx)
}

// siteFor finds the settings registered for host or its closest parent.
func (f *HTTPFetcher) siteFor(host string) (SiteOptions, bool) {
	var (
		best    SiteOptions
		bestLen = -1
	)
	for key, opts := range f.sites {
		if model.InScope("http://"+host+"/", key) && len(key) > bestLen {
			best, bestLen = opts, len(key)
		}
	}
	return best, bestLen >= 0
}

// isHTML reports whether contentType may hold links. An empty type is
// accepted because many servers omit it.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
