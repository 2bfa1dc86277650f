package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/semaphore"

	"github.com/nao1215/prodcrawl/internal/crawler"
)

// ErrBrowserClosed is returned by BrowserFetcher.Fetch after Close.
var ErrBrowserClosed = errors.New("browser is closed")

// BrowserFetcher renders pages in headless Chromium.
//
// The browser is launched on the first Fetch and shared by all workers;
// every Fetch opens its own tab. The number of open tabs is bounded so a
// large worker pool does not exhaust the browser.
type BrowserFetcher struct {
	// bin is the Chromium binary. Empty means let the launcher find or
	// download one.
	bin string

	// controlURL connects to an already running browser instead of
	// launching one.
	controlURL string

	// downloadDir is where a Chromium build is downloaded when neither bin
	// is set nor a system browser is found. Empty uses rod's default.
	downloadDir string

	// proxyServer is passed to Chromium's --proxy-server flag.
	proxyServer string

	headless    bool
	userAgent   string
	pageTimeout time.Duration
	stableWait  time.Duration
	tabs        *semaphore.Weighted
	logger      *slog.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
	closed   bool
}

// BrowserOption configures a BrowserFetcher.
type BrowserOption func(*BrowserFetcher)

// WithBrowserBin sets the Chromium binary path.
func WithBrowserBin(path string) BrowserOption {
	return func(b *BrowserFetcher) {
		b.bin = path
	}
}

// WithDownloadDir sets the directory a Chromium build is downloaded to
// when no browser is installed.
func WithDownloadDir(dir string) BrowserOption {
	return func(b *BrowserFetcher) {
		b.downloadDir = dir
	}
}

// WithBrowserProxy routes the launched browser through proxyURL. It has no
// effect with WithControlURL.
func WithBrowserProxy(proxyURL *url.URL) BrowserOption {
	return func(b *BrowserFetcher) {
		if proxyURL != nil {
			b.proxyServer = browserProxyServer(proxyURL)
		}
	}
}

// WithControlURL connects to a running browser's DevTools endpoint.
func WithControlURL(u string) BrowserOption {
	return func(b *BrowserFetcher) {
		b.controlURL = u
	}
}

// WithHeadless controls whether the browser window is hidden.
func WithHeadless(headless bool) BrowserOption {
	return func(b *BrowserFetcher) {
		b.headless = headless
	}
}

// WithBrowserUserAgent overrides the browser's User-Agent.
func WithBrowserUserAgent(ua string) BrowserOption {
	return func(b *BrowserFetcher) {
		b.userAgent = ua
	}
}

// WithPageTimeout bounds navigation plus rendering of one page.
func WithPageTimeout(d time.Duration) BrowserOption {
	return func(b *BrowserFetcher) {
		b.pageTimeout = d
	}
}

// WithStableWait sets how long the DOM must stay unchanged before the
// page is considered rendered.
func WithStableWait(d time.Duration) BrowserOption {
	return func(b *BrowserFetcher) {
		b.stableWait = d
	}
}

// WithMaxTabs bounds the number of concurrently open tabs.
func WithMaxTabs(n int) BrowserOption {
	return func(b *BrowserFetcher) {
		if n > 0 {
			b.tabs = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithBrowserLogger sets the logger.
func WithBrowserLogger(logger *slog.Logger) BrowserOption {
	return func(b *BrowserFetcher) {
		b.logger = logger
	}
}

// NewBrowserFetcher creates a BrowserFetcher. No browser is started until
// the first Fetch.
func NewBrowserFetcher(opts ...BrowserOption) *BrowserFetcher {
	b := &BrowserFetcher{
		headless:    true,
		pageTimeout: 30 * time.Second,
		stableWait:  time.Second,
		tabs:        semaphore.NewWeighted(4),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.logger == nil {
		b.logger = slog.Default()
	}

	return b
}

// Fetch implements crawler.Fetcher. It returns the serialized DOM after the
// page has loaded and settled.
func (b *BrowserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if err := b.tabs.Acquire(ctx, 1); err != nil {
		return "", &crawler.FetchError{URL: url, Err: err}
	}
	defer b.tabs.Release(1)

	browser, err := b.connect()
	if err != nil {
		return "", &crawler.FetchError{URL: url, Err: err}
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", &crawler.FetchError{URL: url, Err: fmt.Errorf("failed to open tab: %w", err)}
	}
	defer func() {
		if err := page.Close(); err != nil {
			b.logger.Debug("failed to close tab", "url", url, "error", err)
		}
	}()

	if b.userAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.userAgent}); err != nil {
			return "", &crawler.FetchError{URL: url, Err: err}
		}
	}

	p := page.Timeout(b.pageTimeout)
	if err := p.Navigate(url); err != nil {
		return "", &crawler.FetchError{URL: url, Err: fmt.Errorf("navigation failed: %w", err)}
	}
	if err := p.WaitLoad(); err != nil {
		return "", &crawler.FetchError{URL: url, Err: fmt.Errorf("page did not load: %w", err)}
	}
	// A page that keeps animating never becomes stable; use what is there.
	if err := p.WaitStable(b.stableWait); err != nil {
		b.logger.Debug("page did not settle", "url", url, "error", err)
	}

	html, err := p.HTML()
	if err != nil {
		return "", &crawler.FetchError{URL: url, Err: fmt.Errorf("failed to read DOM: %w", err)}
	}
	return html, nil
}

// connect returns the shared browser, launching it on first use.
func (b *BrowserFetcher) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrowserClosed
	}
	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.controlURL
	if controlURL == "" {
		bin, err := b.resolveBin()
		if err != nil {
			return nil, err
		}
		l := launcher.New().Headless(b.headless)
		if bin != "" {
			l = l.Bin(bin)
		}
		if b.proxyServer != "" {
			l = l.Proxy(b.proxyServer)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		b.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		b.cleanupLauncher()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	// Product pages sometimes link PDFs or price lists; never save them.
	err := proto.BrowserSetDownloadBehavior{
		Behavior:         proto.BrowserSetDownloadBehaviorBehaviorDeny,
		BrowserContextID: browser.BrowserContextID,
	}.Call(browser)
	if err != nil {
		b.logger.Warn("failed to disable downloads", "error", err)
	}

	b.logger.Debug("browser started", "controlURL", controlURL)
	b.browser = browser
	return browser, nil
}

// resolveBin returns the browser binary to launch. Empty means let the
// launcher decide.
func (b *BrowserFetcher) resolveBin() (string, error) {
	if b.bin != "" {
		return b.bin, nil
	}
	if path, found := launcher.LookPath(); found {
		return path, nil
	}
	if b.downloadDir == "" {
		return "", nil
	}

	dl := launcher.NewBrowser()
	dl.RootDir = b.downloadDir
	b.logger.Info("downloading browser", "dir", b.downloadDir)
	path, err := dl.Get()
	if err != nil {
		return "", fmt.Errorf("failed to download browser: %w", err)
	}
	return path, nil
}

// Close shuts the browser down. It is safe to call more than once, and
// safe to call when no page was ever fetched.
func (b *BrowserFetcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	b.cleanupLauncher()
	return err
}

// cleanupLauncher kills a launched browser process. b.mu must be held.
func (b *BrowserFetcher) cleanupLauncher() {
	if b.launcher != nil {
		b.launcher.Cleanup()
		b.launcher = nil
	}
}
