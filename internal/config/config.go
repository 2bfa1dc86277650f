package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "prodcrawl"

	// DefaultDepth follows links three levels away from the homepage, which
	// reaches product pages through a category and a listing page on most shops.
	DefaultDepth = 3

	// DefaultMaxURLs caps both the pages enqueued and the product URLs
	// recorded per domain.
	DefaultMaxURLs = 1000

	// DefaultConcurrency is the number of crawl workers.
	DefaultConcurrency = 4

	// DefaultTimeout is the per-request timeout for static fetches and the
	// per-page timeout for headless rendering.
	DefaultTimeout = 30 * time.Second

	// DefaultCrawlDelay is the minimum interval between two requests to the
	// same host. Shops rate limit aggressively and a banned crawler finds
	// nothing.
	DefaultCrawlDelay = 250 * time.Millisecond

	// DefaultMaxBodySize limits the response body size read per page.
	DefaultMaxBodySize = 10 * 1024 * 1024 // 10MB

	// DefaultOutputFile is where the domain to product URL mapping is written.
	DefaultOutputFile = "product_urls.json"

	// DefaultScheme is used for seeds given as bare domains.
	DefaultScheme = "https"

	// DefaultRenderMode fetches pages without a browser.
	DefaultRenderMode = RenderStatic

	// DefaultRedisPrefix namespaces every key written to Redis.
	DefaultRedisPrefix = "prodcrawl:"
)

// Render modes accepted by Config.RenderMode.
const (
	// RenderStatic fetches raw HTML over HTTP.
	RenderStatic = "static"
	// RenderHeadless renders every page in headless Chromium.
	RenderHeadless = "headless"
	// RenderAuto fetches statically and renders only pages without links.
	RenderAuto = "auto"
)

// RenderModes lists the valid render modes.
var RenderModes = []string{RenderStatic, RenderHeadless, RenderAuto}

// Config holds all configuration options for prodcrawl.
// This struct is populated from CLI flags, environment variables and the
// config file, then passed through the application via dependency injection
// rather than global state.
//
// Design decision: We use a single flat struct instead of nested structs
// (e.g., CrawlConfig, OutputConfig) for simplicity. The number of options
// is manageable, and nesting would add complexity without significant benefit.
type Config struct {
	// Targets is the list of seed domains. A bare domain ("shop.example") is
	// crawled over https; a full URL keeps its scheme and port.
	Targets []string

	// Scheme is used for seeds given as bare domains: http or https.
	Scheme string

	// Depth is the maximum number of links followed from a homepage.
	// Depth 0 means only fetch the homepages.
	Depth int

	// MaxURLs is the per-domain budget. 0 means unlimited.
	MaxURLs int

	// Concurrency is the number of pages fetched at the same time.
	Concurrency int

	// Timeout is the timeout for each request or rendered page.
	Timeout time.Duration

	// TimeBudget bounds the whole crawl. When it is spent the crawl stops
	// and whatever was found so far is written. 0 means no limit.
	TimeBudget time.Duration

	// CrawlDelay is the minimum interval between requests to the same host.
	CrawlDelay time.Duration

	// UserAgent overrides the browser-like User-Agent sent by the fetchers.
	// Empty keeps the default.
	UserAgent string

	// MaxBodySize is the maximum response body size in bytes to read.
	// Set to 0 to use the default.
	MaxBodySize int64

	// RenderMode is one of RenderModes.
	RenderMode string

	// Proxy routes every request through a SOCKS5 or HTTP proxy. A bare
	// "host:port" is a SOCKS5 proxy. Empty connects directly.
	Proxy string

	// BrowserBin is the Chromium binary used for headless rendering.
	// Empty lets the launcher find or download one.
	BrowserBin string

	// BrowserURL connects to a running browser's DevTools endpoint instead
	// of launching one. Empty launches a browser.
	BrowserURL string

	// ShowBrowser opens a visible browser window. Useful to watch a page
	// that renders differently than expected.
	ShowBrowser bool

	// Patterns replace the built-in product URL substrings when non-empty.
	Patterns []string

	// OutputFile is the JSON file receiving the domain to product URL mapping.
	OutputFile string

	// JSONMetadata wraps the URL mapping with the run ID, timing and counters.
	JSONMetadata bool

	// CompactJSON writes the output file without indentation.
	CompactJSON bool

	// MarkdownFile is an optional Markdown report path.
	MarkdownFile string

	// MarkdownMaxURLs caps the URLs listed per domain in the Markdown
	// report. 0 lists all of them.
	MarkdownMaxURLs int

	// NoHistory disables saving the run to the history database.
	NoHistory bool

	// DBDir is the directory of the history database.
	// Defaults to XDG data directory (~/.local/share/prodcrawl on Linux).
	DBDir string

	// RedisAddr enables the Redis sink when set ("host:port").
	RedisAddr string

	// RedisPrefix namespaces the Redis keys.
	RedisPrefix string

	// RedisTTL expires the Redis keys. 0 keeps them forever.
	RedisTTL time.Duration

	// KafkaBroker enables the Kafka sink when set ("host:port").
	KafkaBroker string

	// KafkaTopic is the topic the Kafka sink publishes to.
	KafkaTopic string

	// Verbose enables detailed log output using slog.LevelDebug.
	// When false, only warnings and errors are logged.
	Verbose bool

	// LogJSON writes log records as JSON lines instead of text.
	LogJSON bool

	// ConfigFilePath is the path to the configuration file.
	// If empty, the tool searches for .prodcrawl in the current directory
	// and then in the user's home directory.
	ConfigFilePath string

	// SiteConfigs holds site-specific configurations loaded from the config file.
	SiteConfigs *File
}

// NewConfig creates a new Config with default values.
//
// Design decision: We use a constructor function instead of relying on
// zero values because many defaults are non-zero (e.g., depth, timeout).
// This also serves as documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		Scheme:      DefaultScheme,
		Depth:       DefaultDepth,
		MaxURLs:     DefaultMaxURLs,
		Concurrency: DefaultConcurrency,
		Timeout:     DefaultTimeout,
		CrawlDelay:  DefaultCrawlDelay,
		MaxBodySize: DefaultMaxBodySize,
		RenderMode:  DefaultRenderMode,
		OutputFile:  DefaultOutputFile,
		RedisPrefix: DefaultRedisPrefix,
		DBDir:       XDGDataDir(),
	}
}

// XDGDataDir returns the XDG data directory for prodcrawl.
// On Linux: ~/.local/share/prodcrawl
// On macOS: ~/Library/Application Support/prodcrawl
// On Windows: %LOCALAPPDATA%\prodcrawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for prodcrawl.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for prodcrawl. The headless
// browser keeps its downloaded Chromium here.
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// ApplyFile merges a loaded config file into c. The file's patterns are used
// only when none were given on the command line.
func (c *Config) ApplyFile(f *File) {
	if f == nil {
		return
	}
	c.SiteConfigs = f
	if len(c.Patterns) == 0 && len(f.Patterns) > 0 {
		c.Patterns = slices.Clone(f.Patterns)
	}
}

// Validate checks if the configuration is valid.
// It returns a specific error describing what is invalid.
//
// Design decision: We validate at the config level rather than at each
// point of use to fail fast and provide clear error messages upfront.
// This is called once after CLI parsing, before anything is fetched.
//
// We chose to return the first error found rather than collecting all errors
// because fixing one error often makes others irrelevant.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return ErrNoTarget
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrInvalidScheme, c.Scheme)
	}
	if c.Depth < 0 {
		return ErrInvalidDepth
	}
	if c.MaxURLs < 0 {
		return ErrInvalidMaxURLs
	}
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.TimeBudget < 0 {
		return ErrInvalidTimeBudget
	}
	if c.CrawlDelay < 0 {
		return ErrInvalidCrawlDelay
	}
	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}
	if !slices.Contains(RenderModes, c.RenderMode) {
		return fmt.Errorf("%w: %q", ErrInvalidRenderMode, c.RenderMode)
	}
	if c.MarkdownMaxURLs < 0 {
		return ErrInvalidMarkdownMaxURLs
	}
	if c.RedisTTL < 0 {
		return ErrInvalidRedisTTL
	}
	if c.KafkaBroker != "" && c.KafkaTopic == "" {
		return ErrKafkaTopicRequired
	}
	if c.SiteConfigs != nil {
		if err := c.SiteConfigs.Validate(); err != nil {
			return err
		}
	}
	return nil
}
