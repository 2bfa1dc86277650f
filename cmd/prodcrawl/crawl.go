package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nao1215/prodcrawl/internal/classifier"
	"github.com/nao1215/prodcrawl/internal/config"
	"github.com/nao1215/prodcrawl/internal/crawler"
	"github.com/nao1215/prodcrawl/internal/database"
	"github.com/nao1215/prodcrawl/internal/fetch"
	"github.com/nao1215/prodcrawl/internal/log"
	"github.com/nao1215/prodcrawl/internal/model"
	"github.com/nao1215/prodcrawl/internal/report"
	"github.com/nao1215/prodcrawl/internal/sink"
)

// envPrefix is the prefix of environment variables overriding crawl flags,
// e.g. PRODCRAWL_MAX_URLS for --max-urls.
const envPrefix = "PRODCRAWL"

// errConfiguration marks errors caused by flags, environment or config file.
var errConfiguration = errors.New("configuration error")

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [domain...]",
		Short: "Crawl shops and collect product page URLs",
		Long: `Crawl visits each domain's homepage and follows links breadth-first up to
--depth levels, staying on the domain and its subdomains. Every link whose
path or query looks like a product page is recorded.

The result is written to --output as a JSON object mapping each domain to its
product URLs. Each run is also saved to the history database unless
--no-history is given.

Every flag can also be set through the environment as PRODCRAWL_<FLAG>, for
example PRODCRAWL_MAX_URLS=500 or PRODCRAWL_RENDER=auto.

Examples:
  # Crawl one shop
  prodcrawl crawl shop.example

  # Crawl several shops, two levels deep
  prodcrawl crawl -d 2 shop.example store.example

  # Read domains from a file (one per line, # starts a comment)
  prodcrawl crawl --list shops.txt

  # Render JavaScript catalogs only where the static page has no links
  prodcrawl crawl --render auto spa-shop.example

  # Stop after five minutes and keep what was found
  prodcrawl crawl --time-budget 5m big-shop.example

  # Also publish to Redis and Kafka
  prodcrawl crawl --redis 127.0.0.1:6379 \
    --kafka-broker 127.0.0.1:9092 --kafka-topic product-urls shop.example`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	// Input flags
	cmd.Flags().StringP("list", "l", "",
		"File with one domain per line (- reads stdin)")
	cmd.Flags().String("config", "",
		"Configuration file path (default: .prodcrawl in current or home directory)")

	// Crawl bounds
	cmd.Flags().IntP("depth", "d", config.DefaultDepth,
		"Maximum number of links followed from a homepage")
	cmd.Flags().IntP("max-urls", "n", config.DefaultMaxURLs,
		"Maximum URLs enqueued and product URLs recorded per domain (0 = unlimited)")
	cmd.Flags().IntP("concurrency", "c", config.DefaultConcurrency,
		"Number of pages fetched at the same time")
	cmd.Flags().Duration("time-budget", 0,
		"Stop the whole crawl after this long and keep the results (0 = no limit)")
	cmd.Flags().String("scheme", config.DefaultScheme,
		"Scheme for domains given without one: http or https")
	cmd.Flags().StringSliceP("pattern", "p", nil,
		"Substring marking a product URL; repeatable (default: /product/, /item/, shop)")

	// Fetching
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each request or rendered page")
	cmd.Flags().Duration("crawl-delay", config.DefaultCrawlDelay,
		"Minimum interval between requests to the same host")
	cmd.Flags().String("user-agent", "",
		"User-Agent header (default: a desktop Firefox)")
	cmd.Flags().Int64("max-body-size", config.DefaultMaxBodySize,
		"Maximum bytes read from one response")
	cmd.Flags().String("render", config.DefaultRenderMode,
		"Page rendering: static, headless or auto")
	cmd.Flags().String("browser-bin", "",
		"Chromium binary for headless rendering (default: system browser or download)")
	cmd.Flags().String("browser-url", "",
		"DevTools URL of a running browser to render with instead of launching one")
	cmd.Flags().Bool("show-browser", false,
		"Show the browser window while rendering")
	cmd.Flags().String("proxy", "",
		"Route requests through a proxy (host:port for SOCKS5, or a socks5://, http:// or https:// URL)")

	// Outputs
	cmd.Flags().StringP("output", "o", config.DefaultOutputFile,
		"JSON file receiving the domain to product URL mapping")
	cmd.Flags().Bool("json-metadata", false,
		"Wrap the JSON mapping with the run ID, timing and counters")
	cmd.Flags().Bool("compact", false,
		"Write the JSON file without indentation")
	cmd.Flags().StringP("markdown", "m", "",
		"Also write a Markdown report to this file")
	cmd.Flags().Int("markdown-max-urls", 0,
		"List at most this many URLs per domain in the Markdown report (0 = all)")
	cmd.Flags().Bool("no-history", false,
		"Do not save the run to the history database")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the history database")
	cmd.Flags().String("redis", "",
		"Publish product URLs to the Redis server at host:port")
	cmd.Flags().String("redis-prefix", config.DefaultRedisPrefix,
		"Prefix of every Redis key")
	cmd.Flags().Duration("redis-ttl", 0,
		"Expire Redis keys after this long (0 = never)")
	cmd.Flags().String("kafka-broker", "",
		"Publish product URLs to the Kafka broker at host:port")
	cmd.Flags().String("kafka-topic", "",
		"Kafka topic (required with --kafka-broker)")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errConfiguration, err)
	}

	newLogger := log.NewLogger
	if cfg.LogJSON {
		newLogger = log.NewJSONLogger
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	// The first signal stops the crawl; results found so far are still written.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runCrawl(ctx, cfg, logger, cmd.OutOrStdout())
}

// newViper binds the command's flags to a viper instance that also reads
// PRODCRAWL_* environment variables. A flag set on the command line wins
// over the environment, which wins over the flag default.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// buildConfig creates a Config from flags, environment and config file.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	v, err := newViper(cmd)
	if err != nil {
		return nil, err
	}

	cfg := config.NewConfig()
	cfg.Scheme = strings.ToLower(v.GetString("scheme"))
	cfg.Depth = v.GetInt("depth")
	cfg.MaxURLs = v.GetInt("max-urls")
	cfg.Concurrency = v.GetInt("concurrency")
	cfg.TimeBudget = v.GetDuration("time-budget")
	cfg.Patterns = nonEmpty(v.GetStringSlice("pattern"))
	cfg.Timeout = v.GetDuration("timeout")
	cfg.CrawlDelay = v.GetDuration("crawl-delay")
	cfg.UserAgent = v.GetString("user-agent")
	cfg.MaxBodySize = v.GetInt64("max-body-size")
	cfg.RenderMode = strings.ToLower(v.GetString("render"))
	cfg.BrowserBin = v.GetString("browser-bin")
	cfg.BrowserURL = v.GetString("browser-url")
	cfg.ShowBrowser = v.GetBool("show-browser")
	cfg.Proxy = v.GetString("proxy")
	cfg.OutputFile = v.GetString("output")
	cfg.JSONMetadata = v.GetBool("json-metadata")
	cfg.CompactJSON = v.GetBool("compact")
	cfg.MarkdownFile = v.GetString("markdown")
	cfg.MarkdownMaxURLs = v.GetInt("markdown-max-urls")
	cfg.NoHistory = v.GetBool("no-history")
	cfg.DBDir = v.GetString("db-dir")
	cfg.RedisAddr = v.GetString("redis")
	cfg.RedisPrefix = v.GetString("redis-prefix")
	cfg.RedisTTL = v.GetDuration("redis-ttl")
	cfg.KafkaBroker = v.GetString("kafka-broker")
	cfg.KafkaTopic = v.GetString("kafka-topic")
	cfg.Verbose = v.GetBool("verbose")
	cfg.LogJSON = v.GetBool("log-json")
	cfg.ConfigFilePath = v.GetString("config")

	cfg.Targets = nonEmpty(args)
	if list := v.GetString("list"); list != "" {
		targets, err := readTargets(list, cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		cfg.Targets = append(cfg.Targets, targets...)
	}

	// An explicitly given config file must exist; the default locations
	// are optional.
	explicitConfigPath := cfg.ConfigFilePath != ""
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load config file %s: %w", errConfiguration, configPath, err)
		}
		cfg.ApplyFile(file)
	case explicitConfigPath:
		return nil, fmt.Errorf("%w: configuration file not found: %s", errConfiguration, cfg.ConfigFilePath)
	default:
		cfg.ApplyFile(&config.File{Sites: make(map[string]config.SiteConfig)})
	}

	return cfg, nil
}

// readTargets reads one domain per line. Blank lines and lines starting
// with # are skipped. path "-" reads stdin.
func readTargets(path string, stdin io.Reader) ([]string, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path) //nolint:gosec // User-provided list path is intentional
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open target list: %w", errConfiguration, err)
		}
		defer f.Close()
		r = f
	}

	var targets []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read target list: %w", err)
	}
	return targets, nil
}

// nonEmpty returns values with surrounding spaces trimmed and blanks removed.
func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// runCrawl wires fetchers, sinks and the engine from cfg and runs the crawl.
// The summary goes to out.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	sites := resolveSites(cfg)

	var proxyURL *url.URL
	if cfg.Proxy != "" {
		var err error
		if proxyURL, err = fetch.ParseProxy(cfg.Proxy); err != nil {
			return fmt.Errorf("%w: %w", errConfiguration, err)
		}
		if err := fetch.CheckProxy(ctx, proxyURL); err != nil {
			return err
		}
		logger.Debug("using proxy", "scheme", proxyURL.Scheme, "host", proxyURL.Host)
	}

	fetcher, closeFetcher, err := buildFetcher(cfg, sites, proxyURL, logger)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfiguration, err)
	}
	defer func() {
		if err := closeFetcher(); err != nil {
			logger.Warn("failed to close fetcher", "error", err)
		}
	}()

	sinks, outputs, closeSinks, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	opts := []crawler.EngineOption{
		crawler.WithScheme(cfg.Scheme),
		crawler.WithMaxDepth(cfg.Depth),
		crawler.WithMaxURLsPerDomain(cfg.MaxURLs),
		crawler.WithConcurrency(cfg.Concurrency),
		crawler.WithTimeBudget(cfg.TimeBudget),
		crawler.WithSink(sinks),
		crawler.WithLogger(logger),
	}
	for _, site := range sites {
		if site.limits != nil {
			opts = append(opts, crawler.WithDomainLimits(site.domain.String(), *site.limits))
		}
	}

	cls := classifier.New(cfg.Patterns...)
	logger.Debug("classifying product URLs", "patterns", cls.Patterns())
	engine := crawler.NewEngine(fetcher, cls, opts...)

	fmt.Fprintf(out, "Crawling %d domain(s) (depth %d, render %s)...\n\n",
		len(cfg.Targets), cfg.Depth, cfg.RenderMode)

	store, runErr := engine.Run(ctx, cfg.Targets)
	if store == nil {
		return runErr
	}

	if _, err := report.NewTextWriter(out, report.WithVerbose(cfg.Verbose)).Write(store.Result()); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	if runErr != nil {
		return runErr
	}

	fmt.Fprintln(out)
	for _, o := range outputs {
		fmt.Fprintf(out, "Saved to %s\n", o)
	}
	return nil
}

// siteSettings are the config file settings resolved for one seed.
type siteSettings struct {
	domain model.Domain
	site   config.SiteConfig

	// limits is nil when the seed uses the global bounds.
	limits *crawler.DomainLimits
}

// resolveSites looks up the config file entry for every valid seed. Seeds
// that do not parse are skipped here; the engine reports them.
func resolveSites(cfg *config.Config) []siteSettings {
	if cfg.SiteConfigs == nil {
		return nil
	}

	var sites []siteSettings
	for _, target := range cfg.Targets {
		d, err := model.NewDomain(target, cfg.Scheme)
		if err != nil {
			continue
		}

		// Entries may be keyed with or without the port.
		key := d.String()
		if !cfg.SiteConfigs.HasSite(key) {
			key = d.Hostname()
		}
		sc := cfg.SiteConfigs.GetSiteConfig(key)

		s := siteSettings{domain: d, site: sc}
		if sc.Depth != nil || sc.MaxURLs != nil {
			limits := crawler.DomainLimits{MaxDepth: cfg.Depth, MaxURLs: cfg.MaxURLs}
			if sc.Depth != nil {
				limits.MaxDepth = *sc.Depth
			}
			if sc.MaxURLs != nil {
				limits.MaxURLs = *sc.MaxURLs
			}
			s.limits = &limits
		}
		sites = append(sites, s)
	}
	return sites
}

// buildFetcher creates the fetcher for cfg.RenderMode. The browser is only
// created when a mode needs it, and is launched on first use. proxyURL may
// be nil.
func buildFetcher(cfg *config.Config, sites []siteSettings, proxyURL *url.URL, logger *slog.Logger) (crawler.Fetcher, func() error, error) {
	httpOpts := []fetch.HTTPOption{
		fetch.WithTimeout(cfg.Timeout),
		fetch.WithCrawlDelay(cfg.CrawlDelay),
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithHTTPLogger(logger),
	}
	if cfg.MaxBodySize > 0 {
		httpOpts = append(httpOpts, fetch.WithMaxBodySize(cfg.MaxBodySize))
	}
	for _, s := range sites {
		if s.site.Cookie == "" && len(s.site.Headers) == 0 {
			continue
		}
		httpOpts = append(httpOpts, fetch.WithSiteOptions(s.domain.Hostname(), fetch.SiteOptions{
			Cookie:  s.site.Cookie,
			Headers: s.site.Headers,
		}))
	}
	if proxyURL != nil {
		transport, err := fetch.NewProxyTransport(proxyURL)
		if err != nil {
			return nil, nil, err
		}
		httpOpts = append(httpOpts, fetch.WithTransport(transport))
	}
	httpFetcher := fetch.NewHTTPFetcher(httpOpts...)

	var browser *fetch.BrowserFetcher
	if cfg.RenderMode != config.RenderStatic {
		userAgent := cfg.UserAgent
		if userAgent == "" {
			userAgent = fetch.DefaultUserAgent
		}
		browser = fetch.NewBrowserFetcher(
			fetch.WithBrowserBin(cfg.BrowserBin),
			fetch.WithControlURL(cfg.BrowserURL),
			fetch.WithHeadless(!cfg.ShowBrowser),
			fetch.WithDownloadDir(filepath.Join(config.XDGCacheDir(), "browser")),
			fetch.WithBrowserUserAgent(userAgent),
			fetch.WithPageTimeout(cfg.Timeout),
			fetch.WithMaxTabs(cfg.Concurrency),
			fetch.WithBrowserProxy(proxyURL),
			fetch.WithBrowserLogger(logger),
		)
	}

	return fetch.NewFetcher(cfg.RenderMode, httpFetcher, browser, logger)
}

// buildSinks creates every configured output. It returns the combined sink,
// a description of each destination for the summary, and a function
// releasing connections.
func buildSinks(cfg *config.Config, logger *slog.Logger) (*sink.Multi, []string, func(), error) {
	multi := sink.NewMulti()
	var outputs []string
	var closers []io.Closer

	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("failed to close output", "error", err)
			}
		}
	}

	var jsonOpts []report.JSONWriterOption
	if cfg.CompactJSON {
		jsonOpts = append(jsonOpts, report.WithCompact())
	}
	if cfg.JSONMetadata {
		jsonOpts = append(jsonOpts, report.WithMetadata(getVersion()))
	}
	jsonSink := sink.NewJSONSink(cfg.OutputFile, jsonOpts...)
	multi.Add(jsonSink)
	outputs = append(outputs, jsonSink.Path())

	if cfg.MarkdownFile != "" {
		mdSink := sink.NewMarkdownSink(cfg.MarkdownFile, report.WithMaxListedURLs(cfg.MarkdownMaxURLs))
		multi.Add(mdSink)
		outputs = append(outputs, mdSink.Path())
	}

	if !cfg.NoHistory {
		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("failed to open history database: %w", err)
		}
		closers = append(closers, db)
		multi.Add(sink.NewSQLiteSink(db))
		outputs = append(outputs, "history database "+db.Path())
	}

	if cfg.RedisAddr != "" {
		redisSink := sink.NewRedisSink(cfg.RedisAddr, cfg.RedisPrefix, cfg.RedisTTL)
		closers = append(closers, redisSink)
		multi.Add(redisSink)
		outputs = append(outputs, "redis "+cfg.RedisAddr+" ("+redisSink.ProductsKey("<domain>")+")")
	}

	if cfg.KafkaBroker != "" {
		kafkaSink := sink.NewKafkaSink(cfg.KafkaBroker, cfg.KafkaTopic)
		closers = append(closers, kafkaSink)
		multi.Add(kafkaSink)
		outputs = append(outputs, "kafka "+cfg.KafkaBroker+" topic "+cfg.KafkaTopic)
	}

	return multi, outputs, closeAll, nil
}

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
	exitPersistFail = 3
)

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) int {
	var cfgErr *crawler.ConfigError
	var persistErr *crawler.PersistError

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errConfiguration), errors.As(err, &cfgErr):
		return exitConfigError
	case errors.As(err, &persistErr):
		return exitPersistFail
	default:
		return exitFailure
	}
}
