package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/prodcrawl/internal/model"
)

// Default engine settings.
const (
	// DefaultMaxDepth is the number of links followed from a homepage.
	DefaultMaxDepth = 3

	// DefaultMaxURLsPerDomain caps both the pages enqueued and the product
	// URLs recorded for one domain.
	DefaultMaxURLsPerDomain = 1000

	// DefaultConcurrency is the number of workers.
	DefaultConcurrency = 4
)

// Engine drives a crawl: a fixed pool of workers share one Frontier and one
// ResultStore.
type Engine struct {
	fetcher    Fetcher
	classifier Classifier

	// maxDepth bounds task depth; 0 fetches only the homepages.
	maxDepth int

	// maxURLs is the per-domain budget for the frontier and the store.
	maxURLs int

	// concurrency is the number of workers.
	concurrency int

	// scheme is used for seeds given without one.
	scheme string

	// timeBudget bounds the whole crawl. 0 means no limit.
	timeBudget time.Duration

	// limits holds per-domain overrides of maxDepth and maxURLs, keyed by
	// lowercase host[:port].
	limits map[string]DomainLimits

	// sink receives the result once the crawl is over. May be nil.
	sink Sink

	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxDepth sets the maximum crawl depth.
// 0 = only the homepages, 1 = homepages plus the pages they link to, etc.
func WithMaxDepth(depth int) EngineOption {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

// WithMaxURLsPerDomain sets the per-domain URL budget.
func WithMaxURLsPerDomain(n int) EngineOption {
	return func(e *Engine) {
		e.maxURLs = n
	}
}

// WithConcurrency sets the number of workers.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		e.concurrency = n
	}
}

// WithScheme sets the scheme used for seeds given as bare domains.
func WithScheme(scheme string) EngineOption {
	return func(e *Engine) {
		e.scheme = scheme
	}
}

// WithTimeBudget stops the crawl after d. Results found so far are kept.
func WithTimeBudget(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.timeBudget = d
	}
}

// WithDomainLimits overrides the depth and URL budget for one seed domain.
// domain is matched against the domain key (host[:port]) case-insensitively.
func WithDomainLimits(domain string, limits DomainLimits) EngineOption {
	return func(e *Engine) {
		if e.limits == nil {
			e.limits = make(map[string]DomainLimits)
		}
		e.limits[strings.ToLower(strings.TrimSpace(domain))] = limits
	}
}

// WithSink sets the sink that receives the final result.
func WithSink(s Sink) EngineOption {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an Engine that fetches pages with fetcher and tags
// product URLs with classifier.
func NewEngine(fetcher Fetcher, classifier Classifier, opts ...EngineOption) *Engine {
	e := &Engine{
		fetcher:     fetcher,
		classifier:  classifier,
		maxDepth:    DefaultMaxDepth,
		maxURLs:     DefaultMaxURLsPerDomain,
		concurrency: DefaultConcurrency,
		scheme:      model.DefaultScheme,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	return e
}

// runStats collects counters from all workers.
type runStats struct {
	pagesFetched  atomic.Int64
	fetchFailures atomic.Int64
	linksSeen     atomic.Int64
}

// Run crawls every seed domain and returns the accumulated results.
//
// Run returns a *ConfigError before fetching anything if the configuration
// or a seed is invalid. Otherwise it returns once the frontier is drained
// (or ctx is done, or the time budget is spent) and every worker has exited.
// Cancellation is not an error: the store holds whatever was found.
// Cancellation stops workers from taking new tasks but lets fetches already
// in flight finish, so the links of those pages are still recorded.
// If a sink is configured and fails, the store is returned together with a
// *PersistError.
func (e *Engine) Run(ctx context.Context, seeds []string) (*ResultStore, error) {
	domains, err := e.validate(seeds)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now()

	frontier := NewFrontier(e.maxDepth, e.maxURLs)
	store := NewResultStore(e.maxURLs)
	for domain, l := range e.limits {
		frontier.SetDomainLimits(domain, l)
		store.SetBudget(domain, l.MaxURLs)
	}
	if err := frontier.Seed(domains); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(domains))
	for _, d := range domains {
		store.Register(d.String())
		keys = append(keys, d.String())
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if e.timeBudget > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeBudget)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Closing the frontier is how cancellation reaches blocked workers.
	stopWatch := context.AfterFunc(runCtx, frontier.Close)
	defer stopWatch()

	e.logger.Info("starting crawl",
		"seeds", keys,
		"maxDepth", e.maxDepth,
		"maxURLsPerDomain", e.maxURLs,
		"concurrency", e.concurrency,
	)

	var stats runStats
	var g errgroup.Group
	for i := 0; i < e.concurrency; i++ {
		g.Go(func() error {
			e.work(runCtx, frontier, store, &stats)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return an error

	fstats := frontier.Stats()
	cancelled := !frontier.Drained() || runCtx.Err() != nil
	finishedAt := time.Now()

	store.setSummary(&model.CrawlResult{
		RunID:      uuid.NewString(),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Seeds:      keys,
		Stats: model.CrawlStats{
			PagesFetched:  int(stats.pagesFetched.Load()),
			FetchFailures: int(stats.fetchFailures.Load()),
			LinksSeen:     int(stats.linksSeen.Load()),
			URLsEnqueued:  fstats.Enqueued,
			Cancelled:     cancelled,
		},
	})

	logFn := e.logger.Info
	if cancelled {
		logFn = e.logger.Warn
	}
	logFn("crawl finished",
		"cancelled", cancelled,
		"pagesFetched", stats.pagesFetched.Load(),
		"fetchFailures", stats.fetchFailures.Load(),
		"urlsEnqueued", fstats.Enqueued,
		"elapsed", finishedAt.Sub(startedAt),
	)

	if e.sink != nil {
		// The result must be written even when the crawl was cancelled.
		if err := e.sink.Write(context.WithoutCancel(ctx), store.Result()); err != nil {
			return store, &PersistError{Err: err}
		}
	}

	return store, nil
}

// validate checks the engine settings and parses the seeds.
func (e *Engine) validate(seeds []string) ([]model.Domain, error) {
	if e.fetcher == nil {
		return nil, &ConfigError{Field: "fetcher", Err: errors.New("fetcher is nil")}
	}
	if e.classifier == nil {
		return nil, &ConfigError{Field: "classifier", Err: errors.New("classifier is nil")}
	}
	if e.maxDepth < 0 {
		return nil, &ConfigError{Field: "maxDepth", Err: fmt.Errorf("must be non-negative, got %d", e.maxDepth)}
	}
	if e.maxURLs < 0 {
		return nil, &ConfigError{Field: "maxURLsPerDomain", Err: fmt.Errorf("must be non-negative, got %d", e.maxURLs)}
	}
	for domain, l := range e.limits {
		if l.MaxDepth < 0 || l.MaxURLs < 0 {
			return nil, &ConfigError{Field: "domainLimits", Err: fmt.Errorf("%s: limits must be non-negative", domain)}
		}
	}
	if e.concurrency < 1 {
		return nil, &ConfigError{Field: "concurrency", Err: fmt.Errorf("must be positive, got %d", e.concurrency)}
	}
	if len(seeds) == 0 {
		return nil, &ConfigError{Field: "seeds", Err: ErrNoSeeds}
	}

	domains := make([]model.Domain, 0, len(seeds))
	for _, seed := range seeds {
		d, err := model.NewDomain(seed, e.scheme)
		if err != nil {
			return nil, &ConfigError{Field: "seeds", Err: fmt.Errorf("%q: %w", seed, err)}
		}
		domains = append(domains, d)
	}
	return domains, nil
}

// work is the worker loop. It returns when the frontier has no more tasks.
func (e *Engine) work(ctx context.Context, frontier *Frontier, store *ResultStore, stats *runStats) {
	for {
		task, ok := frontier.Next(ctx)
		if !ok {
			return
		}
		e.process(ctx, frontier, store, stats, task)
		frontier.TaskCompleted()
	}
}

// process fetches one task and handles its links. Errors are logged and
// contained here.
//
// The fetch does not observe crawl cancellation; the fetcher's own timeout
// bounds it.
func (e *Engine) process(ctx context.Context, frontier *Frontier, store *ResultStore, stats *runStats, task model.CrawlTask) {
	e.logger.Debug("fetching", "url", task.URL, "domain", task.Domain, "depth", task.Depth)

	body, err := e.fetcher.Fetch(context.WithoutCancel(ctx), task.URL)
	if err != nil {
		stats.fetchFailures.Add(1)
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			err = &FetchError{URL: task.URL, Err: err}
		}
		e.logger.Warn("skipping page", "url", task.URL, "depth", task.Depth, "error", err)
		return
	}
	stats.pagesFetched.Add(1)

	parser, err := NewParser(task.URL)
	if err != nil {
		e.logger.Warn("skipping page", "url", task.URL, "error", err)
		return
	}
	result, err := parser.Parse(strings.NewReader(body))
	if err != nil {
		e.logger.Warn("skipping page", "url", task.URL, "error", err)
		return
	}
	for _, skipped := range result.Skipped {
		e.logger.Debug("ignoring link", "page", task.URL, "error", skipped)
	}

	stats.linksSeen.Add(int64(len(result.Links)))
	for _, link := range result.Links {
		if e.classifier.Classify(link) && store.Add(task.Domain, link) {
			e.logger.Debug("product url", "domain", task.Domain, "url", link)
		}

		// A link can be a product result and a traversal edge at once.
		if model.InScope(link, task.Domain) {
			frontier.TryEnqueue(task.Domain, link, task.Depth+1)
		}
	}
}
