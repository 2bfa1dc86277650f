package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and provide specific
// information about what is wrong with the configuration.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). Callers use errors.Is() to
// map them to exit codes or hints.
var (
	// ErrNoTarget is returned when no domain is given on the command line
	// or in a --list file.
	ErrNoTarget = errors.New("no target specified: provide a domain or use --list")

	// ErrInvalidDepth is returned when the crawl depth is negative.
	// Depth 0 is valid and fetches only the homepages.
	ErrInvalidDepth = errors.New("invalid depth: must be non-negative")

	// ErrInvalidMaxURLs is returned when the per-domain URL budget is negative.
	// Use 0 for no budget.
	ErrInvalidMaxURLs = errors.New("invalid max urls: must be non-negative")

	// ErrInvalidConcurrency is returned when the worker count is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidTimeout is returned when the request timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidTimeBudget is returned when the overall crawl budget is negative.
	// Use 0 for no limit.
	ErrInvalidTimeBudget = errors.New("invalid time budget: must be non-negative")

	// ErrInvalidCrawlDelay is returned when the crawl delay is negative.
	// Use 0 for no delay between requests to the same host.
	ErrInvalidCrawlDelay = errors.New("invalid crawl delay: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	// Use 0 to use the default limit.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidRenderMode is returned when the render mode is not one of
	// RenderModes.
	ErrInvalidRenderMode = errors.New("invalid render mode: must be static, headless or auto")

	// ErrInvalidScheme is returned when the seed scheme is not http or https.
	ErrInvalidScheme = errors.New("invalid scheme: must be http or https")

	// ErrInvalidMarkdownMaxURLs is returned when the Markdown URL cap is negative.
	ErrInvalidMarkdownMaxURLs = errors.New("invalid markdown max urls: must be non-negative")

	// ErrInvalidRedisTTL is returned when the Redis key TTL is negative.
	// Use 0 to keep keys forever.
	ErrInvalidRedisTTL = errors.New("invalid redis ttl: must be non-negative")

	// ErrKafkaTopicRequired is returned when a Kafka broker is set without a topic.
	ErrKafkaTopicRequired = errors.New("kafka topic is required when a kafka broker is set")

	// ErrInvalidSiteConfig is returned when a site entry in the config file
	// has a negative depth or URL budget.
	ErrInvalidSiteConfig = errors.New("invalid site configuration: depth and maxURLs must be non-negative")
)
