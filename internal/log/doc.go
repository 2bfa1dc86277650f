// Package log builds the slog logger used by prodcrawl.
//
// The RedactHandler wraps any slog.Handler and masks values that must not
// end up in a terminal or a shared log file:
//   - attributes named like credentials (cookie, authorization, token, ...)
//   - session identifiers embedded in logged URLs, both as query
//     parameters (?sid=...) and as path parameters (;jsessionid=...)
//
// Shops frequently put session IDs into links, and every fetched URL is
// logged at debug level, so URL redaction applies to every string and
// error attribute, not only to attributes named "url".
//
// # Usage
//
//	logger := log.NewLogger(os.Stderr, verbose)
//	slog.SetDefault(logger)
//
//	logger.Debug("fetching", "url", "https://shop.example/p/1?sid=abc")
//	// url=https://shop.example/p/1?sid=***REDACTED***
package log
