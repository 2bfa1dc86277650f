package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by the typed errors below.
var (
	// ErrNoSeeds is returned when a crawl is started without seed domains.
	ErrNoSeeds = errors.New("no seed domains")

	// ErrUnexpectedStatus is wrapped by FetchError when the server answered
	// with a non-2xx status code.
	ErrUnexpectedStatus = errors.New("unexpected status code")

	// ErrNotHTML is wrapped by FetchError when the response is not an HTML
	// document and therefore has no links to follow.
	ErrNotHTML = errors.New("response is not HTML")
)

// ConfigError reports an invalid crawl configuration. It is fatal and is
// returned before any page is fetched.
type ConfigError struct {
	// Field names the offending setting.
	Field string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid crawl configuration: %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// FetchError reports that a single URL could not be fetched or rendered.
// The crawl skips the URL and continues.
type FetchError struct {
	// URL is the URL that failed.
	URL string

	// StatusCode is the HTTP status when the server answered, 0 otherwise.
	StatusCode int

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError reports malformed HTML or a malformed link. For a link, only
// that link is dropped; the rest of the page is still processed.
type ParseError struct {
	// URL is the page or link that could not be parsed.
	URL string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// PersistError reports that the final result could not be written. The crawl
// itself succeeded; the error is surfaced so the work is not silently lost.
type PersistError struct {
	// Err is the underlying sink error.
	Err error
}

// Error implements error.
func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist crawl result: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *PersistError) Unwrap() error {
	return e.Err
}
