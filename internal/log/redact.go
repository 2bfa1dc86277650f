package log

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

// MaskValue is the string used to replace sensitive values.
const MaskValue = "***REDACTED***"

// sensitiveKeys contains attribute keys whose values are always masked.
var sensitiveKeys = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"password":            true,
	"secret":              true,
	"token":               true,
	"api_key":             true,
	"apikey":              true,
	"session":             true,
	"session_id":          true,
	"sessionid":           true,
	"sid":                 true,
	"jsessionid":          true,
}

// sensitiveKeywords mask any key containing them, e.g. "site_cookie".
var sensitiveKeywords = []string{"cookie", "password", "secret", "token", "auth", "credential"}

// sessionParams are query or path parameter names that carry a session.
// Matching is case-insensitive.
var sessionParams = map[string]bool{
	"jsessionid":   true,
	"phpsessid":    true,
	"aspsessionid": true,
	"oscsid":       true,
	"sid":          true,
	"sessionid":    true,
	"session_id":   true,
	"session":      true,
	"token":        true,
	"access_token": true,
	"auth":         true,
	"key":          true,
	"api_key":      true,
	"apikey":       true,
}

// urlPattern finds http(s) URLs inside longer strings such as error messages.
var urlPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// pathParamPattern finds ";name=value" path parameters.
var pathParamPattern = regexp.MustCompile(`;([A-Za-z_]+)=[^;/?#]*`)

// RedactHandler wraps an slog.Handler and masks sensitive attributes
// before passing records on.
//
// Design decision: We use a handler wrapper rather than a custom logger
// because every component already accepts a *slog.Logger, and the wrapper
// works with any underlying handler (text, JSON, etc.).
type RedactHandler struct {
	handler slog.Handler
}

// NewRedactHandler creates a RedactHandler wrapping handler.
// If handler is nil, slog.Default().Handler() is used.
func NewRedactHandler(handler slog.Handler) *RedactHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &RedactHandler{handler: handler}
}

// Enabled delegates to the underlying handler.
func (h *RedactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle redacts the record's attributes and message and passes it on.
func (h *RedactHandler) Handle(ctx context.Context, r slog.Record) error {
	redacted := slog.NewRecord(r.Time, r.Level, RedactText(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(redactAttr(a))
		return true
	})
	return h.handler.Handle(ctx, redacted)
}

// WithAttrs returns a new handler with the given attributes redacted and added.
func (h *RedactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactHandler{handler: h.handler.WithAttrs(redacted)}
}

// WithGroup returns a new handler with the given group name.
func (h *RedactHandler) WithGroup(name string) slog.Handler {
	return &RedactHandler{handler: h.handler.WithGroup(name)}
}

// redactAttr redacts a single attribute, recursively handling groups.
func redactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	switch a.Value.Kind() {
	case slog.KindGroup:
		attrs := a.Value.Group()
		redacted := make([]slog.Attr, len(attrs))
		for i, ga := range attrs {
			redacted[i] = redactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	case slog.KindString:
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, MaskValue)
		}
		return slog.String(a.Key, RedactText(a.Value.String()))
	case slog.KindAny:
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, MaskValue)
		}
		switch v := a.Value.Any().(type) {
		case error:
			return slog.String(a.Key, RedactText(v.Error()))
		case []string:
			out := make([]string, len(v))
			for i, s := range v {
				out[i] = RedactText(s)
			}
			return slog.Any(a.Key, out)
		}
		return a
	default:
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, MaskValue)
		}
		return a
	}
}

// isSensitiveKey reports whether values stored under key must be masked.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	if sensitiveKeys[lower] {
		return true
	}
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// isSessionParam reports whether a URL parameter name carries a session.
func isSessionParam(name string) bool {
	return sessionParams[strings.ToLower(name)]
}

// RedactText masks session parameters in every URL found in s.
func RedactText(s string) string {
	if !strings.Contains(s, "://") {
		return s
	}
	return urlPattern.ReplaceAllStringFunc(s, RedactURL)
}

// RedactURL masks userinfo and session parameters in rawURL. Strings that
// do not parse as absolute URLs are returned unchanged. The URL is edited
// as text so that the rest of it is logged exactly as it was fetched.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}

	scheme, rest, _ := strings.Cut(rawURL, "://")

	rest, fragment, hasFragment := strings.Cut(rest, "#")
	rest, query, hasQuery := strings.Cut(rest, "?")

	authority, path := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		authority, path = rest[:i], rest[i:]
	}
	if i := strings.LastIndexByte(authority, '@'); i >= 0 {
		authority = MaskValue + authority[i:]
	}

	path = pathParamPattern.ReplaceAllStringFunc(path, func(m string) string {
		name := m[1:strings.IndexByte(m, '=')]
		if !isSessionParam(name) {
			return m
		}
		return ";" + name + "=" + MaskValue
	})

	var b strings.Builder
	b.WriteString(scheme + "://" + authority + path)
	if hasQuery {
		params := strings.Split(query, "&")
		for i, p := range params {
			if name, _, found := strings.Cut(p, "="); found && isSessionParam(name) {
				params[i] = name + "=" + MaskValue
			}
		}
		b.WriteString("?" + strings.Join(params, "&"))
	}
	if hasFragment {
		b.WriteString("#" + fragment)
	}
	return b.String()
}

// NewLogger creates a text logger writing to w with redaction.
// verbose selects slog.LevelDebug; otherwise only warnings and errors are
// logged.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	return slog.New(NewRedactHandler(slog.NewTextHandler(w, handlerOptions(verbose))))
}

// NewJSONLogger creates a JSON logger writing to w with redaction.
func NewJSONLogger(w io.Writer, verbose bool) *slog.Logger {
	return slog.New(NewRedactHandler(slog.NewJSONHandler(w, handlerOptions(verbose))))
}

// handlerOptions returns the level settings shared by both loggers.
func handlerOptions(verbose bool) *slog.HandlerOptions {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return &slog.HandlerOptions{Level: level}
}
