package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// checkProxyTimeout bounds the connectivity check. It only opens a TCP
// connection to the proxy, so it should be fast.
const checkProxyTimeout = 2 * time.Second

// Proxy errors.
//
// Design decision: We define specific errors rather than wrapping all errors
// generically, so the CLI can tell a typo in the address apart from a proxy
// that is not running.
var (
	// ErrInvalidProxy is returned when the proxy address cannot be parsed.
	ErrInvalidProxy = errors.New("invalid proxy address: expected host:port or a socks5://, http:// or https:// URL")

	// ErrProxyCannotConnect is returned when no TCP connection to the proxy
	// can be established.
	ErrProxyCannotConnect = errors.New("cannot connect to proxy")

	// ErrProxyTimeout is returned when connecting to the proxy times out.
	ErrProxyTimeout = errors.New("timeout connecting to proxy")
)

// ParseProxy parses a proxy address. A bare "host:port" is a SOCKS5 proxy;
// otherwise the scheme must be socks5, socks5h, http or https. Credentials
// may be given as userinfo.
func ParseProxy(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidProxy
	}
	if !strings.Contains(raw, "://") {
		raw = "socks5://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProxy, err)
	}
	switch u.Scheme {
	case "socks5", "socks5h", "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, u.Scheme)
	}
	if u.Path != "" && u.Path != "/" {
		return nil, fmt.Errorf("%w: unexpected path %q", ErrInvalidProxy, u.Path)
	}

	host, port, err := net.SplitHostPort(u.Host)
	if err != nil || host == "" {
		return nil, ErrInvalidProxy
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidProxy, port)
	}

	u.Path = ""
	return u, nil
}

// NewProxyTransport returns a transport that sends every request through
// proxyURL. HTTP proxies use CONNECT for https targets; SOCKS proxies dial
// every connection through the proxy.
func NewProxyTransport(proxyURL *url.URL) (*http.Transport, error) {
	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errors.New("default transport is not an *http.Transport")
	}
	transport = transport.Clone()

	switch proxyURL.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(proxyURL)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, proxyURL.Scheme)
	}

	return transport, nil
}

// CheckProxy verifies that something accepts TCP connections at the proxy
// address. It does not verify that the service speaks the proxy protocol.
func CheckProxy(ctx context.Context, proxyURL *url.URL) error {
	ctx, cancel := context.WithTimeout(ctx, checkProxyTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", proxyURL.Host)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return fmt.Errorf("%w: %s", ErrProxyTimeout, proxyURL.Host)
		}
		return fmt.Errorf("%w: %s: %w", ErrProxyCannotConnect, proxyURL.Host, err)
	}
	return conn.Close()
}

// browserProxyServer formats proxyURL for Chromium's --proxy-server flag.
// Chromium ignores credentials and resolves names through SOCKS5 proxies
// by itself, so userinfo is dropped and socks5h becomes socks5.
func browserProxyServer(proxyURL *url.URL) string {
	scheme := proxyURL.Scheme
	if scheme == "socks5h" {
		scheme = "socks5"
	}
	return scheme + "://" + proxyURL.Host
}
