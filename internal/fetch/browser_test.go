package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"

	"github.com/nao1215/prodcrawl/internal/crawler"
)

func TestBrowserFetcher_Close(t *testing.T) {
	t.Parallel()

	b := NewBrowserFetcher(WithBrowserLogger(quietLogger()))
	if err := b.Close(); err != nil {
		t.Fatalf("Close() before use error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	_, err := b.Fetch(context.Background(), "https://shop.example/")
	var fetchErr *crawler.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if !errors.Is(err, ErrBrowserClosed) {
		t.Errorf("expected ErrBrowserClosed, got %v", err)
	}
}

func TestBrowserFetcher_Fetch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	bin, found := launcher.LookPath()
	if !found {
		t.Skip("skipping browser test: Chromium not found")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><div id="app"></div><script>
			var a = document.createElement("a");
			a.href = "/product/42";
			a.textContent = "rendered";
			document.getElementById("app").appendChild(a);
		</script></body></html>`))
	}))
	defer server.Close()

	b := NewBrowserFetcher(
		WithBrowserBin(bin),
		WithBrowserLogger(quietLogger()),
		WithPageTimeout(30*time.Second),
		WithStableWait(200*time.Millisecond),
	)
	defer b.Close()

	html, err := b.Fetch(context.Background(), server.URL+"/")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.Contains(html, `href="/product/42"`) {
		t.Errorf("expected rendered link in DOM, got %q", html)
	}
}

func TestBrowserFetcher_ResolveBin(t *testing.T) {
	t.Parallel()

	t.Run("explicit binary wins", func(t *testing.T) {
		t.Parallel()

		b := NewBrowserFetcher(
			WithBrowserBin("/opt/chromium/chrome"),
			WithDownloadDir(t.TempDir()),
			WithBrowserLogger(quietLogger()),
		)
		got, err := b.resolveBin()
		if err != nil {
			t.Fatalf("resolveBin() error = %v", err)
		}
		if got != "/opt/chromium/chrome" {
			t.Errorf("resolveBin() = %q, want /opt/chromium/chrome", got)
		}
	})

	t.Run("system browser is used before downloading", func(t *testing.T) {
		t.Parallel()

		path, found := launcher.LookPath()
		if !found {
			t.Skip("no system browser installed")
		}
		b := NewBrowserFetcher(WithDownloadDir(t.TempDir()), WithBrowserLogger(quietLogger()))
		got, err := b.resolveBin()
		if err != nil {
			t.Fatalf("resolveBin() error = %v", err)
		}
		if got != path {
			t.Errorf("resolveBin() = %q, want %q", got, path)
		}
	})
}
