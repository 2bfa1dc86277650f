package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/prodcrawl/internal/config"
	"github.com/nao1215/prodcrawl/internal/crawler"
	"github.com/nao1215/prodcrawl/internal/database"
	"github.com/nao1215/prodcrawl/internal/fetch"
	"github.com/nao1215/prodcrawl/internal/log"
)

// newShopServer serves a tiny shop: a homepage linking to a category page
// and a product, and a category page linking to two more products.
func newShopServer(t *testing.T) *httptest.Server {
	t.Helper()

	pages := map[string]string{
		"/": `<html><body>
<a href="/category/shoes">Shoes</a>
<a href="/product/1">Sneaker</a>
<a href="/about">About us</a>
</body></html>`,
		"/category/shoes": `<html><body>
<a href="/product/2">Boot</a>
<a href="/item/3?color=red">Sandal</a>
<a href="/">Home</a>
</body></html>`,
		"/about":     `<html><body><p>We sell shoes.</p></body></html>`,
		"/product/1": `<html><body><h1>Sneaker</h1></body></html>`,
		"/product/2": `<html><body><h1>Boot</h1></body></html>`,
		"/item/3":    `<html><body><h1>Sandal</h1></body></html>`,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

// writeEmptyConfig writes a config file without site entries so that tests
// never pick up a .prodcrawl from the working or home directory.
func writeEmptyConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "prodcrawl.yaml")
	if err := os.WriteFile(path, []byte("sites: {}\n"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestNewCrawlCmd(t *testing.T) {
	t.Parallel()

	cmd := NewCrawlCmd()

	if cmd.Use != "crawl [domain...]" {
		t.Errorf("unexpected Use: got %q", cmd.Use)
	}
	if cmd.Short == "" || cmd.Long == "" {
		t.Error("expected short and long descriptions")
	}

	flagsWithShort := map[string]string{
		"list":        "l",
		"depth":       "d",
		"max-urls":    "n",
		"concurrency": "c",
		"pattern":     "p",
		"timeout":     "t",
		"output":      "o",
		"markdown":    "m",
	}
	for flag, shorthand := range flagsWithShort {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			t.Errorf("expected flag %q to exist", flag)
			continue
		}
		if f.Shorthand != shorthand {
			t.Errorf("flag %q: expected shorthand %q, got %q", flag, shorthand, f.Shorthand)
		}
	}

	for _, flag := range []string{
		"config", "time-budget", "crawl-delay", "user-agent", "max-body-size",
		"scheme", "render", "browser-bin", "browser-url", "show-browser", "proxy",
		"json-metadata", "compact", "markdown-max-urls", "no-history", "db-dir",
		"redis", "redis-prefix", "redis-ttl", "kafka-broker", "kafka-topic",
	} {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("expected flag %q to exist", flag)
		}
	}

	t.Run("defaults match config defaults", func(t *testing.T) {
		t.Parallel()

		defaults := map[string]string{
			"depth":       fmt.Sprint(config.DefaultDepth),
			"max-urls":    fmt.Sprint(config.DefaultMaxURLs),
			"concurrency": fmt.Sprint(config.DefaultConcurrency),
			"scheme":      config.DefaultScheme,
			"render":      config.DefaultRenderMode,
			"output":      config.DefaultOutputFile,
		}
		for flag, want := range defaults {
			if got := cmd.Flags().Lookup(flag).DefValue; got != want {
				t.Errorf("flag %q default = %q, want %q", flag, got, want)
			}
		}
	})
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	t.Run("reads flags and arguments", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		cmd := NewCrawlCmd()
		err := cmd.ParseFlags([]string{
			"--config", writeEmptyConfig(t, dir),
			"-d", "5",
			"-n", "50",
			"-c", "2",
			"--render", "AUTO",
			"-p", "/p/", "-p", " ", "--pattern", "/sku/",
			"--kafka-broker", "127.0.0.1:9092",
			"--kafka-topic", "urls",
			"--scheme", "HTTP",
			"--show-browser",
			"--json-metadata",
			"--markdown-max-urls", "10",
		})
		if err != nil {
			t.Fatalf("ParseFlags() error = %v", err)
		}

		cfg, err := buildConfig(cmd, []string{"shop.example", " ", "store.example"})
		if err != nil {
			t.Fatalf("buildConfig() error = %v", err)
		}

		if cfg.Depth != 5 || cfg.MaxURLs != 50 || cfg.Concurrency != 2 {
			t.Errorf("bounds = %d/%d/%d, want 5/50/2", cfg.Depth, cfg.MaxURLs, cfg.Concurrency)
		}
		if cfg.RenderMode != config.RenderAuto {
			t.Errorf("RenderMode = %q, want %q", cfg.RenderMode, config.RenderAuto)
		}
		if want := []string{"/p/", "/sku/"}; !slices.Equal(cfg.Patterns, want) {
			t.Errorf("Patterns = %v, want %v", cfg.Patterns, want)
		}
		if want := []string{"shop.example", "store.example"}; !slices.Equal(cfg.Targets, want) {
			t.Errorf("Targets = %v, want %v", cfg.Targets, want)
		}
		if cfg.KafkaBroker != "127.0.0.1:9092" || cfg.KafkaTopic != "urls" {
			t.Errorf("kafka = %q/%q", cfg.KafkaBroker, cfg.KafkaTopic)
		}
		if cfg.Scheme != "http" || !cfg.ShowBrowser || !cfg.JSONMetadata || cfg.MarkdownMaxURLs != 10 {
			t.Errorf("scheme/browser/metadata/markdown = %q/%v/%v/%d", cfg.Scheme, cfg.ShowBrowser, cfg.JSONMetadata, cfg.MarkdownMaxURLs)
		}
		if cfg.SiteConfigs == nil {
			t.Error("expected SiteConfigs to be set")
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("appends targets from list file", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		list := filepath.Join(dir, "shops.txt")
		if err := os.WriteFile(list, []byte("# shops\nstore.example\n\n  outlet.example  \n"), 0600); err != nil {
			t.Fatal(err)
		}

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"--config", writeEmptyConfig(t, dir), "--list", list}); err != nil {
			t.Fatal(err)
		}

		cfg, err := buildConfig(cmd, []string{"shop.example"})
		if err != nil {
			t.Fatalf("buildConfig() error = %v", err)
		}
		want := []string{"shop.example", "store.example", "outlet.example"}
		if !slices.Equal(cfg.Targets, want) {
			t.Errorf("Targets = %v, want %v", cfg.Targets, want)
		}
	})

	t.Run("file patterns apply when no flag is given", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "prodcrawl.yaml")
		content := "patterns: [\"/goods/\"]\nsites:\n  shop.example:\n    depth: 1\n"
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"--config", path}); err != nil {
			t.Fatal(err)
		}
		cfg, err := buildConfig(cmd, []string{"shop.example"})
		if err != nil {
			t.Fatalf("buildConfig() error = %v", err)
		}
		if want := []string{"/goods/"}; !slices.Equal(cfg.Patterns, want) {
			t.Errorf("Patterns = %v, want %v", cfg.Patterns, want)
		}
		if !cfg.SiteConfigs.HasSite("shop.example") {
			t.Error("expected site entry for shop.example")
		}
	})

	t.Run("missing explicit config file is a configuration error", func(t *testing.T) {
		t.Parallel()

		cmd := NewCrawlCmd()
		missing := filepath.Join(t.TempDir(), "missing.yaml")
		if err := cmd.ParseFlags([]string{"--config", missing}); err != nil {
			t.Fatal(err)
		}
		_, err := buildConfig(cmd, []string{"shop.example"})
		if !errors.Is(err, errConfiguration) {
			t.Errorf("buildConfig() error = %v, want errConfiguration", err)
		}
	})

	t.Run("invalid config file is a configuration error", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "broken.yaml")
		if err := os.WriteFile(path, []byte("sites: [unclosed"), 0600); err != nil {
			t.Fatal(err)
		}
		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"--config", path}); err != nil {
			t.Fatal(err)
		}
		_, err := buildConfig(cmd, []string{"shop.example"})
		if !errors.Is(err, errConfiguration) {
			t.Errorf("buildConfig() error = %v, want errConfiguration", err)
		}
	})
}

// TestBuildConfigEnvironment cannot run in parallel because it sets
// environment variables.
func TestBuildConfigEnvironment(t *testing.T) {
	t.Setenv("PRODCRAWL_MAX_URLS", "7")
	t.Setenv("PRODCRAWL_RENDER", "headless")
	t.Setenv("PRODCRAWL_DEPTH", "9")

	cmd := NewCrawlCmd()
	if err := cmd.ParseFlags([]string{"--config", writeEmptyConfig(t, t.TempDir()), "--depth", "2"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := buildConfig(cmd, []string{"shop.example"})
	if err != nil {
		t.Fatalf("buildConfig() error = %v", err)
	}

	if cfg.MaxURLs != 7 {
		t.Errorf("MaxURLs = %d, want 7 from environment", cfg.MaxURLs)
	}
	if cfg.RenderMode != config.RenderHeadless {
		t.Errorf("RenderMode = %q, want %q from environment", cfg.RenderMode, config.RenderHeadless)
	}
	if cfg.Depth != 2 {
		t.Errorf("Depth = %d, want 2 (flag wins over environment)", cfg.Depth)
	}
}

func TestReadTargets(t *testing.T) {
	t.Parallel()

	t.Run("reads stdin with dash", func(t *testing.T) {
		t.Parallel()

		got, err := readTargets("-", strings.NewReader("shop.example\n# comment\n\nstore.example\n"))
		if err != nil {
			t.Fatalf("readTargets() error = %v", err)
		}
		if want := []string{"shop.example", "store.example"}; !slices.Equal(got, want) {
			t.Errorf("readTargets() = %v, want %v", got, want)
		}
	})

	t.Run("missing file is a configuration error", func(t *testing.T) {
		t.Parallel()

		_, err := readTargets(filepath.Join(t.TempDir(), "missing.txt"), nil)
		if !errors.Is(err, errConfiguration) {
			t.Errorf("readTargets() error = %v, want errConfiguration", err)
		}
	})
}

func TestNonEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{name: "nil input", input: nil, want: []string{}},
		{name: "trims values", input: []string{" a ", "b"}, want: []string{"a", "b"}},
		{name: "drops blanks", input: []string{"", "  ", "c"}, want: []string{"c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := nonEmpty(tt.input); !slices.Equal(got, tt.want) {
				t.Errorf("nonEmpty(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestResolveSites(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.Depth = 3
	cfg.MaxURLs = 100
	cfg.Targets = []string{"shop.example", "http://127.0.0.1:8080", "store.example", "outlet.example", "not a domain"}
	cfg.SiteConfigs = &config.File{
		Defaults: config.SiteConfig{Headers: map[string]string{"Accept-Language": "de-DE"}},
		Sites: map[string]config.SiteConfig{
			"SHOP.example":   {Cookie: "consent=yes", Depth: intPtr(5)},
			"127.0.0.1:8080": {MaxURLs: intPtr(10)},
			"outlet.example": {Depth: intPtr(0)},
		},
	}

	sites := resolveSites(cfg)
	if len(sites) != 4 {
		t.Fatalf("resolveSites() returned %d sites, want 4", len(sites))
	}

	t.Run("site depth overrides the global depth", func(t *testing.T) {
		t.Parallel()

		shop := sites[0]
		if shop.domain.String() != "shop.example" {
			t.Fatalf("domain = %q", shop.domain)
		}
		if shop.site.Cookie != "consent=yes" {
			t.Errorf("Cookie = %q, want consent=yes", shop.site.Cookie)
		}
		if shop.site.Headers["Accept-Language"] != "de-DE" {
			t.Errorf("default header not merged: %v", shop.site.Headers)
		}
		if shop.limits == nil {
			t.Fatal("expected limits")
		}
		if *shop.limits != (crawler.DomainLimits{MaxDepth: 5, MaxURLs: 100}) {
			t.Errorf("limits = %+v", *shop.limits)
		}
	})

	t.Run("entries keyed with port match", func(t *testing.T) {
		t.Parallel()

		local := sites[1]
		if local.limits == nil {
			t.Fatal("expected limits")
		}
		if *local.limits != (crawler.DomainLimits{MaxDepth: 3, MaxURLs: 10}) {
			t.Errorf("limits = %+v", *local.limits)
		}
	})

	t.Run("sites without overrides keep global bounds", func(t *testing.T) {
		t.Parallel()

		if sites[2].limits != nil {
			t.Errorf("limits = %+v, want nil", *sites[2].limits)
		}
	})

	t.Run("explicit zero depth overrides the global depth", func(t *testing.T) {
		t.Parallel()

		outlet := sites[3]
		if outlet.limits == nil {
			t.Fatal("expected limits")
		}
		if *outlet.limits != (crawler.DomainLimits{MaxDepth: 0, MaxURLs: 100}) {
			t.Errorf("limits = %+v", *outlet.limits)
		}
	})

	t.Run("no config file", func(t *testing.T) {
		t.Parallel()

		if got := resolveSites(config.NewConfig()); got != nil {
			t.Errorf("resolveSites() = %v, want nil", got)
		}
	})
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: exitOK},
		{name: "configuration error", err: fmt.Errorf("%w: bad flag", errConfiguration), want: exitConfigError},
		{name: "engine config error", err: &crawler.ConfigError{Field: "seeds", Err: crawler.ErrNoSeeds}, want: exitConfigError},
		{name: "persist error", err: fmt.Errorf("run: %w", &crawler.PersistError{Err: errors.New("disk full")}), want: exitPersistFail},
		{name: "other error", err: errors.New("boom"), want: exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRunCrawl(t *testing.T) {
	t.Parallel()

	t.Run("writes JSON, Markdown and history", func(t *testing.T) {
		t.Parallel()

		server := newShopServer(t)
		dir := t.TempDir()

		cfg := config.NewConfig()
		cfg.Targets = []string{server.URL}
		cfg.CrawlDelay = 0
		cfg.Timeout = 5 * time.Second
		cfg.OutputFile = filepath.Join(dir, "out", "products.json")
		cfg.MarkdownFile = filepath.Join(dir, "report.md")
		cfg.DBDir = filepath.Join(dir, "db")
		cfg.SiteConfigs = &config.File{}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}

		var out bytes.Buffer
		if err := runCrawl(context.Background(), cfg, log.NewLogger(io.Discard, false), &out); err != nil {
			t.Fatalf("runCrawl() error = %v\n%s", err, out.String())
		}

		data, err := os.ReadFile(cfg.OutputFile)
		if err != nil {
			t.Fatalf("failed to read output: %v", err)
		}
		var products map[string][]string
		if err := json.Unmarshal(data, &products); err != nil {
			t.Fatalf("invalid JSON output: %v", err)
		}

		key := strings.TrimPrefix(server.URL, "http://")
		got := slices.Clone(products[key])
		slices.Sort(got)
		want := []string{
			server.URL + "/item/3?color=red",
			server.URL + "/product/1",
			server.URL + "/product/2",
		}
		if !slices.Equal(got, want) {
			t.Errorf("products[%q] = %v, want %v", key, got, want)
		}

		if _, err := os.Stat(cfg.MarkdownFile); err != nil {
			t.Errorf("expected Markdown report: %v", err)
		}

		summary := out.String()
		for _, s := range []string{"Crawling 1 domain(s)", "TOTAL", "Saved to " + cfg.OutputFile, "history database"} {
			if !strings.Contains(summary, s) {
				t.Errorf("summary missing %q:\n%s", s, summary)
			}
		}

		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open history: %v", err)
		}
		defer db.Close()
		runs, err := db.LatestRuns(context.Background(), key, 0)
		if err != nil {
			t.Fatalf("LatestRuns() error = %v", err)
		}
		if len(runs) != 1 || runs[0].TotalProducts != 3 {
			t.Errorf("history runs = %+v, want one run with 3 products", runs)
		}
	})

	t.Run("bare seed with http scheme and metadata JSON", func(t *testing.T) {
		t.Parallel()

		server := newShopServer(t)
		key := strings.TrimPrefix(server.URL, "http://")

		cfg := config.NewConfig()
		cfg.Targets = []string{key}
		cfg.Scheme = "http"
		cfg.Depth = 1
		cfg.CrawlDelay = 0
		cfg.NoHistory = true
		cfg.JSONMetadata = true
		cfg.CompactJSON = true
		cfg.OutputFile = filepath.Join(t.TempDir(), "products.json")

		if err := runCrawl(context.Background(), cfg, log.NewLogger(io.Discard, false), io.Discard); err != nil {
			t.Fatalf("runCrawl() error = %v", err)
		}

		data, err := os.ReadFile(cfg.OutputFile)
		if err != nil {
			t.Fatalf("failed to read output: %v", err)
		}
		if bytes.Contains(data, []byte("\n    ")) {
			t.Errorf("expected compact JSON:\n%s", data)
		}
		var doc struct {
			RunID    string              `json:"runId"`
			Version  string              `json:"version"`
			Products map[string][]string `json:"products"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Fatalf("invalid JSON output: %v", err)
		}
		if doc.RunID == "" || doc.Version == "" {
			t.Errorf("expected run ID and version, got %q/%q", doc.RunID, doc.Version)
		}
		if len(doc.Products[key]) != 3 {
			t.Errorf("products[%q] = %v, want 3 URLs", key, doc.Products[key])
		}
	})

	t.Run("unwritable output is a persist error", func(t *testing.T) {
		t.Parallel()

		server := newShopServer(t)
		dir := t.TempDir()
		blocker := filepath.Join(dir, "file")
		if err := os.WriteFile(blocker, nil, 0600); err != nil {
			t.Fatal(err)
		}

		cfg := config.NewConfig()
		cfg.Targets = []string{server.URL}
		cfg.CrawlDelay = 0
		cfg.NoHistory = true
		cfg.OutputFile = filepath.Join(blocker, "products.json")

		var out bytes.Buffer
		err := runCrawl(context.Background(), cfg, log.NewLogger(io.Discard, false), &out)
		if exitCode(err) != exitPersistFail {
			t.Fatalf("runCrawl() error = %v, want persist failure", err)
		}
		if !strings.Contains(out.String(), "TOTAL") {
			t.Errorf("summary should still be printed:\n%s", out.String())
		}
	})

	t.Run("invalid proxy is a configuration error", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.Targets = []string{"shop.example"}
		cfg.NoHistory = true
		cfg.Proxy = "ftp://proxy.example:21"
		cfg.OutputFile = filepath.Join(t.TempDir(), "products.json")

		err := runCrawl(context.Background(), cfg, log.NewLogger(io.Discard, false), io.Discard)
		if exitCode(err) != exitConfigError {
			t.Errorf("runCrawl() error = %v, want configuration error", err)
		}
	})

	t.Run("unreachable proxy fails before crawling", func(t *testing.T) {
		t.Parallel()

		server := newShopServer(t)
		proxyAddr := server.Listener.Addr().String()
		server.Close()

		cfg := config.NewConfig()
		cfg.Targets = []string{"shop.example"}
		cfg.NoHistory = true
		cfg.Proxy = proxyAddr
		cfg.OutputFile = filepath.Join(t.TempDir(), "products.json")

		err := runCrawl(context.Background(), cfg, log.NewLogger(io.Discard, false), io.Discard)
		if !errors.Is(err, fetch.ErrProxyCannotConnect) {
			t.Errorf("runCrawl() error = %v, want ErrProxyCannotConnect", err)
		}
		if _, statErr := os.Stat(cfg.OutputFile); !os.IsNotExist(statErr) {
			t.Error("no output should be written when the proxy is down")
		}
	})

	t.Run("invalid seed is a configuration error", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.Targets = []string{"com"}
		cfg.NoHistory = true
		cfg.OutputFile = filepath.Join(t.TempDir(), "products.json")

		err := runCrawl(context.Background(), cfg, log.NewLogger(io.Discard, false), io.Discard)
		if exitCode(err) != exitConfigError {
			t.Errorf("runCrawl() error = %v, want configuration error", err)
		}
	})
}

func TestCrawlCmdExecute(t *testing.T) {
	t.Parallel()

	server := newShopServer(t)
	dir := t.TempDir()
	output := filepath.Join(dir, "products.json")

	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{
		"crawl",
		"--config", writeEmptyConfig(t, dir),
		"--no-history",
		"--crawl-delay", "0",
		"-d", "1",
		"-o", output,
		server.URL,
	})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v\nstderr: %s", err, errOut.String())
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	var products map[string][]string
	if err := json.Unmarshal(data, &products); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}

	// The category page sits at depth 1 and is still fetched, so the links
	// it holds are recorded.
	urls := products[strings.TrimPrefix(server.URL, "http://")]
	for _, want := range []string{"/product/1", "/product/2", "/item/3?color=red"} {
		if !slices.Contains(urls, server.URL+want) {
			t.Errorf("expected %s in %v", want, urls)
		}
	}
	if strings.Contains(out.String(), "history database") {
		t.Errorf("--no-history should not save to history:\n%s", out.String())
	}
}

func intPtr(v int) *int { return &v }
