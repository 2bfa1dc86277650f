package sink

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/prodcrawl/internal/database"
	"github.com/nao1215/prodcrawl/internal/model"
)

func testResult() *model.CrawlResult {
	start := time.Date(2026, 10, 2, 8, 0, 0, 0, time.UTC)
	return &model.CrawlResult{
		RunID:      "run-42",
		StartedAt:  start,
		FinishedAt: start.Add(30 * time.Second),
		Seeds:      []string{"shop.example", "store.example"},
		Products: map[string][]string{
			"shop.example":  {"https://shop.example/product/1", "https://shop.example/item/2"},
			"store.example": {},
		},
		Stats: model.CrawlStats{PagesFetched: 5},
	}
}

func TestFileSink(t *testing.T) {
	t.Parallel()

	t.Run("writes the JSON mapping into a new directory", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "out", "products.json")
		s := NewJSONSink(path)
		if err := s.Write(context.Background(), testResult()); err != nil {
			t.Fatalf("Write() error = %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read output: %v", err)
		}
		var got map[string][]string
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(got["shop.example"]) != 2 || got["shop.example"][0] != "https://shop.example/product/1" {
			t.Errorf("unexpected content: %v", got)
		}
		if !strings.Contains(string(data), "\n    \"shop.example\"") {
			t.Error("expected four-space indentation")
		}

		entries, err := os.ReadDir(filepath.Dir(path))
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("temporary files left behind: %v", entries)
		}
	})

	t.Run("output file is private", func(t *testing.T) {
		t.Parallel()

		if runtime.GOOS == "windows" {
			t.Skip("skipping permission test on Windows")
		}

		path := filepath.Join(t.TempDir(), "products.json")
		if err := NewJSONSink(path).Write(context.Background(), testResult()); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("permissions = %o, want 600", perm)
		}
	})

	t.Run("default path", func(t *testing.T) {
		t.Parallel()

		if got := NewJSONSink("").Path(); got != DefaultJSONPath {
			t.Errorf("Path() = %q, want %q", got, DefaultJSONPath)
		}
	})

	t.Run("writes markdown", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "report.md")
		if err := NewMarkdownSink(path).Write(context.Background(), testResult()); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "# Product URL Report") {
			t.Errorf("unexpected markdown: %s", data)
		}
	})

	t.Run("unwritable destination is an error", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		blocker := filepath.Join(dir, "file")
		if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
		// a regular file cannot be used as a directory
		err := NewJSONSink(filepath.Join(blocker, "products.json")).Write(context.Background(), testResult())
		if err == nil {
			t.Error("expected error")
		}
	})
}

func TestSQLiteSink(t *testing.T) {
	t.Parallel()

	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := NewSQLiteSink(db).Write(ctx, testResult()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := db.GetRunProducts(ctx, "run-42")
	if err != nil {
		t.Fatalf("GetRunProducts() error = %v", err)
	}
	if len(got["shop.example"]) != 2 {
		t.Errorf("unexpected products: %v", got)
	}
}

type stubSink struct {
	calls int
	err   error
}

func (s *stubSink) Write(context.Context, *model.CrawlResult) error {
	s.calls++
	return s.err
}

func TestMulti(t *testing.T) {
	t.Parallel()

	t.Run("writes to every sink and joins errors", func(t *testing.T) {
		t.Parallel()

		errA := errors.New("redis down")
		errB := errors.New("kafka down")
		a := &stubSink{err: errA}
		b := &stubSink{}
		c := &stubSink{err: errB}

		m := NewMulti(a, nil, b)
		m.Add(c)
		m.Add(nil)
		if m.Len() != 3 {
			t.Fatalf("Len() = %d, want 3", m.Len())
		}

		err := m.Write(context.Background(), testResult())
		if !errors.Is(err, errA) || !errors.Is(err, errB) {
			t.Errorf("expected both errors, got %v", err)
		}
		if a.calls != 1 || b.calls != 1 || c.calls != 1 {
			t.Errorf("every sink must be called once: %d %d %d", a.calls, b.calls, c.calls)
		}
	})

	t.Run("no sinks is a no-op", func(t *testing.T) {
		t.Parallel()

		if err := NewMulti().Write(context.Background(), testResult()); err != nil {
			t.Errorf("Write() error = %v", err)
		}
	})
}
