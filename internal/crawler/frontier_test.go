package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/prodcrawl/internal/model"
)

func mustDomain(t *testing.T, seed string) model.Domain {
	t.Helper()
	d, err := model.NewDomain(seed, "https")
	if err != nil {
		t.Fatalf("NewDomain(%q) error = %v", seed, err)
	}
	return d
}

func TestFrontier_Seed(t *testing.T) {
	t.Parallel()

	t.Run("empty seeds is a config error", func(t *testing.T) {
		t.Parallel()

		f := NewFrontier(3, 0)
		err := f.Seed(nil)

		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigError, got %v", err)
		}
		if !errors.Is(err, ErrNoSeeds) {
			t.Errorf("expected ErrNoSeeds, got %v", err)
		}
	})

	t.Run("homepages are enqueued at depth zero", func(t *testing.T) {
		t.Parallel()

		f := NewFrontier(3, 0)
		if err := f.Seed([]model.Domain{mustDomain(t, "shop.example"), mustDomain(t, "store.example")}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}

		stats := f.Stats()
		if stats.Pending != 2 {
			t.Errorf("expected 2 pending tasks, got %d", stats.Pending)
		}

		task, ok := f.Next(context.Background())
		if !ok {
			t.Fatal("expected a task")
		}
		if task.URL != "https://shop.example/" || task.Depth != 0 || task.Domain != "shop.example" {
			t.Errorf("unexpected first task: %+v", task)
		}
	})

	t.Run("duplicate seeds are registered once", func(t *testing.T) {
		t.Parallel()

		f := NewFrontier(3, 0)
		d := mustDomain(t, "shop.example")
		if err := f.Seed([]model.Domain{d, d}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}
		if got := f.Stats().Pending; got != 1 {
			t.Errorf("expected 1 pending task, got %d", got)
		}
	})
}

func TestFrontier_TryEnqueue(t *testing.T) {
	t.Parallel()

	t.Run("rejects duplicates after normalization", func(t *testing.T) {
		t.Parallel()

		f := NewFrontier(3, 0)
		if err := f.Seed([]model.Domain{mustDomain(t, "shop.example")}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}

		if !f.TryEnqueue("shop.example", "https://shop.example/product/1", 1) {
			t.Fatal("expected first enqueue to succeed")
		}
		if f.TryEnqueue("shop.example", "HTTPS://Shop.Example/product/1#reviews", 1) {
			t.Error("expected normalized duplicate to be rejected")
		}
		if f.TryEnqueue("shop.example", "https://shop.example", 1) {
			t.Error("expected homepage to be rejected as already visited")
		}
	})

	t.Run("rejects depth beyond maximum", func(t *testing.T) {
		t.Parallel()

		f := NewFrontier(1, 0)
		if err := f.Seed([]model.Domain{mustDomain(t, "shop.example")}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}

		if !f.TryEnqueue("shop.example", "https://shop.example/a", 1) {
			t.Error("expected depth 1 to be accepted")
		}
		if f.TryEnqueue("shop.example", "https://shop.example/b", 2) {
			t.Error("expected depth 2 to be rejected")
		}
		if f.wasVisited("shop.example", "https://shop.example/b") {
			t.Error("rejected URL must not be marked visited")
		}
	})

	t.Run("enforces per-domain budget", func(t *testing.T) {
		t.Parallel()

		f := NewFrontier(5, 3)
		if err := f.Seed([]model.Domain{mustDomain(t, "shop.example"), mustDomain(t, "store.example")}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}

		accepted := 0
		for i := range 10 {
			if f.TryEnqueue("shop.example", fmt.Sprintf("https://shop.example/p/%d", i), 1) {
				accepted++
			}
		}
		// the homepage already used one slot
		if accepted != 2 {
			t.Errorf("expected 2 accepted URLs, got %d", accepted)
		}
		if !f.TryEnqueue("store.example", "https://store.example/p/1", 1) {
			t.Error("budget of one domain must not affect another")
		}
	})

	t.Run("domain limits override the defaults", func(t *testing.T) {
		t.Parallel()

		f := NewFrontier(3, 0)
		f.SetDomainLimits("store.example", DomainLimits{MaxDepth: 1, MaxURLs: 2})
		if err := f.Seed([]model.Domain{mustDomain(t, "shop.example"), mustDomain(t, "store.example")}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}

		if f.TryEnqueue("store.example", "https://store.example/a/b", 2) {
			t.Error("expected depth 2 to be rejected for store.example")
		}
		if !f.TryEnqueue("store.example", "https://store.example/a", 1) {
			t.Error("expected first URL within the budget to be accepted")
		}
		if f.TryEnqueue("store.example", "https://store.example/b", 1) {
			t.Error("expected budget of 2 to be exhausted")
		}
		if !f.TryEnqueue("shop.example", "https://shop.example/a/b/c", 3) {
			t.Error("defaults must still apply to shop.example")
		}
	})

	t.Run("unknown domain is rejected", func(t *testing.T) {
		t.Parallel()

		f := NewFrontier(3, 0)
		if err := f.Seed([]model.Domain{mustDomain(t, "shop.example")}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}
		if f.TryEnqueue("other.example", "https://other.example/", 1) {
			t.Error("expected unknown domain to be rejected")
		}
	})

	t.Run("concurrent enqueue of the same URL succeeds once", func(t *testing.T) {
		t.Parallel()

		f := NewFrontier(3, 0)
		if err := f.Seed([]model.Domain{mustDomain(t, "shop.example")}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for range 32 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if f.TryEnqueue("shop.example", "https://shop.example/product/42", 1) {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if got := wins.Load(); got != 1 {
			t.Errorf("expected exactly 1 successful enqueue, got %d", got)
		}
	})
}

func TestFrontier_Next(t *testing.T) {
	t.Parallel()

	t.Run("round-robin across domains and FIFO within a domain", func(t *testing.T) {
		t.Parallel()

		f := NewFrontier(3, 0)
		if err := f.Seed([]model.Domain{mustDomain(t, "a.example"), mustDomain(t, "b.example")}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}
		f.TryEnqueue("a.example", "https://a.example/1", 1)
		f.TryEnqueue("a.example", "https://a.example/2", 1)
		f.TryEnqueue("b.example", "https://b.example/1", 1)

		want := []string{
			"https://a.example/",
			"https://b.example/",
			"https://a.example/1",
			"https://b.example/1",
			"https://a.example/2",
		}
		for i, w := range want {
			task, ok := f.Next(context.Background())
			if !ok {
				t.Fatalf("Next() #%d returned false", i)
			}
			if task.URL != w {
				t.Errorf("Next() #%d = %q, want %q", i, task.URL, w)
			}
		}
	})

	t.Run("drains when nothing is pending or in flight", func(t *testing.T) {
		t.Parallel()

		f := NewFrontier(3, 0)
		if err := f.Seed([]model.Domain{mustDomain(t, "shop.example")}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}

		if _, ok := f.Next(context.Background()); !ok {
			t.Fatal("expected the homepage task")
		}
		f.TaskCompleted()

		if _, ok := f.Next(context.Background()); ok {
			t.Error("expected Next to return false after drain")
		}
		if !f.Drained() {
			t.Error("expected frontier to be drained")
		}
		if f.TryEnqueue("shop.example", "https://shop.example/late", 1) {
			t.Error("expected enqueue after drain to be rejected")
		}
	})

	t.Run("waits for in-flight task to enqueue children", func(t *testing.T) {
		t.Parallel()

		f := NewFrontier(3, 0)
		if err := f.Seed([]model.Domain{mustDomain(t, "shop.example")}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}
		if _, ok := f.Next(context.Background()); !ok {
			t.Fatal("expected the homepage task")
		}

		got := make(chan model.CrawlTask, 1)
		go func() {
			task, ok := f.Next(context.Background())
			if ok {
				got <- task
			}
			close(got)
		}()

		time.Sleep(20 * time.Millisecond)
		f.TryEnqueue("shop.example", "https://shop.example/child", 1)
		f.TaskCompleted()

		select {
		case task, ok := <-got:
			if !ok {
				t.Fatal("waiting Next returned false")
			}
			if task.URL != "https://shop.example/child" {
				t.Errorf("unexpected task: %+v", task)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Next did not wake up")
		}
	})

	t.Run("returns false when context is cancelled", func(t *testing.T) {
		t.Parallel()

		f := NewFrontier(3, 0)
		if err := f.Seed([]model.Domain{mustDomain(t, "shop.example")}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}
		// keep one task in flight so the next call blocks
		if _, ok := f.Next(context.Background()); !ok {
			t.Fatal("expected the homepage task")
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan bool, 1)
		go func() {
			_, ok := f.Next(ctx)
			done <- ok
		}()

		cancel()
		select {
		case ok := <-done:
			if ok {
				t.Error("expected Next to return false")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Next did not observe cancellation")
		}
	})

	t.Run("close releases waiters and discards pending tasks", func(t *testing.T) {
		t.Parallel()

		f := NewFrontier(3, 0)
		if err := f.Seed([]model.Domain{mustDomain(t, "shop.example")}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}
		f.TryEnqueue("shop.example", "https://shop.example/a", 1)
		if _, ok := f.Next(context.Background()); !ok {
			t.Fatal("expected the homepage task")
		}

		f.Close()
		f.Close()

		if _, ok := f.Next(context.Background()); ok {
			t.Error("expected Next to return false after Close")
		}
		if f.Drained() {
			t.Error("a closed frontier is not drained")
		}
		if got := f.Stats().Pending; got != 0 {
			t.Errorf("expected 0 pending tasks, got %d", got)
		}
		f.TaskCompleted()
	})
}

// wasVisited reports whether url was ever enqueued for domain.
func (f *Frontier) wasVisited(domain, url string) bool {
	normalized, err := model.NormalizeURL(url)
	if err != nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dq, ok := f.domains[domain]
	if !ok {
		return false
	}
	_, seen := dq.visited[normalized]
	return seen
}
