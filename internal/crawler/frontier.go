package crawler

import (
	"context"
	"sync"

	"github.com/nao1215/prodcrawl/internal/model"
)

// Frontier holds the crawl tasks that are waiting to be fetched, grouped by
// seed domain, together with the visited ledger of every URL that has ever
// been enqueued for a domain.
//
// A Frontier is active while tasks are pending or in flight. Once both counts
// reach zero it is drained; that state is terminal and Next returns false
// from then on. Close moves it to the same terminal state early.
//
// All methods are safe for concurrent use. No lock is held while the caller
// fetches a page.
type Frontier struct {
	mu   sync.Mutex
	cond *sync.Cond

	// maxDepth is the deepest task depth that may be enqueued.
	maxDepth int

	// budget caps the number of URLs enqueued per domain. 0 means no cap.
	budget int

	domains map[string]*domainQueue
	order   []string
	cursor  int

	// limits overrides maxDepth and budget for individual domains.
	limits map[string]DomainLimits

	pending  int
	inFlight int
	enqueued int

	drained bool
	closed  bool
}

// domainQueue is the per-domain part of the frontier.
type domainQueue struct {
	maxDepth int
	budget   int
	visited  map[string]struct{}
	queue    []model.CrawlTask
}

// DomainLimits overrides the crawl bounds for one domain.
type DomainLimits struct {
	// MaxDepth is the deepest task depth for the domain.
	MaxDepth int

	// MaxURLs caps the URLs enqueued and the product URLs recorded for the
	// domain. 0 means unlimited.
	MaxURLs int
}

// FrontierStats contains a point-in-time view of the frontier.
type FrontierStats struct {
	// Enqueued is the total number of tasks ever accepted, seeds included.
	Enqueued int

	// Pending is the number of tasks waiting to be dequeued.
	Pending int

	// InFlight is the number of dequeued tasks not yet completed.
	InFlight int

	// Visited maps each domain to the number of distinct URLs enqueued for it.
	Visited map[string]int
}

// NewFrontier creates an empty frontier.
// maxDepth bounds task depth; budget caps URLs per domain (0 = unlimited).
// Both can be overridden per domain with SetDomainLimits.
func NewFrontier(maxDepth, budget int) *Frontier {
	f := &Frontier{
		maxDepth: maxDepth,
		budget:   budget,
		domains:  make(map[string]*domainQueue),
		limits:   make(map[string]DomainLimits),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// SetDomainLimits overrides the bounds of domain. It only affects domains
// seeded afterwards.
func (f *Frontier) SetDomainLimits(domain string, limits DomainLimits) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits[domain] = limits
}

// Seed registers each domain and enqueues its homepage at depth 0.
// It returns a ConfigError if domains is empty. Duplicate domains are
// registered once.
func (f *Frontier) Seed(domains []model.Domain) error {
	if len(domains) == 0 {
		return &ConfigError{Field: "seeds", Err: ErrNoSeeds}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, d := range domains {
		key := d.String()
		if _, ok := f.domains[key]; ok {
			continue
		}
		dq := &domainQueue{
			maxDepth: f.maxDepth,
			budget:   f.budget,
			visited:  make(map[string]struct{}),
		}
		if l, ok := f.limits[key]; ok {
			dq.maxDepth, dq.budget = l.MaxDepth, l.MaxURLs
		}
		f.domains[key] = dq
		f.order = append(f.order, key)
		f.enqueueLocked(key, d.StartURL(), 0)
	}
	return nil
}

// TryEnqueue adds url as a task of domain at depth. The URL is normalized
// first. It returns false, without error, when depth exceeds the maximum,
// the URL was already enqueued for the domain, the domain's budget is used
// up, the domain is unknown, or the frontier is no longer active.
//
// The visited check and the insertion happen under one lock, so two workers
// racing on the same link enqueue it exactly once.
func (f *Frontier) TryEnqueue(domain, url string, depth int) bool {
	if depth < 0 {
		return false
	}

	normalized, err := model.NormalizeURL(url)
	if err != nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || f.drained {
		return false
	}
	return f.enqueueLocked(domain, normalized, depth)
}

// enqueueLocked performs the checks and insertion. f.mu must be held and
// url must already be normalized.
func (f *Frontier) enqueueLocked(domain, url string, depth int) bool {
	dq, ok := f.domains[domain]
	if !ok || depth > dq.maxDepth {
		return false
	}
	if _, seen := dq.visited[url]; seen {
		return false
	}
	if dq.budget > 0 && len(dq.visited) >= dq.budget {
		return false
	}

	dq.visited[url] = struct{}{}
	dq.queue = append(dq.queue, model.CrawlTask{URL: url, Domain: domain, Depth: depth})
	f.pending++
	f.enqueued++
	f.cond.Signal()
	return true
}

// Next returns the next pending task, blocking while the queue is empty but
// other tasks are still in flight (they may enqueue children). It returns
// false once the frontier is drained or closed, or when ctx is done.
//
// Domains are served round-robin; within a domain tasks come out in FIFO
// order. A successful Next must be paired with a call to TaskCompleted.
func (f *Frontier) Next(ctx context.Context) (model.CrawlTask, bool) {
	// wake the wait loop below when ctx is cancelled
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		if f.closed || f.drained || ctx.Err() != nil {
			return model.CrawlTask{}, false
		}
		if f.pending > 0 {
			task := f.popLocked()
			f.pending--
			f.inFlight++
			return task, true
		}
		if f.inFlight == 0 {
			f.drained = true
			f.cond.Broadcast()
			return model.CrawlTask{}, false
		}
		f.cond.Wait()
	}
}

// popLocked removes the head of the next non-empty domain queue.
// f.mu must be held and f.pending must be positive.
func (f *Frontier) popLocked() model.CrawlTask {
	for i := 0; i < len(f.order); i++ {
		idx := (f.cursor + i) % len(f.order)
		dq := f.domains[f.order[idx]]
		if len(dq.queue) == 0 {
			continue
		}
		task := dq.queue[0]
		dq.queue[0] = model.CrawlTask{}
		dq.queue = dq.queue[1:]
		f.cursor = (idx + 1) % len(f.order)
		return task
	}
	// unreachable while pending > 0
	return model.CrawlTask{}
}

// TaskCompleted marks one dequeued task as finished. When nothing is pending
// or in flight afterwards, the frontier becomes drained and every waiter is
// released.
func (f *Frontier) TaskCompleted() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inFlight > 0 {
		f.inFlight--
	}
	if f.inFlight == 0 && f.pending == 0 {
		f.drained = true
		f.cond.Broadcast()
	}
}

// Close stops the frontier: pending tasks are discarded, further enqueues are
// refused and blocked callers of Next return false. Tasks already in flight
// may still call TaskCompleted. Close is idempotent.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || f.drained {
		return
	}
	f.closed = true
	for _, dq := range f.domains {
		dq.queue = nil
	}
	f.pending = 0
	f.cond.Broadcast()
}

// Drained reports whether the frontier ran out of work on its own, as
// opposed to being closed.
func (f *Frontier) Drained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drained && !f.closed
}

// Stats returns current frontier counters.
func (f *Frontier) Stats() FrontierStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	visited := make(map[string]int, len(f.domains))
	for k, dq := range f.domains {
		visited[k] = len(dq.visited)
	}
	return FrontierStats{
		Enqueued: f.enqueued,
		Pending:  f.pending,
		InFlight: f.inFlight,
		Visited:  visited,
	}
}
