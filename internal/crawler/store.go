package crawler

import (
	"sync"

	"github.com/nao1215/prodcrawl/internal/model"
)

// ResultStore accumulates product URLs per domain. URLs are normalized,
// deduplicated and kept in the order they were first added. Each domain holds
// at most budget URLs (0 = unlimited).
//
// ResultStore is safe for concurrent use; the membership check and insert in
// Add are one atomic step.
type ResultStore struct {
	mu      sync.Mutex
	budget  int
	budgets map[string]int
	seen    map[string]map[string]struct{}
	urls    map[string][]string

	// summary is filled in by the Engine once the crawl has finished.
	summary *model.CrawlResult
}

// NewResultStore creates an empty store with the given per-domain budget.
func NewResultStore(budget int) *ResultStore {
	return &ResultStore{
		budget:  budget,
		budgets: make(map[string]int),
		seen:    make(map[string]map[string]struct{}),
		urls:    make(map[string][]string),
	}
}

// SetBudget overrides the budget of one domain. 0 means unlimited.
func (s *ResultStore) SetBudget(domain string, budget int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[domain] = budget
}

// Register makes sure domain appears in snapshots even if no product URL is
// ever found for it.
func (s *ResultStore) Register(domain string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerLocked(domain)
}

func (s *ResultStore) registerLocked(domain string) {
	if _, ok := s.seen[domain]; !ok {
		s.seen[domain] = make(map[string]struct{})
		s.urls[domain] = make([]string, 0)
	}
}

// Add records url under domain. It returns true only if the URL was new for
// the domain and the domain's budget was not yet reached. Unparsable URLs are
// ignored.
func (s *ResultStore) Add(domain, url string) bool {
	normalized, err := model.NormalizeURL(url)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.registerLocked(domain)
	if _, ok := s.seen[domain][normalized]; ok {
		return false
	}
	budget, ok := s.budgets[domain]
	if !ok {
		budget = s.budget
	}
	if budget > 0 && len(s.urls[domain]) >= budget {
		return false
	}
	s.seen[domain][normalized] = struct{}{}
	s.urls[domain] = append(s.urls[domain], normalized)
	return true
}

// Contains reports whether url is recorded under domain.
func (s *ResultStore) Contains(domain, url string) bool {
	normalized, err := model.NormalizeURL(url)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[domain][normalized]
	return ok
}

// URLs returns a copy of the product URLs of domain in insertion order.
func (s *ResultStore) URLs(domain string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.urls[domain]))
	copy(out, s.urls[domain])
	return out
}

// Len returns the number of product URLs recorded for domain.
func (s *ResultStore) Len(domain string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls[domain])
}

// Snapshot returns a deep copy of all domains and their URLs.
func (s *ResultStore) Snapshot() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]string, len(s.urls))
	for d, urls := range s.urls {
		cp := make([]string, len(urls))
		copy(cp, urls)
		out[d] = cp
	}
	return out
}

// Result returns the crawl result built from this store. Before the Engine
// has finished, only Products is populated.
func (s *ResultStore) Result() *model.CrawlResult {
	products := s.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.summary == nil {
		return &model.CrawlResult{Products: products}
	}
	result := *s.summary
	result.Seeds = append([]string(nil), s.summary.Seeds...)
	result.Products = products
	return &result
}

// setSummary records the run metadata.
func (s *ResultStore) setSummary(summary *model.CrawlResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
}
