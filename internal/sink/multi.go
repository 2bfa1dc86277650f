package sink

import (
	"context"
	"errors"

	"github.com/nao1215/prodcrawl/internal/crawler"
	"github.com/nao1215/prodcrawl/internal/model"
)

// Multi writes a result to several sinks.
//
// Every sink is written even when an earlier one fails, so a Redis outage
// does not cost the JSON file. All errors are joined.
type Multi struct {
	sinks []crawler.Sink
}

// NewMulti creates a Multi. Nil sinks are ignored.
func NewMulti(sinks ...crawler.Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Add appends a sink.
func (m *Multi) Add(s crawler.Sink) {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Write implements crawler.Sink.
func (m *Multi) Write(ctx context.Context, result *model.CrawlResult) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
