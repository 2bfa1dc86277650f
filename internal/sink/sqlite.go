package sink

import (
	"context"

	"github.com/nao1215/prodcrawl/internal/database"
	"github.com/nao1215/prodcrawl/internal/model"
)

// SQLiteSink records the run in the crawl history database.
type SQLiteSink struct {
	db *database.CrawlDB
}

// NewSQLiteSink creates a sink backed by db. The caller owns db.
func NewSQLiteSink(db *database.CrawlDB) *SQLiteSink {
	return &SQLiteSink{db: db}
}

// Write implements crawler.Sink.
func (s *SQLiteSink) Write(ctx context.Context, result *model.CrawlResult) error {
	return s.db.SaveRun(ctx, result)
}
