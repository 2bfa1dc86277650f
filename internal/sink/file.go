package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nao1215/prodcrawl/internal/model"
	"github.com/nao1215/prodcrawl/internal/report"
)

// DefaultJSONPath is the file the product URLs are written to when no
// output path is configured.
const DefaultJSONPath = "product_urls.json"

// FileSink writes a result to a file using a report.Writer.
//
// Design decision: The file is written to a temporary file in the same
// directory and renamed into place, so a reader never sees a half-written
// result and a failed write leaves the previous file intact.
type FileSink struct {
	path      string
	perm      os.FileMode
	newWriter func(io.Writer) report.Writer
}

// NewFileSink creates a sink that renders with newWriter into path.
func NewFileSink(path string, newWriter func(io.Writer) report.Writer) *FileSink {
	return &FileSink{
		path:      path,
		perm:      0600,
		newWriter: newWriter,
	}
}

// NewJSONSink creates a sink writing the domain to URL mapping as JSON.
func NewJSONSink(path string, opts ...report.JSONWriterOption) *FileSink {
	if path == "" {
		path = DefaultJSONPath
	}
	return NewFileSink(path, func(w io.Writer) report.Writer {
		return report.NewJSONWriter(w, opts...)
	})
}

// NewMarkdownSink creates a sink writing a Markdown report.
func NewMarkdownSink(path string, opts ...report.MarkdownWriterOption) *FileSink {
	return NewFileSink(path, func(w io.Writer) report.Writer {
		return report.NewMarkdownWriter(w, opts...)
	})
}

// Path returns the destination file.
func (s *FileSink) Path() string {
	return s.path
}

// Write implements crawler.Sink.
func (s *FileSink) Write(ctx context.Context, result *model.CrawlResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // gone after a successful rename

	if _, err := s.newWriter(tmp).Write(result); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	if err := os.Chmod(tmpPath, s.perm); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", s.path, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to move result into place: %w", err)
	}
	return nil
}
