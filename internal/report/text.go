package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/prodcrawl/internal/model"
)

// TextWriter outputs a human-readable summary for the terminal.
//
// Design decision: We use plain text with ASCII formatting rather than
// ANSI colors because it works in all terminals and is easy to pipe.
type TextWriter struct {
	baseWriter

	// verbose lists every URL instead of only the counts.
	verbose bool
}

// TextWriterOption configures a TextWriter.
type TextWriterOption func(*TextWriter)

// WithVerbose lists every product URL.
func WithVerbose(verbose bool) TextWriterOption {
	return func(w *TextWriter) {
		w.verbose = verbose
	}
}

// NewTextWriter creates a TextWriter that outputs to the given writer.
func NewTextWriter(output io.Writer, opts ...TextWriterOption) *TextWriter {
	w := &TextWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the summary.
func (w *TextWriter) Write(result *model.CrawlResult) (int, error) {
	var sb strings.Builder

	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Run:        %s\n", result.RunID)
	fmt.Fprintf(&sb, "Duration:   %s\n", result.Duration().Round(100*time.Millisecond))
	fmt.Fprintf(&sb, "Pages:      %d fetched, %d failed\n", result.Stats.PagesFetched, result.Stats.FetchFailures)
	if result.Stats.Cancelled {
		sb.WriteString("Status:     STOPPED EARLY (partial results)\n")
	} else {
		sb.WriteString("Status:     Complete\n")
	}
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")

	for _, d := range result.Domains() {
		urls := result.Products[d]
		fmt.Fprintf(&sb, "  %-45s %6d product URLs\n", d, len(urls))
		if w.verbose {
			for _, u := range urls {
				fmt.Fprintf(&sb, "    %s\n", u)
			}
		}
	}

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  %-45s %6d product URLs\n", "TOTAL", result.TotalProducts())
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")

	return w.output.Write([]byte(sb.String()))
}
