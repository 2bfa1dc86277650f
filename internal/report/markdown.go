package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/prodcrawl/internal/model"
)

// MarkdownWriter outputs results in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter

	// maxURLs caps the URLs listed per domain. 0 lists all.
	maxURLs int
}

// MarkdownWriterOption configures a MarkdownWriter.
type MarkdownWriterOption func(*MarkdownWriter)

// WithMaxListedURLs caps the number of URLs listed per domain.
func WithMaxListedURLs(n int) MarkdownWriterOption {
	return func(w *MarkdownWriter) {
		w.maxURLs = n
	}
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer, opts ...MarkdownWriterOption) *MarkdownWriter {
	w := &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the result in Markdown format.
func (w *MarkdownWriter) Write(result *model.CrawlResult) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, result)
	w.writeSummary(md, result)
	w.writeProducts(md, result)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the report header with run information.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, result *model.CrawlResult) {
	md.H1("Product URL Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run ID", "`" + result.RunID + "`"},
			{"Started", result.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", result.Duration().Round(100 * time.Millisecond).String()},
			{"Pages Fetched", strconv.Itoa(result.Stats.PagesFetched)},
			{"Fetch Failures", strconv.Itoa(result.Stats.FetchFailures)},
			{"Status", statusText(result)},
		},
	})
	md.PlainText("")
}

// statusText returns the status text based on the run state.
func statusText(result *model.CrawlResult) string {
	if result.Stats.Cancelled {
		return "⚠️ Stopped early (partial results)"
	}
	return "✅ Complete"
}

// writeSummary writes the per-domain count table, chart and alert.
func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, result *model.CrawlResult) {
	md.H2("Summary")
	md.PlainText("")

	domains := result.Domains()
	rows := make([][]string, 0, len(domains)+1)
	for _, d := range domains {
		rows = append(rows, []string{"`" + d + "`", strconv.Itoa(len(result.Products[d]))})
	}
	rows = append(rows, []string{"**Total**", "**" + strconv.Itoa(result.TotalProducts()) + "**"})

	md.Table(markdown.TableSet{
		Header: []string{"Domain", "Product URLs"},
		Rows:   rows,
	})
	md.PlainText("")

	if result.TotalProducts() > 0 && len(domains) > 1 {
		w.writePieChart(md, result)
	}

	switch {
	case result.Stats.Cancelled:
		md.Warningf("The crawl stopped before every reachable page was visited. %d product URL(s) were found before it stopped.",
			result.TotalProducts())
	case result.TotalProducts() == 0:
		md.Note("No product URLs were found. The shop may render its catalog with JavaScript; try --render=auto.")
	default:
		md.Tip("Crawl completed.")
	}
	md.PlainText("")
}

// writePieChart writes a mermaid pie chart of product URLs per domain.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, result *model.CrawlResult) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Product URLs by Domain"),
		piechart.WithShowData(true),
	)

	for _, d := range result.Domains() {
		if n := len(result.Products[d]); n > 0 {
			chart.LabelAndIntValue(d, uint64(n))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeProducts lists the URLs of every domain.
func (w *MarkdownWriter) writeProducts(md *markdown.Markdown, result *model.CrawlResult) {
	md.H2("Product URLs")
	md.PlainText("")

	for _, d := range result.Domains() {
		md.H3(d)
		md.PlainText("")

		urls := result.Products[d]
		if len(urls) == 0 {
			md.PlainText("No product URLs found.")
			md.PlainText("")
			continue
		}

		listed := urls
		if w.maxURLs > 0 && len(listed) > w.maxURLs {
			listed = listed[:w.maxURLs]
		}
		md.BulletList(listed...)
		if len(listed) < len(urls) {
			md.PlainText("")
			md.PlainTextf("*... and %d more*", len(urls)-len(listed))
		}
		md.PlainText("")
	}
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [prodcrawl](https://github.com/nao1215/prodcrawl)*")
}
