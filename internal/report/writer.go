package report

import (
	"io"

	"github.com/nao1215/prodcrawl/internal/model"
)

// Writer formats a finished crawl.
//
// Design decision: Writers only format. Where the bytes end up (a file, the
// terminal, an HTTP response in tests) is decided by whoever owns the
// io.Writer, so the file sink, the history command and the crawl summary
// share the same formatters.
type Writer interface {
	// Write formats result and returns the number of bytes written.
	Write(result *model.CrawlResult) (int, error)
}

// baseWriter holds the destination shared by all writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
