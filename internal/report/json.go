package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/nao1215/prodcrawl/internal/model"
)

// DefaultJSONIndent is the indentation of the product URL file.
const DefaultJSONIndent = "    "

// JSONWriter outputs the domain to product URL mapping as JSON.
//
// By default only the mapping is written, which is the format downstream
// tools consume:
//
//	{
//	    "shop.example": [
//	        "https://shop.example/product/1"
//	    ]
//	}
//
// WithMetadata wraps it with the run ID, timing and counters.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	indent bool

	// indentString is the indentation string for each level.
	indentString string

	// metadata wraps the mapping in a Document.
	metadata bool

	// version is recorded in the Document when metadata is on.
	version string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output using indent for each level.
func WithIndent(indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentString = indent
	}
}

// WithCompact disables indentation.
func WithCompact() JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = false
	}
}

// WithMetadata wraps the mapping with run information.
func WithMetadata(version string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.metadata = true
		w.version = version
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
// Output is indented with DefaultJSONIndent unless WithCompact is given.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter:   newBaseWriter(output),
		indent:       true,
		indentString: DefaultJSONIndent,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the result in JSON format.
func (w *JSONWriter) Write(result *model.CrawlResult) (int, error) {
	products := result.Products
	if products == nil {
		products = map[string][]string{}
	}

	if !w.metadata {
		return w.writeJSON(products)
	}
	return w.writeJSON(NewDocument(result, w.version))
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, "", w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	// Add trailing newline for better terminal output
	data = append(data, '\n')

	return w.output.Write(data)
}

// Document is the JSON form of a result with run metadata.
//
// Design decision: We wrap the result rather than serializing CrawlResult
// directly so output-only fields (version, duration) do not leak into the
// core model.
type Document struct {
	// Version is the prodcrawl version that produced the document.
	Version string `json:"version,omitempty"`

	// RunID identifies the crawl run.
	RunID string `json:"runId"`

	// StartedAt is when the crawl started.
	StartedAt time.Time `json:"startedAt"`

	// FinishedAt is when the crawl finished.
	FinishedAt time.Time `json:"finishedAt"`

	// DurationSeconds is the crawl duration.
	DurationSeconds float64 `json:"durationSeconds"`

	// Seeds are the crawled domains.
	Seeds []string `json:"seeds"`

	// Stats are the crawl counters.
	Stats model.CrawlStats `json:"stats"`

	// Products maps each domain to its product URLs.
	Products map[string][]string `json:"products"`
}

// NewDocument creates a Document for result.
func NewDocument(result *model.CrawlResult, version string) *Document {
	products := result.Products
	if products == nil {
		products = map[string][]string{}
	}
	return &Document{
		Version:         version,
		RunID:           result.RunID,
		StartedAt:       result.StartedAt,
		FinishedAt:      result.FinishedAt,
		DurationSeconds: result.Duration().Seconds(),
		Seeds:           result.Seeds,
		Stats:           result.Stats,
		Products:        products,
	}
}
