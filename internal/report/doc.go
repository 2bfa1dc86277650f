// Package report renders crawl results for people and tools.
//
// Three formats are provided:
//   - TextWriter: a plain-text summary for the terminal
//   - JSONWriter: the domain to product URL mapping, optionally wrapped
//     with run metadata
//   - MarkdownWriter: a shareable report with summary tables
//
// Writers only format; where the bytes go (a file, stdout) is decided by
// the caller. The sink package uses these writers for file output.
package report
