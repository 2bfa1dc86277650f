// Package sink persists the result of a finished crawl.
//
// Every sink implements crawler.Sink. The engine calls Write exactly once,
// after the last worker has exited, with a context that is not cancelled
// even when the crawl itself was.
//
// Available sinks:
//   - FileSink: a JSON or Markdown file, written atomically
//   - SQLiteSink: the crawl history database
//   - RedisSink: one Redis list per domain
//   - KafkaSink: one Kafka message per domain
//   - Multi: fans out to several sinks
package sink
