package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/nao1215/prodcrawl/internal/model"
)

// RunIDHeader carries the run ID on every message.
const RunIDHeader = "prodcrawl-run-id"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one message per domain. The key is the domain and
// the value is the JSON array of its product URLs, so a compacted topic
// keeps the latest product list of every shop.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a sink for the given broker and topic.
func NewKafkaSink(broker, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: false,
		},
	}
}

// NewKafkaSinkWithWriter builds a sink using a custom writer (tests).
func NewKafkaSinkWithWriter(writer messageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

// Close shuts down the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// Write implements crawler.Sink.
func (s *KafkaSink) Write(ctx context.Context, result *model.CrawlResult) error {
	domains := result.Domains()
	if len(domains) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(domains))
	for _, domain := range domains {
		urls := result.Products[domain]
		if urls == nil {
			urls = []string{}
		}
		payload, err := json.Marshal(urls)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(domain),
			Value:   payload,
			Time:    result.FinishedAt.UTC(),
			Headers: []kafka.Header{{Key: RunIDHeader, Value: []byte(result.RunID)}},
		})
	}

	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish to kafka: %w", err)
	}
	return nil
}
