package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/prodcrawl/internal/model"
)

// DefaultRedisPrefix is prepended to every key the RedisSink writes.
const DefaultRedisPrefix = "prodcrawl:"

// RedisSink publishes the result to Redis:
//
//	<prefix>products:<domain>  list of product URLs in discovery order
//	<prefix>run:<runID>        hash with run metadata
//	<prefix>latest             the ID of the last run written
//
// Each domain list is replaced in one MULTI/EXEC transaction, so readers
// never observe a mix of two runs.
type RedisSink struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSink creates a sink for the Redis server at addr. ttl of 0 keeps
// the keys forever.
func NewRedisSink(addr, prefix string, ttl time.Duration) *RedisSink {
	return NewRedisSinkWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix, ttl)
}

// NewRedisSinkWithClient creates a sink using an existing client.
func NewRedisSinkWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisSink {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// ProductsKey returns the key of domain's product list.
func (s *RedisSink) ProductsKey(domain string) string {
	return s.prefix + "products:" + domain
}

// RunKey returns the key of a run's metadata hash.
func (s *RedisSink) RunKey(runID string) string {
	return s.prefix + "run:" + runID
}

// Write implements crawler.Sink.
func (s *RedisSink) Write(ctx context.Context, result *model.CrawlResult) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, domain := range result.Domains() {
			key := s.ProductsKey(domain)
			pipe.Del(ctx, key)

			urls := result.Products[domain]
			if len(urls) == 0 {
				continue
			}
			values := make([]any, len(urls))
			for i, u := range urls {
				values[i] = u
			}
			pipe.RPush(ctx, key, values...)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
		}

		runKey := s.RunKey(result.RunID)
		pipe.HSet(ctx, runKey,
			"startedAt", result.StartedAt.UTC().Format(time.RFC3339),
			"finishedAt", result.FinishedAt.UTC().Format(time.RFC3339),
			"totalProducts", result.TotalProducts(),
			"pagesFetched", result.Stats.PagesFetched,
			"cancelled", result.Stats.Cancelled,
		)
		if s.ttl > 0 {
			pipe.Expire(ctx, runKey, s.ttl)
		}
		pipe.Set(ctx, s.prefix+"latest", result.RunID, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write to redis: %w", err)
	}
	return nil
}
