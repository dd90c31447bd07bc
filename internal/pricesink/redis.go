// Package pricesink publishes reference prices toward collaborators outside
// this core: threshold adaptation workers, reporting, dashboards.
package pricesink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/frank120121/bpa/internal/domain"
)

const publishTimeout = 2 * time.Second

// referencePriceMessage is the payload written for each recomputed price.
type referencePriceMessage struct {
	Book      string `json:"book"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// RedisSink stores the latest reference price per book and side and
// broadcasts every update on a pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	book    string
	channel string
	log     *slog.Logger
}

// NewRedisSink creates a sink for one book symbol.
func NewRedisSink(client *redis.Client, book, channel string, log *slog.Logger) *RedisSink {
	return &RedisSink{client: client, book: book, channel: channel, log: log}
}

// PublishReferencePrice writes the latest value and broadcasts it. Called
// from the replica's stream goroutine, so it never blocks past its own
// timeout and failures are logged rather than surfaced.
func (s *RedisSink) PublishReferencePrice(side domain.Side, value decimal.Decimal) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	msg := referencePriceMessage{
		Book:      s.book,
		Side:      string(side),
		Price:     value.String(),
		Timestamp: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("failed to marshal reference price", "err", err)
		return
	}

	// Latest value expires so a stalled publisher cannot serve stale prices.
	key := latestKey(s.book, side)
	if err := s.client.Set(ctx, key, payload, 2*time.Minute).Err(); err != nil {
		s.log.Warn("failed to set latest reference price", "key", key, "err", err)
		return
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.log.Warn("failed to publish reference price", "channel", s.channel, "err", err)
	}
}

// Ping checks the Redis connection health.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func latestKey(book string, side domain.Side) string {
	return fmt.Sprintf("bpa:ref:%s:%s", book, side)
}

// NopSink discards every price. Used when no external consumer is wired.
type NopSink struct{}

func (NopSink) PublishReferencePrice(side domain.Side, value decimal.Decimal) {}
