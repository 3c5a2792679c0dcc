package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher hands click events to whatever does the counting.
type Publisher interface {
	Publish(ctx context.Context, event *ClickEvent) error
}

// ClickProducer appends events to a Redis stream for the analytics worker.
type ClickProducer struct {
	client     *redis.Client
	streamName string
	maxLen     int64
}

func NewClickProducer(client *redis.Client, streamName string, maxLen int64) *ClickProducer {
	return &ClickProducer{
		client:     client,
		streamName: streamName,
		maxLen:     maxLen,
	}
}

func (p *ClickProducer) args(event *ClickEvent) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: p.streamName,
		Values: event.Values(),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return args
}

func (p *ClickProducer) Publish(ctx context.Context, event *ClickEvent) error {
	if err := p.client.XAdd(ctx, p.args(event)).Err(); err != nil {
		return fmt.Errorf("failed to publish click event: %w", err)
	}
	return nil
}

// StreamLength reports the backlog still held in the stream.
func (p *ClickProducer) StreamLength(ctx context.Context) (int64, error) {
	return p.client.XLen(ctx, p.streamName).Result()
}

// ClickCounter is the part of the link store the direct publisher needs.
type ClickCounter interface {
	IncrementClicks(ctx context.Context, id string, delta int64, at time.Time) error
}

// StorePublisher counts each click straight into the store. It suits
// single-node deployments without Redis.
type StorePublisher struct {
	store ClickCounter
}

func NewStorePublisher(store ClickCounter) *StorePublisher {
	return &StorePublisher{store: store}
}

func (p *StorePublisher) Publish(ctx context.Context, event *ClickEvent) error {
	return p.store.IncrementClicks(ctx, event.LinkID, 1, event.Timestamp)
}
