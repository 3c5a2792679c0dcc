package accounting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elga-io/corgi/internal/clickhouse"
	"github.com/elga-io/corgi/internal/enrichment"
	"github.com/elga-io/corgi/internal/errx"
	"github.com/elga-io/corgi/internal/events"
	"github.com/elga-io/corgi/internal/logger"
)

type ConsumerConfig struct {
	Stream     string
	Group      string
	Consumer   string
	BatchSize  int64
	BlockTime  time.Duration
	RetryDelay time.Duration
}

// Consumer turns the click stream into click counts. Messages are
// acknowledged only once their increment is stored, so a crash between the
// two replays them: counts are at-least-once.
type Consumer struct {
	client *redis.Client
	store  events.ClickCounter
	sink   clickhouse.ClickLog
	cfg    ConsumerConfig
	log    *logger.Logger
}

// NewConsumer builds a consumer. sink may be nil.
func NewConsumer(client *redis.Client, store events.ClickCounter, sink clickhouse.ClickLog, cfg ConsumerConfig, log *logger.Logger) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Consumer{
		client: client,
		store:  store,
		sink:   sink,
		cfg:    cfg,
		log:    log,
	}
}

// Setup creates the consumer group, and the stream if needed.
func (c *Consumer) Setup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Run processes the stream until ctx is done. Messages delivered to this
// consumer before a restart but never acknowledged are handled first.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.drainPending(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := c.read(ctx, ">")
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("Failed to read from stream: %v", err)
			c.sleep(ctx)
			continue
		}

		for _, stream := range streams {
			if err := c.process(ctx, stream.Messages); err != nil {
				c.log.Error("Failed to process batch: %v", err)
				c.sleep(ctx)
			}
		}
	}
}

func (c *Consumer) drainPending(ctx context.Context) error {
	start, total := "0", 0
	for {
		streams, err := c.read(ctx, start)
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read pending messages: %w", err)
		}

		n := 0
		for _, stream := range streams {
			n += len(stream.Messages)
			if len(stream.Messages) == 0 {
				continue
			}
			// Whatever still fails stays pending for the next restart.
			if err := c.process(ctx, stream.Messages); err != nil {
				c.log.Error("Failed to replay pending messages: %v", err)
			}
			start = stream.Messages[len(stream.Messages)-1].ID
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total > 0 {
		c.log.Info("Replayed %d pending click events", total)
	}
	return nil
}

func (c *Consumer) read(ctx context.Context, id string) ([]redis.XStream, error) {
	block := c.cfg.BlockTime
	if id != ">" {
		block = -1
	}
	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, id},
		Count:    c.cfg.BatchSize,
		Block:    block,
	}).Result()
}

func (c *Consumer) process(ctx context.Context, msgs []redis.XMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	ack, err := c.handle(ctx, msgs)
	if len(ack) > 0 {
		if ackErr := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, ack...).Err(); ackErr != nil {
			return errors.Join(err, fmt.Errorf("failed to acknowledge messages: %w", ackErr))
		}
	}
	return err
}

type linkBatch struct {
	delta int64
	last  time.Time
	ids   []string
}

// handle applies a batch and returns the message IDs that are safe to
// acknowledge. A link whose increment fails keeps its messages pending.
func (c *Consumer) handle(ctx context.Context, msgs []redis.XMessage) ([]string, error) {
	ack := make([]string, 0, len(msgs))
	batches := make(map[string]*linkBatch)
	order := make([]string, 0)
	rows := make([]clickhouse.ClickEvent, 0, len(msgs))

	for _, msg := range msgs {
		e, err := events.FromValues(msg.Values)
		if err != nil {
			c.log.Warn("Discarding malformed message %s: %v", msg.ID, err)
			ack = append(ack, msg.ID)
			continue
		}

		b, ok := batches[e.LinkID]
		if !ok {
			b = &linkBatch{}
			batches[e.LinkID] = b
			order = append(order, e.LinkID)
		}
		b.delta++
		b.ids = append(b.ids, msg.ID)
		if e.Timestamp.After(b.last) {
			b.last = e.Timestamp
		}

		if c.sink != nil {
			rows = append(rows, enrich(e))
		}
	}

	var errs []error
	for _, linkID := range order {
		b := batches[linkID]
		err := c.store.IncrementClicks(ctx, linkID, b.delta, b.last)
		switch {
		case err == nil:
			ack = append(ack, b.ids...)
		case errx.KindOf(err) == errx.NotFound:
			c.log.Debug("Dropping %d clicks for purged link %s", b.delta, linkID)
			ack = append(ack, b.ids...)
		default:
			errs = append(errs, fmt.Errorf("link %s: %w", linkID, err))
		}
	}

	if c.sink != nil && len(rows) > 0 {
		if err := c.sink.InsertClickEvents(ctx, rows); err != nil {
			c.log.Warn("Failed to write %d events to the click log: %v", len(rows), err)
		}
	}

	if len(batches) > 0 {
		c.log.Debug("Processed %d events for %d links", len(msgs), len(batches))
	}
	return ack, errors.Join(errs...)
}

func enrich(e *events.ClickEvent) clickhouse.ClickEvent {
	ua := enrichment.ParseUserAgent(e.UserAgent)
	return clickhouse.ClickEvent{
		EventID:    e.ID,
		LinkID:     e.LinkID,
		Domain:     e.Domain,
		Keyword:    e.Keyword,
		ClickedAt:  e.Timestamp,
		IPAddress:  e.IP,
		UserAgent:  e.UserAgent,
		Browser:    ua.Browser,
		OS:         ua.OS,
		DeviceType: ua.DeviceType,
		IsBot:      ua.IsBot,
		Referer:    e.Referer,
	}
}

func (c *Consumer) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.RetryDelay):
	}
}
