package accounting

import (
	"context"
	"errors"
	"os"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elga-io/corgi/internal/clickhouse"
	"github.com/elga-io/corgi/internal/events"
	"github.com/elga-io/corgi/internal/models"
	"github.com/elga-io/corgi/internal/storage"
)

func message(id string, e *events.ClickEvent) redis.XMessage {
	values := make(map[string]any)
	for k, v := range e.Values() {
		if n, ok := v.(int64); ok {
			v = strconv.FormatInt(n, 10)
		}
		values[k] = v
	}
	return redis.XMessage{ID: id, Values: values}
}

func newLink(t *testing.T, store *storage.MemoryStorage, keyword string) *models.Link {
	t.Helper()
	l := &models.Link{Domain: "elga.io", Keyword: keyword, URL: "https://example.com/" + keyword, Active: true}
	if err := store.Create(context.Background(), l); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return l
}

func TestConsumerHandleAggregates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	sink := clickhouse.NewMemoryLog()
	a := newLink(t, store, "aaaaaaa")
	b := newLink(t, store, "bbbbbbb")

	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	msgs := []redis.XMessage{
		message("1-0", &events.ClickEvent{ID: "e1", LinkID: a.ID, Timestamp: base, UserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"}),
		message("2-0", &events.ClickEvent{ID: "e2", LinkID: a.ID, Timestamp: base.Add(time.Minute)}),
		message("3-0", &events.ClickEvent{ID: "e3", LinkID: b.ID, Timestamp: base}),
		{ID: "4-0", Values: map[string]any{"garbage": "1"}},
		message("5-0", &events.ClickEvent{ID: "e5", LinkID: "purged", Timestamp: base}),
	}

	c := NewConsumer(nil, store, sink, ConsumerConfig{}, nil)
	ack, err := c.handle(ctx, msgs)
	if err != nil {
		t.Fatalf("handle() error = %v", err)
	}

	slices.Sort(ack)
	if want := []string{"1-0", "2-0", "3-0", "4-0", "5-0"}; !slices.Equal(ack, want) {
		t.Errorf("ack = %v, want %v", ack, want)
	}

	got, _ := store.GetByID(ctx, a.ID)
	if got.Clicks != 2 {
		t.Errorf("clicks(a) = %d, want 2", got.Clicks)
	}
	if got.LastClickedAt == nil || !got.LastClickedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("LastClickedAt(a) = %v", got.LastClickedAt)
	}
	got, _ = store.GetByID(ctx, b.ID)
	if got.Clicks != 1 {
		t.Errorf("clicks(b) = %d, want 1", got.Clicks)
	}

	logged, _ := sink.GetClickEvents(ctx, a.ID, 10)
	if len(logged) != 2 {
		t.Fatalf("click log has %d events for a, want 2", len(logged))
	}
	if !logged[1].IsBot {
		t.Errorf("expected the Googlebot click to be marked as a bot: %+v", logged[1])
	}
}

type flakyCounter struct {
	fail  string
	calls map[string]int64
}

func (f *flakyCounter) IncrementClicks(ctx context.Context, id string, delta int64, at time.Time) error {
	if id == f.fail {
		return errors.New("connection reset")
	}
	f.calls[id] += delta
	return nil
}

func TestConsumerHandleKeepsFailedLinksPending(t *testing.T) {
	counter := &flakyCounter{fail: "bad", calls: map[string]int64{}}
	c := NewConsumer(nil, counter, nil, ConsumerConfig{}, nil)

	now := time.Now()
	ack, err := c.handle(context.Background(), []redis.XMessage{
		message("1-0", &events.ClickEvent{LinkID: "good", Timestamp: now}),
		message("2-0", &events.ClickEvent{LinkID: "bad", Timestamp: now}),
		message("3-0", &events.ClickEvent{LinkID: "good", Timestamp: now}),
	})
	if err == nil {
		t.Fatal("handle() error = nil, want failure for link bad")
	}
	if want := []string{"1-0", "3-0"}; !slices.Equal(ack, want) {
		t.Errorf("ack = %v, want %v", ack, want)
	}
	if counter.calls["good"] != 2 {
		t.Errorf("good incremented by %d, want 2", counter.calls["good"])
	}
}

func TestConsumerRunWithRedis(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	stream := "corgi:test:clicks:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	defer client.Del(context.Background(), stream)

	store := storage.NewMemoryStorage()
	link := newLink(t, store, "streamd")

	producer := events.NewClickProducer(client, stream, 1000)
	for i := 0; i < 5; i++ {
		if err := producer.Publish(ctx, &events.ClickEvent{ID: strconv.Itoa(i), LinkID: link.ID, Timestamp: time.Now()}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	c := NewConsumer(client, store, nil, ConsumerConfig{
		Stream:    stream,
		Group:     "test-group",
		Consumer:  "test-consumer",
		BlockTime: 100 * time.Millisecond,
	}, nil)
	if err := c.Setup(ctx); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := c.Setup(ctx); err != nil {
		t.Fatalf("second Setup() error = %v", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := store.GetByID(ctx, link.ID)
		if got.Clicks == 5 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	stop()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, _ := store.GetByID(ctx, link.ID)
	if got.Clicks != 5 {
		t.Fatalf("clicks = %d, want 5", got.Clicks)
	}
	pending, err := client.XPending(ctx, stream, "test-group").Result()
	if err != nil {
		t.Fatalf("XPending() error = %v", err)
	}
	if pending.Count != 0 {
		t.Errorf("pending = %d, want 0", pending.Count)
	}
}
