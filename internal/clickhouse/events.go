package clickhouse

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ClickEvent is one enriched row of the click log.
type ClickEvent struct {
	EventID   string    `json:"id"`
	LinkID    string    `json:"link_id"`
	Domain    string    `json:"domain"`
	Keyword   string    `json:"keyword"`
	ClickedAt time.Time `json:"clicked_at"`

	IPAddress  string `json:"-"`
	UserAgent  string `json:"user_agent,omitempty"`
	Browser    string `json:"browser,omitempty"`
	OS         string `json:"os,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	IsBot      bool   `json:"is_bot"`

	Referer string `json:"referer,omitempty"`
}

type LinkStats struct {
	LinkID         string            `json:"link_id"`
	TotalClicks    uint64            `json:"total_clicks"`
	UniqueVisitors uint64            `json:"unique_visitors"`
	BotClicks      uint64            `json:"bot_clicks"`
	LastClickedAt  time.Time         `json:"last_clicked_at"`
	Devices        map[string]uint64 `json:"devices"`
}

// ClickLog is the click log as seen by the API and the accounting worker.
// Client and MemoryLog implement it.
type ClickLog interface {
	InsertClickEvents(ctx context.Context, events []ClickEvent) error
	GetClickEvents(ctx context.Context, linkID string, limit int) ([]ClickEvent, error)
	GetLinkStats(ctx context.Context, linkID string) (*LinkStats, error)
}

// MemoryLog keeps click events in process. Used when ClickHouse is not
// configured and in tests.
type MemoryLog struct {
	mu     sync.RWMutex
	events map[string][]ClickEvent
	seen   map[string]struct{}
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		events: make(map[string][]ClickEvent),
		seen:   make(map[string]struct{}),
	}
}

// InsertClickEvents skips event IDs it has already stored, so redelivered
// stream messages are not logged twice.
func (m *MemoryLog) InsertClickEvents(ctx context.Context, events []ClickEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		if e.EventID != "" {
			if _, dup := m.seen[e.EventID]; dup {
				continue
			}
			m.seen[e.EventID] = struct{}{}
		}
		m.events[e.LinkID] = append(m.events[e.LinkID], e)
	}
	return nil
}

func (m *MemoryLog) GetClickEvents(ctx context.Context, linkID string, limit int) ([]ClickEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := append([]ClickEvent(nil), m.events[linkID]...)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ClickedAt.After(out[j].ClickedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryLog) GetLinkStats(ctx context.Context, linkID string) (*LinkStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &LinkStats{LinkID: linkID, Devices: map[string]uint64{}}
	visitors := map[string]struct{}{}
	for _, e := range m.events[linkID] {
		stats.TotalClicks++
		if e.IsBot {
			stats.BotClicks++
		}
		if e.ClickedAt.After(stats.LastClickedAt) {
			stats.LastClickedAt = e.ClickedAt
		}
		visitors[e.IPAddress] = struct{}{}
		stats.Devices[e.DeviceType]++
	}
	stats.UniqueVisitors = uint64(len(visitors))
	return stats, nil
}
