package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/elga-io/corgi/internal/config"
)

const createClickEvents = `
CREATE TABLE IF NOT EXISTS click_events (
	event_id     String,
	link_id      String,
	domain       LowCardinality(String),
	keyword      String,
	clicked_at   DateTime64(3, 'UTC'),
	ip_address   String,
	user_agent   String,
	browser      LowCardinality(String),
	os           LowCardinality(String),
	device_type  LowCardinality(String),
	is_bot       UInt8,
	referer      String
) ENGINE = MergeTree
PARTITION BY toYYYYMM(clicked_at)
ORDER BY (link_id, clicked_at)`

type Client struct {
	conn driver.Conn
}

func NewClient(ctx context.Context, cfg config.ClickHouseConfig) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     cfg.MaxConns,
		MaxIdleConns:     max(cfg.MaxConns/2, 1),
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Migrate creates the click_events table in the configured database.
func (c *Client) Migrate(ctx context.Context) error {
	if err := c.conn.Exec(ctx, createClickEvents); err != nil {
		return fmt.Errorf("failed to create click_events: %w", err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) InsertClickEvents(ctx context.Context, events []ClickEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `INSERT INTO click_events (
		event_id, link_id, domain, keyword, clicked_at,
		ip_address, user_agent, browser, os, device_type, is_bot,
		referer
	)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, e := range events {
		var bot uint8
		if e.IsBot {
			bot = 1
		}
		err := batch.Append(
			e.EventID,
			e.LinkID,
			e.Domain,
			e.Keyword,
			e.ClickedAt,
			e.IPAddress,
			e.UserAgent,
			e.Browser,
			e.OS,
			e.DeviceType,
			bot,
			e.Referer,
		)
		if err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// GetClickEvents returns the most recent clicks on a link.
func (c *Client) GetClickEvents(ctx context.Context, linkID string, limit int) ([]ClickEvent, error) {
	query := `
		SELECT
			event_id, link_id, domain, keyword, clicked_at,
			ip_address, user_agent, browser, os, device_type, is_bot,
			referer
		FROM click_events
		WHERE link_id = ?
		ORDER BY clicked_at DESC
		LIMIT ?
	`

	rows, err := c.conn.Query(ctx, query, linkID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query click events: %w", err)
	}
	defer rows.Close()

	events := []ClickEvent{}
	for rows.Next() {
		var (
			e   ClickEvent
			bot uint8
		)
		err := rows.Scan(
			&e.EventID,
			&e.LinkID,
			&e.Domain,
			&e.Keyword,
			&e.ClickedAt,
			&e.IPAddress,
			&e.UserAgent,
			&e.Browser,
			&e.OS,
			&e.DeviceType,
			&bot,
			&e.Referer,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan click event: %w", err)
		}
		e.IsBot = bot == 1
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}

func (c *Client) GetLinkStats(ctx context.Context, linkID string) (*LinkStats, error) {
	query := `
		SELECT
			count() AS total_clicks,
			uniq(ip_address) AS unique_visitors,
			countIf(is_bot = 1) AS bot_clicks,
			max(clicked_at) AS last_clicked
		FROM click_events
		WHERE link_id = ?
	`

	stats := &LinkStats{LinkID: linkID}
	row := c.conn.QueryRow(ctx, query, linkID)
	if err := row.Scan(&stats.TotalClicks, &stats.UniqueVisitors, &stats.BotClicks, &stats.LastClickedAt); err != nil {
		return nil, fmt.Errorf("failed to get link stats: %w", err)
	}

	devices, err := c.conn.Query(ctx, `
		SELECT device_type, count() AS clicks
		FROM click_events
		WHERE link_id = ?
		GROUP BY device_type
		ORDER BY clicks DESC
	`, linkID)
	if err != nil {
		return nil, fmt.Errorf("failed to query device stats: %w", err)
	}
	defer devices.Close()

	stats.Devices = map[string]uint64{}
	for devices.Next() {
		var (
			device string
			n      uint64
		)
		if err := devices.Scan(&device, &n); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		stats.Devices[device] = n
	}
	return stats, devices.Err()
}
