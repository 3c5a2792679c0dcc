package events

import (
	"fmt"
	"strconv"
	"time"
)

// ClickEvent is one served redirect.
type ClickEvent struct {
	ID        string
	LinkID    string
	Domain    string
	Keyword   string
	Timestamp time.Time
	IP        string
	UserAgent string
	Referer   string
}

// Values encodes the event as stream fields.
func (e *ClickEvent) Values() map[string]any {
	fields := map[string]any{
		"event_id":  e.ID,
		"link_id":   e.LinkID,
		"domain":    e.Domain,
		"keyword":   e.Keyword,
		"timestamp": e.Timestamp.UnixMilli(),
	}
	if e.IP != "" {
		fields["ip"] = e.IP
	}
	if e.UserAgent != "" {
		fields["user_agent"] = e.UserAgent
	}
	if e.Referer != "" {
		fields["referer"] = e.Referer
	}
	return fields
}

// FromValues decodes stream fields written by Values.
func FromValues(values map[string]any) (*ClickEvent, error) {
	str := func(k string) string {
		s, _ := values[k].(string)
		return s
	}

	e := &ClickEvent{
		ID:        str("event_id"),
		LinkID:    str("link_id"),
		Domain:    str("domain"),
		Keyword:   str("keyword"),
		IP:        str("ip"),
		UserAgent: str("user_agent"),
		Referer:   str("referer"),
	}
	if e.LinkID == "" {
		return nil, fmt.Errorf("missing link_id")
	}

	ms, err := strconv.ParseInt(str("timestamp"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", str("timestamp"), err)
	}
	e.Timestamp = time.UnixMilli(ms).UTC()
	return e, nil
}
