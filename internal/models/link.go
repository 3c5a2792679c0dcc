package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Link maps a (domain, keyword) pair to a destination URL.
type Link struct {
	ID            string     `json:"id"`
	Domain        string     `json:"domain"`
	Keyword       string     `json:"keyword"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Active        bool       `json:"active"`
	OwnerID       string     `json:"owner_id,omitempty"`
	Clicks        int64      `json:"clicks"`
	LastClickedAt *time.Time `json:"last_clicked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
	ShortURL      string     `json:"short_url,omitempty"`
}

func (l *Link) Deleted() bool { return l.DeletedAt != nil }

// Anonymous links have no owner and cannot be changed after creation.
func (l *Link) Anonymous() bool { return l.OwnerID == "" }

// Resolvable reports whether the redirect path may serve this link.
func (l *Link) Resolvable() bool { return l.Active && !l.Deleted() }

// Clone returns a copy that shares no pointers with l.
func (l *Link) Clone() *Link {
	c := *l
	if l.LastClickedAt != nil {
		t := *l.LastClickedAt
		c.LastClickedAt = &t
	}
	if l.DeletedAt != nil {
		t := *l.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// LinkPatch holds the owner-mutable fields. Nil means unchanged.
type LinkPatch struct {
	URL    *string `json:"url,omitempty"`
	Title  *string `json:"title,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

func (p LinkPatch) Empty() bool {
	return p.URL == nil && p.Title == nil && p.Active == nil
}

// Apply copies the set fields onto l.
func (p LinkPatch) Apply(l *Link) {
	if p.URL != nil {
		l.URL = *p.URL
	}
	if p.Title != nil {
		l.Title = *p.Title
	}
	if p.Active != nil {
		l.Active = *p.Active
	}
}

// LinkFilter narrows List. Deleted links are excluded unless IncludeDeleted.
type LinkFilter struct {
	OwnerID        string
	Active         *bool
	Query          string
	IncludeDeleted bool
}

type SortField string

const (
	SortCreatedAt SortField = "created_at"
	SortUpdatedAt SortField = "updated_at"
	SortClicks    SortField = "clicks"
	SortKeyword   SortField = "keyword"
	SortTitle     SortField = "title"
	SortURL       SortField = "url"
)

var sortFields = map[SortField]bool{
	SortCreatedAt: true,
	SortUpdatedAt: true,
	SortClicks:    true,
	SortKeyword:   true,
	SortTitle:     true,
	SortURL:       true,
}

type Sort struct {
	Field SortField
	Desc  bool
}

// DefaultSort is newest first.
var DefaultSort = Sort{Field: SortCreatedAt, Desc: true}

// ParseSort accepts "field", "-field", "field:asc" and "field:desc".
// An empty string yields DefaultSort.
func ParseSort(s string) (Sort, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSort, nil
	}

	var out Sort
	switch {
	case strings.HasPrefix(s, "-"):
		out.Field, out.Desc = SortField(s[1:]), true
	case strings.Contains(s, ":"):
		field, dir, _ := strings.Cut(s, ":")
		out.Field = SortField(field)
		switch strings.ToLower(dir) {
		case "asc":
		case "desc":
			out.Desc = true
		default:
			return Sort{}, fmt.Errorf("sort direction must be asc or desc, got %q", dir)
		}
	default:
		out.Field = SortField(s)
	}

	if !sortFields[out.Field] {
		return Sort{}, fmt.Errorf("cannot sort by %q", out.Field)
	}
	return out, nil
}

func (s Sort) String() string {
	if s.Desc {
		return string(s.Field) + ":desc"
	}
	return string(s.Field) + ":asc"
}

// Page is a 1-indexed offset window.
type Page struct {
	Number int
	Limit  int
}

// Offset saturates at math.MaxInt, which every store treats as past the
// last row.
func (p Page) Offset() int {
	if p.Number <= 1 || p.Limit <= 0 {
		return 0
	}
	if p.Number-1 > math.MaxInt/p.Limit {
		return math.MaxInt
	}
	return (p.Number - 1) * p.Limit
}

// LinkPage is the list response body.
type LinkPage struct {
	Data  []*Link `json:"data"`
	Limit int     `json:"limit"`
	Page  int     `json:"page"`
	Sort  string  `json:"sort"`
	Total int64   `json:"total"`
	Pages int     `json:"pages"`
}

func NewLinkPage(items []*Link, total int64, page Page, sort Sort) *LinkPage {
	if items == nil {
		items = []*Link{}
	}
	return &LinkPage{
		Data:  items,
		Limit: page.Limit,
		Page:  page.Number,
		Sort:  sort.String(),
		Total: total,
		Pages: PageCount(total, page.Limit),
	}
}

// PageCount is ceil(total/limit).
func PageCount(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

type CreateLinkRequest struct {
	URL     string `json:"url"`
	Domain  string `json:"domain,omitempty"`
	Keyword string `json:"keyword,omitempty"`
	Title   string `json:"title,omitempty"`
}

type ErrorResponse struct {
	ID          string   `json:"id"`
	URL         string   `json:"url"`
	Status      int      `json:"status"`
	Message     string   `json:"message"`
	Field       string   `json:"field,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

type DataResponse struct {
	Data any `json:"data"`
}
