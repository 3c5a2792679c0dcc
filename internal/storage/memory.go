package storage

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/elga-io/corgi/internal/errx"
	"github.com/elga-io/corgi/internal/models"
	usermodel "github.com/elga-io/corgi/internal/models/user"
)

// MemoryStorage keeps everything in process. It backs tests and single-node
// development; uniqueness only holds within one process.
type MemoryStorage struct {
	mu    sync.RWMutex
	links map[string]*models.Link
	codes map[string]string
	users map[string]*usermodel.User
	now   func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		links: make(map[string]*models.Link),
		codes: make(map[string]string),
		users: make(map[string]*usermodel.User),
		now:   time.Now,
	}
}

func codeKey(domain, keyword string) string {
	return domain + "/" + keyword
}

func (s *MemoryStorage) Create(ctx context.Context, l *models.Link) error {
	const op = "storage.Create"
	if err := ctx.Err(); err != nil {
		return backendErr(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := codeKey(l.Domain, l.Keyword)
	if _, taken := s.codes[key]; taken {
		return conflict(op)
	}

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = l.CreatedAt
	}

	s.links[l.ID] = l.Clone()
	s.codes[key] = l.ID
	return nil
}

func (s *MemoryStorage) GetByCode(ctx context.Context, domain, keyword string) (*models.Link, error) {
	const op = "storage.GetByCode"
	if err := ctx.Err(); err != nil {
		return nil, backendErr(op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.codes[codeKey(domain, keyword)]
	if !ok {
		return nil, notFound(op)
	}
	l := s.links[id]
	if l.Deleted() {
		return nil, notFound(op)
	}
	return l.Clone(), nil
}

func (s *MemoryStorage) GetByID(ctx context.Context, id string) (*models.Link, error) {
	const op = "storage.GetByID"
	if err := ctx.Err(); err != nil {
		return nil, backendErr(op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.links[id]
	if !ok || l.Deleted() {
		return nil, notFound(op)
	}
	return l.Clone(), nil
}

func (s *MemoryStorage) List(ctx context.Context, f models.LinkFilter, p models.Page, srt models.Sort) ([]*models.Link, int64, error) {
	const op = "storage.List"
	if err := ctx.Err(); err != nil {
		return nil, 0, backendErr(op, err)
	}

	s.mu.RLock()
	matched := make([]*models.Link, 0, len(s.links))
	for _, l := range s.links {
		if matches(l, f) {
			matched = append(matched, l.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *models.Link) int {
		c := compareField(a, b, srt.Field)
		if srt.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	total := int64(len(matched))
	start := min(p.Offset(), len(matched))
	end := min(start+p.Limit, len(matched))
	return matched[start:end], total, nil
}

func matches(l *models.Link, f models.LinkFilter) bool {
	if l.Deleted() && !f.IncludeDeleted {
		return false
	}
	if f.OwnerID != "" && l.OwnerID != f.OwnerID {
		return false
	}
	if f.Active != nil && l.Active != *f.Active {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(l.URL), q) &&
			!strings.Contains(strings.ToLower(l.Title), q) &&
			!strings.Contains(strings.ToLower(l.Keyword), q) {
			return false
		}
	}
	return true
}

func compareField(a, b *models.Link, field models.SortField) int {
	switch field {
	case models.SortUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case models.SortClicks:
		return cmp.Compare(a.Clicks, b.Clicks)
	case models.SortKeyword:
		return strings.Compare(a.Keyword, b.Keyword)
	case models.SortTitle:
		return strings.Compare(a.Title, b.Title)
	case models.SortURL:
		return strings.Compare(a.URL, b.URL)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func (s *MemoryStorage) IncrementClicks(ctx context.Context, id string, delta int64, at time.Time) error {
	const op = "storage.IncrementClicks"
	if err := ctx.Err(); err != nil {
		return backendErr(op, err)
	}
	if delta <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[id]
	if !ok {
		return notFound(op)
	}
	l.Clicks += delta
	if l.LastClickedAt == nil || at.After(*l.LastClickedAt) {
		t := at.UTC()
		l.LastClickedAt = &t
	}
	return nil
}

func (s *MemoryStorage) Update(ctx context.Context, id, ownerID string, patch models.LinkPatch) (*models.Link, error) {
	const op = "storage.Update"
	if err := ctx.Err(); err != nil {
		return nil, backendErr(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[id]
	if !ok || l.Deleted() {
		return nil, notFound(op)
	}
	if err := checkOwner(op, l.OwnerID, ownerID); err != nil {
		return nil, err
	}

	patch.Apply(l)
	l.UpdatedAt = s.now().UTC()
	return l.Clone(), nil
}

func (s *MemoryStorage) SoftDelete(ctx context.Context, id, ownerID string) (*models.Link, error) {
	const op = "storage.SoftDelete"
	if err := ctx.Err(); err != nil {
		return nil, backendErr(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[id]
	if !ok || l.Deleted() {
		return nil, notFound(op)
	}
	if err := checkOwner(op, l.OwnerID, ownerID); err != nil {
		return nil, err
	}

	before := l.Clone()
	now := s.now().UTC()
	l.DeletedAt = &now
	l.UpdatedAt = now
	return before, nil
}

func (s *MemoryStorage) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, backendErr("storage.PurgeDeleted", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, l := range s.links {
		if l.DeletedAt != nil && l.DeletedAt.Before(before) {
			delete(s.codes, codeKey(l.Domain, l.Keyword))
			delete(s.links, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStorage) CreateUser(ctx context.Context, u *usermodel.User) error {
	const op = "storage.CreateUser"

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return errx.E(op, errx.Conflict, ErrEmailTaken)
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	c := *u
	s.users[u.ID] = &c
	return nil
}

func (s *MemoryStorage) GetUserByEmail(ctx context.Context, email string) (*usermodel.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, errx.E("storage.GetUserByEmail", errx.NotFound, ErrUserNotFound)
}

func (s *MemoryStorage) GetUserByID(ctx context.Context, id string) (*usermodel.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errx.E("storage.GetUserByID", errx.NotFound, ErrUserNotFound)
	}
	c := *u
	return &c, nil
}

func (s *MemoryStorage) UpdateUser(ctx context.Context, u *usermodel.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[u.ID]
	if !ok {
		return errx.E("storage.UpdateUser", errx.NotFound, ErrUserNotFound)
	}
	existing.Name = u.Name
	existing.PasswordHash = u.PasswordHash
	existing.UpdatedAt = s.now().UTC()
	*u = *existing
	return nil
}
