package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/elga-io/corgi/internal/errx"
	"github.com/elga-io/corgi/internal/models"
	usermodel "github.com/elga-io/corgi/internal/models/user"
)

var (
	ErrLinkNotFound = errors.New("link not found")
	ErrLinkExists   = errors.New("domain and keyword combination already exists")
	ErrNotOwner     = errors.New("link belongs to another user")
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email is already registered")
)

// LinkStore persists links. The (domain, keyword) pair is unique across all
// rows, soft-deleted ones included, and that uniqueness is enforced by the
// backend itself so it holds across service instances.
//
// Lookups never return soft-deleted links. Errors carry an errx.Kind.
type LinkStore interface {
	// Create inserts l, filling ID and timestamps when unset. A taken
	// (domain, keyword) yields errx.Conflict wrapping ErrLinkExists.
	Create(ctx context.Context, l *models.Link) error
	GetByCode(ctx context.Context, domain, keyword string) (*models.Link, error)
	GetByID(ctx context.Context, id string) (*models.Link, error)
	// List returns one page of matches and the total count of the filtered
	// set. Ties in the sort key are broken by id.
	List(ctx context.Context, f models.LinkFilter, p models.Page, s models.Sort) ([]*models.Link, int64, error)
	// IncrementClicks adds delta and advances last_clicked_at to at.
	IncrementClicks(ctx context.Context, id string, delta int64, at time.Time) error
	// Update applies patch when ownerID owns the link.
	Update(ctx context.Context, id, ownerID string, patch models.LinkPatch) (*models.Link, error)
	// SoftDelete marks the link deleted and returns it as it was before.
	SoftDelete(ctx context.Context, id, ownerID string) (*models.Link, error)
	// PurgeDeleted removes links soft-deleted before the cutoff, freeing
	// their keywords.
	PurgeDeleted(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
}

type UserStore interface {
	CreateUser(ctx context.Context, u *usermodel.User) error
	GetUserByEmail(ctx context.Context, email string) (*usermodel.User, error)
	GetUserByID(ctx context.Context, id string) (*usermodel.User, error)
	// UpdateUser writes Name and PasswordHash and refreshes UpdatedAt.
	UpdateUser(ctx context.Context, u *usermodel.User) error
}

func notFound(op string) error {
	return errx.E(op, errx.NotFound, ErrLinkNotFound)
}

func conflict(op string) error {
	return errx.E(op, errx.Conflict, ErrLinkExists)
}

func forbidden(op string) error {
	return errx.E(op, errx.Forbidden, ErrNotOwner)
}

// backendErr classifies driver failures. Deadlines and cancellations are
// Unavailable so the redirect path can fail fast.
func backendErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errx.E(op, errx.Unavailable, err)
	}
	return errx.E(op, errx.Internal, err)
}

// checkOwner decides whether requester may change a link owned by owner.
// Anonymous links have no owner and are never modifiable.
func checkOwner(op, owner, requester string) error {
	if owner == "" || requester == "" || owner != requester {
		return forbidden(op)
	}
	return nil
}

// likePattern escapes LIKE metacharacters for use with ESCAPE '\'.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

var sortColumns = map[models.SortField]string{
	models.SortCreatedAt: "created_at",
	models.SortUpdatedAt: "updated_at",
	models.SortClicks:    "clicks",
	models.SortKeyword:   "keyword",
	models.SortTitle:     "title",
	models.SortURL:       "url",
}

func orderBy(s models.Sort) string {
	col, ok := sortColumns[s.Field]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if s.Desc {
		dir = "DESC"
	}
	return col + " " + dir + ", id ASC"
}
