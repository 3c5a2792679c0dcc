package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/elga-io/corgi/internal/errx"
	"github.com/elga-io/corgi/internal/models"
	usermodel "github.com/elga-io/corgi/internal/models/user"
)

// Timestamps are stored as unix microseconds so ordering and range
// comparisons behave the same on both drivers.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL,
		name          TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (email COLLATE NOCASE)`,
	`CREATE TABLE IF NOT EXISTS links (
		id              TEXT PRIMARY KEY,
		domain          TEXT NOT NULL,
		keyword         TEXT NOT NULL,
		url             TEXT NOT NULL,
		title           TEXT NOT NULL DEFAULT '',
		active          INTEGER NOT NULL DEFAULT 1,
		owner_id        TEXT,
		clicks          INTEGER NOT NULL DEFAULT 0,
		last_clicked_at INTEGER,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL,
		deleted_at      INTEGER
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS links_domain_keyword_key ON links (domain, keyword)`,
	`CREATE INDEX IF NOT EXISTS links_owner_created_idx ON links (owner_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS links_deleted_at_idx ON links (deleted_at)`,
}

const sqliteLinkColumns = `id, domain, keyword, url, title, active, COALESCE(owner_id, ''),
	clicks, last_clicked_at, created_at, updated_at, deleted_at`

// SQLiteStorage implements LinkStore and UserStore on a local SQLite file
// (modernc.org/sqlite) or a remote libsql/Turso database.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite picks the driver from the URL and applies the schema.
func OpenSQLite(ctx context.Context, dbURL string) (*SQLiteStorage, error) {
	driverName := "sqlite"
	if strings.HasPrefix(dbURL, "libsql://") || strings.HasPrefix(dbURL, "wss://") || strings.HasPrefix(dbURL, "https://") {
		driverName = "libsql"
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driverName, err)
	}
	if driverName == "sqlite" {
		// One writer at a time; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driverName, err)
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMicro(v.Int64).UTC()
	return &t
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteLink(row rowScanner) (*models.Link, error) {
	var (
		l                    models.Link
		lastClick, deleted   sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&l.ID, &l.Domain, &l.Keyword, &l.URL, &l.Title, &l.Active, &l.OwnerID,
		&l.Clicks, &lastClick, &createdAt, &updatedAt, &deleted,
	)
	if err != nil {
		return nil, err
	}
	l.LastClickedAt = fromMicros(lastClick)
	l.DeletedAt = fromMicros(deleted)
	l.CreatedAt = time.UnixMicro(createdAt).UTC()
	l.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return &l, nil
}

func (s *SQLiteStorage) Create(ctx context.Context, l *models.Link) error {
	const op = "storage.Create"

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now().UTC()
	}
	l.CreatedAt = time.UnixMicro(toMicros(l.CreatedAt)).UTC()
	l.UpdatedAt = l.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO links (id, domain, keyword, url, title, active, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Domain, l.Keyword, l.URL, l.Title, l.Active, nullable(l.OwnerID),
		toMicros(l.CreatedAt), toMicros(l.UpdatedAt),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return conflict(op)
		}
		return backendErr(op, fmt.Errorf("failed to insert link: %w", err))
	}
	return nil
}

func (s *SQLiteStorage) getOne(ctx context.Context, op, where string, args ...any) (*models.Link, error) {
	query := `SELECT ` + sqliteLinkColumns + ` FROM links WHERE ` + where + ` AND deleted_at IS NULL`
	l, err := scanSQLiteLink(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(op)
	}
	if err != nil {
		return nil, backendErr(op, fmt.Errorf("failed to get link: %w", err))
	}
	return l, nil
}

func (s *SQLiteStorage) GetByCode(ctx context.Context, domain, keyword string) (*models.Link, error) {
	return s.getOne(ctx, "storage.GetByCode", "domain = ? AND keyword = ?", domain, keyword)
}

func (s *SQLiteStorage) GetByID(ctx context.Context, id string) (*models.Link, error) {
	return s.getOne(ctx, "storage.GetByID", "id = ?", id)
}

func (s *SQLiteStorage) List(ctx context.Context, f models.LinkFilter, p models.Page, srt models.Sort) ([]*models.Link, int64, error) {
	const op = "storage.List"

	where, args := sqliteFilter(f)

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM links`+where, args...).Scan(&total); err != nil {
		return nil, 0, backendErr(op, fmt.Errorf("failed to count links: %w", err))
	}
	if total == 0 || p.Offset() >= int(total) {
		return []*models.Link{}, total, nil
	}

	query := `SELECT ` + sqliteLinkColumns + ` FROM links` + where + ` ORDER BY ` + orderBy(srt) + ` LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, p.Limit, p.Offset())...)
	if err != nil {
		return nil, 0, backendErr(op, fmt.Errorf("failed to list links: %w", err))
	}
	defer rows.Close()

	links := make([]*models.Link, 0, p.Limit)
	for rows.Next() {
		l, err := scanSQLiteLink(rows)
		if err != nil {
			return nil, 0, backendErr(op, fmt.Errorf("failed to scan row: %w", err))
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, backendErr(op, fmt.Errorf("error iterating rows: %w", err))
	}
	return links, total, nil
}

func sqliteFilter(f models.LinkFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !f.IncludeDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}
	if f.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Active != nil {
		conds = append(conds, "active = ?")
		args = append(args, *f.Active)
	}
	if f.Query != "" {
		p := likePattern(f.Query)
		conds = append(conds, `(url LIKE ? ESCAPE '\' OR title LIKE ? ESCAPE '\' OR keyword LIKE ? ESCAPE '\')`)
		args = append(args, p, p, p)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLiteStorage) IncrementClicks(ctx context.Context, id string, delta int64, at time.Time) error {
	const op = "storage.IncrementClicks"
	if delta <= 0 {
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE links
		SET clicks = clicks + ?,
			last_clicked_at = MAX(COALESCE(last_clicked_at, 0), ?)
		WHERE id = ?`, delta, toMicros(at), id)
	if err != nil {
		return backendErr(op, fmt.Errorf("failed to increment clicks: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(op)
	}
	return nil
}

func (s *SQLiteStorage) mutateOwned(ctx context.Context, op, id, ownerID string, fn func(tx *sql.Tx, l *models.Link) error) (*models.Link, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, backendErr(op, fmt.Errorf("failed to begin: %w", err))
	}
	defer tx.Rollback()

	query := `SELECT ` + sqliteLinkColumns + ` FROM links WHERE id = ? AND deleted_at IS NULL`
	l, err := scanSQLiteLink(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(op)
	}
	if err != nil {
		return nil, backendErr(op, fmt.Errorf("failed to load link: %w", err))
	}
	if err := checkOwner(op, l.OwnerID, ownerID); err != nil {
		return nil, err
	}

	if err := fn(tx, l); err != nil {
		return nil, backendErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, backendErr(op, fmt.Errorf("failed to commit: %w", err))
	}
	return l, nil
}

func (s *SQLiteStorage) Update(ctx context.Context, id, ownerID string, patch models.LinkPatch) (*models.Link, error) {
	return s.mutateOwned(ctx, "storage.Update", id, ownerID, func(tx *sql.Tx, l *models.Link) error {
		patch.Apply(l)
		l.UpdatedAt = time.UnixMicro(toMicros(s.now())).UTC()
		_, err := tx.ExecContext(ctx,
			`UPDATE links SET url = ?, title = ?, active = ?, updated_at = ? WHERE id = ?`,
			l.URL, l.Title, l.Active, toMicros(l.UpdatedAt), l.ID)
		if err != nil {
			return fmt.Errorf("failed to update link: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStorage) SoftDelete(ctx context.Context, id, ownerID string) (*models.Link, error) {
	return s.mutateOwned(ctx, "storage.SoftDelete", id, ownerID, func(tx *sql.Tx, l *models.Link) error {
		now := toMicros(s.now())
		_, err := tx.ExecContext(ctx,
			`UPDATE links SET deleted_at = ?, updated_at = ? WHERE id = ?`, now, now, l.ID)
		if err != nil {
			return fmt.Errorf("failed to delete link: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStorage) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM links WHERE deleted_at IS NOT NULL AND deleted_at < ?`, toMicros(before))
	if err != nil {
		return 0, backendErr("storage.PurgeDeleted", fmt.Errorf("failed to purge links: %w", err))
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return backendErr("storage.Ping", err)
	}
	return nil
}

func (s *SQLiteStorage) CreateUser(ctx context.Context, u *usermodel.User) error {
	const op = "storage.CreateUser"

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.UnixMicro(toMicros(s.now())).UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.PasswordHash, toMicros(now), toMicros(now))
	if err != nil {
		if isSQLiteUnique(err) {
			return errx.E(op, errx.Conflict, ErrEmailTaken)
		}
		return backendErr(op, fmt.Errorf("failed to create user: %w", err))
	}
	return nil
}

func (s *SQLiteStorage) GetUserByEmail(ctx context.Context, email string) (*usermodel.User, error) {
	return s.getUser(ctx, "storage.GetUserByEmail", "email = ? COLLATE NOCASE", email)
}

func (s *SQLiteStorage) GetUserByID(ctx context.Context, id string) (*usermodel.User, error) {
	return s.getUser(ctx, "storage.GetUserByID", "id = ?", id)
}

func (s *SQLiteStorage) UpdateUser(ctx context.Context, u *usermodel.User) error {
	const op = "storage.UpdateUser"

	now := time.UnixMicro(toMicros(s.now())).UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, password_hash = ?, updated_at = ? WHERE id = ?`,
		u.Name, u.PasswordHash, toMicros(now), u.ID)
	if err != nil {
		return backendErr(op, fmt.Errorf("failed to update user: %w", err))
	}
	if n, err := res.RowsAffected(); err != nil {
		return backendErr(op, err)
	} else if n == 0 {
		return errx.E(op, errx.NotFound, ErrUserNotFound)
	}
	u.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) getUser(ctx context.Context, op, where string, arg any) (*usermodel.User, error) {
	var (
		u                    usermodel.User
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, created_at, updated_at FROM users WHERE `+where, arg,
	).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errx.E(op, errx.NotFound, ErrUserNotFound)
	}
	if err != nil {
		return nil, backendErr(op, fmt.Errorf("failed to get user: %w", err))
	}
	u.CreatedAt = time.UnixMicro(createdAt).UTC()
	u.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return &u, nil
}
