package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/elga-io/corgi/internal/database"
	"github.com/elga-io/corgi/internal/errx"
	"github.com/elga-io/corgi/internal/models"
)

const pgUniqueViolation = "23505"

const linkColumns = `id::text, domain, keyword, url, title, active, COALESCE(owner_id::text, ''),
	clicks, last_clicked_at, created_at, updated_at, deleted_at`

type PostgresStorage struct {
	db *database.DBManager
}

func NewPostgresStorage(db *database.DBManager) *PostgresStorage {
	return &PostgresStorage{db: db}
}

func scanLink(row pgx.Row) (*models.Link, error) {
	var l models.Link
	err := row.Scan(
		&l.ID, &l.Domain, &l.Keyword, &l.URL, &l.Title, &l.Active, &l.OwnerID,
		&l.Clicks, &l.LastClickedAt, &l.CreatedAt, &l.UpdatedAt, &l.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (s *PostgresStorage) Create(ctx context.Context, l *models.Link) error {
	const op = "storage.Create"

	if l.ID == "" {
		l.ID = uuid.NewString()
	}

	query := `
		INSERT INTO links (id, domain, keyword, url, title, active, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), COALESCE($8, NOW()))
		RETURNING created_at, updated_at
	`

	var createdAt *time.Time
	if !l.CreatedAt.IsZero() {
		createdAt = &l.CreatedAt
	}

	err := s.db.Write().QueryRow(ctx, query,
		l.ID, l.Domain, l.Keyword, l.URL, l.Title, l.Active, nullable(l.OwnerID), createdAt,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return conflict(op)
		}
		return backendErr(op, fmt.Errorf("failed to insert link: %w", err))
	}
	return nil
}

// GetByCode reads from a replica first. A miss there is confirmed on the
// primary so replication lag never turns a fresh link into a not-found.
func (s *PostgresStorage) GetByCode(ctx context.Context, domain, keyword string) (*models.Link, error) {
	const op = "storage.GetByCode"

	query := `SELECT ` + linkColumns + ` FROM links
		WHERE domain = $1 AND keyword = $2 AND deleted_at IS NULL`

	l, err := scanLink(s.db.Read().QueryRow(ctx, query, domain, keyword))
	if errors.Is(err, pgx.ErrNoRows) && s.db.HasReplicas() {
		l, err = scanLink(s.db.Write().QueryRow(ctx, query, domain, keyword))
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(op)
	}
	if err != nil {
		return nil, backendErr(op, fmt.Errorf("failed to get link: %w", err))
	}
	return l, nil
}

func (s *PostgresStorage) GetByID(ctx context.Context, id string) (*models.Link, error) {
	const op = "storage.GetByID"

	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(op)
	}

	query := `SELECT ` + linkColumns + ` FROM links WHERE id = $1 AND deleted_at IS NULL`

	l, err := scanLink(s.db.Write().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(op)
	}
	if err != nil {
		return nil, backendErr(op, fmt.Errorf("failed to get link: %w", err))
	}
	return l, nil
}

func (s *PostgresStorage) List(ctx context.Context, f models.LinkFilter, p models.Page, srt models.Sort) ([]*models.Link, int64, error) {
	const op = "storage.List"

	where, args := pgFilter(f)
	conn := s.db.Read()

	var total int64
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM links`+where, args...).Scan(&total); err != nil {
		return nil, 0, backendErr(op, fmt.Errorf("failed to count links: %w", err))
	}
	if total == 0 || p.Offset() >= int(total) {
		return []*models.Link{}, total, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM links%s ORDER BY %s LIMIT $%d OFFSET $%d`,
		linkColumns, where, orderBy(srt), len(args)+1, len(args)+2)
	args = append(args, p.Limit, p.Offset())

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, backendErr(op, fmt.Errorf("failed to list links: %w", err))
	}
	defer rows.Close()

	links := make([]*models.Link, 0, p.Limit)
	for rows.Next() {
		l, err := scanLink(rows)
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

func pgFilter(f models.LinkFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !f.IncludeDeleted {
		conds = append(conds, "deleted_at IS NULL")
	}
	if f.OwnerID != "" {
		if _, err := uuid.Parse(f.OwnerID); err != nil {
			conds = append(conds, "FALSE")
		} else {
			conds = append(conds, "owner_id = "+arg(f.OwnerID))
		}
	}
	if f.Active != nil {
		conds = append(conds, "active = "+arg(*f.Active))
	}
	if f.Query != "" {
		p := arg(likePattern(f.Query))
		conds = append(conds, fmt.Sprintf(
			`(url ILIKE %[1]s ESCAPE '\' OR title ILIKE %[1]s ESCAPE '\' OR keyword ILIKE %[1]s ESCAPE '\')`, p))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PostgresStorage) IncrementClicks(ctx context.Context, id string, delta int64, at time.Time) error {
	const op = "storage.IncrementClicks"
	if delta <= 0 {
		return nil
	}

	query := `
		UPDATE links
		SET clicks = clicks + $2,
			last_clicked_at = GREATEST(COALESCE(last_clicked_at, $3), $3)
		WHERE id = $1
	`

	tag, err := s.db.Write().Exec(ctx, query, id, delta, at.UTC())
	if err != nil {
		return backendErr(op, fmt.Errorf("failed to increment clicks: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

// lockOwned loads the live link row for update and checks ownership.
func lockOwned(ctx context.Context, tx pgx.Tx, op, id, ownerID string) (*models.Link, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(op)
	}

	query := `SELECT ` + linkColumns + ` FROM links WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	l, err := scanLink(tx.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(op)
	}
	if err != nil {
		return nil, backendErr(op, fmt.Errorf("failed to lock link: %w", err))
	}
	if err := checkOwner(op, l.OwnerID, ownerID); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *PostgresStorage) Update(ctx context.Context, id, ownerID string, patch models.LinkPatch) (*models.Link, error) {
	const op = "storage.Update"

	var updated *models.Link
	err := pgx.BeginFunc(ctx, s.db.Write(), func(tx pgx.Tx) error {
		if _, err := lockOwned(ctx, tx, op, id, ownerID); err != nil {
			return err
		}

		query := `
			UPDATE links
			SET url = COALESCE($2, url),
				title = COALESCE($3, title),
				active = COALESCE($4, active),
				updated_at = NOW()
			WHERE id = $1
			RETURNING ` + linkColumns

		l, err := scanLink(tx.QueryRow(ctx, query, id, patch.URL, patch.Title, patch.Active))
		if err != nil {
			return backendErr(op, fmt.Errorf("failed to update link: %w", err))
		}
		updated = l
		return nil
	})
	if err != nil {
		return nil, classifyTx(op, err)
	}
	return updated, nil
}

func (s *PostgresStorage) SoftDelete(ctx context.Context, id, ownerID string) (*models.Link, error) {
	const op = "storage.SoftDelete"

	var before *models.Link
	err := pgx.BeginFunc(ctx, s.db.Write(), func(tx pgx.Tx) error {
		l, err := lockOwned(ctx, tx, op, id, ownerID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE links SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1`, id); err != nil {
			return backendErr(op, fmt.Errorf("failed to delete link: %w", err))
		}
		before = l
		return nil
	})
	if err != nil {
		return nil, classifyTx(op, err)
	}
	return before, nil
}

// classifyTx keeps kinds assigned inside the transaction and classifies
// begin/commit failures.
func classifyTx(op string, err error) error {
	if errx.KindOf(err) != errx.Unknown {
		return err
	}
	return backendErr(op, err)
}

func (s *PostgresStorage) PurgeDeleted(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Write().Exec(ctx,
		`DELETE FROM links WHERE deleted_at IS NOT NULL AND deleted_at < $1`, before.UTC())
	if err != nil {
		return 0, backendErr("storage.PurgeDeleted", fmt.Errorf("failed to purge links: %w", err))
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return backendErr("storage.Ping", err)
	}
	return nil
}
