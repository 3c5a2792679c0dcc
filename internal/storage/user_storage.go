package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/elga-io/corgi/internal/database"
	"github.com/elga-io/corgi/internal/errx"
	usermodel "github.com/elga-io/corgi/internal/models/user"
)

type PostgresUserStorage struct {
	db *database.DBManager
}

func NewPostgresUserStorage(db *database.DBManager) *PostgresUserStorage {
	return &PostgresUserStorage{db: db}
}

func (s *PostgresUserStorage) CreateUser(ctx context.Context, u *usermodel.User) error {
	const op = "storage.CreateUser"

	if u.ID == "" {
		u.ID = uuid.NewString()
	}

	query := `
		INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := s.db.Write().QueryRow(ctx, query, u.ID, u.Email, u.Name, u.PasswordHash).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errx.E(op, errx.Conflict, ErrEmailTaken)
		}
		return backendErr(op, fmt.Errorf("failed to create user: %w", err))
	}
	return nil
}

func (s *PostgresUserStorage) GetUserByEmail(ctx context.Context, email string) (*usermodel.User, error) {
	query := `
		SELECT id::text, email, name, password_hash, created_at, updated_at
		FROM users
		WHERE lower(email) = lower($1)
	`
	return s.getUser(ctx, "storage.GetUserByEmail", query, email)
}

func (s *PostgresUserStorage) GetUserByID(ctx context.Context, id string) (*usermodel.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errx.E("storage.GetUserByID", errx.NotFound, ErrUserNotFound)
	}
	query := `
		SELECT id::text, email, name, password_hash, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	return s.getUser(ctx, "storage.GetUserByID", query, id)
}

func (s *PostgresUserStorage) UpdateUser(ctx context.Context, u *usermodel.User) error {
	const op = "storage.UpdateUser"

	if _, err := uuid.Parse(u.ID); err != nil {
		return errx.E(op, errx.NotFound, ErrUserNotFound)
	}

	query := `
		UPDATE users SET name = $2, password_hash = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := s.db.Write().QueryRow(ctx, query, u.ID, u.Name, u.PasswordHash).Scan(&u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errx.E(op, errx.NotFound, ErrUserNotFound)
	}
	if err != nil {
		return backendErr(op, fmt.Errorf("failed to update user: %w", err))
	}
	return nil
}

func (s *PostgresUserStorage) getUser(ctx context.Context, op, query string, arg any) (*usermodel.User, error) {
	var u usermodel.User
	err := s.db.Write().QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errx.E(op, errx.NotFound, ErrUserNotFound)
	}
	if err != nil {
		return nil, backendErr(op, fmt.Errorf("failed to get user: %w", err))
	}
	return &u, nil
}
