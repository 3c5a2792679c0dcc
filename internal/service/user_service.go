package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/elga-io/corgi/internal/auth"
	"github.com/elga-io/corgi/internal/errx"
	usermodel "github.com/elga-io/corgi/internal/models/user"
	"github.com/elga-io/corgi/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWrongPassword      = errors.New("current password is incorrect")
)

type UserService struct {
	users      storage.UserStore
	jwtManager *auth.JWTManager
}

func NewUserService(users storage.UserStore, jwtManager *auth.JWTManager) *UserService {
	return &UserService{
		users:      users,
		jwtManager: jwtManager,
	}
}

func (s *UserService) Register(ctx context.Context, req usermodel.RegisterRequest) (*usermodel.Session, error) {
	const op = "service.Register"

	email := strings.ToLower(strings.TrimSpace(req.Email))
	name := strings.TrimSpace(req.Name)
	switch {
	case email == "":
		return nil, errx.Field(op, "email", "email is required")
	case name == "":
		return nil, errx.Field(op, "name", "name is required")
	case req.Password == "":
		return nil, errx.Field(op, "password", "password is required")
	case len(req.Password) < auth.MinPasswordLength:
		return nil, errx.Field(op, "password", "password must be at least 8 characters")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, errx.Field(op, "email", "email is not a valid address")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, errx.E(op, errx.Internal, err)
	}

	u := &usermodel.User{Email: email, Name: name, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, errx.Wrap(op, err)
	}
	return s.session(op, u)
}

func (s *UserService) Login(ctx context.Context, req usermodel.LoginRequest) (*usermodel.Session, error) {
	const op = "service.Login"

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, errx.E(op, errx.Unauthorized, ErrInvalidCredentials)
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if errx.KindOf(err) == errx.NotFound {
		return nil, errx.E(op, errx.Unauthorized, ErrInvalidCredentials)
	}
	if err != nil {
		return nil, errx.Wrap(op, err)
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		return nil, errx.E(op, errx.Unauthorized, ErrInvalidCredentials)
	}
	return s.session(op, u)
}

func (s *UserService) Me(ctx context.Context, userID string) (*usermodel.User, error) {
	const op = "service.Me"

	if userID == "" {
		return nil, errx.E(op, errx.Unauthorized, ErrLoginRequired)
	}
	u, err := s.users.GetUserByID(ctx, userID)
	if errx.KindOf(err) == errx.NotFound {
		// token outlived its user
		return nil, errx.E(op, errx.Unauthorized, err)
	}
	if err != nil {
		return nil, errx.Wrap(op, err)
	}
	return u, nil
}

// UpdateProfile changes the caller's name and/or password. The email is
// the login identity and stays fixed.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, patch usermodel.ProfilePatch) (*usermodel.User, error) {
	const op = "service.UpdateProfile"

	if patch.Name == nil && patch.Password == nil {
		return nil, errx.E(op, errx.Invalid, ErrEmptyPatch)
	}
	u, err := s.Me(ctx, userID)
	if err != nil {
		return nil, errx.Wrap(op, err)
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, errx.Field(op, "name", "name is required")
		}
		u.Name = name
	}
	if patch.Password != nil {
		if len(*patch.Password) < auth.MinPasswordLength {
			return nil, errx.Field(op, "password", "password must be at least 8 characters")
		}
		if err := auth.CheckPassword(u.PasswordHash, patch.CurrentPassword); err != nil {
			return nil, errx.E(op, errx.Forbidden, ErrWrongPassword)
		}
		hash, err := auth.HashPassword(*patch.Password)
		if err != nil {
			return nil, errx.E(op, errx.Internal, err)
		}
		u.PasswordHash = hash
	}

	if err := s.users.UpdateUser(ctx, u); err != nil {
		return nil, errx.Wrap(op, err)
	}
	return u, nil
}

func (s *UserService) session(op string, u *usermodel.User) (*usermodel.Session, error) {
	token, expiresAt, err := s.jwtManager.GenerateToken(u.ID, u.Email)
	if err != nil {
		return nil, errx.E(op, errx.Internal, err)
	}
	return &usermodel.Session{User: u, Token: token, ExpiresAt: expiresAt}, nil
}
