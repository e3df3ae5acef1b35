package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidUser        = errors.New("invalid user")
)

// AuthService resolves credentials to a Session. Roles come only from the stored
// user record; there are no built-in accounts.
type AuthService struct {
	users    port.UserRepository
	log      *zap.Logger
	hashCost int
}

type AuthOption func(*AuthService)

func WithHashCost(cost int) AuthOption {
	return func(s *AuthService) { s.hashCost = cost }
}

func NewAuthService(users port.UserRepository, log *zap.Logger, opts ...AuthOption) *AuthService {
	s := &AuthService{users: users, log: log, hashCost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AuthService) Login(ctx context.Context, username, password string) (domain.Session, error) {
	user, err := s.users.FindUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.Session{}, ErrInvalidCredentials
	}

	return domain.Session{UserID: user.ID, Username: user.Username, Role: user.Role}, nil
}

// LoginAdmin is Login restricted to users holding the admin role.
func (s *AuthService) LoginAdmin(ctx context.Context, username, password string) (domain.Session, error) {
	sess, err := s.Login(ctx, username, password)
	if err != nil {
		return domain.Session{}, err
	}
	if !sess.IsAdmin() {
		s.log.Warn("admin login by non-admin user", zap.String("username", sess.Username))
		return domain.Session{}, ErrNotPermitted
	}
	return sess, nil
}

func (s *AuthService) Register(ctx context.Context, username, email, password string, role domain.Role) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.User{}, fmt.Errorf("%w: username and password are required", ErrInvalidUser)
	}
	if !role.Valid() {
		return domain.User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidUser, role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, domain.User{
		Username:     username,
		Email:        strings.TrimSpace(email),
		Role:         role,
		PasswordHash: string(hash),
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}

	s.log.Info("user registered", zap.Int64("user_id", user.ID), zap.String("username", user.Username), zap.String("role", string(role)))
	return user, nil
}

// EnsureUser registers the user unless one with the same username already exists.
// The existing record is returned untouched.
func (s *AuthService) EnsureUser(ctx context.Context, username, email, password string, role domain.Role) (domain.User, error) {
	user, err := s.users.FindUserByUsername(ctx, strings.TrimSpace(username))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.User{}, fmt.Errorf("find user: %w", err)
	}
	return s.Register(ctx, username, email, password, role)
}
