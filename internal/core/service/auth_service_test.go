package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rl1809/storefront/internal/core/domain"
)

func newAuth(t *testing.T) (*AuthService, *memoryUsers) {
	t.Helper()
	users := newMemoryUsers()
	return NewAuthService(users, zap.NewNop(), WithHashCost(bcrypt.MinCost)), users
}

func TestAuth_RegisterAndLogin(t *testing.T) {
	auth, users := newAuth(t)
	ctx := context.Background()

	user, err := auth.Register(ctx, " alice ", "alice@example.com", "s3cret", domain.RoleCustomer)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	stored, _ := users.FindUserByUsername(ctx, "alice")
	assert.NotEqual(t, "s3cret", stored.PasswordHash, "password is stored hashed")

	sess, err := auth.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, sess.UserID)
	assert.True(t, sess.Authenticated())
	assert.False(t, sess.IsAdmin())
}

func TestAuth_LoginRejectsBadCredentials(t *testing.T) {
	auth, _ := newAuth(t)
	ctx := context.Background()

	_, err := auth.Register(ctx, "alice", "", "s3cret", domain.RoleCustomer)
	require.NoError(t, err)

	_, err = auth.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = auth.Login(ctx, "bob", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuth_LoginAdminRequiresRole(t *testing.T) {
	auth, _ := newAuth(t)
	ctx := context.Background()

	_, err := auth.Register(ctx, "alice", "", "pw", domain.RoleCustomer)
	require.NoError(t, err)
	_, err = auth.Register(ctx, "root", "", "pw", domain.RoleAdmin)
	require.NoError(t, err)

	_, err = auth.LoginAdmin(ctx, "alice", "pw")
	assert.ErrorIs(t, err, ErrNotPermitted)

	sess, err := auth.LoginAdmin(ctx, "root", "pw")
	require.NoError(t, err)
	assert.True(t, sess.IsAdmin())

	// No built-in admin account exists.
	_, err = auth.LoginAdmin(ctx, "admin", "admin")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuth_RegisterValidation(t *testing.T) {
	auth, _ := newAuth(t)
	ctx := context.Background()

	_, err := auth.Register(ctx, "", "", "pw", domain.RoleCustomer)
	assert.ErrorIs(t, err, ErrInvalidUser)
	_, err = auth.Register(ctx, "carol", "", "", domain.RoleCustomer)
	assert.ErrorIs(t, err, ErrInvalidUser)
	_, err = auth.Register(ctx, "carol", "", "pw", "superuser")
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = auth.Register(ctx, "carol", "", "pw", domain.RoleCustomer)
	require.NoError(t, err)
	_, err = auth.Register(ctx, "carol", "", "pw", domain.RoleCustomer)
	assert.ErrorIs(t, err, domain.ErrUserExists)
}

func TestAuth_EnsureUserIsIdempotent(t *testing.T) {
	auth, _ := newAuth(t)
	ctx := context.Background()

	first, err := auth.EnsureUser(ctx, "root", "", "pw", domain.RoleAdmin)
	require.NoError(t, err)
	second, err := auth.EnsureUser(ctx, "root", "", "other", domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// The original password still works.
	_, err = auth.LoginAdmin(ctx, "root", "pw")
	assert.NoError(t, err)
}
