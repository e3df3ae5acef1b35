package handler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const password = "s3cret"

type fixture struct {
	store   *storage.GormAdapter
	orders  *service.OrderService
	catalog *service.CatalogService
	auth    *service.AuthService
	item    domain.Item
}

func newFixture(t *testing.T, stock int) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.OpenGorm(storage.DriverSQLite, ":memory:")
	require.NoError(t, err)
	store := storage.NewGormAdapter(db, time.Second)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	log := zap.NewNop()
	auth := service.NewAuthService(store, log, service.WithHashCost(bcrypt.MinCost))
	_, err = auth.Register(ctx, "alice", "alice@example.com", password, domain.RoleCustomer)
	require.NoError(t, err)
	_, err = auth.Register(ctx, "root", "root@example.com", password, domain.RoleAdmin)
	require.NoError(t, err)

	item, err := store.CreateItem(ctx, domain.Item{Name: "laptop", Price: decimal.RequireFromString("999.99"), Stock: stock})
	require.NoError(t, err)

	return &fixture{
		store:   store,
		orders:  service.NewOrderService(store, log, service.WithRequestGuard(storage.NewMemoryGuard(time.Minute))),
		catalog: service.NewCatalogService(store, store, store, log),
		auth:    auth,
		item:    item,
	}
}
