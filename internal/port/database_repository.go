package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

// InventoryStore is the stock side of a unit of work.
type InventoryStore interface {
	// LockAndReadStock takes an exclusive lock on the item for the rest of the unit of
	// work and returns its stock. found is false when the item does not exist.
	LockAndReadStock(ctx context.Context, itemID int64) (stock int, found bool, err error)

	// DecrementStock lowers stock by amount. Callers must hold the item lock and have
	// verified that stock is sufficient.
	DecrementStock(ctx context.Context, itemID int64, amount int) error
}

// OrderLedger is the append-only order side of a unit of work.
type OrderLedger interface {
	// InsertOrder appends an order and assigns its ID and timestamp.
	InsertOrder(ctx context.Context, userID, itemID int64, quantity int) (domain.Order, error)
}

// UnitOfWork groups inventory and ledger writes that commit or roll back together.
type UnitOfWork interface {
	InventoryStore
	OrderLedger

	Commit() error
	Rollback() error
}

type TxManager interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

type ItemRepository interface {
	ListItems(ctx context.Context) ([]domain.Item, error)
	GetItem(ctx context.Context, id int64) (domain.Item, error)
	CreateItem(ctx context.Context, item domain.Item) (domain.Item, error)
	UpdateItem(ctx context.Context, id int64, update domain.ItemUpdate) error
	DeleteItem(ctx context.Context, id int64) error
}

type UserRepository interface {
	FindUserByUsername(ctx context.Context, username string) (domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// OrderReader serves reporting queries. Results are ordered newest first.
type OrderReader interface {
	ListOrders(ctx context.Context) ([]domain.OrderView, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]domain.OrderView, error)
}
