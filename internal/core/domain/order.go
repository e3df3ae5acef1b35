package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a ledger entry. It is never updated or deleted once committed.
type Order struct {
	ID        int64
	UserID    int64
	ItemID    int64
	Quantity  int
	CreatedAt time.Time
}

// OrderView is an order joined with the user and item it references, for reporting.
type OrderView struct {
	OrderID   int64
	UserID    int64
	Username  string
	ItemID    int64
	ItemName  string
	Price     decimal.Decimal
	Quantity  int
	CreatedAt time.Time
}
