package domain

import "github.com/shopspring/decimal"

type Item struct {
	ID    int64
	Name  string
	Price decimal.Decimal
	Stock int
}

// ItemUpdate carries the catalog fields an admin wants to change. A nil field is left as is.
type ItemUpdate struct {
	Name  *string
	Price *decimal.Decimal
	Stock *int
}

func (u ItemUpdate) IsEmpty() bool {
	return u.Name == nil && u.Price == nil && u.Stock == nil
}
