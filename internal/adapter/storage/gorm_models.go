package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/core/domain"
)

type itemRow struct {
	ID    int64           `gorm:"primaryKey;autoIncrement"`
	Name  string          `gorm:"type:varchar(255);not null"`
	Price decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Stock int             `gorm:"not null;check:chk_items_stock,stock >= 0"`
}

func (itemRow) TableName() string {
	return "items"
}

func (r itemRow) toDomain() domain.Item {
	return domain.Item{ID: r.ID, Name: r.Name, Price: r.Price, Stock: r.Stock}
}

type userRow struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"type:varchar(100);not null;uniqueIndex"`
	PasswordHash string `gorm:"type:varchar(255);not null"`
	Email        string `gorm:"type:varchar(255)"`
	Role         string `gorm:"type:varchar(20);not null;default:customer"`
}

func (userRow) TableName() string {
	return "users"
}

func (r userRow) toDomain() domain.User {
	return domain.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		Role:         domain.Role(r.Role),
		PasswordHash: r.PasswordHash,
	}
}

type orderRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    int64     `gorm:"not null;index"`
	ItemID    int64     `gorm:"not null;index"`
	Quantity  int       `gorm:"not null;check:chk_orders_quantity,quantity > 0"`
	OrderDate time.Time `gorm:"not null;index"`

	User userRow `gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT"`
	Item itemRow `gorm:"foreignKey:ItemID;constraint:OnDelete:RESTRICT"`
}

func (orderRow) TableName() string {
	return "orders"
}

func (r orderRow) toDomain() domain.Order {
	return domain.Order{
		ID:        r.ID,
		UserID:    r.UserID,
		ItemID:    r.ItemID,
		Quantity:  r.Quantity,
		CreatedAt: r.OrderDate,
	}
}

type orderViewRow struct {
	OrderID   int64
	UserID    int64
	Username  string
	ItemID    int64
	ItemName  string
	Price     decimal.Decimal
	Quantity  int
	OrderDate time.Time
}

func (r orderViewRow) toDomain() domain.OrderView {
	return domain.OrderView{
		OrderID:   r.OrderID,
		UserID:    r.UserID,
		Username:  r.Username,
		ItemID:    r.ItemID,
		ItemName:  r.ItemName,
		Price:     r.Price,
		Quantity:  r.Quantity,
		CreatedAt: r.OrderDate,
	}
}
