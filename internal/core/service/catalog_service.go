package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

var (
	ErrInvalidItem = errors.New("invalid item")
	ErrNoChanges   = errors.New("no changes provided")
)

// CatalogService covers item management and the read-only reports. Nothing here
// touches stock under lock; placements go through OrderService.
type CatalogService struct {
	items  port.ItemRepository
	orders port.OrderReader
	users  port.UserRepository
	log    *zap.Logger
}

func NewCatalogService(items port.ItemRepository, orders port.OrderReader, users port.UserRepository, log *zap.Logger) *CatalogService {
	return &CatalogService{items: items, orders: orders, users: users, log: log}
}

func (s *CatalogService) ListItems(ctx context.Context, sess domain.Session) ([]domain.Item, error) {
	if !sess.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	return s.items.ListItems(ctx)
}

func (s *CatalogService) GetItem(ctx context.Context, sess domain.Session, id int64) (domain.Item, error) {
	if !sess.Authenticated() {
		return domain.Item{}, ErrNotAuthenticated
	}
	if id <= 0 {
		return domain.Item{}, ErrInvalidItemID
	}
	return s.items.GetItem(ctx, id)
}

func (s *CatalogService) AddItem(ctx context.Context, sess domain.Session, name string, price decimal.Decimal, stock int) (domain.Item, error) {
	if err := requireAdmin(sess); err != nil {
		return domain.Item{}, err
	}

	name = strings.TrimSpace(name)
	if err := validateItemFields(&name, &price, &stock); err != nil {
		return domain.Item{}, err
	}

	item, err := s.items.CreateItem(ctx, domain.Item{Name: name, Price: price, Stock: stock})
	if err != nil {
		return domain.Item{}, fmt.Errorf("create item: %w", err)
	}

	s.log.Info("item added", zap.Int64("item_id", item.ID), zap.String("name", item.Name), zap.String("admin", sess.Username))
	return item, nil
}

// UpdateItem applies only the fields set in update.
func (s *CatalogService) UpdateItem(ctx context.Context, sess domain.Session, id int64, update domain.ItemUpdate) error {
	if err := requireAdmin(sess); err != nil {
		return err
	}
	if id <= 0 {
		return ErrInvalidItemID
	}
	if update.IsEmpty() {
		return ErrNoChanges
	}

	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		update.Name = &trimmed
	}
	if err := validateItemFields(update.Name, update.Price, update.Stock); err != nil {
		return err
	}

	if err := s.items.UpdateItem(ctx, id, update); err != nil {
		return err
	}

	s.log.Info("item updated", zap.Int64("item_id", id), zap.Strings("fields", changedFields(update)), zap.String("admin", sess.Username))
	return nil
}

func (s *CatalogService) DeleteItem(ctx context.Context, sess domain.Session, id int64) error {
	if err := requireAdmin(sess); err != nil {
		return err
	}
	if id <= 0 {
		return ErrInvalidItemID
	}
	if err := s.items.DeleteItem(ctx, id); err != nil {
		return err
	}

	s.log.Info("item deleted", zap.Int64("item_id", id), zap.String("admin", sess.Username))
	return nil
}

// ListMyOrders returns the caller's own orders, newest first.
func (s *CatalogService) ListMyOrders(ctx context.Context, sess domain.Session) ([]domain.OrderView, error) {
	if !sess.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	return s.orders.ListOrdersByUser(ctx, sess.UserID)
}

func (s *CatalogService) ListAllOrders(ctx context.Context, sess domain.Session) ([]domain.OrderView, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	return s.orders.ListOrders(ctx)
}

func (s *CatalogService) ListUsers(ctx context.Context, sess domain.Session) ([]domain.User, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	return s.users.ListUsers(ctx)
}

func requireAdmin(sess domain.Session) error {
	if !sess.Authenticated() {
		return ErrNotAuthenticated
	}
	if !sess.IsAdmin() {
		return ErrNotPermitted
	}
	return nil
}

func validateItemFields(name *string, price *decimal.Decimal, stock *int) error {
	if name != nil && *name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidItem)
	}
	if price != nil && price.IsNegative() {
		return fmt.Errorf("%w: price is negative", ErrInvalidItem)
	}
	if stock != nil && *stock < 0 {
		return fmt.Errorf("%w: stock is negative", ErrInvalidItem)
	}
	return nil
}

func changedFields(u domain.ItemUpdate) []string {
	var fields []string
	if u.Name != nil {
		fields = append(fields, "name")
	}
	if u.Price != nil {
		fields = append(fields, "price")
	}
	if u.Stock != nil {
		fields = append(fields, "stock")
	}
	return fields
}
