package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

var (
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrInvalidQuantity  = errors.New("quantity must be a positive integer")
	ErrInvalidItemID    = errors.New("invalid item id")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotPermitted     = errors.New("not permitted")
)

const publishTimeout = 5 * time.Second

type OrderService struct {
	tx        port.TxManager
	guard     port.RequestGuard
	publisher port.OrderEventPublisher
	observer  port.PlacementObserver
	log       *zap.Logger
}

type OrderOption func(*OrderService)

// WithRequestGuard enables request id deduplication in PlaceOrderOnce.
func WithRequestGuard(g port.RequestGuard) OrderOption {
	return func(s *OrderService) { s.guard = g }
}

func WithPublisher(p port.OrderEventPublisher) OrderOption {
	return func(s *OrderService) { s.publisher = p }
}

func WithObserver(o port.PlacementObserver) OrderOption {
	return func(s *OrderService) { s.observer = o }
}

func NewOrderService(tx port.TxManager, log *zap.Logger, opts ...OrderOption) *OrderService {
	s := &OrderService{tx: tx, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder runs one order placement as a single unit of work: lock the item,
// check stock, append the order, decrement stock, commit. The returned error is
// non-nil only when the request is rejected before a transaction starts; every
// other result is reported through the Outcome.
//
// Once started the unit of work ignores cancellation of ctx and runs to commit or
// rollback. Only the storage lock timeout can cut it short.
func (s *OrderService) PlaceOrder(ctx context.Context, sess domain.Session, itemID int64, quantity int) (domain.Outcome, error) {
	if err := validatePlacement(sess, itemID, quantity); err != nil {
		return domain.Outcome{}, err
	}

	start := time.Now()
	outcome := s.place(context.WithoutCancel(ctx), sess.UserID, itemID, quantity)
	elapsed := time.Since(start)

	if s.observer != nil {
		s.observer.ObservePlacement(outcome.Status, elapsed)
	}
	s.logOutcome(sess, itemID, quantity, outcome, elapsed)

	if outcome.Committed() && s.publisher != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		if err := s.publisher.PublishOrderPlaced(pubCtx, outcome.Order); err != nil {
			s.log.Warn("order placed event not published",
				zap.Int64("order_id", outcome.OrderID()),
				zap.Error(err),
			)
		}
		cancel()
	}

	return outcome, nil
}

// PlaceOrderOnce is PlaceOrder guarded by a caller supplied request id. A request id
// can produce at most one committed order; it is released again when the placement
// does not commit so the caller can reissue it.
func (s *OrderService) PlaceOrderOnce(ctx context.Context, sess domain.Session, requestID string, itemID int64, quantity int) (domain.Outcome, error) {
	if s.guard == nil || requestID == "" {
		return s.PlaceOrder(ctx, sess, itemID, quantity)
	}
	if err := validatePlacement(sess, itemID, quantity); err != nil {
		return domain.Outcome{}, err
	}

	key := fmt.Sprintf("order:%d:%s", sess.UserID, requestID)
	token, ok, err := s.guard.Acquire(ctx, key)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("request guard: %w", err)
	}
	if !ok {
		return domain.Outcome{}, ErrDuplicateRequest
	}

	outcome, err := s.PlaceOrder(ctx, sess, itemID, quantity)
	if err != nil || !outcome.Committed() {
		if relErr := s.guard.Release(context.WithoutCancel(ctx), key, token); relErr != nil {
			s.log.Warn("request key not released", zap.String("key", key), zap.Error(relErr))
		}
	}
	return outcome, err
}

func (s *OrderService) place(ctx context.Context, userID, itemID int64, quantity int) domain.Outcome {
	uow, err := s.tx.Begin(ctx)
	if err != nil {
		return failed(fmt.Errorf("begin: %w", err))
	}

	stock, found, err := uow.LockAndReadStock(ctx, itemID)
	if err != nil {
		return abort(uow, failed(fmt.Errorf("lock item: %w", err)))
	}
	if !found {
		return abort(uow, domain.Outcome{Status: domain.OutcomeItemNotFound})
	}
	if stock < quantity {
		return abort(uow, domain.Outcome{Status: domain.OutcomeInsufficientStock, Available: stock})
	}

	order, err := uow.InsertOrder(ctx, userID, itemID, quantity)
	if err != nil {
		return abort(uow, failed(fmt.Errorf("insert order: %w", err)))
	}

	if err := uow.DecrementStock(ctx, itemID, quantity); err != nil {
		return abort(uow, failed(fmt.Errorf("decrement stock: %w", err)))
	}

	if err := uow.Commit(); err != nil {
		return abort(uow, failed(fmt.Errorf("commit: %w", err)))
	}

	return domain.Outcome{Status: domain.OutcomeCommitted, Order: order}
}

// abort rolls the unit of work back. A rollback that fails turns any outcome into
// a transaction failure.
func abort(uow port.UnitOfWork, outcome domain.Outcome) domain.Outcome {
	err := uow.Rollback()
	if err == nil {
		return outcome
	}
	if outcome.Status == domain.OutcomeTransactionFailed {
		return failed(errors.Join(outcome.Cause, fmt.Errorf("rollback: %w", err)))
	}
	return failed(fmt.Errorf("rollback after %s: %w", outcome.Status, err))
}

func failed(cause error) domain.Outcome {
	return domain.Outcome{Status: domain.OutcomeTransactionFailed, Cause: cause}
}

func validatePlacement(sess domain.Session, itemID int64, quantity int) error {
	if !sess.Authenticated() {
		return ErrNotAuthenticated
	}
	if sess.IsAdmin() {
		return ErrNotPermitted
	}
	if itemID <= 0 {
		return ErrInvalidItemID
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

func (s *OrderService) logOutcome(sess domain.Session, itemID int64, quantity int, outcome domain.Outcome, elapsed time.Duration) {
	fields := []zap.Field{
		zap.Int64("user_id", sess.UserID),
		zap.Int64("item_id", itemID),
		zap.Int("quantity", quantity),
		zap.String("outcome", string(outcome.Status)),
		zap.Duration("elapsed", elapsed),
	}

	switch outcome.Status {
	case domain.OutcomeCommitted:
		s.log.Info("order placed", append(fields, zap.Int64("order_id", outcome.OrderID()))...)
	case domain.OutcomeTransactionFailed:
		s.log.Error("order placement rolled back", append(fields, zap.Error(outcome.Cause))...)
	default:
		s.log.Info("order rejected", fields...)
	}
}
