package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
)

func TestPlaceOrder_Success(t *testing.T) {
	store := newStore(10)
	svc := NewOrderService(store, zap.NewNop())

	outcome, err := svc.PlaceOrder(context.Background(), customer, 1, 3)
	require.NoError(t, err)
	require.True(t, outcome.Committed())
	assert.NoError(t, outcome.Err())
	assert.NotZero(t, outcome.OrderID())
	assert.Equal(t, customer.UserID, outcome.Order.UserID)
	assert.Equal(t, 3, outcome.Order.Quantity)
	assert.False(t, outcome.Order.CreatedAt.IsZero())

	stock, _ := store.Stock(1)
	assert.Equal(t, 7, stock)
	assert.Len(t, store.Orders(), 1)
}

func TestPlaceOrder_ExactStock(t *testing.T) {
	store := newStore(5)
	svc := NewOrderService(store, zap.NewNop())

	outcome, err := svc.PlaceOrder(context.Background(), customer, 1, 5)
	require.NoError(t, err)
	assert.True(t, outcome.Committed())

	stock, _ := store.Stock(1)
	assert.Equal(t, 0, stock)
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	store := newStore(2)
	svc := NewOrderService(store, zap.NewNop())

	outcome, err := svc.PlaceOrder(context.Background(), customer, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInsufficientStock, outcome.Status)
	assert.Equal(t, 2, outcome.Available)
	assert.ErrorIs(t, outcome.Err(), domain.ErrInsufficientStock)

	stock, _ := store.Stock(1)
	assert.Equal(t, 2, stock)
	assert.Empty(t, store.Orders())
}

func TestPlaceOrder_ItemNotFound(t *testing.T) {
	store := newStore(5)
	svc := NewOrderService(store, zap.NewNop())

	outcome, err := svc.PlaceOrder(context.Background(), customer, 42, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeItemNotFound, outcome.Status)
	assert.ErrorIs(t, outcome.Err(), domain.ErrItemNotFound)

	stock, _ := store.Stock(1)
	assert.Equal(t, 5, stock)
	assert.Empty(t, store.Orders())
}

func TestPlaceOrder_RejectedBeforeTransaction(t *testing.T) {
	tests := []struct {
		name     string
		sess     domain.Session
		itemID   int64
		quantity int
		wantErr  error
	}{
		{"zero quantity", customer, 1, 0, ErrInvalidQuantity},
		{"negative quantity", customer, 1, -2, ErrInvalidQuantity},
		{"invalid item id", customer, 0, 1, ErrInvalidItemID},
		{"no session", domain.Session{}, 1, 1, ErrNotAuthenticated},
		{"unknown role", domain.Session{UserID: 3, Role: "guest"}, 1, 1, ErrNotAuthenticated},
		{"admin session", admin, 1, 1, ErrNotPermitted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(5)
			tx := &faultyTx{next: store}
			svc := NewOrderService(tx, zap.NewNop())

			_, err := svc.PlaceOrder(context.Background(), tt.sess, tt.itemID, tt.quantity)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, tx.beginCount(), "no unit of work may start")

			stock, _ := store.Stock(1)
			assert.Equal(t, 5, stock)
			assert.Empty(t, store.Orders())
		})
	}
}

func TestPlaceOrder_FaultRollsBack(t *testing.T) {
	for _, step := range []string{"begin", "lock", "insert", "decrement", "commit"} {
		t.Run(step, func(t *testing.T) {
			store := newStore(5)
			svc := NewOrderService(&faultyTx{next: store, failAt: step}, zap.NewNop())

			outcome, err := svc.PlaceOrder(context.Background(), customer, 1, 2)
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeTransactionFailed, outcome.Status)
			assert.ErrorIs(t, outcome.Cause, errInjected)

			var txErr *domain.TransactionError
			require.ErrorAs(t, outcome.Err(), &txErr)
			assert.ErrorIs(t, outcome.Err(), errInjected)

			stock, _ := store.Stock(1)
			assert.Equal(t, 5, stock, "stock must be unchanged")
			assert.Empty(t, store.Orders(), "no order may persist")

			// Locks were released by the rollback.
			next, err := NewOrderService(store, zap.NewNop()).PlaceOrder(context.Background(), customer, 1, 1)
			require.NoError(t, err)
			assert.True(t, next.Committed())
		})
	}
}

func TestPlaceOrder_RollbackFailureJoinsCause(t *testing.T) {
	store := newStore(5)
	svc := NewOrderService(&faultyTx{next: store, failAt: "decrement", failRollback: true}, zap.NewNop())

	outcome, err := svc.PlaceOrder(context.Background(), customer, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTransactionFailed, outcome.Status)
	assert.ErrorContains(t, outcome.Cause, "decrement stock")
	assert.ErrorContains(t, outcome.Cause, "rollback")
}

func TestPlaceOrder_RollbackFailureOverridesRejection(t *testing.T) {
	store := newStore(1)
	svc := NewOrderService(&faultyTx{next: store, failRollback: true}, zap.NewNop())

	outcome, err := svc.PlaceOrder(context.Background(), customer, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTransactionFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Cause, errInjected)
	assert.ErrorContains(t, outcome.Cause, string(domain.OutcomeInsufficientStock))
}

func TestPlaceOrder_LockTimeout(t *testing.T) {
	store := storage.NewMemoryStore(50 * time.Millisecond)
	store.PutItem(domain.Item{ID: 1, Name: "laptop", Stock: 5})
	svc := NewOrderService(store, zap.NewNop())

	holder, err := store.Begin(context.Background())
	require.NoError(t, err)
	_, _, err = holder.LockAndReadStock(context.Background(), 1)
	require.NoError(t, err)
	defer holder.Rollback()

	outcome, err := svc.PlaceOrder(context.Background(), customer, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeTransactionFailed, outcome.Status)
	assert.ErrorIs(t, outcome.Cause, storage.ErrLockTimeout)
}

func TestPlaceOrder_IgnoresCallerCancellation(t *testing.T) {
	store := newStore(5)
	svc := NewOrderService(store, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := svc.PlaceOrder(ctx, customer, 1, 1)
	require.NoError(t, err)
	assert.True(t, outcome.Committed())
}

func TestPlaceOrder_ConcurrentOversubscription(t *testing.T) {
	store := newStore(5)
	svc := NewOrderService(store, zap.NewNop())

	var (
		wg        sync.WaitGroup
		committed atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := svc.PlaceOrder(context.Background(), customer, 1, 3)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			switch outcome.Status {
			case domain.OutcomeCommitted:
				committed.Add(1)
			case domain.OutcomeInsufficientStock:
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), committed.Load())
	assert.Equal(t, int32(1), rejected.Load())
	stock, _ := store.Stock(1)
	assert.Equal(t, 2, stock)
}

func TestPlaceOrder_StockInvariantUnderLoad(t *testing.T) {
	const initial = 40
	store := storage.NewMemoryStore(5 * time.Second)
	store.PutItem(domain.Item{ID: 1, Name: "laptop", Stock: initial})
	store.PutItem(domain.Item{ID: 2, Name: "mouse", Stock: initial})
	svc := NewOrderService(store, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sess := domain.Session{UserID: int64(n + 10), Role: domain.RoleCustomer}
			svc.PlaceOrder(context.Background(), sess, int64(n%2+1), n%3+1)
		}(i)
	}
	wg.Wait()

	sold := map[int64]int{}
	for _, o := range store.Orders() {
		sold[o.ItemID] += o.Quantity
	}
	for _, id := range []int64{1, 2} {
		stock, _ := store.Stock(id)
		assert.GreaterOrEqual(t, stock, 0)
		assert.Equal(t, initial-sold[id], stock, "item %d", id)
	}
}

func TestPlaceOrder_SequentialPlacements(t *testing.T) {
	store := newStore(10)
	svc := NewOrderService(store, zap.NewNop())

	prevStock := 10
	for i := 1; i <= 4; i++ {
		outcome, err := svc.PlaceOrder(context.Background(), customer, 1, 2)
		require.NoError(t, err)
		require.True(t, outcome.Committed())

		stock, _ := store.Stock(1)
		assert.Less(t, stock, prevStock)
		assert.Len(t, store.Orders(), i)
		prevStock = stock
	}
	assert.Equal(t, 2, prevStock)
}

func TestPlaceOrder_PublishesAndObserves(t *testing.T) {
	store := newStore(1)
	pub := &recordingPublisher{err: errors.New("broker down")}
	obs := &recordingObserver{}
	svc := NewOrderService(store, zap.NewNop(), WithPublisher(pub), WithObserver(obs))

	first, err := svc.PlaceOrder(context.Background(), customer, 1, 1)
	require.NoError(t, err)
	assert.True(t, first.Committed(), "publish failure must not change the outcome")

	second, err := svc.PlaceOrder(context.Background(), customer, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInsufficientStock, second.Status)

	require.Len(t, pub.orders, 1)
	assert.Equal(t, first.OrderID(), pub.orders[0].ID)
	assert.Equal(t, []domain.OutcomeStatus{domain.OutcomeCommitted, domain.OutcomeInsufficientStock}, obs.statuses)
}

func TestPlaceOrderOnce_Duplicate(t *testing.T) {
	store := newStore(10)
	svc := NewOrderService(store, zap.NewNop(), WithRequestGuard(storage.NewMemoryGuard(time.Minute)))
	ctx := context.Background()

	first, err := svc.PlaceOrderOnce(ctx, customer, "req-1", 1, 1)
	require.NoError(t, err)
	require.True(t, first.Committed())

	_, err = svc.PlaceOrderOnce(ctx, customer, "req-1", 1, 1)
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	other := domain.Session{UserID: 8, Role: domain.RoleCustomer}
	third, err := svc.PlaceOrderOnce(ctx, other, "req-1", 1, 1)
	require.NoError(t, err)
	assert.True(t, third.Committed(), "request ids are scoped per user")

	stock, _ := store.Stock(1)
	assert.Equal(t, 8, stock)
}

func TestPlaceOrderOnce_ReleasesOnRejection(t *testing.T) {
	store := newStore(1)
	svc := NewOrderService(store, zap.NewNop(), WithRequestGuard(storage.NewMemoryGuard(time.Minute)))
	ctx := context.Background()

	outcome, err := svc.PlaceOrderOnce(ctx, customer, "req-2", 1, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInsufficientStock, outcome.Status)

	outcome, err = svc.PlaceOrderOnce(ctx, customer, "req-2", 1, 1)
	require.NoError(t, err)
	assert.True(t, outcome.Committed())
}

func TestPlaceOrderOnce_ConcurrentSameRequest(t *testing.T) {
	store := newStore(100)
	svc := NewOrderService(store, zap.NewNop(), WithRequestGuard(storage.NewMemoryGuard(time.Minute)))

	var (
		wg         sync.WaitGroup
		committed  atomic.Int32
		duplicates atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := svc.PlaceOrderOnce(context.Background(), customer, "same", 1, 1)
			if errors.Is(err, ErrDuplicateRequest) {
				duplicates.Add(1)
				return
			}
			if err == nil && outcome.Committed() {
				committed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), committed.Load())
	assert.Equal(t, int32(19), duplicates.Load())
}
