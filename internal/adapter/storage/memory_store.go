package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

// MemoryStore keeps items and the order ledger in process. Each item has its own
// lock, so units of work on different items never wait for each other. Writes are
// staged in the unit of work and applied in one step on Commit.
type MemoryStore struct {
	mu          sync.Mutex
	items       map[int64]domain.Item
	locks       map[int64]chan struct{}
	orders      []domain.Order
	nextOrderID int64
	lockTimeout time.Duration
	now         func() time.Time
}

func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		items:       make(map[int64]domain.Item),
		locks:       make(map[int64]chan struct{}),
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

// PutItem inserts or replaces an item outside of any unit of work.
func (m *MemoryStore) PutItem(item domain.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
}

func (m *MemoryStore) Stock(itemID int64) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	return item.Stock, ok
}

// Orders returns a copy of the committed ledger in commit order.
func (m *MemoryStore) Orders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, len(m.orders))
	copy(out, m.orders)
	return out
}

func (m *MemoryStore) Begin(ctx context.Context) (port.UnitOfWork, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryTx{
		store:      m,
		held:       make(map[int64]chan struct{}),
		decrements: make(map[int64]int),
	}, nil
}

func (m *MemoryStore) itemLock(itemID int64) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[itemID]
	if !ok {
		lock = make(chan struct{}, 1)
		m.locks[itemID] = lock
	}
	return lock
}

type memoryTx struct {
	store      *MemoryStore
	held       map[int64]chan struct{}
	orders     []domain.Order
	decrements map[int64]int
	done       bool
}

func (t *memoryTx) LockAndReadStock(ctx context.Context, itemID int64) (int, bool, error) {
	if t.done {
		return 0, false, ErrTxDone
	}

	if _, ok := t.held[itemID]; !ok {
		if err := t.acquire(ctx, itemID); err != nil {
			return 0, false, err
		}
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	item, ok := t.store.items[itemID]
	if !ok {
		return 0, false, nil
	}
	return item.Stock - t.decrements[itemID], true, nil
}

func (t *memoryTx) acquire(ctx context.Context, itemID int64) error {
	lock := t.store.itemLock(itemID)

	timer := time.NewTimer(t.store.lockTimeout)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
		t.held[itemID] = lock
		return nil
	case <-timer.C:
		return fmt.Errorf("item %d: %w", itemID, ErrLockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memoryTx) DecrementStock(_ context.Context, itemID int64, amount int) error {
	if t.done {
		return ErrTxDone
	}
	if _, ok := t.held[itemID]; !ok {
		return fmt.Errorf("item %d: %w", itemID, ErrNotLocked)
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	item, ok := t.store.items[itemID]
	if !ok || item.Stock-t.decrements[itemID] < amount {
		return fmt.Errorf("item %d: %w", itemID, ErrStockConflict)
	}
	t.decrements[itemID] += amount
	return nil
}

func (t *memoryTx) InsertOrder(_ context.Context, userID, itemID int64, quantity int) (domain.Order, error) {
	if t.done {
		return domain.Order{}, ErrTxDone
	}

	t.store.mu.Lock()
	if _, ok := t.store.items[itemID]; !ok {
		t.store.mu.Unlock()
		return domain.Order{}, fmt.Errorf("insert order: %w", domain.ErrItemNotFound)
	}
	t.store.nextOrderID++
	id := t.store.nextOrderID
	t.store.mu.Unlock()

	order := domain.Order{
		ID:        id,
		UserID:    userID,
		ItemID:    itemID,
		Quantity:  quantity,
		CreatedAt: t.store.now().UTC(),
	}
	t.orders = append(t.orders, order)
	return order, nil
}

// Commit applies staged decrements and appends staged orders. A committed order
// never carries a timestamp older than the ledger tail.
func (t *memoryTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	defer t.finish()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for itemID, amount := range t.decrements {
		item, ok := t.store.items[itemID]
		if !ok || item.Stock < amount {
			return fmt.Errorf("item %d: %w", itemID, ErrStockConflict)
		}
	}

	for itemID, amount := range t.decrements {
		item := t.store.items[itemID]
		item.Stock -= amount
		t.store.items[itemID] = item
	}

	sort.Slice(t.orders, func(i, j int) bool { return t.orders[i].ID < t.orders[j].ID })
	for _, order := range t.orders {
		if n := len(t.store.orders); n > 0 && order.CreatedAt.Before(t.store.orders[n-1].CreatedAt) {
			order.CreatedAt = t.store.orders[n-1].CreatedAt
		}
		t.store.orders = append(t.store.orders, order)
	}
	return nil
}

// Rollback discards staged writes and releases locks. It is a no-op on a finished
// unit of work.
func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *memoryTx) finish() {
	t.done = true
	t.orders = nil
	t.decrements = nil
	for id, lock := range t.held {
		<-lock
		delete(t.held, id)
	}
}
