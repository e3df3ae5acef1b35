package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

var (
	customer = domain.Session{UserID: 7, Username: "alice", Role: domain.RoleCustomer}
	admin    = domain.Session{UserID: 1, Username: "root", Role: domain.RoleAdmin}

	errInjected = errors.New("injected fault")
)

func newStore(stock int) *storage.MemoryStore {
	store := storage.NewMemoryStore(time.Second)
	store.PutItem(domain.Item{ID: 1, Name: "laptop", Price: decimal.NewFromInt(999), Stock: stock})
	return store
}

// faultyTx wraps a TxManager and fails the named step of every unit of work.
// Rollback still releases the underlying unit before reporting a fault.
type faultyTx struct {
	next         port.TxManager
	failAt       string
	failRollback bool

	mu     sync.Mutex
	begins int
}

func (f *faultyTx) Begin(ctx context.Context) (port.UnitOfWork, error) {
	f.mu.Lock()
	f.begins++
	f.mu.Unlock()

	if f.failAt == "begin" {
		return nil, errInjected
	}
	uow, err := f.next.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyUnit{UnitOfWork: uow, failAt: f.failAt, failRollback: f.failRollback}, nil
}

func (f *faultyTx) beginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins
}

type faultyUnit struct {
	port.UnitOfWork
	failAt       string
	failRollback bool
}

func (u *faultyUnit) LockAndReadStock(ctx context.Context, itemID int64) (int, bool, error) {
	if u.failAt == "lock" {
		return 0, false, errInjected
	}
	return u.UnitOfWork.LockAndReadStock(ctx, itemID)
}

func (u *faultyUnit) InsertOrder(ctx context.Context, userID, itemID int64, quantity int) (domain.Order, error) {
	if u.failAt == "insert" {
		return domain.Order{}, errInjected
	}
	return u.UnitOfWork.InsertOrder(ctx, userID, itemID, quantity)
}

func (u *faultyUnit) DecrementStock(ctx context.Context, itemID int64, amount int) error {
	if u.failAt == "decrement" {
		return errInjected
	}
	return u.UnitOfWork.DecrementStock(ctx, itemID, amount)
}

func (u *faultyUnit) Commit() error {
	if u.failAt == "commit" {
		return errInjected
	}
	return u.UnitOfWork.Commit()
}

func (u *faultyUnit) Rollback() error {
	err := u.UnitOfWork.Rollback()
	if u.failRollback {
		return errInjected
	}
	return err
}

type recordingPublisher struct {
	mu     sync.Mutex
	orders []domain.Order
	err    error
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, order domain.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, order)
	return p.err
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []domain.OutcomeStatus
}

func (o *recordingObserver) ObservePlacement(status domain.OutcomeStatus, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

// memoryUsers is a UserRepository backed by a map.
type memoryUsers struct {
	mu     sync.Mutex
	byName map[string]domain.User
	nextID int64
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byName: make(map[string]domain.User)}
}

func (m *memoryUsers) FindUserByUsername(_ context.Context, username string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byName[username]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (m *memoryUsers) CreateUser(_ context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[user.Username]; ok {
		return domain.User{}, domain.ErrUserExists
	}
	m.nextID++
	user.ID = m.nextID
	m.byName[user.Username] = user
	return user, nil
}

func (m *memoryUsers) ListUsers(context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]domain.User, 0, len(m.byName))
	for _, u := range m.byName {
		users = append(users, u)
	}
	return users, nil
}
