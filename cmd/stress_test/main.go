package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
	"github.com/rl1809/storefront/pkg/logger"
)

const (
	initialStock  = 20
	totalRequests = 50
	lockTimeout   = 5 * time.Second
)

// target is the storage a run places orders against.
type target struct {
	tx     port.TxManager
	itemID int64
	userID int64
	stock  func(ctx context.Context) (int, error)
	sold   func(ctx context.Context) (int, error)
}

func main() {
	ctx := context.Background()
	log := logger.NewLogger("stress_test", "warn")
	defer log.Sync()

	var (
		t   target
		err error
	)
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		t, err = mysqlTarget(ctx, dsn)
	} else {
		t = memoryTarget()
	}
	if err != nil {
		log.Fatal("failed to prepare target", zap.Error(err))
	}

	guard := storage.NewMemoryGuard(time.Minute)
	orderService := service.NewOrderService(t.tx, log, service.WithRequestGuard(guard))
	sess := domain.Session{UserID: t.userID, Username: "stress", Role: domain.RoleCustomer}

	// Counters
	var committed, rejected, failed atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			outcome, err := orderService.PlaceOrderOnce(ctx, sess, uuid.NewString(), t.itemID, 1)
			switch {
			case err != nil:
				failed.Add(1)
			case outcome.Committed():
				committed.Add(1)
			case outcome.Status == domain.OutcomeInsufficientStock:
				rejected.Add(1)
			default:
				failed.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Committed:        %d\n", committed.Load())
	fmt.Printf("Out of stock:     %d\n", rejected.Load())
	fmt.Printf("Failed:           %d\n", failed.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	ok := true
	if committed.Load() == initialStock && rejected.Load() == totalRequests-initialStock {
		fmt.Printf("PASS: exactly %d orders committed, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		ok = false
		fmt.Printf("FAIL: expected %d committed/%d rejected, got %d/%d (%d failed)\n",
			initialStock, totalRequests-initialStock, committed.Load(), rejected.Load(), failed.Load())
	}

	finalStock, err := t.stock(ctx)
	if err != nil {
		log.Fatal("failed to read stock", zap.Error(err))
	}
	sold, err := t.sold(ctx)
	if err != nil {
		log.Fatal("failed to read ledger", zap.Error(err))
	}
	fmt.Printf("Final Stock:      %d\n", finalStock)
	fmt.Printf("Ledger Quantity:  %d\n", sold)

	if initialStock-sold == finalStock && finalStock >= 0 {
		fmt.Println("PASS: stock matches the order ledger")
	} else {
		ok = false
		fmt.Printf("FAIL: %d - %d != %d\n", initialStock, sold, finalStock)
	}

	if !ok {
		os.Exit(1)
	}
}

func memoryTarget() target {
	store := storage.NewMemoryStore(lockTimeout)
	store.PutItem(domain.Item{ID: 1, Name: "stress-item", Price: decimal.NewFromInt(1), Stock: initialStock})

	return target{
		tx:     store,
		itemID: 1,
		userID: 1,
		stock: func(context.Context) (int, error) {
			stock, _ := store.Stock(1)
			return stock, nil
		},
		sold: func(context.Context) (int, error) {
			total := 0
			for _, o := range store.Orders() {
				total += o.Quantity
			}
			return total, nil
		},
	}
}

func mysqlTarget(ctx context.Context, dsn string) (target, error) {
	db, err := storage.OpenMySQL(dsn, lockTimeout)
	if err != nil {
		return target{}, err
	}
	adapter := storage.NewMySQLAdapter(db)
	if err := adapter.Ping(ctx); err != nil {
		return target{}, err
	}
	if err := adapter.Migrate(ctx); err != nil {
		return target{}, err
	}

	suffix := uuid.NewString()[:8]
	user, err := adapter.CreateUser(ctx, domain.User{Username: "stress-" + suffix, Role: domain.RoleCustomer, PasswordHash: "-"})
	if err != nil {
		return target{}, err
	}
	item, err := adapter.CreateItem(ctx, domain.Item{Name: "stress-item-" + suffix, Price: decimal.NewFromInt(1), Stock: initialStock})
	if err != nil {
		return target{}, err
	}

	return target{
		tx:     adapter,
		itemID: item.ID,
		userID: user.ID,
		stock: func(ctx context.Context) (int, error) {
			got, err := adapter.GetItem(ctx, item.ID)
			return got.Stock, err
		},
		sold: func(ctx context.Context) (int, error) {
			views, err := adapter.ListOrdersByUser(ctx, user.ID)
			total := 0
			for _, v := range views {
				total += v.Quantity
			}
			return total, err
		},
	}, nil
}
