package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/storefront/internal/adapter/events"
	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/handler/orderrpc"
	"github.com/rl1809/storefront/internal/adapter/metrics"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
	"github.com/rl1809/storefront/pkg/logger"
)

const (
	startupTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// backend is what every storage adapter offers to the server.
type backend interface {
	port.TxManager
	port.ItemRepository
	port.UserRepository
	port.OrderReader
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewLogger("storefront", "info").Fatal("invalid configuration", zap.Error(err))
	}

	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	// Initialize storage
	store, closeStore, err := openBackend(cfg)
	if err != nil {
		log.Fatal("failed to open database", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	defer closeStore()

	if err := store.Ping(startCtx); err != nil {
		log.Fatal("failed to ping database", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	if err := store.Migrate(startCtx); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}
	log.Info("connected to database", zap.String("driver", cfg.DBDriver))

	placementMetrics := metrics.NewPlacementMetrics(cfg.ServiceName)
	orderOpts := []service.OrderOption{service.WithObserver(placementMetrics)}

	// Request deduplication: Redis when configured, in-process otherwise
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		defer rdb.Close()

		guard := storage.NewRedisAdapter(rdb, cfg.IdempotencyTTL)
		if err := guard.Ping(startCtx); err != nil {
			log.Fatal("failed to connect redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		orderOpts = append(orderOpts, service.WithRequestGuard(guard))
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	} else {
		orderOpts = append(orderOpts, service.WithRequestGuard(storage.NewMemoryGuard(cfg.IdempotencyTTL)))
	}

	// Order events
	if cfg.RabbitMQURL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.RabbitMQURL, log)
		if err != nil {
			log.Warn("order events disabled", zap.Error(err))
		} else {
			defer publisher.Close()
			dispatcher := events.NewDispatcher(publisher, cfg.EventQueueLen, cfg.EventWorkers, publishTimeout, log)
			defer dispatcher.Close()
			orderOpts = append(orderOpts, service.WithPublisher(dispatcher))
		}
	}

	// Initialize services
	authService := service.NewAuthService(store, log)
	orderService := service.NewOrderService(store, log, orderOpts...)
	catalogService := service.NewCatalogService(store, store, store, log)

	if cfg.AdminUsername != "" {
		admin, err := authService.EnsureUser(startCtx, cfg.AdminUsername, "", cfg.AdminPassword, domain.RoleAdmin)
		if err != nil {
			log.Fatal("failed to bootstrap admin", zap.Error(err))
		}
		if admin.Role != domain.RoleAdmin {
			log.Warn("bootstrap user exists without admin role", zap.String("username", admin.Username))
		}
	}

	// Initialize gRPC server
	grpcHandler := handler.NewGRPCHandler(orderService, catalogService, authService, log)
	grpcServer := grpc.NewServer(grpcHandler.ServerOptions()...)
	orderrpc.RegisterOrderServiceServer(grpcServer, grpcHandler)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(orderrpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(orderService, catalogService, authService, log)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Routes(placementMetrics.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown", zap.Error(err))
	}
	log.Info("HTTP server stopped")

	healthServer.Shutdown()
	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	// Deferred closers drain the event queue, then close broker, redis and database.
}

func openBackend(cfg *config.Config) (backend, func(), error) {
	switch cfg.DBDriver {
	case config.DriverPostgres, config.DriverSQLite:
		db, err := storage.OpenGorm(cfg.DBDriver, cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		adapter := storage.NewGormAdapter(db, cfg.LockTimeout)
		return adapter, func() { adapter.Close() }, nil
	default:
		db, err := storage.OpenMySQL(cfg.MySQLDSN, cfg.LockTimeout)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewMySQLAdapter(db), func() { db.Close() }, nil
	}
}
