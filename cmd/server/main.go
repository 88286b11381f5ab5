package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/rl1809/catalog/internal/adapter/handler"
	"github.com/rl1809/catalog/internal/adapter/storage"
	"github.com/rl1809/catalog/internal/config"
	"github.com/rl1809/catalog/internal/core/service"
	"github.com/rl1809/catalog/internal/obs"
	"github.com/rl1809/catalog/internal/port"
)

func main() {
	cfg := config.Load()
	obs.InitLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catalog store
	var store port.CatalogRepository
	var db *sql.DB
	switch cfg.StoreDriver {
	case config.DriverMemory:
		store = storage.NewMemoryAdapter(cfg.LockTimeout)
		obs.Logger.Info("using in-memory catalog store")
	default:
		dsn, err := storage.NormalizeDSN(cfg.MySQLDSN)
		if err != nil {
			fatal("invalid mysql dsn", err)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			fatal("failed to open mysql", err)
		}
		db.SetMaxOpenConns(cfg.MySQLMaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQLMaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQLConnMaxLifetime)

		if err := db.PingContext(ctx); err != nil {
			fatal("failed to ping mysql", err)
		}
		if cfg.MySQLMigrate {
			if err := storage.Migrate(ctx, db); err != nil {
				fatal("failed to migrate mysql", err)
			}
		}
		store = storage.NewMySQLAdapter(db, cfg.LockTimeout)
		obs.Logger.Info("connected to mysql")
	}

	// Search index
	var index port.SearchIndex
	var rdb *redis.Client
	switch cfg.IndexDriver {
	case config.DriverMemory:
		index = storage.NewMemoryIndex()
		obs.Logger.Info("using in-memory search index")
	default:
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: cfg.RedisPoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// search degrades to catalog scans until redis is back
			obs.Logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
		} else {
			obs.Logger.Info("connected to redis")
		}
		index = storage.NewRedisIndex(rdb, cfg.IndexKeyPrefix)
	}

	// Services
	syncer := service.NewIndexSyncer(index, store, service.IndexSyncerConfig{
		Workers:        cfg.IndexWorkers,
		QueueSize:      cfg.IndexQueueSize,
		MaxAttempts:    cfg.IndexMaxAttempts,
		RetryBackoff:   cfg.IndexRetryBackoff,
		RepairInterval: cfg.IndexRepairInterval,
	})
	catalog := service.NewCatalogService(store, service.NewInventoryService(store), index, syncer)

	if cfg.SeedDemo {
		existing, err := store.AllProducts(ctx)
		if err != nil {
			fatal("failed to inspect catalog", err)
		}
		if len(existing) == 0 {
			if err := catalog.SeedDemo(ctx); err != nil {
				fatal("failed to seed demo catalog", err)
			}
		}
	}

	if err := syncer.Rebuild(ctx); err != nil {
		obs.Logger.Warn("initial index rebuild failed, repair loop will retry", "error", err)
	}
	syncer.Start(ctx)

	// gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.LoggingInterceptor))
	handler.RegisterCatalogServer(grpcServer, handler.NewGRPCHandler(catalog))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		fatal("failed to listen", err)
	}

	go func() {
		obs.Logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			obs.Logger.Error("gRPC server error", "error", err)
		}
	}()

	// HTTP server
	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler.NewServer(catalog).Engine(),
	}

	go func() {
		obs.Logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			obs.Logger.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	obs.Logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		obs.Logger.Error("HTTP shutdown", "error", err)
	}
	obs.Logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	obs.Logger.Info("gRPC server stopped")

	// pending index changes are applied before the connections go away
	if !syncer.Drain(shutdownCtx) {
		obs.Logger.Warn("index changes still pending at shutdown")
	}
	syncer.Close()
	obs.Logger.Info("index syncer stopped")

	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	obs.Logger.Info("connections closed")
}

func fatal(msg string, err error) {
	obs.Logger.Error(msg, "error", err)
	os.Exit(1)
}
