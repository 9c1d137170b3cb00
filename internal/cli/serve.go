package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/order-engine/internal/adapter/handler"
	"github.com/rl1809/order-engine/internal/adapter/storage"
	"github.com/rl1809/order-engine/internal/core/service"
	"github.com/rl1809/order-engine/internal/port"
	"github.com/rl1809/order-engine/internal/worker"
)

const shutdownTimeout = 5 * time.Second

func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *RootOptions) error {
	cfg := opts.Config
	logger := opts.Logger

	store, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("schema applied")
	}

	// The cache is advisory; without it every read goes to the store.
	var cache port.CacheRepository
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, running without stock cache", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
			cache = storage.NewRedisAdapter(rdb, cfg.Redis.StockTTL, cfg.Redis.IdempotencyTTL)
		}
	}

	ledger := service.NewInventoryLedger(store, cache, cfg.Workers.QueueSize, logger)
	carts := service.NewCartService(store, ledger, logger)
	merger := service.NewMergeService(store, ledger, logger)
	orders := service.NewOrderService(store, ledger, cache, logger)

	pool := worker.NewPool(ledger, logger)
	pool.Start(cfg.Workers.Count, ledger.GetChangeQueue())

	// gRPC
	grpcServer := grpc.NewServer()
	handler.RegisterGRPCHandler(grpcServer, handler.NewGRPCHandler(carts, merger, orders, logger))
	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP
	mux := http.NewServeMux()
	handler.NewHTTPHandler(carts, merger, orders, ledger, store, logger).Register(mux)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	healthServer.Shutdown()
	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// no more commits can queue changes; let the workers drain what is left
	ledger.Close()
	pool.Wait()
	logger.Info("workers stopped")

	return nil
}
