// Command cacheadmin runs a cache node and serves its admin surfaces: the /caches HTTP API, the
// CacheAdmin gRPC service and Prometheus metrics.
//
// The binary itself never writes to the cache. Producers embed internal/cache in their own process
// and expose it through internal/api, so a standalone node reports empty regions until a producer
// linked into it stores entries.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/dhis2/dhis2-core-sub010/internal/api"
	"github.com/dhis2/dhis2-core-sub010/internal/cache"
	"github.com/dhis2/dhis2-core-sub010/internal/cluster"
	"github.com/dhis2/dhis2-core-sub010/internal/config"
	grpcserver "github.com/dhis2/dhis2-core-sub010/internal/grpc"
	"github.com/dhis2/dhis2-core-sub010/internal/metrics"
	"github.com/dhis2/dhis2-core-sub010/internal/models"
	"github.com/dhis2/dhis2-core-sub010/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.GetConfig()
	logger := config.GetLogger()

	logger.Info().
		Str("version", version.Full()).
		Bool("cache_enabled", cfg.Cache.Enabled).
		Int("cap_percent", cfg.Cache.CapPercent).
		Int("hard_cap_percentage", cfg.Cache.HardCapPercentage).
		Int("soft_cap_percentage", cfg.Cache.SoftCapPercentage).
		Bool("cluster_enabled", cfg.Cluster.Enabled).
		Int("server_port", cfg.Server.Port).
		Str("server_address", cfg.Server.Address).
		Msg("Application started with configuration")

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     version.Canonical(),
		}); err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize Sentry, continuing without error reporting")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	admin, cleanup, err := buildAdmin(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create cache")
	}
	defer cleanup()

	// Start Prometheus metrics HTTP server
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewHTTPServer(cfg.Server.Address, cfg.Metrics.Port)
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("Starting Prometheus metrics HTTP server")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Failed to serve metrics")
			}
		}()
		defer shutdownHTTP(metricsServer.Shutdown, "metrics", logger)
	}

	// Start the gRPC admin surface
	if cfg.GRPC.Enabled {
		grpcServer := grpcserver.NewGRPCServer(admin)
		address := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.GRPC.Port)
		listener, err := net.Listen("tcp", address)
		if err != nil {
			logger.Fatal().Err(err).Str("address", address).Msg("Failed to create gRPC listener")
		}
		go func() {
			logger.Info().Str("address", address).Msg("Starting gRPC server")
			if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.Error().Err(err).Msg("Failed to serve gRPC")
			}
		}()
		defer grpcServer.GracefulStop()
	}

	// Start the HTTP admin surface
	server := api.NewServer(cfg.Server.Address, cfg.Server.Port, cfg.Server.MaxConnections, api.NewHandler(admin, logger), logger)
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", server.Addr()).Msg("Starting cache admin HTTP server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("Cache admin HTTP server failed")
		}
	}
	shutdownHTTP(server.Shutdown, "admin", logger)

	logger.Info().Msg("Server stopped gracefully")
}

// buildAdmin creates the cache and, when clustering is enabled, wraps it in a coordinator.
// A nil admin means the cache is disabled in this deployment.
func buildAdmin(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (api.Admin, func(), error) {
	if !cfg.Cache.Enabled {
		logger.Warn().Msg("Cache is disabled, admin endpoints will report it as unavailable")
		return nil, func() {}, nil
	}

	heap := cache.RuntimeMemoryLimit(cfg.Cache.FallbackHeapBytes)
	if cfg.Cache.HeapBytes > 0 {
		heap = cache.FixedHeap(cfg.Cache.HeapBytes)
	}

	c, err := cache.New(cache.Options{
		Name: "default",
		Cap: models.CacheCapInfo{
			CapPercent:        cfg.Cache.CapPercent,
			HardCapPercentage: cfg.Cache.HardCapPercentage,
			SoftCapPercentage: cfg.Cache.SoftCapPercentage,
		},
		Heap:         heap,
		DefaultTTL:   cfg.CacheTTL(),
		ReapInterval: cfg.ReapInterval(),
		Logger:       &logger,
	})
	if err != nil {
		return nil, nil, err
	}
	c.Start(ctx)
	budget := c.Budget()
	logger.Info().
		Int64("ceiling_bytes", budget.Ceiling).
		Int64("hard_cap_bytes", budget.Hard).
		Int64("soft_cap_bytes", budget.Soft).
		Msg("Cache started")

	if !cfg.Cluster.Enabled {
		return c, func() { _ = c.Close() }, nil
	}

	bus, err := cluster.New("redis", cluster.ProviderConfig{
		RedisAddress:   cfg.Cluster.RedisAddress,
		RedisPassword:  cfg.Cluster.RedisPassword,
		RedisDB:        cfg.Cluster.RedisDB,
		Channel:        cfg.Cluster.Channel,
		PublishRetries: cfg.Cluster.PublishRetries,
		Logger:         logger,
	})
	if err != nil {
		logger.Warn().Err(err).Str("redis_address", cfg.Cluster.RedisAddress).Msg("Cluster bus unavailable, invalidations stay local")
		if bus, err = cluster.New("noop", cluster.ProviderConfig{Logger: logger}); err != nil {
			_ = c.Close()
			return nil, nil, err
		}
	}

	coordinator := cluster.NewCoordinator(c, bus, logger)
	go func() {
		if err := coordinator.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Cluster subscription stopped")
		}
	}()
	logger.Info().Str("node", coordinator.NodeID()).Msg("Cluster invalidation enabled")

	return coordinator, func() {
		_ = bus.Close()
		_ = c.Close()
	}, nil
}

func shutdownHTTP(shutdown func(context.Context) error, name string, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error().Err(err).Str("server", name).Msg("Failed to shutdown server")
	}
}
