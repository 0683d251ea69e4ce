package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/cueflow/config"
	"github.com/BaSui01/cueflow/coordinator"
	"github.com/BaSui01/cueflow/files"
	"github.com/BaSui01/cueflow/internal/database"
	"github.com/BaSui01/cueflow/internal/metrics"
	"github.com/BaSui01/cueflow/internal/telemetry"
	"github.com/BaSui01/cueflow/mcp"
	"github.com/BaSui01/cueflow/store"
)

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting cueflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("backend", cfg.Store.Backend),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = otelProviders.Shutdown(ctx)
	}()

	collector := metrics.NewCollector("cueflow", nil, logger)

	handle, err := openStore(cfg, collector, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer handle.Close()

	dir, err := files.NewDir(cfg.Files.Dir, logger)
	if err != nil {
		logger.Fatal("failed to open files directory", zap.Error(err))
	}
	dir.SetMetrics(collector)

	coord := coordinator.New(handle.Store, coordinator.Config{
		PollInterval: cfg.Coordinator.PollInterval,
		Metrics:      collector,
		Tracer:       otel.Tracer("cueflow/coordinator"),
	}, logger)

	toolset := mcp.NewToolset(coord, handle.Store, dir, mcp.ToolsConfig{
		DefaultTimeout: cfg.Coordinator.DefaultTimeout,
	}, logger)

	srv := mcp.NewServer(cfg.Server.Name, Version, logger)
	toolset.Register(srv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// stdin/stdout carry the protocol; the loop ends on EOF or signal.
	transport := mcp.NewStdioTransport(os.Stdin, os.Stdout, logger)
	g.Go(func() error {
		return srv.Serve(gctx, transport)
	})

	if cfg.Server.MetricsPort > 0 {
		metricsSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler: metricsHandler(handle),
		}
		g.Go(func() error {
			logger.Info("metrics server listening", zap.String("addr", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("cueflow stopped")
}

// metricsHandler serves the Prometheus endpoint plus a liveness probe
// that pings the store.
func metricsHandler(handle *storeHandle) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if handle.Pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := handle.Pool.Ping(ctx); err != nil {
				http.Error(w, "store unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// storeHandle bundles the store with its pool supervisor so shutdown
// happens in the right order.
type storeHandle struct {
	Store store.Store
	Pool  *database.PoolManager
}

func (h *storeHandle) Close() error {
	if h.Pool != nil {
		_ = h.Pool.Close()
	}
	return h.Store.Close()
}

// openStore builds the configured backend. SQL backends additionally
// get a pool supervisor that feeds connection gauges to the collector.
func openStore(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) (*storeHandle, error) {
	switch cfg.Store.Backend {
	case "sqlite", "postgres", "mysql", "":
		driver := cfg.Database.Driver
		if driver == "" {
			driver = cfg.Store.Backend
		}
		s, err := store.OpenSQL(store.SQLConfig{
			Driver:          driver,
			DSN:             cfg.Database.DSN(),
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, err
		}

		poolCfg := database.DefaultPoolConfig()
		if cfg.Database.MaxOpenConns > 0 {
			poolCfg.MaxOpenConns = cfg.Database.MaxOpenConns
		}
		if cfg.Database.MaxIdleConns > 0 {
			poolCfg.MaxIdleConns = cfg.Database.MaxIdleConns
		}
		if cfg.Database.ConnMaxLifetime > 0 {
			poolCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
		}
		pool, err := database.NewPoolManager(s.DB(), driver, poolCfg, collector, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		return &storeHandle{Store: s, Pool: pool}, nil

	case "redis":
		s, err := store.NewRedisStore(store.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &storeHandle{Store: s}, nil

	case "memory":
		return &storeHandle{Store: store.NewMemoryStore()}, nil

	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}
