// Command ingestd runs the session payload ingest endpoint and the backfill
// orchestrator in a single process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/analytics-ingest/internal/api"
	"github.com/user/analytics-ingest/internal/backfill"
	"github.com/user/analytics-ingest/internal/config"
	"github.com/user/analytics-ingest/internal/ingest"
	"github.com/user/analytics-ingest/internal/logging"
	"github.com/user/analytics-ingest/internal/observability"
	"github.com/user/analytics-ingest/internal/store"
	"github.com/user/analytics-ingest/internal/workspace"
	"github.com/user/analytics-ingest/pkg/buffer"
	"github.com/user/analytics-ingest/pkg/filter"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML configuration file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := logging.New(*logLevel)

	cfg := config.Default()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Critical("ingestd: failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName: "analytics-ingestd",
		Endpoint:    cfg.Observability.OTLPEndpoint,
		SampleRatio: cfg.Observability.TraceSampleRatio,
	})
	if err != nil {
		logger.Critical("ingestd: failed to set up tracing", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(ctx, store.Config{
		Addr:              cfg.Store.Addr,
		SystemDatabase:    cfg.Store.SystemDatabase,
		WorkspaceDBPrefix: cfg.Store.WorkspaceDBPrefix,
		Username:          cfg.Store.Username,
		Password:          cfg.Store.Password,
	})
	if err != nil {
		logger.Critical("ingestd: failed to connect to clickhouse", "error", err)
		os.Exit(1)
	}

	var broadcaster workspace.Broadcaster
	if cfg.Workspace.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Workspace.RedisAddr})
		broadcaster = workspace.NewRedisBroadcaster(rdb, cfg.Workspace.RedisPrefix+"filters.changed")
	} else {
		broadcaster = workspace.NewLocalBroadcaster()
	}

	// Workspace/membership CRUD lives in its owning service; this loader is
	// the integration seam a real deployment replaces with a call into that
	// service.
	wsCache := workspace.NewCache(workspace.LoaderFunc(func(ctx context.Context, workspaceID string) (workspace.Workspace, error) {
		return workspace.Workspace{}, workspace.ErrNotFound
	})).WithTTL(cfg.Workspace.CacheTTL)

	invalidations, unsubscribe := broadcaster.Subscribe()
	defer unsubscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-invalidations:
				wsCache.Invalidate(ev.WorkspaceID)
			}
		}
	}()

	buf := buffer.New(st, buffer.WithLogger(logger), buffer.WithLimits(cfg.Buffer.MaxSize, cfg.Buffer.FlushInterval))

	ingestHandler := ingest.New(wsCache, buf, ingest.WithLogger(logger))

	workspaceFilters := workspaceFiltersFunc(func(ctx context.Context, workspaceID string) ([]filter.Definition, error) {
		ws, err := wsCache.Get(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		return ws.Settings.Filters, nil
	})

	backfillService := backfill.NewService(st, workspaceFilters, backfill.WithLogger(logger))
	go backfillService.RunStaleRecovery(ctx, time.Duration(cfg.Backfill.StaleThresholdMinutes)*time.Minute)

	server := api.NewServer(ingestHandler, backfillService, logger, []byte(os.Getenv("INGESTD_JWT_SECRET")))
	httpServer := &http.Server{Addr: cfg.Ingest.ListenAddr, Handler: server}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("ingestd: received signal, shutting down gracefully", "signal", sig.String())
		cancel()
	}()

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Critical("ingestd: http server failed", "error", err)
		}
	}()

	logger.Info("ingestd: listening", "addr", cfg.Ingest.ListenAddr)
	<-ctx.Done()

	fmt.Println("ingestd: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	_ = buf.Shutdown(shutdownCtx)
	backfillService.Shutdown(shutdownCtx, 20*time.Second)
	_ = shutdownTracing(shutdownCtx)
	_ = st.Close()

	fmt.Println("ingestd: shutdown complete")
}

type workspaceFiltersFunc func(ctx context.Context, workspaceID string) ([]filter.Definition, error)

func (f workspaceFiltersFunc) Filters(ctx context.Context, workspaceID string) ([]filter.Definition, error) {
	return f(ctx, workspaceID)
}
