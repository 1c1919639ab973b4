package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/httpapi"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/httpfetch"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/lognotifier"
	memcachestore "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/memory/cachestore"
	memclients "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/memory/clients"
	postgres "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/postgres"
	pgcachestore "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/postgres/cachestore"
	sqlitecachestore "github.com/Overland-East-Bay/trip-planner-offline/internal/adapters/sqlite/cachestore"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/dedupe"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/eviction"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/interceptor"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/lifecycle"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/messages"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/push"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/routing"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/app/strategies"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/domain"
	platformclock "github.com/Overland-East-Bay/trip-planner-offline/internal/platform/clock"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/platform/config"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/platform/logging"
	platformotel "github.com/Overland-East-Bay/trip-planner-offline/internal/platform/otel"
	"github.com/Overland-East-Bay/trip-planner-offline/internal/ports/out/cachestore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger, err := logging.New("offlined", cfg.LogLevel, os.Stderr)
	if err != nil {
		log.Fatalf("invalid log level: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := platformotel.Setup(ctx, "offlined", cfg.OTELEndpoint)
	if err != nil {
		logger.Fatalf("tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	origin, err := cfg.Origin()
	if err != nil {
		logger.Fatalf("%v", err)
	}
	offlineDoc, err := origin.Parse(cfg.OfflineDocument)
	if err != nil {
		logger.Fatalf("invalid OFFLINE_DOCUMENT: %v", err)
	}

	var (
		storage cachestore.Storage
		cleanup func()
	)
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{})
		if err != nil {
			logger.Fatalf("invalid postgres config: %v", err)
		}
		cleanup = pool.Close
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatalf("migrate: %v", err)
		}
		storage = pgcachestore.NewStorage(pool)
	case config.BackendSQLite:
		s, err := sqlitecachestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatalf("open sqlite: %v", err)
		}
		cleanup = func() { _ = s.Close() }
		storage = s
	default:
		storage = memcachestore.NewStorage()
	}
	if cleanup != nil {
		defer cleanup()
	}

	names := domain.StoreNames{Prefix: cfg.CachePrefix, Version: domain.Version(cfg.CacheVersion)}
	registry := memclients.NewRegistry(platformclock.NewSystemClock())
	upstream := httpfetch.New(httpfetch.Options{Origin: origin, MaxBodyBytes: cfg.MaxBodyBytes})

	set := strategies.New(strategies.Options{
		Storage:         storage,
		Fetcher:         upstream,
		Dedupe:          dedupe.New(cfg.DedupTimeout),
		Evictor:         eviction.New(cfg.TileCap, cfg.TileMargin, logger),
		Names:           names,
		OfflineDocument: offlineDoc,
		Logger:          logger,
	})
	life := lifecycle.New(lifecycle.Options{
		Storage:  storage,
		Fetcher:  upstream,
		Registry: registry,
		Names:    names,
		Origin:   origin,
		Manifest: cfg.Manifest(),
		Logger:   logger,
	})

	if err := life.Start(ctx); err != nil {
		logger.Errorf("lifecycle %s: %v; serving from existing stores", names.Version, err)
	}

	handler := httpapi.NewHandler(httpapi.Options{
		Interceptor:  interceptor.NewService(routing.NewClassifier(routing.DefaultRules()), set, upstream),
		Messages:     messages.NewRouter(life, set, cfg.PrefetchConcurrency, logger),
		Push:         push.NewDispatcher(lognotifier.New(logger, registry), registry, logger),
		Storage:      storage,
		Names:        names,
		Registry:     registry,
		Events:       registry,
		Lifecycle:    life,
		Logger:       logger,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewRouter(handler, httpapi.RouterOptions{AccessLog: logger}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("offlined %s listening on %s (origin %s, %s storage)", names.Version, cfg.ListenAddr, origin, cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	set.Wait()
}
