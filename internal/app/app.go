// Package app wires the scripting runtime's infrastructure and runs one of
// its three modes: the admin HTTP API, the worker pool, or the local demo
// seeder.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/scriptrt/internal/audit"
	"github.com/wisbric/scriptrt/internal/config"
	"github.com/wisbric/scriptrt/internal/httpserver"
	"github.com/wisbric/scriptrt/internal/platform"
	"github.com/wisbric/scriptrt/internal/seed"
	"github.com/wisbric/scriptrt/internal/telemetry"
	"github.com/wisbric/scriptrt/internal/transport"
	"github.com/wisbric/scriptrt/pkg/dispatcher"
	"github.com/wisbric/scriptrt/pkg/isolate"
	"github.com/wisbric/scriptrt/pkg/keyexpiry"
	"github.com/wisbric/scriptrt/pkg/master"
	"github.com/wisbric/scriptrt/pkg/providers/chat"
	"github.com/wisbric/scriptrt/pkg/providers/httpfetch"
	"github.com/wisbric/scriptrt/pkg/providers/kvstore"
	"github.com/wisbric/scriptrt/pkg/providers/objectstore"
	"github.com/wisbric/scriptrt/pkg/ratelimit"
	"github.com/wisbric/scriptrt/pkg/template"
	"github.com/wisbric/scriptrt/pkg/tenantstate"
	"github.com/wisbric/scriptrt/pkg/valuetree"
	"github.com/wisbric/scriptrt/pkg/worker"
	"github.com/wisbric/scriptrt/pkg/workerpool"
)

// Run reads config, connects to infrastructure, and starts the mode named
// by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting scriptrt", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb)
	case "seed-demo":
		return seed.RunDemo(ctx, db, logger)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// components are the pieces shared by both the api and worker modes: the
// durable stores, the capability providers mediating host calls, and the
// key-expiry wheel driving kv TTLs.
type components struct {
	cache       *template.Cache
	templateSvc *template.Service
	tenantStore *tenantstate.Store
	kv          *kvstore.CachedStore
	notifier    *chat.Notifier
	wheel       *keyexpiry.Wheel
	providers   []dispatcher.ProviderFactory
}

func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) (*components, error) {
	limits, err := ratelimit.NewRegistryWithMetric(ratelimit.DefaultTaxonomies(), telemetry.RateLimitedTotal)
	if err != nil {
		return nil, fmt.Errorf("building ratelimit registry: %w", err)
	}

	templateStore := template.NewStore(db)
	cache := template.NewCache()
	templateSvc := template.NewService(templateStore, cache, logger)

	tenantStore := tenantstate.NewStore(db)

	kv := kvstore.NewCachedStore(kvstore.NewStore(db), rdb)
	kvProvider := kvstore.NewProvider(kv, limits, kvstore.DefaultMaxValueBytes)

	notifier := chat.NewNotifier(cfg.ChatBotToken, cfg.ChatDefaultChannel, logger)
	chatProvider := chat.NewProvider(notifier, limits)

	httpProvider := httpfetch.NewProvider(httpfetch.NewClient(), limits)

	objBackend := objectstore.NewFileBackend(cfg.ObjectStoreDir)
	objProvider := objectstore.NewProvider(objBackend, limits)

	wheel := keyexpiry.NewWithRedis(kvstore.NewExpiryAdapter(kv.Store), telemetry.KeyExpiryFiredTotal, telemetry.KeyExpiryPending, rdb)
	if err := wheel.Repopulate(); err != nil {
		return nil, fmt.Errorf("repopulating key-expiry wheel: %w", err)
	}

	owners, err := templateStore.ListOwners(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing template owners for cache warm-up: %w", err)
	}
	for _, owner := range owners {
		if err := templateSvc.Sync(ctx, owner); err != nil {
			return nil, fmt.Errorf("syncing templates for %s: %w", owner, err)
		}
	}

	return &components{
		cache:       cache,
		templateSvc: templateSvc,
		tenantStore: tenantStore,
		kv:          kv,
		notifier:    notifier,
		wheel:       wheel,
		providers: []dispatcher.ProviderFactory{
			kvProvider.Register,
			chatProvider.Register,
			httpProvider.Register,
			objProvider.Register,
		},
	}, nil
}

func isolateConfig(cfg *config.Config) isolate.Config {
	return isolate.Config{
		MemoryLimitBytes: cfg.VMMemoryLimitBytes,
		MaxExecutionTime: cfg.VMMaxExecutionTime,
		GiveTime:         cfg.VMGiveTime,
	}
}

func distributionFilter(cfg *config.Config) workerpool.Filter {
	if cfg.DistributionStrategy == "pooled" {
		return workerpool.NewLeastLoadedFilterStrategy()
	}
	return workerpool.ModFilterStrategy{}
}

// runAPI serves the admin HTTP API: template and tenant-state management,
// audit log reads, health/readiness, and Prometheus metrics. It is an
// operator control plane, not the event ingress — events reach templates
// through the worker mode's master, fronted separately by the RPC
// transports in internal/transport when cfg names their listen addresses.
func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	metricsReg := telemetry.NewMetricsRegistry()

	comps, err := buildComponents(ctx, cfg, logger, db, rdb)
	if err != nil {
		return err
	}

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	srv := httpserver.NewServer(logger, db, rdb, metricsReg)
	srv.APIRouter.Mount("/templates", template.NewHandler(comps.templateSvc, logger, auditWriter).Routes())
	srv.APIRouter.Mount("/state", tenantstate.NewHandler(comps.tenantStore, logger, auditWriter).Routes())
	srv.APIRouter.Mount("/audit-log", audit.NewHandler(db, logger).Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	}
}

// runWorker starts the worker pool that owns every tenant's isolates, the
// master that fronts it, and the key-expiry wheel that turns expired kv
// rows into "KeyExpired" events dispatched back through the master.
func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	comps, err := buildComponents(ctx, cfg, logger, db, rdb)
	if err != nil {
		return err
	}

	metrics := &worker.Metrics{
		DispatchTotal:    telemetry.DispatchTotal,
		DispatchDuration: telemetry.DispatchDuration,
		VMBrokenTotal:    telemetry.VMBrokenTotal,
		CapDeniedTotal:   telemetry.CapDeniedTotal,
	}

	pool := workerpool.New(
		cfg.WorkerCount,
		isolateConfig(cfg),
		cfg.DispatchWaitTime,
		comps.cache,
		comps.notifier,
		logger,
		distributionFilter(cfg),
		metrics,
		comps.providers...,
	)

	m := master.New(pool, cfg.DispatchWaitTime, comps.templateSvc)

	fired, ok := comps.wheel.Subscribe()
	if !ok {
		return fmt.Errorf("worker: key-expiry wheel already has a subscriber")
	}

	stop := make(chan struct{})
	go comps.wheel.Run(stop)
	go runExpiryDispatch(ctx, m, fired, logger)

	rpcServers := startRPCServers(ctx, cfg, m, logger)

	go pollVMTelemetry(ctx, pool)

	logger.Info("worker started", "count", cfg.WorkerCount, "strategy", cfg.DistributionStrategy)
	pool.Run(ctx)
	close(stop)
	for _, shutdown := range rpcServers {
		shutdown()
	}
	return nil
}

// startRPCServers starts the WebSocket and/or HTTP/2 RPC front ends named
// by cfg, if their addresses are set, and returns a shutdown function for
// each one that was started.
func startRPCServers(ctx context.Context, cfg *config.Config, m *master.Master, logger *slog.Logger) []func() {
	var shutdowns []func()

	if cfg.RPCWebSocketAddr != "" {
		srv := &http.Server{Addr: cfg.RPCWebSocketAddr, Handler: transport.NewWSServer(m, logger)}
		go func() {
			logger.Info("rpc websocket transport listening", "addr", cfg.RPCWebSocketAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("rpc websocket transport stopped", "error", err)
			}
		}()
		shutdowns = append(shutdowns, func() { shutdownServer(srv) })
	}

	if cfg.RPCHTTP2Addr != "" {
		srv := &http.Server{Addr: cfg.RPCHTTP2Addr, Handler: transport.NewHTTP2Server(m, logger).Handler()}
		go func() {
			logger.Info("rpc http2 transport listening", "addr", cfg.RPCHTTP2Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("rpc http2 transport stopped", "error", err)
			}
		}()
		shutdowns = append(shutdowns, func() { shutdownServer(srv) })
	}

	return shutdowns
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// pollVMTelemetry periodically samples every worker's VM snapshots into the
// used_memory/memory_limit/active_threads gauges (spec §6), until ctx is
// cancelled. Pool.Worker exposes each worker across goroutines for exactly
// this purpose; a snapshot racing with the owning worker's own goroutine
// can only ever read a slightly stale value, never corrupt one, since the
// values sampled are plain ints copied out of isolate.Isolate's own
// mutex-guarded state.
func pollVMTelemetry(ctx context.Context, pool *workerpool.Pool) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i := 0; i < pool.N(); i++ {
				for _, snap := range pool.Worker(i).Snapshot() {
					labels := prometheus.Labels{"tenant": snap.Tenant.String()}
					telemetry.VMUsedMemoryBytes.With(labels).Set(float64(snap.UsedMemoryBytes))
					telemetry.VMMemoryLimitBytes.With(labels).Set(float64(snap.MemoryLimitBytes))
					telemetry.VMActiveThreads.With(labels).Set(float64(snap.SubIsolateCount))
				}
			}
		}
	}
}

// runExpiryDispatch turns each wheel firing into a "KeyExpired" event
// dispatched to the owning tenant, until ctx is cancelled.
func runExpiryDispatch(ctx context.Context, m *master.Master, fired <-chan keyexpiry.Fired, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-fired:
			scopes := make([]valuetree.Value, len(f.Entry.Scopes))
			for i, s := range f.Entry.Scopes {
				scopes[i] = valuetree.Text(s)
			}
			event := dispatcher.Event{
				Name: "KeyExpired",
				Data: valuetree.Map(map[string]valuetree.Value{
					"key":    valuetree.Text(f.Entry.Key),
					"scopes": valuetree.List(scopes),
				}),
			}
			if _, err := m.DispatchEvent(ctx, f.Tenant, event); err != nil {
				logger.Error("dispatching KeyExpired event", "tenant", f.Tenant, "key", f.Entry.Key, "error", err)
			}
		}
	}
}
