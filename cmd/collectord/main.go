// Command collectord runs the adaptive collection service: the HTTP API,
// the per-source state machine, proxy pool and admission pipeline.
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

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/admission"
	"github.com/sharkted/collector/internal/api"
	"github.com/sharkted/collector/internal/archive"
	"github.com/sharkted/collector/internal/collect"
	collycollector "github.com/sharkted/collector/internal/collector/colly"
	"github.com/sharkted/collector/internal/config"
	"github.com/sharkted/collector/internal/events"
	"github.com/sharkted/collector/internal/events/sinks"
	"github.com/sharkted/collector/internal/logging"
	"github.com/sharkted/collector/internal/orchestrator"
	"github.com/sharkted/collector/internal/policy"
	"github.com/sharkted/collector/internal/proxypool"
	"github.com/sharkted/collector/internal/ratelimit"
	"github.com/sharkted/collector/internal/state"
	"github.com/sharkted/collector/internal/storage/memory"
	"github.com/sharkted/collector/internal/storage/postgres"
	"github.com/sharkted/collector/internal/tracker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New("collectord", cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := newStateStore(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	promReg := prometheus.NewRegistry()
	hub, err := newEventHub(ctx, cfg.PubSub, promReg, logger)
	if err != nil {
		return err
	}

	clock := collect.SystemClock{}
	registry := policy.NewRegistry(cfg.SourcePolicies(), logger)
	track := tracker.New(store, registry, hub, clock, logger)
	limiter := ratelimit.New(store, clock, logger)

	pool := proxypool.New(store, clock, hub, logger,
		proxypool.WithReuseInterval(time.Duration(cfg.Collector.ProxyReuseMillis)*time.Millisecond))
	if err := pool.LoadCatalog(ctx, cfg.ProxyCatalog()); err != nil {
		return fmt.Errorf("load proxy catalog: %w", err)
	}
	for _, spc := range cfg.SourceProxyConfigs() {
		if err := pool.EnsureSource(ctx, spc); err != nil {
			return fmt.Errorf("seed proxy config for %s: %w", spc.Source, err)
		}
	}

	var itemRepo collect.ItemRepository = memory.NewItemStore()
	var snapshots *postgres.SnapshotStore
	if cfg.DB.DSN != "" {
		pgPool, err := postgres.NewPool(ctx, cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pgPool.Close()
		itemRepo = postgres.NewItemStore(pgPool)
		snapshots = postgres.NewSnapshotStore(pgPool)
	} else {
		logger.Warn("no db.dsn configured, items are kept in-process only")
	}

	var archiver orchestrator.Archiver = archive.Noop{}
	if cfg.Archive.GCSBucket != "" {
		gcsClient, err := gcs.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		defer func() { _ = gcsClient.Close() }()
		archiver, err = archive.NewGCS(gcsClient, cfg.Archive.GCSBucket, logger)
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
	}

	warmup := collycollector.NewWarmupSession(registry, clock, logger)
	fetcher := collycollector.New(collycollector.Config{
		UserAgent:    cfg.Collector.UserAgent,
		Timeout:      time.Duration(cfg.Collector.TimeoutSeconds) * time.Second,
		SlowDelayMin: time.Duration(cfg.Collector.SlowDelayMinSec) * time.Second,
		SlowDelayMax: time.Duration(cfg.Collector.SlowDelayMaxSec) * time.Second,
	}, collycollector.JSONLDExtractor{}, warmup, logger)

	orch := orchestrator.New(orchestrator.Config{
		Policies:  registry,
		Tracker:   track,
		Pool:      pool,
		Limiter:   limiter,
		Collector: fetcher,
		Scorer:    admission.CompletenessScorer{},
		Gate:      admission.NewGate(cfg.Admission.Threshold, itemRepo, hub, logger),
		Archiver:  archiver,
		Logger:    logger,
	})

	srv := api.NewServer(registry, track, pool, orch, promReg,
		api.Config{AuthEnabled: cfg.Auth.Enabled, APIKey: cfg.Auth.APIKey}, logger)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go mirrorSnapshots(ctx, track, snapshots, time.Duration(cfg.DB.SnapshotInterval)*time.Second, logger)
	go resetRollingStats(ctx, track, logger)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("event hub close failed", zap.Error(err))
	}
	logger.Info("collectord stopped")
	return nil
}

// newStateStore picks Redis when configured, otherwise the in-process
// store. The returned cleanup closes the Redis connection.
func newStateStore(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (state.Store, func(), error) {
	if cfg.Addr == "" {
		logger.Warn("no redis.addr configured, using in-process state store")
		return state.NewMemoryStore(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	logger.Info("using redis state store", zap.String("addr", cfg.Addr))
	return state.NewRedisStore(client), func() { _ = client.Close() }, nil
}

// newEventHub wires the always-on log and prometheus sinks, plus Pub/Sub
// when a topic is configured.
func newEventHub(ctx context.Context, cfg config.PubSubConfig, reg prometheus.Registerer, logger *zap.Logger) (*events.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("register event metrics: %w", err)
	}
	sinkList := []events.Sink{sinks.NewLogSink(logger), promSink}
	if cfg.ProjectID != "" && cfg.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		sinkList = append(sinkList, sinks.NewPubSubSink(client.Topic(cfg.TopicName)))
		logger.Info("publishing escalation events",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.TopicName))
	}
	return events.NewHub(events.HubConfig{Logger: logger}, sinkList...), nil
}

// mirrorSnapshots periodically copies source metrics into Postgres so
// dashboards survive a Redis flush.
func mirrorSnapshots(ctx context.Context, track *tracker.Tracker, snapshots *postgres.SnapshotStore, interval time.Duration, logger *zap.Logger) {
	if snapshots == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics, err := track.AllMetrics(ctx)
			if err != nil {
				logger.Warn("snapshot read failed", zap.Error(err))
				continue
			}
			for _, m := range metrics {
				if err := snapshots.UpsertSnapshot(ctx, m); err != nil {
					logger.Warn("snapshot write failed",
						zap.String("source", m.Source), zap.Error(err))
				}
			}
		}
	}
}

// resetRollingStats zeroes the 24h counters once a day.
func resetRollingStats(ctx context.Context, track *tracker.Tracker, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := track.ResetRollingStats(ctx); err != nil {
				logger.Warn("rolling stats reset failed", zap.Error(err))
			}
		}
	}
}
