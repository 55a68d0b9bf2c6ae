package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/stacklok/content-sync/internal/cache"
	"github.com/stacklok/content-sync/internal/config"
	"github.com/stacklok/content-sync/internal/coordinator"
	"github.com/stacklok/content-sync/internal/fetch"
	"github.com/stacklok/content-sync/internal/fingerprint"
	"github.com/stacklok/content-sync/internal/mapping"
	"github.com/stacklok/content-sync/internal/orchestrator"
	"github.com/stacklok/content-sync/internal/queue"
	"github.com/stacklok/content-sync/internal/remote"
	"github.com/stacklok/content-sync/internal/service"
	"github.com/stacklok/content-sync/internal/status"
	"github.com/stacklok/content-sync/internal/telemetry"
)

// engine bundles the wired sync components shared by the serve and sync
// commands
type engine struct {
	cache       *cache.Cache
	queue       *queue.Queue
	coordinator coordinator.Coordinator
	service     service.SyncService
}

// buildEngine wires the full sync stack from configuration. The meter
// provider may be nil, in which case all metrics are no-ops.
func buildEngine(
	cfg *config.Config, meterProvider metric.MeterProvider, syncOpts orchestrator.Options,
) (*engine, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	token, err := cfg.Remote.GetToken()
	if err != nil {
		return nil, err
	}

	clientOpts := []remote.ClientOption{remote.WithToken(token)}
	timeout, err := cfg.Remote.GetTimeout()
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		clientOpts = append(clientOpts, remote.WithTimeout(timeout))
	}
	client := remote.NewHTTPClient(cfg.Remote.Endpoint, clientOpts...)

	l2, err := cache.NewFileStore(filepath.Join(dataDir, "cache"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cache store: %w", err)
	}
	var cacheOpts []cache.Option
	if cfg.Cache != nil && cfg.Cache.L1Capacity > 0 {
		cacheOpts = append(cacheOpts, cache.WithL1Capacity(cfg.Cache.L1Capacity))
	}
	tieredCache := cache.New(l2, cacheOpts...)

	fingerprintStore, err := fingerprint.NewFileStore(filepath.Join(dataDir, "fingerprints"))
	if err != nil {
		return nil, fmt.Errorf("failed to create fingerprint store: %w", err)
	}
	tracker := fingerprint.NewTracker(fingerprintStore)

	recordMapping, err := mapping.NewFileMapping(filepath.Join(dataDir, "mappings.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to load record mapping: %w", err)
	}

	fetcher := fetch.New()
	orch := orchestrator.New(client, tieredCache, tracker, fetcher, recordMapping)

	workQueue, err := queue.New(filepath.Join(dataDir, "queue"))
	if err != nil {
		return nil, fmt.Errorf("failed to create work queue: %w", err)
	}

	statusPersistence := status.NewFileStatusPersistence(filepath.Join(dataDir, "status"))
	stateSvc := coordinator.NewFileStateService(statusPersistence)

	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}
	cacheMetrics, err := telemetry.NewCacheMetrics(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache metrics: %w", err)
	}
	queueMetrics, err := telemetry.NewQueueMetrics(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue metrics: %w", err)
	}

	coord := coordinator.New(orch, stateSvc, cfg,
		coordinator.WithSyncMetrics(syncMetrics),
		coordinator.WithCacheMetrics(cacheMetrics, tieredCache),
		coordinator.WithRetryQueue(workQueue, queueMetrics),
		coordinator.WithSyncOptions(syncOpts),
	)

	return &engine{
		cache:       tieredCache,
		queue:       workQueue,
		coordinator: coord,
		service:     service.New(coord, tieredCache, workQueue),
	}, nil
}

// syncOptionsFromConfig translates the fetch tuning section into per-run
// orchestrator options
func syncOptionsFromConfig(fetchCfg *config.FetchConfig) (orchestrator.Options, error) {
	opts := orchestrator.Options{}
	if fetchCfg == nil {
		return opts, nil
	}

	opts.MaxConcurrency = fetchCfg.MaxConcurrency
	opts.MaxRetries = fetchCfg.MaxRetries
	if fetchCfg.BaseDelay != "" {
		delay, err := time.ParseDuration(fetchCfg.BaseDelay)
		if err != nil {
			return opts, fmt.Errorf("invalid fetch.baseDelay: %w", err)
		}
		opts.BaseDelay = delay
	}
	return opts, nil
}

// loadConfigFromFlag loads and validates the configuration named by the
// required --config flag value
func loadConfigFromFlag(configPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
