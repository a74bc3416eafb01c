// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"
	"go.opentelemetry.io/otel/trace"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/access/api"
	"github.com/acsio/acs/access/cache"
	"github.com/acsio/acs/access/events"
	"github.com/acsio/acs/access/middleware"
	accesspg "github.com/acsio/acs/access/postgres"
	"github.com/acsio/acs/access/tracing"
	auditpg "github.com/acsio/acs/audit/postgres"
	"github.com/acsio/acs/entities"
	redisclient "github.com/acsio/acs/internal/clients/redis"
	"github.com/acsio/acs/pkg/errors"
	pgclient "github.com/acsio/acs/pkg/postgres"
	"github.com/acsio/acs/pkg/ulid"
)

const stopWaitTime = 5 * time.Second

// WorkerConfig carries everything one tenant engine needs. The DB config the
// worker receives is already scoped to the tenant database, so two workers
// can never share tables.
type WorkerConfig struct {
	TenantID       string
	DB             pgclient.Config
	CacheURL       string
	CacheEntityTTL time.Duration
	CachePermsTTL  time.Duration
	EventsURL      string
	Buffer         access.BufferConfig
	Warmup         bool
}

// Worker is the in-process engine of one tenant: the graph, the repository,
// the command buffer and the service stacked with its middleware, exposed
// through an HTTP handler.
type Worker struct {
	tenantID string
	logger   *slog.Logger
	warmup   bool

	db      *sqlx.DB
	graph   *entities.Graph
	repo    access.Repository
	cache   access.Cache
	buffer  *access.Buffer
	svc     access.Service
	handler http.Handler

	entityGauge    metrics.Gauge
	memoryGauge    metrics.Gauge
	enqueuedGauge  metrics.Gauge
	completedGauge metrics.Gauge
	failedGauge    metrics.Gauge
	cacheHitGauge  metrics.Gauge
	cacheMissGauge metrics.Gauge

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker assembles a tenant engine. The database is migrated on connect;
// consumption does not start until Start is called.
func NewWorker(ctx context.Context, cfg WorkerConfig, logger *slog.Logger, tracer trace.Tracer, col *collectors) (*Worker, error) {
	migrations := migrate.MemoryMigrationSource{
		Migrations: append(accesspg.Migration().Migrations, auditpg.Migration().Migrations...),
	}
	db, err := pgclient.Setup(cfg.DB, migrations)
	if err != nil {
		return nil, errors.Wrap(errFailedToSetupDB, err)
	}

	database := pgclient.NewDatabase(db, cfg.DB, tracer, col.dbLatency.With("tenant", cfg.TenantID))
	repo := accesspg.NewRepository(database)
	auditRepo := auditpg.NewRepository(database)

	graph := entities.NewGraph()
	buffer := access.NewBuffer(cfg.Buffer)
	buffer.Watch(
		col.queueDepth.With("tenant", cfg.TenantID),
		col.backpressure.With("tenant", cfg.TenantID),
	)

	var c access.Cache
	switch cfg.CacheURL {
	case "":
		c = cache.NewNop()
	default:
		client, err := redisclient.Connect(cfg.CacheURL)
		if err != nil {
			db.Close()
			return nil, errors.Wrap(errFailedToConnectCache, err)
		}
		c = cache.NewCache(client, cfg.TenantID, cfg.CacheEntityTTL, cfg.CachePermsTTL)
	}

	svc := access.New(graph, repo, auditRepo, c, buffer, ulid.New())
	if cfg.EventsURL != "" {
		svc, err = events.NewEventStoreMiddleware(ctx, svc, cfg.EventsURL)
		if err != nil {
			db.Close()
			return nil, errors.Wrap(errFailedToConnectES, err)
		}
	}
	svc = tracing.New(svc, tracer)
	svc = middleware.LoggingMiddleware(svc, logger.With(slog.String("tenant", cfg.TenantID)))
	counter, latency := col.serviceMetrics(cfg.TenantID)
	svc = middleware.MetricsMiddleware(svc, counter, latency)

	handler := instrumentHandler(
		api.MakeHandler(svc, logger),
		col.activeRequests.With("tenant", cfg.TenantID),
		col.requestErrors.With("tenant", cfg.TenantID),
	)

	return &Worker{
		tenantID:       cfg.TenantID,
		logger:         logger,
		warmup:         cfg.Warmup,
		db:             db,
		graph:          graph,
		repo:           repo,
		cache:          c,
		buffer:         buffer,
		svc:            svc,
		handler:        handler,
		entityGauge:    col.entityCount.With("tenant", cfg.TenantID),
		memoryGauge:    col.memoryBytes.With("tenant", cfg.TenantID),
		enqueuedGauge:  col.bufferEnqueued.With("tenant", cfg.TenantID),
		completedGauge: col.bufferCompleted.With("tenant", cfg.TenantID),
		failedGauge:    col.bufferFailed.With("tenant", cfg.TenantID),
		cacheHitGauge:  col.cacheHits.With("tenant", cfg.TenantID),
		cacheMissGauge: col.cacheMisses.With("tenant", cfg.TenantID),
	}, nil
}

// instrumentHandler tracks in-flight requests and counts error responses.
func instrumentHandler(next http.Handler, active metrics.Gauge, errs metrics.Counter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		active.Add(1)
		defer active.Add(-1)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		if sw.status >= http.StatusBadRequest {
			errs.Add(1)
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// TenantID returns the tenant this worker serves.
func (w *Worker) TenantID() string {
	return w.tenantID
}

// Handler returns the tenant HTTP handler.
func (w *Worker) Handler() http.Handler {
	return w.handler
}

// Service returns the decorated tenant service.
func (w *Worker) Service() access.Service {
	return w.svc
}

// Start hydrates the graph from the tenant snapshot and starts the single
// buffer consumer. It returns once the snapshot is loaded; consumption keeps
// running until Stop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return errWorkerStarted
	}

	snapshot, err := w.repo.LoadSnapshot(ctx)
	if err != nil {
		return errors.Wrap(errFailedToLoadSnapshot, err)
	}
	stats, err := w.graph.Load(snapshot)
	if err != nil {
		return errors.Wrap(errFailedToLoadSnapshot, err)
	}
	w.logger.Info("tenant graph loaded",
		slog.String("tenant", w.tenantID),
		slog.Int("entities", stats.Entities),
		slog.Int("edges", stats.Edges),
		slog.Int("permissions", stats.Permissions),
		slog.Duration("duration", stats.Duration),
	)

	if w.warmup {
		if err := cache.Warmup(ctx, w.cache, w.graph); err != nil {
			w.logger.Warn("cache warmup failed", slog.String("tenant", w.tenantID), slog.Any("error", err))
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.buffer.Run(runCtx); err != nil && !errors.Contains(err, context.Canceled) {
			w.logger.Error("tenant consumer stopped", slog.String("tenant", w.tenantID), slog.Any("error", err))
		}
	}()

	w.started = true
	w.cancel = cancel
	w.done = done

	return nil
}

// Healthy pings the tenant database and checks that the buffer intake and
// its consumer are still alive. It also refreshes the graph, buffer and
// cache gauges, since the supervisor calls it on every liveness tick.
func (w *Worker) Healthy(ctx context.Context) error {
	if err := w.db.PingContext(ctx); err != nil {
		return errors.Wrap(errUnhealthyDB, err)
	}
	if !w.buffer.Alive() {
		return errUnhealthyBuffer
	}

	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		select {
		case <-done:
			return errUnhealthyBuffer
		default:
		}
	}

	stats := w.graph.Stats()
	w.entityGauge.Set(float64(stats.Users + stats.Groups + stats.Roles))
	w.memoryGauge.Set(float64(stats.MemoryBytes))

	bs := w.buffer.Stats()
	w.enqueuedGauge.Set(float64(bs.Enqueued))
	w.completedGauge.Set(float64(bs.Completed))
	w.failedGauge.Set(float64(bs.Failed))

	cs := w.cache.Stats()
	w.cacheHitGauge.Set(float64(cs.Hits))
	w.cacheMissGauge.Set(float64(cs.Misses))

	return nil
}

// Stop closes the buffer intake, waits for the consumer to drain and
// releases the database pool. It is safe to call more than once.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return w.db.Close()
	}
	w.started = false
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	w.buffer.Stop()
	cancel()
	select {
	case <-done:
	case <-time.After(stopWaitTime):
		w.logger.Warn("tenant consumer did not drain in time", slog.String("tenant", w.tenantID))
	}

	return w.db.Close()
}
