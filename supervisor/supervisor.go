// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package supervisor runs one isolated engine per tenant and keeps it
// alive. Each worker gets its own database, graph and command buffer;
// a liveness loop restarts crashed workers with exponential backoff.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/kit/metrics"
	"go.opentelemetry.io/otel/trace"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/pkg/errors"
	pgclient "github.com/acsio/acs/pkg/postgres"
	"github.com/acsio/acs/pkg/prometheus"
)

const (
	defHealthPeriod   = 30 * time.Second
	healthTimeout     = 5 * time.Second
	restartMaxElapsed = 2 * time.Minute
)

var (
	// ErrTenantRunning indicates a start request for an already running tenant.
	ErrTenantRunning = errors.New("tenant already started")
	// ErrTenantUnknown indicates a request for a tenant with no running worker.
	ErrTenantUnknown = errors.New("tenant not found")
	// ErrInvalidTenantID indicates a tenant identifier unfit for isolation.
	ErrInvalidTenantID = errors.New("invalid tenant identifier")

	errWorkerStarted        = errors.New("worker already started")
	errFailedToSetupDB      = errors.New("failed to setup tenant database")
	errFailedToConnectCache = errors.New("failed to connect to cache")
	errFailedToConnectES    = errors.New("failed to connect to event store")
	errFailedToLoadSnapshot = errors.New("failed to load tenant snapshot")
	errUnhealthyDB          = errors.New("tenant database unreachable")
	errUnhealthyBuffer      = errors.New("tenant consumer stopped")

	tenantIDRegexp = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,62}$`)
)

// Config tunes the supervisor and the concerns shared by all workers.
// Database and buffer configuration are loaded separately under their own
// prefixes and passed to New.
type Config struct {
	Tenants        []string      `env:"TENANTS"          envDefault:""`
	CacheURL       string        `env:"CACHE_URL"        envDefault:""`
	CacheEntityTTL time.Duration `env:"CACHE_ENTITY_TTL" envDefault:"5m"`
	CachePermsTTL  time.Duration `env:"CACHE_PERMS_TTL"  envDefault:"2m"`
	CacheWarmup    bool          `env:"CACHE_WARMUP"     envDefault:"false"`
	EventsURL      string        `env:"ES_URL"           envDefault:""`
	HealthPeriod   time.Duration `env:"HEALTH_PERIOD"    envDefault:"30s"`
}

// collectors holds the Prometheus collectors shared by every worker. They
// are registered once and carry a tenant label, so restarting a tenant
// reuses the same series instead of re-registering them.
type collectors struct {
	queueDepth   metrics.Gauge
	backpressure metrics.Gauge
	entityCount  metrics.Gauge
	memoryBytes  metrics.Gauge
	dbLatency    metrics.Histogram

	// Cumulative buffer and cache counters. The sources count atomically
	// in-process, so the workers mirror the running totals into gauges on
	// every liveness tick.
	bufferEnqueued  metrics.Gauge
	bufferCompleted metrics.Gauge
	bufferFailed    metrics.Gauge
	cacheHits       metrics.Gauge
	cacheMisses     metrics.Gauge

	activeRequests metrics.Gauge
	requestErrors  metrics.Counter

	mu  sync.Mutex
	svc map[string]svcMetrics
}

type svcMetrics struct {
	counter metrics.Counter
	latency metrics.Histogram
}

func newCollectors() *collectors {
	return &collectors{
		queueDepth:   prometheus.NewGauge("buffer", "queue_depth", "Number of commands waiting in the buffer.", "tenant"),
		backpressure: prometheus.NewGauge("buffer", "backpressure", "Backpressure latch state, 1 when set.", "tenant"),
		entityCount:  prometheus.NewGauge("graph", "entity_count", "Number of entities loaded in the graph.", "tenant"),
		memoryBytes:  prometheus.NewGauge("graph", "memory_bytes", "Estimated graph memory footprint in bytes.", "tenant"),
		dbLatency:    prometheus.NewHistogram("db", "query_duration_ms", "Database query latency in milliseconds.", "tenant", "operation"),

		bufferEnqueued:  prometheus.NewGauge("buffer", "enqueued_total", "Commands accepted by the buffer since start.", "tenant"),
		bufferCompleted: prometheus.NewGauge("buffer", "completed_total", "Commands completed by the consumer since start.", "tenant"),
		bufferFailed:    prometheus.NewGauge("buffer", "failed_total", "Commands failed since start.", "tenant"),
		cacheHits:       prometheus.NewGauge("cache", "hits_total", "Cache hits since start.", "tenant"),
		cacheMisses:     prometheus.NewGauge("cache", "misses_total", "Cache misses since start.", "tenant"),

		activeRequests: prometheus.NewGauge("api", "active_requests", "HTTP requests currently in flight.", "tenant"),
		requestErrors:  prometheus.NewCounter("api", "request_errors", "HTTP requests answered with an error status.", "tenant"),

		svc: make(map[string]svcMetrics),
	}
}

// serviceMetrics returns the per-method request counter and latency summary
// of a tenant, creating them on first use and reusing them across restarts.
func (c *collectors) serviceMetrics(tenantID string) (metrics.Counter, metrics.Histogram) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.svc[tenantID]
	if !ok {
		counter, latency := prometheus.MakeMetrics("access", tenantID)
		m = svcMetrics{counter: counter, latency: latency}
		c.svc[tenantID] = m
	}
	return m.counter, m.latency
}

// WorkerInfo describes one running tenant worker.
type WorkerInfo struct {
	TenantID        string    `json:"tenant_id"`
	StartedAt       time.Time `json:"started_at"`
	Healthy         bool      `json:"healthy"`
	LastHealthCheck time.Time `json:"last_health_check,omitempty"`
	Restarts        uint64    `json:"restarts"`
}

type managedWorker struct {
	worker    *Worker
	startedAt time.Time
	healthy   bool
	lastCheck time.Time
	restarts  uint64
	cancel    context.CancelFunc
}

// Supervisor owns the tenant workers and their liveness loops.
type Supervisor struct {
	cfg    Config
	db     pgclient.Config
	buffer access.BufferConfig
	logger *slog.Logger
	tracer trace.Tracer
	col    *collectors

	mu      sync.Mutex
	workers map[string]*managedWorker
}

// New returns a supervisor. The database config is the template every tenant
// database is derived from; Name is used as the database name prefix.
func New(cfg Config, db pgclient.Config, buffer access.BufferConfig, logger *slog.Logger, tracer trace.Tracer) *Supervisor {
	if cfg.HealthPeriod <= 0 {
		cfg.HealthPeriod = defHealthPeriod
	}
	return &Supervisor{
		cfg:     cfg,
		db:      db,
		buffer:  buffer,
		logger:  logger,
		tracer:  tracer,
		col:     newCollectors(),
		workers: make(map[string]*managedWorker),
	}
}

// StartTenant assembles and starts the worker of a tenant and begins
// supervising it. Starting a running tenant fails with ErrTenantRunning.
func (s *Supervisor) StartTenant(ctx context.Context, tenantID string) error {
	if !tenantIDRegexp.MatchString(tenantID) {
		return ErrInvalidTenantID
	}

	s.mu.Lock()
	if _, ok := s.workers[tenantID]; ok {
		s.mu.Unlock()
		return ErrTenantRunning
	}
	// Reserve the slot so concurrent starts of the same tenant collide here
	// instead of racing on the database.
	s.workers[tenantID] = nil
	s.mu.Unlock()

	w, err := s.newWorker(ctx, tenantID)
	if err == nil {
		err = w.Start(ctx)
		if err != nil {
			if stopErr := w.Stop(); stopErr != nil {
				s.logger.Warn("failed to stop tenant worker", slog.String("tenant", tenantID), slog.Any("error", stopErr))
			}
		}
	}
	if err != nil {
		s.mu.Lock()
		delete(s.workers, tenantID)
		s.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.workers[tenantID] = &managedWorker{
		worker:    w,
		startedAt: time.Now().UTC(),
		healthy:   true,
		cancel:    cancel,
	}
	s.mu.Unlock()

	go s.supervise(loopCtx, tenantID)
	s.logger.Info("tenant started", slog.String("tenant", tenantID))

	return nil
}

// StopTenant stops the liveness loop and the worker of a tenant.
func (s *Supervisor) StopTenant(tenantID string) error {
	s.mu.Lock()
	mw, ok := s.workers[tenantID]
	if !ok || mw == nil {
		s.mu.Unlock()
		return ErrTenantUnknown
	}
	delete(s.workers, tenantID)
	s.mu.Unlock()

	mw.cancel()
	err := mw.worker.Stop()
	s.logger.Info("tenant stopped", slog.String("tenant", tenantID))

	return err
}

// Stop stops every tenant. Used on service shutdown.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.workers))
	for id, mw := range s.workers {
		if mw != nil {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	var err error
	for _, id := range ids {
		if stopErr := s.StopTenant(id); stopErr != nil && !errors.Contains(stopErr, ErrTenantUnknown) {
			err = stopErr
		}
	}
	return err
}

// Route returns the HTTP handler of a running tenant.
func (s *Supervisor) Route(tenantID string) (http.Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mw, ok := s.workers[tenantID]
	if !ok || mw == nil {
		return nil, ErrTenantUnknown
	}
	return mw.worker.Handler(), nil
}

// Workers reports every running tenant, ordered by tenant ID.
func (s *Supervisor) Workers() []WorkerInfo {
	s.mu.Lock()
	infos := make([]WorkerInfo, 0, len(s.workers))
	for id, mw := range s.workers {
		if mw == nil {
			continue
		}
		infos = append(infos, WorkerInfo{
			TenantID:        id,
			StartedAt:       mw.startedAt,
			Healthy:         mw.healthy,
			LastHealthCheck: mw.lastCheck,
			Restarts:        mw.restarts,
		})
	}
	s.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].TenantID < infos[j].TenantID })
	return infos
}

func (s *Supervisor) newWorker(ctx context.Context, tenantID string) (*Worker, error) {
	dbCfg := s.db
	dbCfg.Name = tenantDBName(dbCfg.Name, tenantID)

	return NewWorker(ctx, WorkerConfig{
		TenantID:       tenantID,
		DB:             dbCfg,
		CacheURL:       s.cfg.CacheURL,
		CacheEntityTTL: s.cfg.CacheEntityTTL,
		CachePermsTTL:  s.cfg.CachePermsTTL,
		EventsURL:      s.cfg.EventsURL,
		Buffer:         s.buffer,
		Warmup:         s.cfg.CacheWarmup,
	}, s.logger, s.tracer, s.col)
}

// supervise checks worker health on every tick and restarts a dead worker
// with exponential backoff. The loop ends when the tenant is stopped.
func (s *Supervisor) supervise(ctx context.Context, tenantID string) {
	ticker := time.NewTicker(s.cfg.HealthPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.check(ctx, tenantID); err != nil {
				s.logger.Warn("tenant worker unhealthy", slog.String("tenant", tenantID), slog.Any("error", err))
				s.restart(ctx, tenantID)
			}
		}
	}
}

func (s *Supervisor) check(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	mw := s.workers[tenantID]
	s.mu.Unlock()
	if mw == nil {
		return nil
	}

	hctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	err := mw.worker.Healthy(hctx)

	s.mu.Lock()
	mw.lastCheck = time.Now().UTC()
	mw.healthy = err == nil
	s.mu.Unlock()

	return err
}

func (s *Supervisor) restart(ctx context.Context, tenantID string) {
	s.mu.Lock()
	mw := s.workers[tenantID]
	s.mu.Unlock()
	if mw == nil {
		return
	}

	if err := mw.worker.Stop(); err != nil {
		s.logger.Warn("failed to stop unhealthy worker", slog.String("tenant", tenantID), slog.Any("error", err))
	}

	op := func() error {
		w, err := s.newWorker(ctx, tenantID)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			if stopErr := w.Stop(); stopErr != nil {
				s.logger.Warn("failed to stop tenant worker", slog.String("tenant", tenantID), slog.Any("error", stopErr))
			}
			return err
		}

		s.mu.Lock()
		mw.worker = w
		mw.startedAt = time.Now().UTC()
		mw.healthy = true
		mw.lastCheck = time.Now().UTC()
		mw.restarts++
		s.mu.Unlock()

		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = restartMaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		s.logger.Error("tenant worker restart gave up", slog.String("tenant", tenantID), slog.Any("error", err))
		return
	}
	s.logger.Info("tenant worker restarted", slog.String("tenant", tenantID))
}

// tenantDBName derives the isolated database name of a tenant from the
// configured base name. Hyphens are folded to underscores to stay a legal
// postgres identifier.
func tenantDBName(base, tenantID string) string {
	name := strings.ToLower(strings.ReplaceAll(tenantID, "-", "_"))
	if base == "" {
		return fmt.Sprintf("acs_%s", name)
	}
	return fmt.Sprintf("%s_%s", base, name)
}
