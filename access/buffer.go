// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/kit/metrics"
)

const (
	defCapacity      = 10000
	defHighWatermark = 0.8
	defLowWatermark  = 0.5
	latencyRingSize  = 1024
)

// BufferConfig tunes the command buffer.
type BufferConfig struct {
	Capacity      int     `env:"BUFFER_CAPACITY"       envDefault:"10000"`
	HighWatermark float64 `env:"BUFFER_HIGH_WATERMARK" envDefault:"0.8"`
	LowWatermark  float64 `env:"BUFFER_LOW_WATERMARK"  envDefault:"0.5"`
}

func (cfg BufferConfig) withDefaults() BufferConfig {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defCapacity
	}
	if cfg.HighWatermark <= 0 || cfg.HighWatermark > 1 {
		cfg.HighWatermark = defHighWatermark
	}
	if cfg.LowWatermark <= 0 || cfg.LowWatermark >= cfg.HighWatermark {
		cfg.LowWatermark = defLowWatermark
	}
	return cfg
}

// Result is the outcome of a buffered command.
type Result struct {
	Value interface{}
	Err   error
}

// Task is the unit of work carried by an envelope, executed by the single
// buffer consumer.
type Task func(ctx context.Context) (interface{}, error)

type envelope struct {
	seq        uint64
	kind       string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	resultc    chan Result
}

// BufferStats reports buffer counters and recent latency percentiles.
type BufferStats struct {
	Enqueued     uint64        `json:"enqueued"`
	Completed    uint64        `json:"completed"`
	Failed       uint64        `json:"failed"`
	Rejected     uint64        `json:"rejected"`
	QueueDepth   int           `json:"queue_depth"`
	Backpressure bool          `json:"backpressure"`
	LastLatency  time.Duration `json:"last_latency_ns"`
	P50          time.Duration `json:"p50_ns"`
	P95          time.Duration `json:"p95_ns"`
	P99          time.Duration `json:"p99_ns"`
}

// Buffer is the bounded MPSC command queue of one tenant. Any number of
// producers enqueue; exactly one consumer runs the tasks in sequence order.
// Submission fails fast when the buffer is full or the backpressure latch
// is set: producers are expected to retry with backoff.
type Buffer struct {
	mu     sync.Mutex
	cfg    BufferConfig
	queue  chan *envelope
	stopc  chan struct{}
	seq    uint64
	closed bool

	backpressure bool
	enqueued     uint64
	completed    uint64
	failed       uint64
	rejected     uint64

	lastLatency time.Duration
	latencies   []time.Duration
	latIdx      int
	latFull     bool

	depthGauge        metrics.Gauge
	backpressureGauge metrics.Gauge
}

// NewBuffer returns a stopped buffer; Run starts consumption.
func NewBuffer(cfg BufferConfig) *Buffer {
	cfg = cfg.withDefaults()
	return &Buffer{
		cfg:       cfg,
		queue:     make(chan *envelope, cfg.Capacity),
		stopc:     make(chan struct{}),
		latencies: make([]time.Duration, latencyRingSize),
	}
}

// Watch registers gauges kept in sync with the queue depth and the
// backpressure latch.
func (b *Buffer) Watch(depth, backpressure metrics.Gauge) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.depthGauge = depth
	b.backpressureGauge = backpressure
}

// Enqueue submits a task and returns the channel its result will be
// delivered on. It never blocks: a full buffer or a latched backpressure
// state fails with ErrBufferFull, a stopped buffer with ErrShutdown.
func (b *Buffer) Enqueue(ctx context.Context, kind string, task Task) (<-chan Result, uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, 0, ErrShutdown
	}

	depth := len(b.queue)
	if !b.backpressure && depth >= int(float64(b.cfg.Capacity)*b.cfg.HighWatermark) {
		b.setBackpressureLocked(true)
	}
	if b.backpressure || depth >= b.cfg.Capacity {
		b.rejected++
		return nil, 0, ErrBufferFull
	}

	b.seq++
	env := &envelope{
		seq:        b.seq,
		kind:       kind,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		resultc:    make(chan Result, 1),
	}
	b.queue <- env
	b.enqueued++
	b.gaugeDepthLocked()

	return env.resultc, env.seq, nil
}

// Run consumes the buffer until the context is done or Stop is called. It is
// the only goroutine executing tasks, which gives every mutation a total
// order per tenant. A panicking task fails its command; the loop continues.
func (b *Buffer) Run(ctx context.Context) error {
	for {
		// Shutdown takes priority over pending work.
		select {
		case <-ctx.Done():
			b.drain()
			return ctx.Err()
		case <-b.stopc:
			b.drain()
			return nil
		default:
		}

		select {
		case <-ctx.Done():
			b.drain()
			return ctx.Err()
		case <-b.stopc:
			b.drain()
			return nil
		case env := <-b.queue:
			b.consume(ctx, env)
		}
	}
}

func (b *Buffer) consume(ctx context.Context, env *envelope) {
	b.onDequeue()

	// Commands abandoned before dispatch are not executed.
	if env.ctx != nil && env.ctx.Err() != nil {
		b.deliver(env, Result{Err: ErrCancelled})
		return
	}

	taskCtx := env.ctx
	if taskCtx == nil {
		taskCtx = ctx
	}
	value, err := runSafely(taskCtx, env.task)
	b.deliver(env, Result{Value: value, Err: err})
}

func runSafely(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (b *Buffer) deliver(env *envelope, res Result) {
	latency := time.Since(env.enqueuedAt)

	b.mu.Lock()
	if res.Err != nil {
		b.failed++
	} else {
		b.completed++
	}
	b.lastLatency = latency
	b.latencies[b.latIdx] = latency
	b.latIdx++
	if b.latIdx == len(b.latencies) {
		b.latIdx = 0
		b.latFull = true
	}
	b.mu.Unlock()

	env.resultc <- res
}

func (b *Buffer) onDequeue() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.backpressure && len(b.queue) <= int(float64(b.cfg.Capacity)*b.cfg.LowWatermark) {
		b.setBackpressureLocked(false)
	}
	b.gaugeDepthLocked()
}

func (b *Buffer) setBackpressureLocked(on bool) {
	b.backpressure = on
	if b.backpressureGauge != nil {
		v := 0.0
		if on {
			v = 1.0
		}
		b.backpressureGauge.Set(v)
	}
}

func (b *Buffer) gaugeDepthLocked() {
	if b.depthGauge != nil {
		b.depthGauge.Set(float64(len(b.queue)))
	}
}

// Alive reports whether the intake still accepts commands.
func (b *Buffer) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Stop closes the intake. Queued commands are failed with ErrShutdown by the
// consumer's drain; the in-flight command completes.
func (b *Buffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.stopc)
}

func (b *Buffer) drain() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	for {
		select {
		case env := <-b.queue:
			b.deliver(env, Result{Err: ErrShutdown})
		default:
			b.gaugeDepth()
			return
		}
	}
}

func (b *Buffer) gaugeDepth() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gaugeDepthLocked()
}

// Stats returns a snapshot of the buffer counters and latency percentiles
// estimated over the most recent completions.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := BufferStats{
		Enqueued:     b.enqueued,
		Completed:    b.completed,
		Failed:       b.failed,
		Rejected:     b.rejected,
		QueueDepth:   len(b.queue),
		Backpressure: b.backpressure,
		LastLatency:  b.lastLatency,
	}

	n := b.latIdx
	if b.latFull {
		n = len(b.latencies)
	}
	if n == 0 {
		return stats
	}
	window := make([]time.Duration, n)
	copy(window, b.latencies[:n])
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	stats.P50 = window[percentileIndex(n, 0.50)]
	stats.P95 = window[percentileIndex(n, 0.95)]
	stats.P99 = window[percentileIndex(n, 0.99)]

	return stats
}

func percentileIndex(n int, q float64) int {
	idx := int(float64(n)*q + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return idx
}
