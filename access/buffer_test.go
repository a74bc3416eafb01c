// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package access_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/acsio/acs/access"
	"github.com/acsio/acs/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) (interface{}, error) { return nil, nil }

func await(t *testing.T, resc <-chan access.Result) access.Result {
	t.Helper()
	select {
	case res := <-resc:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for command result")
		return access.Result{}
	}
}

func TestBufferExecutionOrder(t *testing.T) {
	buf := access.NewBuffer(access.BufferConfig{Capacity: 100})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = buf.Run(ctx)
	}()

	var mu sync.Mutex
	var order []int
	var results []<-chan access.Result
	var seqs []uint64
	for i := 0; i < 50; i++ {
		i := i
		resc, seq, err := buf.Enqueue(context.Background(), "test", func(context.Context) (interface{}, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
		require.NoError(t, err)
		results = append(results, resc)
		seqs = append(seqs, seq)
	}

	for i, resc := range results {
		res := await(t, resc)
		require.NoError(t, res.Err)
		assert.Equal(t, i, res.Value)
	}

	mu.Lock()
	defer mu.Unlock()
	for i := range order {
		assert.Equal(t, i, order[i], "tasks must execute in submission order")
	}
	for i := 1; i < len(seqs); i++ {
		assert.Equal(t, seqs[i-1]+1, seqs[i], "sequence numbers must be monotonic")
	}

	cancel()
	<-done
}

func TestBufferBackpressure(t *testing.T) {
	// Capacity 10: latch at depth 8, release at depth 5.
	buf := access.NewBuffer(access.BufferConfig{Capacity: 10, HighWatermark: 0.8, LowWatermark: 0.5})

	var results []<-chan access.Result
	for i := 0; i < 8; i++ {
		resc, _, err := buf.Enqueue(context.Background(), "test", noop)
		require.NoError(t, err)
		results = append(results, resc)
	}

	_, _, err := buf.Enqueue(context.Background(), "test", noop)
	assert.True(t, errors.Contains(err, access.ErrBufferFull), "high watermark must latch rejection")

	// The latch holds even though depth did not change.
	_, _, err = buf.Enqueue(context.Background(), "test", noop)
	assert.True(t, errors.Contains(err, access.ErrBufferFull))

	stats := buf.Stats()
	assert.True(t, stats.Backpressure)
	assert.Equal(t, uint64(2), stats.Rejected)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = buf.Run(ctx)
	}()

	for _, resc := range results {
		require.NoError(t, await(t, resc).Err)
	}

	// Queue drained below the low watermark: submissions flow again.
	resc, _, err := buf.Enqueue(context.Background(), "test", noop)
	require.NoError(t, err, "latch must release once depth falls to the low watermark")
	require.NoError(t, await(t, resc).Err)
	assert.False(t, buf.Stats().Backpressure)

	cancel()
	<-done
}

func TestBufferStop(t *testing.T) {
	buf := access.NewBuffer(access.BufferConfig{Capacity: 10})

	var results []<-chan access.Result
	for i := 0; i < 3; i++ {
		resc, _, err := buf.Enqueue(context.Background(), "test", noop)
		require.NoError(t, err)
		results = append(results, resc)
	}

	buf.Stop()

	_, _, err := buf.Enqueue(context.Background(), "test", noop)
	assert.True(t, errors.Contains(err, access.ErrShutdown), "stopped buffer must reject submissions")

	require.NoError(t, buf.Run(context.Background()), "run after stop drains and returns")
	for _, resc := range results {
		res := await(t, resc)
		assert.True(t, errors.Contains(res.Err, access.ErrShutdown), "queued commands must fail on shutdown")
	}
}

func TestBufferCancelledBeforeDispatch(t *testing.T) {
	buf := access.NewBuffer(access.BufferConfig{Capacity: 10})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	executed := false
	resc, _, err := buf.Enqueue(cancelled, "test", func(context.Context) (interface{}, error) {
		executed = true
		return nil, nil
	})
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = buf.Run(runCtx)
	}()

	res := await(t, resc)
	assert.True(t, errors.Contains(res.Err, access.ErrCancelled))
	assert.False(t, executed, "cancelled command must not run")

	stop()
	<-done
}

func TestBufferPanicRecovery(t *testing.T) {
	buf := access.NewBuffer(access.BufferConfig{Capacity: 10})

	panicking, _, err := buf.Enqueue(context.Background(), "test", func(context.Context) (interface{}, error) {
		panic("boom")
	})
	require.NoError(t, err)
	healthy, _, err := buf.Enqueue(context.Background(), "test", noop)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = buf.Run(ctx)
	}()

	res := await(t, panicking)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "panicked")

	// The consumer survives the panic.
	require.NoError(t, await(t, healthy).Err)

	stats := buf.Stats()
	assert.Equal(t, uint64(2), stats.Enqueued)
	assert.Equal(t, uint64(1), stats.Completed)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Greater(t, stats.P50, time.Duration(0))

	cancel()
	<-done
}
