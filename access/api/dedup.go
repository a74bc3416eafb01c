// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/endpoint"

	"github.com/acsio/acs/access"
)

const defDedupWindow = 5 * time.Minute

// dedupWindow makes mutation endpoints idempotent per correlation ID. A
// repeated correlation ID inside the window replays the recorded outcome
// without re-executing; a concurrent duplicate is rejected outright.
type dedupWindow struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*dedupEntry
}

type dedupEntry struct {
	response interface{}
	err      error
	done     bool
	at       time.Time
}

func newDedupWindow(ttl time.Duration) *dedupWindow {
	if ttl <= 0 {
		ttl = defDedupWindow
	}
	return &dedupWindow{
		ttl:     ttl,
		entries: map[string]*dedupEntry{},
	}
}

// wrap decorates a mutation endpoint. Requests without a correlation ID are
// executed every time.
func (dw *dedupWindow) wrap(ep endpoint.Endpoint) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		cr, ok := request.(correlated)
		if !ok || cr.correlation() == "" {
			return ep(ctx, request)
		}
		key := cr.correlation()

		dw.mu.Lock()
		dw.evictLocked(time.Now())
		if entry, ok := dw.entries[key]; ok {
			if !entry.done {
				dw.mu.Unlock()
				return nil, access.ErrDuplicateRequest
			}
			response, err := entry.response, entry.err
			dw.mu.Unlock()
			return response, err
		}
		entry := &dedupEntry{at: time.Now()}
		dw.entries[key] = entry
		dw.mu.Unlock()

		response, err := ep(ctx, request)

		dw.mu.Lock()
		entry.response = response
		entry.err = err
		entry.done = true
		entry.at = time.Now()
		dw.mu.Unlock()

		return response, err
	}
}

func (dw *dedupWindow) evictLocked(now time.Time) {
	for key, entry := range dw.entries {
		if entry.done && now.Sub(entry.at) > dw.ttl {
			delete(dw.entries, key)
		}
	}
}
