// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package events provides the event-store publishing contract used by the
// access service to emit mutation and security events.
package events

import "context"

// Event represents an event.
type Event interface {
	// Encode encodes event to map.
	Encode() (map[string]interface{}, error)
}

// Publisher specifies events publishing API.
type Publisher interface {
	// Publish publishes event to stream.
	Publish(ctx context.Context, event Event) error

	// Close gracefully closes event publisher's connection.
	Close() error
}
