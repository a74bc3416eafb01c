// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package nats contains a NATS JetStream implementation of the events
// Publisher contract.
package nats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/acsio/acs/pkg/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const maxReconnects = -1

var jsStreamConfig = jetstream.StreamConfig{
	Name:              "events",
	Description:       "ACS stream for authorization mutation and security events",
	Subjects:          []string{"events.>"},
	Retention:         jetstream.LimitsPolicy,
	MaxMsgsPerSubject: 1e9,
	MaxAge:            time.Hour * 24,
	MaxMsgSize:        1024 * 1024,
	Discard:           jetstream.DiscardOld,
	Storage:           jetstream.FileStorage,
}

var _ events.Publisher = (*pubEventStore)(nil)

type pubEventStore struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream string
}

// NewPublisher connects to the broker, ensures the stream exists and returns
// a publisher bound to it.
func NewPublisher(ctx context.Context, url, stream string) (events.Publisher, error) {
	conn, err := nats.Connect(url, nats.MaxReconnects(maxReconnects))
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := js.CreateOrUpdateStream(ctx, jsStreamConfig); err != nil {
		conn.Close()
		return nil, err
	}

	return &pubEventStore{
		conn:   conn,
		js:     js,
		stream: stream,
	}, nil
}

func (es *pubEventStore) Publish(ctx context.Context, event events.Event) error {
	values, err := event.Encode()
	if err != nil {
		return err
	}
	values["occurred_at"] = time.Now().UnixNano()

	data, err := json.Marshal(values)
	if err != nil {
		return err
	}

	subject := "events." + es.stream
	if op, ok := values["operation"].(string); ok && op != "" {
		subject = subject + "." + op
	}

	_, err = es.js.Publish(ctx, subject, data)

	return err
}

func (es *pubEventStore) Close() error {
	es.conn.Close()
	return nil
}
