// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package access

import "github.com/acsio/acs/pkg/errors"

var (
	// ErrBufferFull indicates that the command buffer rejected a submission
	// because it is at capacity. Callers should retry with backoff.
	ErrBufferFull = errors.New("command buffer full")

	// ErrShutdown indicates submission to a buffer that is draining or closed.
	ErrShutdown = errors.New("command buffer shut down")

	// ErrCancelled indicates the caller abandoned the command before the
	// consumer picked it up. The command had no effect.
	ErrCancelled = errors.New("command cancelled before execution")

	// ErrCancelledAfterCommit indicates the caller abandoned the command
	// after its effects were already committed. The mutation stands.
	ErrCancelledAfterCommit = errors.New("command cancelled after commit")

	// ErrTranslation indicates an operation envelope that could not be
	// decoded into a typed command.
	ErrTranslation = errors.New("failed to translate operation")

	// ErrUnknownOperation indicates an operation name outside the catalog.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrDuplicateRequest indicates a correlation ID replayed within the
	// deduplication window.
	ErrDuplicateRequest = errors.New("duplicate correlation id")
)
