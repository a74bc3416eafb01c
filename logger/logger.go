// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package logger contains logger wrapper to be used by ACS services.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/acsio/acs/pkg/errors"
)

// ErrInvalidLogLevel indicates an unrecognized log level configuration value.
var ErrInvalidLogLevel = errors.New("unrecognized log level")

// New returns a JSON slog logger writing to w with the given level.
func New(w io.Writer, levelText string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelText)); err != nil {
		return nil, errors.Wrap(ErrInvalidLogLevel, err)
	}

	logHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})

	return slog.New(logHandler), nil
}

// ExitWithError terminates the process with the given exit code. It is meant
// to be deferred in main so that deferred cleanups run before exiting.
func ExitWithError(exitCode *int) {
	os.Exit(*exitCode)
}
