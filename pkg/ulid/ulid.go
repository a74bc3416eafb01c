// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ulid provides a ULID identity provider.
package ulid

import (
	"sync"
	"time"

	"github.com/acsio/acs"
	"github.com/acsio/acs/pkg/errors"
	"github.com/oklog/ulid/v2"

	mathrand "math/rand"
)

// ErrGeneratingID indicates error in generating ULID.
var ErrGeneratingID = errors.New("generating id failed")

var _ acs.IDProvider = (*ulidProvider)(nil)

type ulidProvider struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New instantiates a ULID provider. Entropy is monotonic, so identifiers
// generated by one provider sort in generation order even within the same
// millisecond. The audit chain relies on that ordering.
func New() acs.IDProvider {
	seed := time.Now().UnixNano()
	source := mathrand.NewSource(seed)
	return &ulidProvider{
		entropy: ulid.Monotonic(mathrand.New(source), 0),
	}
}

func (up *ulidProvider) ID() (string, error) {
	up.mu.Lock()
	defer up.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now()), up.entropy)
	if err != nil {
		return "", errors.Wrap(ErrGeneratingID, err)
	}

	return id.String(), nil
}
