// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package errors_test

import (
	"fmt"
	"testing"

	"github.com/acsio/acs/pkg/errors"
	"github.com/stretchr/testify/assert"
)

var (
	errGraph = errors.New("graph operation failed")
	errCycle = errors.New("edge would create a cycle")
	errStore = errors.New("database unreachable")
)

func TestError(t *testing.T) {
	cases := []struct {
		desc string
		err  error
		msg  string
	}{
		{
			desc: "plain error",
			err:  errCycle,
			msg:  "edge would create a cycle",
		},
		{
			desc: "wrapped once",
			err:  errors.Wrap(errGraph, errCycle),
			msg:  "graph operation failed : edge would create a cycle",
		},
		{
			desc: "wrapped twice",
			err:  errors.Wrap(errGraph, errors.Wrap(errCycle, errStore)),
			msg:  "graph operation failed : edge would create a cycle : database unreachable",
		},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.msg, tc.err.Error(), fmt.Sprintf("%s: expected %s got %s\n", tc.desc, tc.msg, tc.err.Error()))
	}
}

func TestContains(t *testing.T) {
	cases := []struct {
		desc      string
		container error
		contained error
		contains  bool
	}{
		{
			desc:      "nil contains nil",
			container: nil,
			contained: nil,
			contains:  true,
		},
		{
			desc:      "nil contains non-nil",
			container: nil,
			contained: errCycle,
			contains:  false,
		},
		{
			desc:      "non-nil contains nil",
			container: errCycle,
			contained: nil,
			contains:  false,
		},
		{
			desc:      "error contains itself",
			container: errCycle,
			contained: errCycle,
			contains:  true,
		},
		{
			desc:      "wrapper contains wrapped",
			container: errors.Wrap(errGraph, errCycle),
			contained: errCycle,
			contains:  true,
		},
		{
			desc:      "wrapper contains wrapper",
			container: errors.Wrap(errGraph, errCycle),
			contained: errGraph,
			contains:  true,
		},
		{
			desc:      "wrapper does not contain unrelated",
			container: errors.Wrap(errGraph, errCycle),
			contained: errStore,
			contains:  false,
		},
		{
			desc:      "deeply wrapped contains innermost",
			container: errors.Wrap(errGraph, errors.Wrap(errCycle, errStore)),
			contained: errStore,
			contains:  true,
		},
	}

	for _, tc := range cases {
		contains := errors.Contains(tc.container, tc.contained)
		assert.Equal(t, tc.contains, contains, fmt.Sprintf("%s: expected %v got %v\n", tc.desc, tc.contains, contains))
	}
}

func TestUnwrap(t *testing.T) {
	wrapper, err := errors.Unwrap(errors.Wrap(errGraph, errCycle))
	assert.True(t, errors.Contains(wrapper, errGraph))
	assert.True(t, errors.Contains(err, errCycle))

	wrapper, err = errors.Unwrap(errCycle)
	assert.Nil(t, wrapper)
	assert.True(t, errors.Contains(err, errCycle))
}
