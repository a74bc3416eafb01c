// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package apiutil

import "github.com/acsio/acs/pkg/errors"

// Errors defined in this file are used by the LoggingErrorEncoder decorator
// to distinguish and log API request validation errors and avoid that service
// errors are logged twice.
var (
	// ErrValidation indicates that an error was returned by the API.
	ErrValidation = errors.New("something went wrong with the request")

	// ErrMissingID indicates missing entity ID.
	ErrMissingID = errors.New("missing entity id")

	// ErrMissingName indicates missing entity name.
	ErrMissingName = errors.New("missing entity name")

	// ErrMissingTenantID indicates a request without a tenant ID.
	ErrMissingTenantID = errors.New("missing tenant id")

	// ErrMissingURI indicates a permission without a resource URI.
	ErrMissingURI = errors.New("missing resource uri")

	// ErrInvalidVerb indicates an unrecognized request verb.
	ErrInvalidVerb = errors.New("invalid verb")

	// ErrInvalidEffect indicates an unrecognized permission effect.
	ErrInvalidEffect = errors.New("invalid permission effect")

	// ErrInvalidEntityKind indicates an unrecognized entity kind.
	ErrInvalidEntityKind = errors.New("invalid entity kind")

	// ErrInvalidChangeType indicates an unrecognized audit change type.
	ErrInvalidChangeType = errors.New("invalid change type")

	// ErrInvalidDirection indicates an invalid sort direction.
	ErrInvalidDirection = errors.New("invalid direction")

	// ErrInvalidQueryParams indicates invalid query parameters.
	ErrInvalidQueryParams = errors.New("invalid query parameters")

	// ErrInvalidTimeFormat indicates an invalid time format in the request.
	ErrInvalidTimeFormat = errors.New("invalid time format")

	// ErrLimitSize indicates that an invalid limit.
	ErrLimitSize = errors.New("invalid limit size")

	// ErrNameSize indicates that an entity name exceeds the maximum size.
	ErrNameSize = errors.New("invalid name size")

	// ErrEmptyList indicates that entity data is empty.
	ErrEmptyList = errors.New("empty list provided")

	// ErrUnsupportedContentType indicates an invalid content type.
	ErrUnsupportedContentType = errors.New("unsupported content type")

	// ErrMalformedEntity indicates a malformed entity specification.
	ErrMalformedEntity = errors.New("malformed entity specification")
)
