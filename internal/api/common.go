// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/acsio/acs"
	"github.com/acsio/acs/access"
	"github.com/acsio/acs/entities"
	"github.com/acsio/acs/pkg/apiutil"
	"github.com/acsio/acs/pkg/errors"
	svcerr "github.com/acsio/acs/pkg/errors/service"
)

const (
	OffsetKey      = "offset"
	LimitKey       = "limit"
	NameKey        = "name"
	KindKey        = "kind"
	URIKey         = "uri"
	VerbKey        = "verb"
	AtKey          = "at"
	DepthKey       = "depth"
	EffectiveKey   = "effective"
	DirKey         = "dir"
	DefOffset      = 0
	DefLimit       = 10
	MaxLimitSize   = 1000
	MaxNameSize    = 1024
	AscDir         = "asc"
	DescDir        = "desc"
	CorrelationKey = "X-Correlation-ID"

	// ContentType represents JSON content type.
	ContentType = "application/json"
)

// EncodeResponse encodes successful response.
func EncodeResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	if ar, ok := response.(acs.Response); ok {
		for k, v := range ar.Headers() {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(ar.Code())

		if ar.Empty() {
			return nil
		}
	}

	return json.NewEncoder(w).Encode(response)
}

// EncodeError encodes an error response.
func EncodeError(_ context.Context, err error, w http.ResponseWriter) {
	var wrapper error
	if errors.Contains(err, apiutil.ErrValidation) {
		wrapper, err = errors.Unwrap(err)
	}

	w.Header().Set("Content-Type", ContentType)
	switch {
	case errors.Contains(err, svcerr.ErrAuthorization):
		err = unwrap(err)
		w.WriteHeader(http.StatusForbidden)

	case errors.Contains(err, svcerr.ErrMalformedEntity),
		errors.Contains(err, entities.ErrMalformedEntity),
		errors.Contains(err, entities.ErrInvalidPermission),
		errors.Contains(err, svcerr.ErrInvalidPolicy),
		errors.Contains(err, access.ErrTranslation),
		errors.Contains(err, access.ErrUnknownOperation),
		errors.Contains(err, apiutil.ErrMissingID),
		errors.Contains(err, apiutil.ErrMissingName),
		errors.Contains(err, apiutil.ErrMissingTenantID),
		errors.Contains(err, apiutil.ErrMissingURI),
		errors.Contains(err, apiutil.ErrInvalidVerb),
		errors.Contains(err, apiutil.ErrInvalidEffect),
		errors.Contains(err, apiutil.ErrInvalidEntityKind),
		errors.Contains(err, apiutil.ErrInvalidQueryParams),
		errors.Contains(err, apiutil.ErrInvalidTimeFormat),
		errors.Contains(err, apiutil.ErrLimitSize),
		errors.Contains(err, apiutil.ErrEmptyList),
		errors.Contains(err, apiutil.ErrValidation):
		err = unwrap(err)
		w.WriteHeader(http.StatusBadRequest)

	case errors.Contains(err, entities.ErrCycle),
		errors.Contains(err, entities.ErrEdgeKind),
		errors.Contains(err, svcerr.ErrCreateEntity),
		errors.Contains(err, svcerr.ErrUpdateEntity),
		errors.Contains(err, svcerr.ErrRemoveEntity):
		err = unwrap(err)
		w.WriteHeader(http.StatusUnprocessableEntity)

	case errors.Contains(err, svcerr.ErrNotFound),
		errors.Contains(err, entities.ErrNotFound),
		errors.Contains(err, entities.ErrEdgeNotFound):
		err = unwrap(err)
		w.WriteHeader(http.StatusNotFound)

	case errors.Contains(err, svcerr.ErrConflict),
		errors.Contains(err, entities.ErrConflict),
		errors.Contains(err, entities.ErrAlreadyAssigned),
		errors.Contains(err, access.ErrDuplicateRequest):
		err = unwrap(err)
		w.WriteHeader(http.StatusConflict)

	case errors.Contains(err, access.ErrBufferFull),
		errors.Contains(err, access.ErrShutdown),
		errors.Contains(err, svcerr.ErrUnavailable):
		err = unwrap(err)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusServiceUnavailable)

	case errors.Contains(err, access.ErrCancelled):
		err = unwrap(err)
		w.WriteHeader(http.StatusRequestTimeout)

	case errors.Contains(err, apiutil.ErrUnsupportedContentType):
		err = unwrap(err)
		w.WriteHeader(http.StatusUnsupportedMediaType)

	default:
		w.WriteHeader(http.StatusInternalServerError)
	}

	if wrapper != nil {
		err = errors.Wrap(wrapper, err)
	}

	if errorVal, ok := err.(errors.Error); ok {
		if err := json.NewEncoder(w).Encode(errorVal); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}

func unwrap(err error) error {
	wrapper, err := errors.Unwrap(err)
	if wrapper != nil {
		return wrapper
	}
	return err
}
