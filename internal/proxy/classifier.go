package proxy

import (
	"context"
	"errors"

	"github.com/nulpointcorp/hub-gateway/internal/candidate"
	"github.com/nulpointcorp/hub-gateway/internal/codec"
	"github.com/nulpointcorp/hub-gateway/internal/ratelimit"
	"github.com/nulpointcorp/hub-gateway/internal/stream"
)

// ErrorClass is the §7 error taxonomy every failure in the dispatch loop is
// classified into before the orchestrator decides what to do next.
type ErrorClass string

const (
	ClassClientRequest     ErrorClass = "client_request_error"
	ClassConversion        ErrorClass = "conversion_error"
	ClassConcurrencyLimit  ErrorClass = "concurrency_limit_error"
	ClassUpstreamRetriable ErrorClass = "upstream_retriable_error"
	ClassUpstreamAuth      ErrorClass = "upstream_auth_error"
	ClassUpstreamClient    ErrorClass = "upstream_client_error"
	ClassFatalInternal     ErrorClass = "fatal_internal_error"
)

// Classification is the outcome of running one failure through Classify: its
// taxonomy class plus the concrete actions the orchestrator should take.
type Classification struct {
	Class ErrorClass

	// RetryOtherCandidate: keep trying the remaining candidates instead of
	// surfacing this failure to the client.
	RetryOtherCandidate bool
	// OpenCircuit: report a failure to the (key, format) circuit breaker.
	OpenCircuit bool
	// DownshiftRPM: ask the adaptive controller to multiplicatively decrease
	// this key's learned_rpm_limit — an explicit upstream rate-limit signal,
	// distinct from the local concurrency guard's own rejections.
	DownshiftRPM bool
	// ClientStatus is the HTTP status to use if this failure is the last one
	// and must be surfaced to the client (§6).
	ClientStatus int
}

// Classify maps one dispatch-attempt failure to its §7 class and §4.8
// outcome. statusCode is the upstream HTTP status (0 if the failure never
// reached upstream, e.g. a conversion error or a local rate-limit reject).
func Classify(ctx context.Context, err error, statusCode int) Classification {
	var modelNotFound *candidate.ModelNotFoundError
	var noEndpoint *candidate.NoCompatibleEndpointError
	var forbidden *candidate.ForbiddenByPolicyError

	var embedded *stream.EmbeddedError
	var connErr *UpstreamConnError

	switch {
	case errors.As(err, &modelNotFound):
		return Classification{Class: ClassClientRequest, ClientStatus: 400}
	case errors.As(err, &noEndpoint):
		return Classification{Class: ClassClientRequest, ClientStatus: 400}
	case errors.As(err, &forbidden):
		return Classification{Class: ClassClientRequest, ClientStatus: 403}

	case errors.Is(err, ratelimit.ErrConcurrencyLimit):
		return Classification{Class: ClassConcurrencyLimit, RetryOtherCandidate: true, ClientStatus: 429}

	case isConversionError(err):
		return Classification{Class: ClassConversion, RetryOtherCandidate: true, ClientStatus: 400}

	case isClientRequestError(err):
		return Classification{Class: ClassClientRequest, ClientStatus: 400}

	case errors.As(err, &embedded):
		// An error event surfaced mid-stream before any byte reached the
		// client (§4.6) — treated exactly like a synchronous upstream
		// failure so the orchestrator can retry another candidate.
		return Classification{Class: ClassUpstreamRetriable, RetryOtherCandidate: true, OpenCircuit: true, ClientStatus: 502}

	case errors.As(err, &connErr):
		return Classification{Class: ClassUpstreamRetriable, RetryOtherCandidate: true, OpenCircuit: true, ClientStatus: 502}

	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Classification{Class: ClassUpstreamRetriable, RetryOtherCandidate: true, OpenCircuit: true, ClientStatus: 504}

	case statusCode == 401 || statusCode == 403:
		return Classification{Class: ClassUpstreamAuth, RetryOtherCandidate: true, OpenCircuit: true, ClientStatus: 502}

	case statusCode == 429:
		return Classification{Class: ClassUpstreamRetriable, RetryOtherCandidate: true, DownshiftRPM: true, ClientStatus: 429}

	case statusCode >= 500 && statusCode < 600:
		return Classification{Class: ClassUpstreamRetriable, RetryOtherCandidate: true, OpenCircuit: true, ClientStatus: 502}

	case statusCode >= 400 && statusCode < 500:
		return Classification{Class: ClassUpstreamClient, ClientStatus: statusCode}

	default:
		return Classification{Class: ClassFatalInternal, ClientStatus: 500}
	}
}

// isConversionError reports whether err originated in the wire-format codec
// rather than upstream — e.g. a candidate's target dialect can't express a
// feature the client's request used.
func isConversionError(err error) bool {
	var ie *codec.InternalError
	if errors.As(err, &ie) {
		return false // a decoded upstream error, not a conversion failure
	}
	var ee *stream.EmbeddedError
	if errors.As(err, &ee) {
		return false
	}
	// Errors produced by codec.Normalizer.RequestFromInternal /
	// ResponseToInternal / StreamEventToInternal surface as plain fmt-wrapped
	// errors from internal/stream and the gateway's own conversion call
	// sites; those call sites tag them via errConversion before they reach
	// here (see orchestrator.go).
	return errors.Is(err, errConversion)
}

func isClientRequestError(err error) bool {
	return errors.Is(err, errClientRequest)
}

var (
	errConversion    = errors.New("classifier: conversion error")
	errClientRequest = errors.New("classifier: client request error")
)

// UpstreamConnError wraps a transport-level failure talking to an upstream
// endpoint — DNS, connection refused/reset, or a timeout that did not
// originate from the client's own context deadline. The orchestrator wraps
// internal/upstream errors in this before handing them to Classify, since a
// bare network error otherwise carries no statusCode for the switch above
// to key on.
type UpstreamConnError struct {
	Err error
}

func (e *UpstreamConnError) Error() string { return "upstream connection error: " + e.Err.Error() }
func (e *UpstreamConnError) Unwrap() error  { return e.Err }
