// Package apperr defines the gateway's internal error taxonomy and its
// mapping to external HTTP status codes and stable error codes.
package apperr

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind tags an internal failure with the taxonomy it belongs to.
type Kind string

const (
	SessionInvalid           Kind = "SESSION_INVALID"
	SessionServiceUnavailable Kind = "SESSION_SERVICE_UNAVAILABLE"
	InsufficientPermissions  Kind = "INSUFFICIENT_PERMISSIONS"
	DownstreamUnavailable    Kind = "DOWNSTREAM_UNAVAILABLE"
	CircuitOpenUnknown       Kind = "CIRCUIT_OPEN_UNKNOWN"
	GatewayError             Kind = "GATEWAY_ERROR"
	Internal                 Kind = "INTERNAL"
)

// taxonomy maps each kind to its external status and stable code, per the
// error-taxonomy table. GatewayError has no fixed status: it carries the
// upstream status verbatim via Error.Status.
var taxonomy = map[Kind]struct {
	status int
	code   string
}{
	SessionInvalid:            {http.StatusUnauthorized, "INVALID_SESSION"},
	SessionServiceUnavailable: {http.StatusUnauthorized, "SESSION_SERVICE_UNAVAILABLE"},
	InsufficientPermissions:   {http.StatusForbidden, "INSUFFICIENT_PERMISSIONS"},
	DownstreamUnavailable:     {http.StatusServiceUnavailable, "SERVICE_TEMPORARILY_UNAVAILABLE"},
	CircuitOpenUnknown:        {http.StatusServiceUnavailable, "CIRCUIT_BREAKER_OPEN"},
	GatewayError:              {0, "GATEWAY_ERROR"},
	Internal:                  {http.StatusInternalServerError, "INTERNAL_ERROR"},
}

// Error is the gateway's typed internal error. Components return this (or
// wrap it) instead of bare errors whenever the Error Mapper needs to
// classify the failure.
type Error struct {
	Kind Kind
	// Status overrides the taxonomy's default status. Used by GatewayError
	// to carry the upstream status code verbatim.
	Status int
	// Policy is set only for breaker-open failures; it carries the
	// originating breaker's name so SessionServiceUnavailable / Downstream
	// Unavailable / CircuitOpenUnknown can be disambiguated.
	Policy string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the external status code for e.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return taxonomy[e.Kind].status
}

// Code returns the stable taxonomy code for e.
func (e *Error) Code() string {
	return taxonomy[e.Kind].code
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Gateway constructs a GatewayError carrying the verbatim upstream status.
func Gateway(status int, msg string) *Error {
	return &Error{Kind: GatewayError, Status: status, Msg: msg}
}

// BreakerOpen constructs the failure kind for a rejection made by an OPEN
// (or probe-exhausted HALF_OPEN) breaker, classified by the breaker's
// policy name: "redis" maps to SessionServiceUnavailable, "downstream" to
// DownstreamUnavailable, anything else to CircuitOpenUnknown.
func BreakerOpen(policy string) *Error {
	kind := CircuitOpenUnknown
	switch policy {
	case "redis":
		kind = SessionServiceUnavailable
	case "downstream":
		kind = DownstreamUnavailable
	}
	return &Error{Kind: kind, Policy: policy, Msg: fmt.Sprintf("breaker %q is open", policy)}
}

// As extracts an *Error from err, if any is present in its chain. Thin
// wrapper around errors.As so callers in this package's consumers don't
// need to import both errors and apperr for the common case.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}
