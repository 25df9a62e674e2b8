// Package gwerrors defines the typed error kinds that flow out of the
// request-processing core and the HTTP status each maps to.
package gwerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gateway error for logging and response mapping.
type Kind string

const (
	ConfigInvalid    Kind = "config_invalid"
	NoRouteMatched   Kind = "no_route_matched"
	MethodNotAllowed Kind = "method_not_allowed"
	PluginRejected   Kind = "plugin_rejected"
	NoUpstream       Kind = "no_upstream"
	UpstreamConnect  Kind = "upstream_connect"
	UpstreamTimeout  Kind = "upstream_timeout"
	UpstreamProtocol Kind = "upstream_protocol"
	Internal         Kind = "internal"
)

// defaultStatus maps a Kind to its HTTP status when no override is given.
var defaultStatus = map[Kind]int{
	ConfigInvalid:    http.StatusBadRequest,
	NoRouteMatched:   http.StatusNotFound,
	MethodNotAllowed: http.StatusMethodNotAllowed,
	PluginRejected:   http.StatusForbidden,
	NoUpstream:       http.StatusServiceUnavailable,
	UpstreamConnect:  http.StatusBadGateway,
	UpstreamTimeout:  http.StatusGatewayTimeout,
	UpstreamProtocol: http.StatusBadGateway,
	Internal:         http.StatusInternalServerError,
}

// Error is a typed gateway error carrying an HTTP status and optional body.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with its default HTTP status.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Status: defaultStatus[kind], Message: message}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Status: defaultStatus[kind], Message: message, Cause: cause}
}

// Rejected builds a PluginRejected error with a caller-chosen status (a
// plugin's own configured rejection code, e.g. rate-limit's rejected_code).
func Rejected(status int, message string) *Error {
	return &Error{Kind: PluginRejected, Status: status, Message: message}
}

// As extracts a *Error from err, following the standard errors.As contract.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusOf returns the HTTP status to serve for err: the wrapped *Error's
// status if present, else 500.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}

// KindOf returns the Kind of err, or Internal if err is not a *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}
