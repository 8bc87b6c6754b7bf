package api

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNetwork wraps transport-level failures (dial, TLS, timeout). The SDK has
// no timeout layer of its own; the HTTP client's timeout surfaces here.
var ErrNetwork = errors.New("api: network error")

// ErrNoAuthToken means a call that needs a bearer credential was given none.
// Unprompted flows sign their own assertion instead of a bearer token, but
// that path covers enrollment-scoped calls only.
var ErrNoAuthToken = errors.New("api: no auth token provided")

// Known server error code values. The server is free to introduce new codes;
// unrecognized values are carried verbatim by ServerErrorCode.
const (
	codeEnrollmentDeleted   = "authenticator.enrollment.deleted"
	codeEnrollmentSuspended = "authenticator.enrollment.suspended"
	codeDeviceDeleted       = "authenticator.device.deleted"
	codeDeviceSuspended     = "authenticator.device.suspended"
	codeUserDeleted         = "authenticator.user.deleted"
	codeUserSuspended       = "authenticator.user.suspended"
	codeResourceNotFound    = "resource.not_found"
)

// ServerErrorCode is the server's domain error code. Unrecognized raw values
// are preserved rather than collapsed, so newer server codes pass through
// old SDK builds intact.
type ServerErrorCode struct {
	raw string
}

// ParseServerErrorCode wraps a raw wire code. Every value is representable.
func ParseServerErrorCode(raw string) ServerErrorCode {
	return ServerErrorCode{raw: raw}
}

// Convenience values for the recognized codes.
var (
	CodeEnrollmentDeleted   = ServerErrorCode{codeEnrollmentDeleted}
	CodeEnrollmentSuspended = ServerErrorCode{codeEnrollmentSuspended}
	CodeDeviceDeleted       = ServerErrorCode{codeDeviceDeleted}
	CodeDeviceSuspended     = ServerErrorCode{codeDeviceSuspended}
	CodeUserDeleted         = ServerErrorCode{codeUserDeleted}
	CodeUserSuspended       = ServerErrorCode{codeUserSuspended}
	CodeResourceNotFound    = ServerErrorCode{codeResourceNotFound}
)

// Raw returns the wire value.
func (c ServerErrorCode) Raw() string { return c.raw }

// IsZero reports whether no code was set.
func (c ServerErrorCode) IsZero() bool { return c.raw == "" }

// IsResourceDeleted reports whether the code means the server-side resource
// is already gone. A delete transaction treats this as success for the
// local-cleanup path: the device's goal is satisfied either way.
func (c ServerErrorCode) IsResourceDeleted() bool {
	switch c.raw {
	case codeEnrollmentDeleted, codeDeviceDeleted, codeUserDeleted:
		return true
	}
	return false
}

// IsResourceSuspended reports whether the code means the server-side resource
// is suspended.
func (c ServerErrorCode) IsResourceSuspended() bool {
	switch c.raw {
	case codeEnrollmentSuspended, codeDeviceSuspended, codeUserSuspended:
		return true
	}
	return false
}

func (c ServerErrorCode) String() string { return c.raw }

// ErrorCause is one entry of the server error body's errorCauses list.
type ErrorCause struct {
	ErrorSummary string `json:"errorSummary"`
}

// errorBody is the JSON error shape returned by the authorization server.
type errorBody struct {
	ErrorCode    string       `json:"errorCode"`
	ErrorSummary string       `json:"errorSummary"`
	ErrorLink    string       `json:"errorLink"`
	ErrorID      string       `json:"errorId"`
	Status       string       `json:"status"`
	ErrorCauses  []ErrorCause `json:"errorCauses"`
}

// ServerError is a non-2xx response from the authorization server, carrying
// the HTTP status and the parsed domain error body when one was present.
type ServerError struct {
	HTTPStatus int
	Code       ServerErrorCode
	Summary    string
	Link       string
	ErrorID    string
	Causes     []ErrorCause
}

func (e *ServerError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "api: server error status=%d", e.HTTPStatus)
	if !e.Code.IsZero() {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.Summary != "" {
		fmt.Fprintf(&b, ": %s", e.Summary)
	}
	return b.String()
}
