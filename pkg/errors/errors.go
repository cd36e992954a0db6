// Package errors defines the error taxonomy shared by every role, mapping
// protocol-level failure kinds onto HTTP status codes at the gateway edge.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Standard error codes.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeInternal        = "INTERNAL"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"

	// Paxos protocol error kinds (spec.md §7).
	CodeNotLeader           = "NOT_LEADER"
	CodeNoQuorum            = "NO_QUORUM"
	CodeStaleEpoch          = "STALE_EPOCH"
	CodeDurabilityFailure   = "DURABILITY_FAILURE"
	CodeReadUnavailable     = "READ_UNAVAILABLE"
	CodeBackpressure        = "BACKPRESSURE_REJECTED"
	CodeTransientNetwork    = "TRANSIENT_NETWORK"
	CodeProposalSuperseded  = "PROPOSAL_SUPERSEDED"
)

// AppError is a custom error type carrying a stable code, a human message
// and the underlying cause.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NotFound(msg string, err error) *AppError {
	if msg == "" {
		msg = "resource not found"
	}
	return New(CodeNotFound, msg, err)
}

func InvalidArgument(msg string, err error) *AppError {
	if msg == "" {
		msg = "invalid argument"
	}
	return New(CodeInvalidArgument, msg, err)
}

func Internal(msg string, err error) *AppError {
	if msg == "" {
		msg = "internal server error"
	}
	return New(CodeInternal, msg, err)
}

func Conflict(msg string, err error) *AppError {
	if msg == "" {
		msg = "conflict"
	}
	return New(CodeConflict, msg, err)
}

// NotLeader is returned by a Proposer that received a write while not LEADER.
func NotLeader(currentLeader string) *AppError {
	return New(CodeNotLeader, "not leader, current leader: "+currentLeader, nil)
}

// NoQuorum is returned when Phase 1/2 could not assemble Q responses in time.
func NoQuorum(msg string, err error) *AppError {
	if msg == "" {
		msg = "could not assemble quorum"
	}
	return New(CodeNoQuorum, msg, err)
}

// StaleEpoch is returned internally when a Proposer acts on a superseded epoch.
func StaleEpoch(msg string) *AppError {
	if msg == "" {
		msg = "acting on a stale epoch"
	}
	return New(CodeStaleEpoch, msg, nil)
}

// DurabilityFailure marks an Acceptor's inability to persist state; it must
// never be followed by an affirmative protocol reply.
func DurabilityFailure(err error) *AppError {
	return New(CodeDurabilityFailure, "could not persist acceptor state", err)
}

// ReadUnavailable is returned when a strong read could not confirm
// leadership within its deadline.
func ReadUnavailable(err error) *AppError {
	return New(CodeReadUnavailable, "could not confirm leadership for strong read", err)
}

// Backpressure is returned when the leader's inflight slot window is full.
func Backpressure() *AppError {
	return New(CodeBackpressure, "leader inflight window full", nil)
}

// HTTPStatus maps an AppError's code to the HTTP status the gateway returns.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case CodeNotFound:
			return http.StatusNotFound
		case CodeInvalidArgument:
			return http.StatusBadRequest
		case CodeUnauthorized:
			return http.StatusUnauthorized
		case CodeForbidden:
			return http.StatusForbidden
		case CodeConflict:
			return http.StatusConflict
		case CodeInternal, CodeDurabilityFailure:
			return http.StatusInternalServerError
		case CodeNotLeader:
			return http.StatusConflict // 409, gateway carries the leader hint in the body
		case CodeNoQuorum, CodeBackpressure:
			return http.StatusServiceUnavailable // 503
		case CodeReadUnavailable:
			return http.StatusGatewayTimeout // 504
		case CodeStaleEpoch, CodeTransientNetwork, CodeProposalSuperseded:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

// Body is the wire shape every role's writeErr serializes a failed request
// to, and the shape DecodeHTTPError parses back on the calling side.
type Body struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// DecodeHTTPError reconstructs an AppError from a peer's JSON error body,
// preserving the original Code (e.g. CodeNotLeader, CodeStaleEpoch) instead
// of collapsing every non-2xx response into a generic transport error. Falls
// back to a status-derived code if the body isn't the expected shape.
func DecodeHTTPError(statusCode int, body io.Reader) error {
	var b Body
	if err := json.NewDecoder(body).Decode(&b); err == nil && b.Code != "" {
		return New(b.Code, b.Error, nil)
	}
	if statusCode >= 500 {
		return New(CodeTransientNetwork, fmt.Sprintf("rpc returned %d", statusCode), nil)
	}
	return New(CodeInternal, fmt.Sprintf("rpc returned %d", statusCode), nil)
}

// Wrap wraps an error with an additional message.
func Wrap(err error, msg string) error {
	return fmt.Errorf("%s: %w", msg, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
