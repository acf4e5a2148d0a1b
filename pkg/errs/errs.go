package errs

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Code is a stable, closed identifier attached to a failure where it is detected.
type Code string

const (
	CodeRequestExists     Code = "connection/request-exists"
	CodeSelfRequest       Code = "connection/self-request"
	CodeNotFound          Code = "connection/not-found"
	CodeUnauthorized      Code = "connection/unauthorized"
	CodeInvalidTransition Code = "connection/invalid-transition"
	CodeNotConnected      Code = "connection/not-connected"

	CodeOffline     Code = "network/offline"
	CodeTimeout     Code = "network/timeout"
	CodeServerError Code = "network/server-error"

	CodeInvalidInput  Code = "validation/invalid-input"
	CodeRequiredField Code = "validation/required-field"

	CodeInvalidCredential Code = "auth/invalid-credential"
	CodeEmailInUse        Code = "auth/email-already-in-use"
	CodeUnauthenticated   Code = "auth/unauthenticated"

	CodePermissionDenied Code = "generic/permission-denied"
	CodeUnknown          Code = "generic/unknown"
)

// CodeError carries a Code, an optional detail for logs, and the underlying cause.
type CodeError struct {
	Code   Code   `json:"code"`
	Detail string `json:"detail,omitempty"`
	cause  error
}

func New(code Code, detail string) *CodeError {
	return &CodeError{Code: code, Detail: detail}
}

// Wrap tags err with code. A nil err yields nil.
func Wrap(code Code, err error, detail string) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Detail: detail, cause: err}
}

func (e *CodeError) Error() string {
	parts := make([]string, 0, 3)
	parts = append(parts, string(e.Code))
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	if e.cause != nil {
		parts = append(parts, e.cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *CodeError) Unwrap() error { return e.cause }

// Is matches any *CodeError with the same code, so errors.Is(err, errs.New(code, "")) works.
func (e *CodeError) Is(target error) bool {
	var t *CodeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code attached to err. Context cancellation and deadlines
// are reported as timeouts; anything untagged is CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeUnknown
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

var retryable = map[Code]bool{
	CodeOffline:     true,
	CodeTimeout:     true,
	CodeServerError: true,
	CodeUnknown:     true,
}

// IsRetryable reports whether the failure may succeed if the same operation is repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return retryable[CodeOf(err)]
}

// HTTPStatus maps a code to the status returned by the API.
func HTTPStatus(code Code) int {
	switch code {
	case CodeRequestExists:
		return http.StatusConflict
	case CodeEmailInUse:
		return http.StatusConflict
	case CodeSelfRequest, CodeInvalidInput, CodeRequiredField:
		return http.StatusBadRequest
	case CodeInvalidTransition, CodeNotConnected:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized, CodePermissionDenied:
		return http.StatusForbidden
	case CodeInvalidCredential, CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeOffline, CodeServerError:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
