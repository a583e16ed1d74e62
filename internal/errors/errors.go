// Package errors provides the standardized error vocabulary described in
// spec.md §7: a small set of client-visible error kinds, each mapped to a
// fixed HTTP status code, with an optional internal Details string that is
// never shown to end users.
package errors

import (
	"fmt"
	"net/http"
)

// Error codes. These are the exact kinds enumerated in spec.md §7, plus
// domain-specific kinds for Orchestrator Adapter and Run Coordinator
// failures (§4.3, §4.9). The Orchestrator Adapter itself reports port and
// name collisions as *orchestrator.PortInUseError / *orchestrator.NameInUseError.
const (
	CodeMissingCredential = "MISSING_CREDENTIAL"
	CodeInvalid           = "INVALID"
	CodeExpired           = "EXPIRED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeNoExternalPort    = "NO_EXTERNAL_PORT"
	CodeQuotaExceeded     = "QUOTA_EXCEEDED"
	CodeInternal          = "INTERNAL"
	CodeExhausted         = "EXHAUSTED"
	CodeServiceUnavail    = "SERVICE_UNAVAILABLE"

	// Domain-internal kinds; statusFor gives each the HTTP status of one of
	// the kinds above.
	CodeNoSession = "NO_SESSION"
	CodeNoEntry   = "NO_ENTRY"
	CodePortInUse = "PORT_IN_USE"
	CodeNameInUse = "NAME_IN_USE"
)

// AppError is a machine-readable error with a fixed HTTP mapping.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the JSON body written for any AppError.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ToResponse converts the error to its wire representation.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Code, Message: e.Message, Code: e.Code, Details: e.Details}
}

func statusFor(code string) int {
	switch code {
	case CodeMissingCredential, CodeInvalid, CodeExpired:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeNoSession, CodeNoEntry:
		return http.StatusNotFound
	case CodeConflict, CodeNoExternalPort:
		return http.StatusConflict
	case CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeExhausted, CodeServiceUnavail:
		return http.StatusServiceUnavailable
	case CodePortInUse, CodeNameInUse, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New creates an AppError for the given code.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusFor(code)}
}

// NewWithStatus creates an AppError carrying an explicit HTTP status
// instead of one derived from statusFor's fixed table. Used where a
// collaborator's own status code must surface verbatim (spec.md §4.2's
// metadata store 4xx passthrough).
func NewWithStatus(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: status}
}

// Wrap attaches an underlying error's text as Details.
func Wrap(code, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &AppError{Code: code, Message: message, Details: details, StatusCode: statusFor(code)}
}

func MissingCredential(msg string) *AppError { return New(CodeMissingCredential, msg) }
func Invalid(msg string) *AppError           { return New(CodeInvalid, msg) }
func Expired(msg string) *AppError           { return New(CodeExpired, msg) }
func Forbidden(msg string) *AppError         { return New(CodeForbidden, msg) }
func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}
func Conflict(msg string) *AppError        { return New(CodeConflict, msg) }
func NoExternalPort() *AppError            { return New(CodeNoExternalPort, "no external port bound") }
func QuotaExceeded(msg string) *AppError    { return New(CodeQuotaExceeded, msg) }
func Internal(msg string) *AppError         { return New(CodeInternal, msg) }
func Exhausted(msg string) *AppError        { return New(CodeExhausted, msg) }
func ServiceUnavailable(svc string) *AppError {
	return New(CodeServiceUnavail, fmt.Sprintf("%s is currently unavailable", svc))
}
func NoSession(sessionID string) *AppError {
	return New(CodeNoSession, fmt.Sprintf("session %s not found", sessionID))
}
func NoEntry(entryID string) *AppError {
	return New(CodeNoEntry, fmt.Sprintf("entry node %s not found", entryID))
}
func PortInUse(port int) *AppError {
	return New(CodePortInUse, fmt.Sprintf("port %d in use", port))
}
func NameInUse(name string) *AppError {
	return New(CodeNameInUse, fmt.Sprintf("name %s in use", name))
}

// As reports whether err is an *AppError and returns it.
func As(err error) (*AppError, bool) {
	ae, ok := err.(*AppError)
	return ae, ok
}
