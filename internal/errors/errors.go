// Package errors provides standardized error handling for the warranty service.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the warranty service.
type ErrorCode string

const (
	// Validation errors
	WTY_VALIDATION         ErrorCode = "WTY_VALIDATION"         // General validation error
	WTY_BAD_REQUEST        ErrorCode = "WTY_BAD_REQUEST"        // Bad request
	WTY_METHOD_NOT_ALLOWED ErrorCode = "WTY_METHOD_NOT_ALLOWED" // HTTP method not supported on this route

	// Authentication/Authorization errors
	WTY_AUTHN ErrorCode = "WTY_AUTHN" // Authentication failed
	WTY_AUTHZ ErrorCode = "WTY_AUTHZ" // Authorization failed

	// Resource errors
	WTY_NOT_FOUND ErrorCode = "WTY_NOT_FOUND" // Resource missing or not owned by caller
	WTY_CONFLICT  ErrorCode = "WTY_CONFLICT"  // Resource conflict (duplicate, terminal state)

	// Collaborator errors
	WTY_UPSTREAM_UNAVAILABLE ErrorCode = "WTY_UPSTREAM_UNAVAILABLE" // AI provider unreachable or unconfigured
	WTY_GENERATION_FAILED    ErrorCode = "WTY_GENERATION_FAILED"    // AI output could not be parsed
	WTY_DELIVERY             ErrorCode = "WTY_DELIVERY"             // Email/push transport failed

	// Server errors
	WTY_INTERNAL    ErrorCode = "WTY_INTERNAL"    // Internal server error
	WTY_UNAVAILABLE ErrorCode = "WTY_UNAVAILABLE" // Service unavailable
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case WTY_VALIDATION, WTY_BAD_REQUEST:
		return http.StatusBadRequest
	case WTY_METHOD_NOT_ALLOWED:
		return http.StatusMethodNotAllowed
	case WTY_AUTHN:
		return http.StatusUnauthorized
	case WTY_AUTHZ:
		return http.StatusForbidden
	case WTY_NOT_FOUND:
		return http.StatusNotFound
	case WTY_CONFLICT:
		return http.StatusConflict
	case WTY_UPSTREAM_UNAVAILABLE, WTY_GENERATION_FAILED, WTY_DELIVERY:
		return http.StatusBadGateway
	case WTY_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
