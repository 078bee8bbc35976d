package format

import (
	"fmt"
	"net/http"
)

// Client-facing error kinds (Anthropic-style type strings).
const (
	ErrInvalidRequest     = "invalid_request_error"
	ErrAuthentication     = "authentication_error"
	ErrPermission         = "permission_error"
	ErrNotFound           = "not_found_error"
	ErrRateLimit          = "rate_limit_error"
	ErrTimeout            = "timeout_error"
	ErrServiceUnavailable = "service_unavailable_error"
	ErrInternal           = "internal_server_error"
)

// ErrorResponse is the JSON envelope returned for locally generated errors.
// Upstream provider error bodies are never rewritten into this shape.
type ErrorResponse struct {
	Error ErrorDetailPayload `json:"error"`
}

// ErrorDetailPayload is the inner error object.
type ErrorDetailPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResponse builds an envelope for the given kind.
func NewErrorResponse(kind, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetailPayload{Type: kind, Message: message}}
}

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind string) int {
	switch kind {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrPermission:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrTimeout:
		return http.StatusRequestTimeout
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError reports a wire-format violation with a location path such
// as "messages[2].content". The dispatcher turns these into 400 responses.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validationf builds a ValidationError at the given path.
func Validationf(path, format string, args ...any) *ValidationError {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}
