package alerts

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound covers both missing alerts and alerts owned by another merchant
var ErrNotFound = errors.New("handoff alert not found")

// Validation codes returned to API callers
const (
	CodeInvalidPage    = "invalid_page"
	CodeInvalidLimit   = "invalid_limit"
	CodeInvalidUrgency = "invalid_urgency"
	CodeInvalidView    = "invalid_view"
	CodeInvalidSortBy  = "invalid_sort_by"
	CodeInvalidID      = "invalid_alert_id"
)

// ValidationError rejects a query parameter before storage is touched
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(code, field, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// MapHTTPStatus maps alert errors to status codes
func MapHTTPStatus(err error) int {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
