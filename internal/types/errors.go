package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies application errors so the request layer can map them
// to transport status codes without string matching.
type ErrorCode string

const (
	ErrCodeValidation           ErrorCode = "VALIDATION_ERROR"
	ErrCodeBudgetExceeded       ErrorCode = "BUDGET_EXCEEDED"
	ErrCodeDirectoryUnavailable ErrorCode = "DIRECTORY_UNAVAILABLE"
	ErrCodeResolutionAmbiguous  ErrorCode = "RESOLUTION_AMBIGUOUS"
	ErrCodeResolutionFailed     ErrorCode = "RESOLUTION_FAILED"
	ErrCodeCrawlPartial         ErrorCode = "CRAWL_PARTIAL"
	ErrCodeCacheBackendDown     ErrorCode = "CACHE_BACKEND_DOWN"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
)

// Sentinels for errors.Is checks. Any *AppError with the same code matches.
var (
	ErrValidation           = &AppError{Code: ErrCodeValidation}
	ErrBudgetExceeded       = &AppError{Code: ErrCodeBudgetExceeded}
	ErrDirectoryUnavailable = &AppError{Code: ErrCodeDirectoryUnavailable}
	ErrCacheBackendDown     = &AppError{Code: ErrCodeCacheBackendDown}
	ErrNotFound             = &AppError{Code: ErrCodeNotFound}
)

// AppError is a coded error carrying an optional cause and metadata.
type AppError struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Err       error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func NewValidationError(message string, err error) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Err: err}
}

func NewBudgetExceeded(expected, limit int) *AppError {
	return &AppError{
		Code: ErrCodeBudgetExceeded,
		Message: fmt.Sprintf("expected directory API calls (%d) exceed the per-request limit (%d)",
			expected, limit),
		Metadata: map[string]any{"expected_calls": expected, "limit": limit},
	}
}

func NewDirectoryUnavailable(message string, err error) *AppError {
	return &AppError{Code: ErrCodeDirectoryUnavailable, Message: message, Retryable: true, Err: err}
}

func NewCacheBackendDown(err error) *AppError {
	return &AppError{Code: ErrCodeCacheBackendDown, Message: "shared cache backend unavailable", Retryable: true, Err: err}
}

func NewNotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// CodeOf returns the code of the first AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
