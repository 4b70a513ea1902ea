package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrInvalidOrder        ErrorType = "INVALID_ORDER"
	ErrNoEligibleVenue     ErrorType = "NO_ELIGIBLE_VENUE"
	ErrInsufficientBalance ErrorType = "INSUFFICIENT_BALANCE"
	ErrOverDeallocation    ErrorType = "OVER_DEALLOCATION"
	ErrNetwork             ErrorType = "NETWORK_ERROR"
	ErrVenueRejected       ErrorType = "VENUE_REJECTED"
	ErrLockUnavailable     ErrorType = "LOCK_UNAVAILABLE"
	ErrUnreconciledBalance ErrorType = "UNRECONCILED_BALANCE"
	ErrNotFound            ErrorType = "NOT_FOUND"
	ErrInternal            ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func Newf(errType ErrorType, format string, args ...any) *AppError {
	return New(errType, fmt.Sprintf(format, args...), nil)
}

func NewInvalidOrder(msg string) *AppError {
	return New(ErrInvalidOrder, msg, nil)
}

func NewInsufficientBalance(msg string) *AppError {
	return New(ErrInsufficientBalance, msg, nil)
}

func NewNoEligibleVenue(msg string) *AppError {
	return New(ErrNoEligibleVenue, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// Is reports whether err carries the given application error type.
func Is(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// Fatal reports whether err is an integrity error that must be alerted and
// never silently corrected.
func Fatal(err error) bool {
	return Is(err, ErrOverDeallocation)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidOrder, ErrInsufficientBalance:
		return http.StatusBadRequest
	case ErrNoEligibleVenue:
		return http.StatusServiceUnavailable
	case ErrLockUnavailable:
		return http.StatusConflict
	case ErrUnreconciledBalance:
		return http.StatusConflict
	case ErrNotFound:
		return http.StatusNotFound
	case ErrNetwork, ErrVenueRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrNoEligibleVenue:
		return "Retry once venue health recovers."
	case ErrInsufficientBalance:
		return "Reduce order size or top up the platform balance."
	case ErrLockUnavailable:
		return "Another instance holds the reconciliation lock; no action needed."
	case ErrUnreconciledBalance:
		return "Resolve the outstanding reconciliation discrepancy first."
	case ErrNetwork:
		return "Retry the request."
	default:
		return ""
	}
}
