package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrTimeout          = errors.New("timeout")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConnectionFailed = errors.New("connection failed")
	ErrLimitExceeded    = errors.New("limit exceeded")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrInternalError    = errors.New("internal error")
)

// ErrorType represents the category of error
type ErrorType string

const (
	// Absence: nothing matched. Callers branch on it; it is not a failure.
	ErrorTypeNotFound ErrorType = "not_found"
	// Invalid input: the request named something we do not support.
	ErrorTypeValidation ErrorType = "validation"
	// External dependency failure: graph DB, license store, algorithm.
	ErrorTypeDependency ErrorType = "dependency"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeForbidden  ErrorType = "forbidden"
	ErrorTypeLimit      ErrorType = "limit"
	ErrorTypeQuota      ErrorType = "quota"
	// The algorithm ran but produced no usable answer (e.g. no convergence).
	ErrorTypeAlgorithm ErrorType = "not_converged"
	ErrorTypeInternal  ErrorType = "internal"
)

// OpError is a structured error for a tenant-scoped operation.
type OpError struct {
	Type      ErrorType
	Op        string // Operation that failed (e.g., "fetch_edges", "validate_license")
	Tenant    string // Tenant the operation ran for
	Err       error  // Underlying error
	Timestamp time.Time
	Retryable bool
}

func (e *OpError) Error() string {
	if e.Tenant != "" {
		return fmt.Sprintf("%s failed for tenant %s: %v", e.Op, e.Tenant, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *OpError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrNotFound:
		return e.Type == ErrorTypeNotFound
	case ErrUnauthorized:
		return e.Type == ErrorTypeAuth
	case ErrForbidden:
		return e.Type == ErrorTypeForbidden
	case ErrTimeout:
		return e.Type == ErrorTypeTimeout
	case ErrConnectionFailed:
		return e.Type == ErrorTypeDependency
	case ErrInvalidInput:
		return e.Type == ErrorTypeValidation
	case ErrLimitExceeded:
		return e.Type == ErrorTypeLimit
	case ErrQuotaExceeded:
		return e.Type == ErrorTypeQuota
	}

	return false
}

// New creates a new OpError
func New(errorType ErrorType, op, tenant string, err error) *OpError {
	if errorType == ErrorTypeDependency && isDeadline(err) {
		errorType = ErrorTypeTimeout
	}
	return &OpError{
		Type:      errorType,
		Op:        op,
		Tenant:    tenant,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType),
	}
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeDependency, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// Helper functions

// NotFound wraps an absence result with context
func NotFound(op, tenant string, err error) error {
	return New(ErrorTypeNotFound, op, tenant, err)
}

// InvalidInput wraps a rejected request value
func InvalidInput(op, tenant string, err error) error {
	return New(ErrorTypeValidation, op, tenant, err)
}

// Dependency wraps a failure of an external collaborator. Deadline errors
// are reported as timeouts.
func Dependency(op, tenant string, err error) error {
	return New(ErrorTypeDependency, op, tenant, err)
}

// Forbidden wraps a missing feature entitlement
func Forbidden(op, tenant string, err error) error {
	return New(ErrorTypeForbidden, op, tenant, err)
}

// Limit wraps an exceeded tier limit
func Limit(op, tenant string, err error) error {
	return New(ErrorTypeLimit, op, tenant, err)
}

// Unauthorized wraps a rejected API key
func Unauthorized(op string, err error) error {
	return New(ErrorTypeAuth, op, "", err)
}

// Quota wraps an exhausted monthly call allowance
func Quota(op, tenant string, err error) error {
	return New(ErrorTypeQuota, op, tenant, err)
}

// Algorithm wraps a graph algorithm that gave up
func Algorithm(op, tenant string, err error) error {
	return New(ErrorTypeAlgorithm, op, tenant, err)
}

// TypeOf returns the ErrorType carried by err, classifying context errors
// and bare sentinels when no OpError is present.
func TypeOf(err error) ErrorType {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Type
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return ErrorTypeTimeout
	case errors.Is(err, ErrNotFound):
		return ErrorTypeNotFound
	case errors.Is(err, ErrInvalidInput):
		return ErrorTypeValidation
	case errors.Is(err, ErrConnectionFailed):
		return ErrorTypeDependency
	case errors.Is(err, ErrUnauthorized):
		return ErrorTypeAuth
	case errors.Is(err, ErrForbidden):
		return ErrorTypeForbidden
	default:
		return ErrorTypeInternal
	}
}

// HTTPStatus maps an error to a response status code.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeLimit:
		return http.StatusPaymentRequired
	case ErrorTypeQuota:
		return http.StatusTooManyRequests
	case ErrorTypeDependency:
		return http.StatusBadGateway
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeAlgorithm:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Retryable
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnectionFailed)
}
