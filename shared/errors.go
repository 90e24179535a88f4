package shared

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	ErrorCategoryConfiguration ErrorCategory = "configuration"
	ErrorCategoryNetwork       ErrorCategory = "network"
	ErrorCategoryDatabase      ErrorCategory = "database"
	ErrorCategoryValidation    ErrorCategory = "validation"
	ErrorCategoryProcessing    ErrorCategory = "processing"
	ErrorCategoryResource      ErrorCategory = "resource"
	ErrorCategoryTimeout       ErrorCategory = "timeout"
	ErrorCategoryNotFound      ErrorCategory = "not_found"
	ErrorCategoryConflict      ErrorCategory = "conflict"
	ErrorCategoryDelivery      ErrorCategory = "delivery"
	ErrorCategoryIntegrity     ErrorCategory = "data_integrity"
)

// Error codes shared by the matching, recommendation and dispatch services
const (
	CodeNotFound              = "NOT_FOUND"
	CodeInvalidProfile        = "INVALID_PROFILE"
	CodeInvalidGrant          = "INVALID_GRANT"
	CodeDuplicateNotification = "DUPLICATE_NOTIFICATION"
	CodeDeliveryFailed        = "DELIVERY_FAILED"
	CodeServiceUnavailable    = "SERVICE_UNAVAILABLE"
	CodeInvalidRequest        = "INVALID_REQUEST"
)

// ErrDuplicateNotification is returned by notification stores when the
// (profile, grant, channel) triple already has a row
var ErrDuplicateNotification = errors.New("notification already exists for profile, grant and channel")

// ServiceError represents a standardized error with additional context
type ServiceError struct {
	Category    ErrorCategory `json:"category"`
	Code        string        `json:"code"`
	Message     string        `json:"message"`
	Details     interface{}   `json:"details,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	ServiceName string        `json:"service_name"`
	Operation   string        `json:"operation"`
	Retryable   bool          `json:"retryable"`
	Cause       error         `json:"-"` // Original error, not serialized
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewServiceError creates a new service error
func NewServiceError(category ErrorCategory, code, message, serviceName, operation string, retryable bool, cause error) *ServiceError {
	return &ServiceError{
		Category:    category,
		Code:        code,
		Message:     message,
		Timestamp:   time.Now(),
		ServiceName: serviceName,
		Operation:   operation,
		Retryable:   retryable,
		Cause:       cause,
	}
}

// NewNotFoundError reports an unknown profile, grant or notification id
func NewNotFoundError(entity, id, serviceName, operation string) *ServiceError {
	return NewServiceError(
		ErrorCategoryNotFound,
		CodeNotFound,
		fmt.Sprintf("%s %s not found", entity, id),
		serviceName,
		operation,
		false,
		nil,
	).WithDetails(map[string]string{"entity": entity, "id": id})
}

// NewInvalidProfileError reports a profile rejected at the write boundary
func NewInvalidProfileError(reason, serviceName, operation string) *ServiceError {
	return NewServiceError(ErrorCategoryValidation, CodeInvalidProfile, reason, serviceName, operation, false, nil)
}

// NewInvalidRequestError reports search filters or paging values that
// cannot be served
func NewInvalidRequestError(reason, serviceName, operation string) *ServiceError {
	return NewServiceError(ErrorCategoryValidation, CodeInvalidRequest, reason, serviceName, operation, false, nil)
}

// NewInvalidGrantError reports a malformed grant reaching the engine.
// The grant id is kept in Details for triage.
func NewInvalidGrantError(grantID, reason, serviceName, operation string) *ServiceError {
	return NewServiceError(
		ErrorCategoryIntegrity,
		CodeInvalidGrant,
		fmt.Sprintf("grant %s: %s", grantID, reason),
		serviceName,
		operation,
		false,
		nil,
	).WithDetails(map[string]string{"grant_id": grantID})
}

// NewDeliveryFailure wraps an error reported by an email or telegram sender
func NewDeliveryFailure(channel, recipient string, cause error) *ServiceError {
	msg := "delivery failed"
	if cause != nil {
		msg = cause.Error()
	}
	return NewServiceError(
		ErrorCategoryDelivery,
		CodeDeliveryFailed,
		msg,
		"delivery",
		"send_"+channel,
		IsRetryableError(cause),
		cause,
	).WithDetails(map[string]string{"channel": channel, "recipient": recipient})
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(details interface{}) *ServiceError {
	e.Details = details
	return e
}

// IsRetryable returns whether the error is retryable
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// GetCategory returns the error category
func (e *ServiceError) GetCategory() ErrorCategory {
	return e.Category
}

// LogError logs the error with structured fields
func (e *ServiceError) LogError() {
	logrus.WithFields(logrus.Fields{
		"error_category":   e.Category,
		"error_code":       e.Code,
		"error_message":    e.Message,
		"service_name":     e.ServiceName,
		"operation":        e.Operation,
		"retryable":        e.Retryable,
		"timestamp":        e.Timestamp,
		"details":          e.Details,
		"underlying_error": e.Cause,
	}).Error("Service error occurred")
}

// HasCode reports whether err, or anything it wraps, is a ServiceError with the given code
func HasCode(err error, code string) bool {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool {
	return HasCode(err, CodeNotFound)
}

func IsInvalidProfile(err error) bool {
	return HasCode(err, CodeInvalidProfile)
}

func IsDuplicateNotification(err error) bool {
	return errors.Is(err, ErrDuplicateNotification) || HasCode(err, CodeDuplicateNotification)
}

// WrapError wraps an existing error with service error context
func WrapError(err error, category ErrorCategory, code, serviceName, operation string, retryable bool) *ServiceError {
	if err == nil {
		return nil
	}

	// If it's already a ServiceError, just update the context
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		serviceErr.ServiceName = serviceName
		serviceErr.Operation = operation
		return serviceErr
	}

	return NewServiceError(category, code, err.Error(), serviceName, operation, retryable, err)
}

// IsRetryableError checks if an error is retryable
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.IsRetryable()
	}

	// Default heuristics for standard errors
	errorMsg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout", "connection refused", "connection reset",
		"temporary failure", "service unavailable", "too many requests",
		"network", "dns", "socket",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errorMsg, pattern) {
			return true
		}
	}

	return false
}

// BuildBatchProcessingErrorSummary creates an error summary for a batch run
func BuildBatchProcessingErrorSummary(successCount, totalErrorCount int, sampleErrors []error) string {
	var summaryBuilder strings.Builder
	summaryBuilder.WriteString(fmt.Sprintf("batch processing completed with %d successes and %d failures", successCount, totalErrorCount))

	sampleSize := len(sampleErrors)
	if sampleSize > 3 {
		sampleSize = 3
	}

	for i := 0; i < sampleSize; i++ {
		summaryBuilder.WriteString(fmt.Sprintf("; %s", sampleErrors[i].Error()))
	}

	if totalErrorCount > len(sampleErrors) {
		summaryBuilder.WriteString(fmt.Sprintf("; and %d additional errors", totalErrorCount-len(sampleErrors)))
	}

	return summaryBuilder.String()
}

// ErrorIsolationHandler is a failure-rate circuit breaker. The delivery
// worker keeps one per channel so a broken SMTP relay does not stall
// telegram deliveries.
type ErrorIsolationHandler struct {
	mutex               sync.Mutex
	maxFailureRate      float64
	serviceName         string
	circuitBreakerOpen  bool
	failureCount        int64
	successCount        int64
	lastResetTime       time.Time
	openedAt            time.Time
	cooldown            time.Duration
	halfOpenAttempts    int
	maxHalfOpenAttempts int
	minSampleSize       int64
}

// NewErrorIsolationHandler creates a new error isolation handler
func NewErrorIsolationHandler(serviceName string, maxFailureRate float64) *ErrorIsolationHandler {
	return &ErrorIsolationHandler{
		maxFailureRate:      maxFailureRate,
		serviceName:         serviceName,
		lastResetTime:       time.Now(),
		cooldown:            30 * time.Second,
		maxHalfOpenAttempts: 3,
		minSampleSize:       10,
	}
}

// NewErrorIsolationHandlerWithoutCircuitBreaker creates a handler that only counts
func NewErrorIsolationHandlerWithoutCircuitBreaker(serviceName string) *ErrorIsolationHandler {
	return NewErrorIsolationHandler(serviceName, -1)
}

// SetCooldown changes how long the breaker stays open before probing
func (h *ErrorIsolationHandler) SetCooldown(cooldown time.Duration) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.cooldown = cooldown
}

// RecordSuccess records a successful operation
func (h *ErrorIsolationHandler) RecordSuccess() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.successCount++

	if h.maxFailureRate < 0 || !h.circuitBreakerOpen {
		return
	}

	h.halfOpenAttempts++
	if h.halfOpenAttempts >= h.maxHalfOpenAttempts {
		h.circuitBreakerOpen = false
		h.failureCount = 0
		h.successCount = 0
		h.halfOpenAttempts = 0
		h.lastResetTime = time.Now()

		logrus.WithFields(logrus.Fields{
			"service_name": h.serviceName,
			"component":    "ErrorIsolationHandler",
		}).Info("Circuit breaker closed after successful half-open attempts")
	}
}

// RecordFailure records a failed operation
func (h *ErrorIsolationHandler) RecordFailure() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.failureCount++

	if h.maxFailureRate < 0 {
		return
	}

	// A failure while probing sends the breaker back to open
	if h.circuitBreakerOpen {
		h.halfOpenAttempts = 0
		h.openedAt = time.Now()
		return
	}

	totalOperations := h.failureCount + h.successCount
	if totalOperations < h.minSampleSize {
		return
	}

	currentFailureRate := float64(h.failureCount) / float64(totalOperations)
	if currentFailureRate > h.maxFailureRate {
		h.circuitBreakerOpen = true
		h.halfOpenAttempts = 0
		h.openedAt = time.Now()

		logrus.WithFields(logrus.Fields{
			"service_name":     h.serviceName,
			"component":        "ErrorIsolationHandler",
			"failure_rate":     currentFailureRate,
			"max_failure_rate": h.maxFailureRate,
			"failure_count":    h.failureCount,
			"success_count":    h.successCount,
		}).Warn("Circuit breaker opened due to high failure rate")
	}
}

// IsCircuitBreakerOpen returns whether calls should be short-circuited.
// After the cooldown the breaker lets trial calls through.
func (h *ErrorIsolationHandler) IsCircuitBreakerOpen() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.maxFailureRate < 0 || !h.circuitBreakerOpen {
		return false
	}

	return time.Since(h.openedAt) < h.cooldown
}

// ExecuteWithCircuitBreaker runs fn unless the breaker is open, in which
// case a retryable SERVICE_UNAVAILABLE error is returned without calling fn
func (h *ErrorIsolationHandler) ExecuteWithCircuitBreaker(operation string, fn func() error) error {
	if h.IsCircuitBreakerOpen() {
		logrus.WithFields(logrus.Fields{
			"service_name": h.serviceName,
			"operation":    operation,
			"component":    "ErrorIsolationHandler",
		}).Warn("Circuit breaker is open, skipping call")

		return NewServiceError(
			ErrorCategoryResource,
			CodeServiceUnavailable,
			fmt.Sprintf("%s is temporarily unavailable for %s", h.serviceName, operation),
			h.serviceName,
			operation,
			true,
			nil,
		)
	}

	if err := fn(); err != nil {
		h.RecordFailure()
		return err
	}

	h.RecordSuccess()
	return nil
}

// GetFailureRate returns the current failure rate
func (h *ErrorIsolationHandler) GetFailureRate() float64 {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	totalOperations := h.failureCount + h.successCount
	if totalOperations == 0 {
		return 0.0
	}

	return float64(h.failureCount) / float64(totalOperations)
}
