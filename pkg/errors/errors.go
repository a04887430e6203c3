package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeSessionNotFound means no persisted session exists for the account
	ErrorTypeSessionNotFound ErrorType = "session_not_found"
	// ErrorTypeSessionExpired means the persisted session is older than the allowed age
	ErrorTypeSessionExpired ErrorType = "session_expired"
	// ErrorTypeBlocked means a blocking or captcha page was detected
	ErrorTypeBlocked ErrorType = "blocked"
	// ErrorTypeNavigation represents page navigation failures and timeouts
	ErrorTypeNavigation ErrorType = "navigation"
	// ErrorTypeSelector means an expected element was not found on the page
	ErrorTypeSelector ErrorType = "selector"
	// ErrorTypeWidget represents affiliate-link widget failures and timeouts
	ErrorTypeWidget ErrorType = "widget"
	// ErrorTypeDetailLoad means a product detail page could not be loaded or parsed
	ErrorTypeDetailLoad ErrorType = "detail_load"
	// ErrorTypeDatabase represents offer store failures
	ErrorTypeDatabase ErrorType = "database"
	// ErrorTypeValidation represents record or configuration validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypePublisher represents event publisher failures
	ErrorTypePublisher ErrorType = "publisher"
	// ErrorTypeCache represents cooldown cache failures
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypeConfiguration represents startup configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// ScrapeError represents a pipeline-specific error
type ScrapeError struct {
	Type    ErrorType
	Source  string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Message)
}

// Unwrap returns the underlying error
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error must abort the whole run.
// Per-candidate errors are never fatal; session, blocking, storage and
// configuration errors always are.
func (e *ScrapeError) IsFatal() bool {
	switch e.Type {
	case ErrorTypeSessionNotFound, ErrorTypeSessionExpired, ErrorTypeBlocked,
		ErrorTypeDatabase, ErrorTypeConfiguration:
		return true
	default:
		return false
	}
}

// IsRetryable returns true if the failed operation may be retried
func (e *ScrapeError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeNavigation, ErrorTypeSelector, ErrorTypeWidget:
		return true
	default:
		return false
	}
}

// New creates a new ScrapeError
func New(errType ErrorType, source, message string, err error) *ScrapeError {
	return &ScrapeError{
		Type:    errType,
		Source:  source,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewSessionNotFound creates an error for a missing session artifact
func NewSessionNotFound(account string) *ScrapeError {
	message := fmt.Sprintf("no session found for account %q; run the capture tool first", account)
	return New(ErrorTypeSessionNotFound, "session", message, nil)
}

// NewSessionExpired creates an error for a stale session artifact
func NewSessionExpired(account string, age, maxAge time.Duration) *ScrapeError {
	message := fmt.Sprintf("session for account %q is %s old (max %s); re-capture the session", account, age.Round(time.Hour), maxAge)
	return New(ErrorTypeSessionExpired, "session", message, nil)
}

// NewBlocked creates an error for a detected blocking or captcha page
func NewBlocked(url, marker string) *ScrapeError {
	message := fmt.Sprintf("blocking page detected at %s (marker %q); manual intervention required", url, marker)
	return New(ErrorTypeBlocked, "browser", message, nil)
}

// NewNavigation creates a new navigation error
func NewNavigation(source, message string, err error) *ScrapeError {
	return New(ErrorTypeNavigation, source, message, err)
}

// NewSelector creates a new missing-element error
func NewSelector(source, selector string) *ScrapeError {
	return New(ErrorTypeSelector, source, fmt.Sprintf("element %q not found", selector), nil)
}

// NewWidget creates a new widget error
func NewWidget(message string, err error) *ScrapeError {
	return New(ErrorTypeWidget, "widget", message, err)
}

// NewDetailLoad creates a new detail page error
func NewDetailLoad(url, message string, err error) *ScrapeError {
	return New(ErrorTypeDetailLoad, url, message, err)
}

// NewDatabase creates a new offer store error
func NewDatabase(message string, err error) *ScrapeError {
	return New(ErrorTypeDatabase, "store", message, err)
}

// NewValidation creates a new validation error
func NewValidation(source, message string) *ScrapeError {
	return New(ErrorTypeValidation, source, message, nil)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *ScrapeError {
	return New(ErrorTypeConfiguration, "config", message, err)
}

// IsFatal reports whether err carries a run-aborting ScrapeError
func IsFatal(err error) bool {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.IsFatal()
	}
	return false
}

// IsBlocked reports whether err is a blocking-page detection
func IsBlocked(err error) bool {
	return TypeOf(err) == ErrorTypeBlocked
}

// TypeOf returns the ErrorType of err, or an empty type for foreign errors
func TypeOf(err error) ErrorType {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Type
	}
	return ""
}
