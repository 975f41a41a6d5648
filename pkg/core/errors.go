package core

import (
	"fmt"
)

// Error is the canonical error shape for every operation in the call
// pipeline. Code carries a stable machine-readable identifier that the
// dashboard keys user messaging on; Message is prose for logs and humans.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	// ProviderError preserves the upstream payload for debugging.
	ProviderError any `json:"provider_error,omitempty"`
	// RetryAfter is set on rate limit rejections (seconds).
	RetryAfter *int `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPrecondition   ErrorType = "precondition_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrConflict       ErrorType = "conflict_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrTimeout        ErrorType = "timeout_error"
	ErrProvider       ErrorType = "provider_error"
	ErrAPI            ErrorType = "api_error"
)

// Stable error codes surfaced to the dashboard. These are contract, not
// prose: the UI switches on them for differentiated messaging.
const (
	CodeCallInProgress       = "CALL_IN_PROGRESS"
	CodeTwilioTrialAccount   = "TWILIO_TRIAL_ACCOUNT"
	CodeElevenLabsKeyMissing = "ELEVENLABS_API_KEY_MISSING"
	CodeRequestTimeout       = "REQUEST_TIMEOUT"
	CodeProfileNotFound      = "PROFILE_NOT_FOUND"
	CodeTwilioIncomplete     = "TWILIO_CONFIG_INCOMPLETE"
	CodeCallLogError         = "CALL_LOG_ERROR"
	CodeTwilioAPIError       = "TWILIO_API_ERROR"
	CodeCallError            = "CALL_ERROR"
	CodeNoActiveCall         = "NO_ACTIVE_CALL"
	CodeProspectNotFound     = "PROSPECT_NOT_FOUND"
	CodeMissingPhoneNumber   = "MISSING_PHONE_NUMBER"
	CodeConfigNotFound       = "CONFIG_NOT_FOUND"
	CodeCredentialsInvalid   = "CREDENTIALS_INVALID"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a not found error with a stable code.
func NewNotFoundError(code, message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
		Code:    code,
	}
}

// NewPreconditionError creates an error for a check that failed before
// any provider traffic was attempted.
func NewPreconditionError(code, message string) *Error {
	return &Error{
		Type:    ErrPrecondition,
		Message: message,
		Code:    code,
	}
}

// NewConflictError creates a conflict error (e.g. a call is already in
// flight for the user).
func NewConflictError(code, message string) *Error {
	return &Error{
		Type:    ErrConflict,
		Message: message,
		Code:    code,
	}
}

// NewTimeoutError marks an operation whose remote outcome is unknown.
// Callers must reconcile via a status check rather than assume failure.
func NewTimeoutError(message string) *Error {
	return &Error{
		Type:    ErrTimeout,
		Message: message,
		Code:    CodeRequestTimeout,
	}
}

// NewProviderError wraps an upstream rejection with a stable code.
func NewProviderError(code, message string, underlying error) *Error {
	e := &Error{
		Type:    ErrProvider,
		Message: message,
		Code:    code,
	}
	if underlying != nil {
		e.ProviderError = underlying.Error()
	}
	return e
}

// NewAPIError creates a generic internal error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// IsTimeout reports whether the error represents an unknown-outcome
// timeout as opposed to a definite rejection.
func (e *Error) IsTimeout() bool {
	return e.Type == ErrTimeout
}
