package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// Handlers and services MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidSettings ErrorCode = "validation_invalid_settings"
	ErrCodeValidationInvalidChannel  ErrorCode = "validation_invalid_channel"
	ErrCodeValidationInvalidBody     ErrorCode = "validation_invalid_body"

	// Confirmation (400). Verification failures for presented tokens.
	ErrCodeTokenFormatInvalid ErrorCode = "confirmation_token_format_invalid"
	ErrCodeTokenMissing       ErrorCode = "confirmation_token_missing"
	ErrCodeTokenExpired       ErrorCode = "confirmation_token_expired"
	ErrCodeTokenMismatch      ErrorCode = "confirmation_token_mismatch"

	// Pre-send reminder validation (422). Never retried.
	ErrCodeContactMissing     ErrorCode = "reminder_contact_missing"
	ErrCodeConsentMissing     ErrorCode = "reminder_consent_missing"
	ErrCodePhoneFormatInvalid ErrorCode = "reminder_phone_format_invalid"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid ErrorCode = "auth_token_invalid"

	// Limits (429)
	ErrCodeRateLimit ErrorCode = "rate_limit_exceeded"

	// Not Found (404)
	ErrCodeNotFoundAppointment ErrorCode = "not_found_appointment"
	ErrCodeNotFoundLock        ErrorCode = "not_found_lock"

	// Conflict (409)
	ErrCodeLockUnavailable ErrorCode = "conflict_lock_unavailable"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB              ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected      ErrorCode = "internal_unexpected_error"
	ErrCodeInternalChannelMissing  ErrorCode = "internal_channel_not_configured"
	ErrCodeUpstreamEmailProvider   ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamSMSGateway      ErrorCode = "upstream_sms_gateway_unavailable"
	ErrCodeUpstreamUnavailable     ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited     ErrorCode = "upstream_rate_limited"
	ErrCodeChannelTransientFailure ErrorCode = "upstream_channel_transient_failure"
	ErrCodeChannelPermanentFailure ErrorCode = "upstream_channel_permanent_failure"
	ErrCodeEmailBlocked            ErrorCode = "email_blocked"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "confirmation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "reminder_"):
		return http.StatusUnprocessableEntity // 422
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case s == string(ErrCodeRateLimit):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeEmailBlocked):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the service.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from an error chain. Errors that carry no
// AppError report ErrCodeInternalUnexpected.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}

// HasCode reports whether any AppError in the chain carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}
