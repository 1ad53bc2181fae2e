package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Code is the structured error taxonomy surfaced across the core boundary.
type Code string

const (
	CodeAuthenticationFailed Code = "authentication_failed"
	CodeTokenExpired         Code = "token_expired"
	CodeRateLimitExceeded    Code = "rate_limit_exceeded"
	CodeQuotaExceeded        Code = "quota_exceeded"
	CodeNotFound             Code = "not_found"
	CodePermissionDenied     Code = "permission_denied"
	CodeInvalidRequest       Code = "invalid_request"
	CodeNetworkError         Code = "network_error"
	CodeServerError          Code = "server_error"
)

// Error is the structured failure type for the execution layer. HTTPStatus
// is zero when the failure never produced an upstream status (transport
// errors, local validation).
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int

	err error
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// NewError builds an Error with no upstream status.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error preserving the underlying cause.
func WrapError(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, err: err}
}

// ErrorCode extracts the taxonomy code from any error, defaulting to
// CodeServerError for unclassified failures.
func ErrorCode(err error) Code {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeServerError
}

// errorFromResponse maps an upstream non-2xx response onto the taxonomy.
// The message is extracted from the Google error body when one is present.
func errorFromResponse(status int, header http.Header, body []byte) *Error {
	message, reason := parseGoogleError(status, header, body)

	var code Code
	switch {
	case status == http.StatusUnauthorized:
		code = CodeAuthenticationFailed
	case status == http.StatusForbidden:
		// Google reports quota exhaustion as 403 with a distinguishing
		// reason rather than 429.
		if reason == "quotaExceeded" || reason == "dailyLimitExceeded" {
			code = CodeQuotaExceeded
		} else if reason == "rateLimitExceeded" || reason == "userRateLimitExceeded" {
			code = CodeRateLimitExceeded
		} else {
			code = CodePermissionDenied
		}
	case status == http.StatusNotFound:
		code = CodeNotFound
	case status == http.StatusTooManyRequests:
		code = CodeRateLimitExceeded
	case status >= 500:
		code = CodeServerError
	case status >= 400:
		code = CodeInvalidRequest
	default:
		code = CodeServerError
	}

	return &Error{Code: code, Message: message, HTTPStatus: status}
}

// parseGoogleError extracts the human-readable message and machine reason
// from a Google API error body.
func parseGoogleError(status int, header http.Header, body []byte) (message, reason string) {
	message = http.StatusText(status)

	resp := &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
	err := googleapi.CheckResponse(resp)

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Message != "" {
			message = gerr.Message
		}
		if len(gerr.Errors) > 0 {
			reason = gerr.Errors[0].Reason
		}
	}
	return message, reason
}
