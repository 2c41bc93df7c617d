package protocol

import (
	"errors"
	"fmt"
)

// Code is a canonical wire error code. The set below is used verbatim on
// the wire; callers never hand-roll code strings.
type Code string

const (
	CodeBadRequest      Code = "BAD_REQUEST"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeInvalidToken    Code = "INVALID_TOKEN"
	CodeTokenExpired    Code = "TOKEN_EXPIRED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeUnknownAction   Code = "UNKNOWN_ACTION"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodePayloadTooLarge Code = "PAYLOAD_TOO_LARGE"
	CodeInternalError   Code = "INTERNAL_ERROR"
)

// WireError is the single error type allowed to cross the protocol layer.
// Carrying the code as a field keeps handling type-checked instead of
// string-matched.
type WireError struct {
	Code         Code
	Message      string
	RetryAfterMs int64
	Details      []string
}

func (e *WireError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("wire error %s", e.Code)
	}
	return fmt.Sprintf("wire error %s: %s", e.Code, e.Message)
}

// AsWireError unwraps err into a *WireError if it carries one.
func AsWireError(err error) (*WireError, bool) {
	var werr *WireError
	if errors.As(err, &werr) {
		return werr, true
	}
	return nil, false
}

// Canonical error constructors. Every wire error in the system is built
// through one of these so codes and default messages stay consistent.

func BadRequest(message string, details ...string) *WireError {
	if message == "" {
		message = "malformed request"
	}
	return &WireError{Code: CodeBadRequest, Message: message, Details: details}
}

func Unauthorized() *WireError {
	return &WireError{Code: CodeUnauthorized, Message: "authentication required"}
}

func InvalidToken() *WireError {
	return &WireError{Code: CodeInvalidToken, Message: "invalid token"}
}

func TokenExpired(retryAfterMs int64) *WireError {
	return &WireError{Code: CodeTokenExpired, Message: "token expired", RetryAfterMs: retryAfterMs}
}

func Forbidden(requiredScope string) *WireError {
	return &WireError{Code: CodeForbidden, Message: fmt.Sprintf("missing required scope %q", requiredScope)}
}

func UnknownAction(action string) *WireError {
	return &WireError{Code: CodeUnknownAction, Message: fmt.Sprintf("unknown action %q", action)}
}

func RateLimited(retryAfterMs int64) *WireError {
	return &WireError{Code: CodeRateLimited, Message: "rate limit exceeded", RetryAfterMs: retryAfterMs}
}

func PayloadTooLarge(limit int) *WireError {
	return &WireError{Code: CodePayloadTooLarge, Message: fmt.Sprintf("payload exceeds %d bytes", limit)}
}

func InternalError(message string) *WireError {
	if message == "" {
		message = "internal error"
	}
	return &WireError{Code: CodeInternalError, Message: message}
}
