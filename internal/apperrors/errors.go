// Package apperrors provides the unified error taxonomy for the custodian
// engine: every use-case error surfaced to a caller is one of the kinds
// below, each mapped to a single HTTP status.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one error taxonomy entry from the spec's error design.
type Kind string

const (
	// Validation
	KindInvalidAmount  Kind = "InvalidAmount"
	KindInvalidAsset   Kind = "InvalidAsset"
	KindInvalidKey     Kind = "InvalidKey"
	KindInvalidAddress Kind = "InvalidAddress"

	// Auth
	KindUnauthorized      Kind = "Unauthorized"
	KindPermissionDenied  Kind = "PermissionDenied"
	KindAlreadyAuthorized Kind = "AlreadyAuthorized"

	// Resource
	KindNoWallet    Kind = "NoWallet"
	KindWalletExist Kind = "WalletExists"
	KindNotFound    Kind = "NotFound"

	// State
	KindAlreadyActive  Kind = "AlreadyActive"
	KindNotActive      Kind = "NotActive"
	KindSessionNotFound Kind = "SessionNotFound"
	KindSessionExpired Kind = "SessionExpired"
	KindMaxReconfirms  Kind = "MaxReconfirms"

	// External transient
	KindRateLimited Kind = "RateLimited"
	KindNetwork     Kind = "Network"
	KindServerError Kind = "ServerError"
	KindTimeout     Kind = "Timeout"

	// External fatal
	KindQuoteError Kind = "QuoteError"
	KindBuildError Kind = "BuildError"
	KindSendError  Kind = "SendError"
	KindRPCError   Kind = "RpcError"

	// Internal
	KindEncryption  Kind = "Encryption"
	KindPersistence Kind = "Persistence"
	KindUnexpected  Kind = "Unexpected"
)

var httpStatus = map[Kind]int{
	KindInvalidAmount:   http.StatusBadRequest,
	KindInvalidAsset:    http.StatusBadRequest,
	KindInvalidKey:      http.StatusBadRequest,
	KindInvalidAddress:  http.StatusBadRequest,
	KindUnauthorized:    http.StatusUnauthorized,
	KindPermissionDenied: http.StatusForbidden,
	KindAlreadyAuthorized: http.StatusConflict,
	KindNoWallet:        http.StatusNotFound,
	KindWalletExist:     http.StatusConflict,
	KindNotFound:        http.StatusNotFound,
	KindAlreadyActive:   http.StatusConflict,
	KindNotActive:       http.StatusConflict,
	KindSessionNotFound: http.StatusNotFound,
	KindSessionExpired:  http.StatusGone,
	KindMaxReconfirms:   http.StatusConflict,
	KindRateLimited:     http.StatusTooManyRequests,
	KindNetwork:         http.StatusBadGateway,
	KindServerError:     http.StatusBadGateway,
	KindTimeout:         http.StatusGatewayTimeout,
	KindQuoteError:      http.StatusBadGateway,
	KindBuildError:      http.StatusBadGateway,
	KindSendError:       http.StatusBadGateway,
	KindRPCError:        http.StatusBadGateway,
	KindEncryption:      http.StatusInternalServerError,
	KindPersistence:     http.StatusInternalServerError,
	KindUnexpected:      http.StatusInternalServerError,
}

// transientKinds are retried locally with backoff before being surfaced
// propagation policy).
var transientKinds = map[Kind]bool{
	KindRateLimited: true,
	KindNetwork:     true,
	KindServerError: true,
	KindTimeout:     true,
}

// Error is a structured application error carrying a taxonomy Kind, a
// user-safe message, optional structured Details, and the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches a key/value to Details, creating the map if needed.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error around an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// As extracts the *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HTTPStatus maps err to the HTTP status for its Kind, defaulting to 500.
func HTTPStatus(err error) int {
	if appErr, ok := As(err); ok {
		if status, ok := httpStatus[appErr.Kind]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// IsTransient reports whether err's Kind belongs to the "external transient"
// category, i.e. worth a local retry under the propagation policy.
func IsTransient(err error) bool {
	if appErr, ok := As(err); ok {
		return transientKinds[appErr.Kind]
	}
	return false
}

// Convenience constructors, one per taxonomy entry actually raised by the
// engine's use-cases.

func InvalidAmount(reason string) *Error {
	return New(KindInvalidAmount, "invalid amount").WithDetail("reason", reason)
}

func InvalidAsset(asset string) *Error {
	return New(KindInvalidAsset, "invalid asset").WithDetail("asset", asset)
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

func PermissionDenied(message string) *Error {
	return New(KindPermissionDenied, message)
}

func NoWallet(principalID int64) *Error {
	return New(KindNoWallet, "no wallet for principal").WithDetail("principal_id", principalID)
}

func InsufficientBalance(required, available string) *Error {
	return New(KindInvalidAmount, "insufficient balance").
		WithDetail("required", required).
		WithDetail("available", available)
}

func NotFound(resource, id string) *Error {
	return New(KindNotFound, "resource not found").
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func SessionExpired(sessionID string) *Error {
	return New(KindSessionExpired, "session expired").WithDetail("session_id", sessionID)
}

func MaxReconfirms() *Error {
	return New(KindMaxReconfirms, "max-slippage-exceeded")
}

func RateLimited(limit int, window string) *Error {
	return New(KindRateLimited, "rate limit exceeded").
		WithDetail("limit", limit).
		WithDetail("window", window)
}

func Timeout(operation string) *Error {
	return New(KindTimeout, "operation timed out").WithDetail("operation", operation)
}

func QuoteError(err error) *Error {
	return Wrap(KindQuoteError, "quote request failed", err)
}

func BuildError(err error) *Error {
	return Wrap(KindBuildError, "transaction build failed", err)
}

func SendError(err error) *Error {
	return Wrap(KindSendError, "transaction submission failed", err)
}

func RPCError(err error) *Error {
	return Wrap(KindRPCError, "rpc call failed", err)
}

func Encryption(err error) *Error {
	return Wrap(KindEncryption, "encryption operation failed", err)
}

func Persistence(operation string, err error) *Error {
	return Wrap(KindPersistence, "persistence operation failed", err).WithDetail("operation", operation)
}

func Unexpected(err error) *Error {
	return Wrap(KindUnexpected, "unexpected internal error", err)
}
