// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package oautherr defines the RFC 6749 protocol error vocabulary and the
bridge from internal [apperr.AppError] values to OAuth wire responses.

Protocol endpoints (token, introspect, revoke, device) must never leak
internal error codes or messages: every failure is translated to the nearest
standard OAuth error before it reaches the client.
*/
package oautherr

import (
	"encoding/json"
	"net/http"

	"github.com/taibuivan/authme/internal/platform/apperr"
)

// # Protocol Error Codes

const (
	CodeInvalidRequest         = "invalid_request"
	CodeInvalidGrant           = "invalid_grant"
	CodeInvalidClient          = "invalid_client"
	CodeInvalidScope           = "invalid_scope"
	CodeUnauthorizedClient     = "unauthorized_client"
	CodeUnsupportedGrantType   = "unsupported_grant_type"
	CodeAccessDenied           = "access_denied"
	CodeAuthorizationPending   = "authorization_pending"
	CodeSlowDown               = "slow_down"
	CodeExpiredToken           = "expired_token"
	CodeServerError            = "server_error"
	CodeTemporarilyUnavailable = "temporarily_unavailable"
)

// Error is an OAuth 2.0 protocol error.
type Error struct {
	// Code is the registered OAuth error code (the "error" response member).
	Code string `json:"error"`
	// Description is an optional human-readable explanation.
	Description string `json:"error_description,omitempty"`
	// HTTPStatus is the HTTP status to use when rendering this error.
	HTTPStatus int `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// # Constructors

// New creates a protocol error with an explicit status code.
func New(code, description string, httpStatus int) *Error {
	return &Error{Code: code, Description: description, HTTPStatus: httpStatus}
}

// InvalidRequest creates a 400 invalid_request error.
func InvalidRequest(description string) *Error {
	return New(CodeInvalidRequest, description, http.StatusBadRequest)
}

// InvalidGrant creates a 400 invalid_grant error.
func InvalidGrant(description string) *Error {
	return New(CodeInvalidGrant, description, http.StatusBadRequest)
}

// InvalidClient creates a 401 invalid_client error.
func InvalidClient(description string) *Error {
	return New(CodeInvalidClient, description, http.StatusUnauthorized)
}

// InvalidScope creates a 400 invalid_scope error.
func InvalidScope(description string) *Error {
	return New(CodeInvalidScope, description, http.StatusBadRequest)
}

// UnauthorizedClient creates a 400 unauthorized_client error.
func UnauthorizedClient(description string) *Error {
	return New(CodeUnauthorizedClient, description, http.StatusBadRequest)
}

// UnsupportedGrantType creates a 400 unsupported_grant_type error.
func UnsupportedGrantType(grantType string) *Error {
	return New(CodeUnsupportedGrantType, "Grant type is not supported: "+grantType, http.StatusBadRequest)
}

// AccessDenied creates a 403 access_denied error.
func AccessDenied(description string) *Error {
	return New(CodeAccessDenied, description, http.StatusForbidden)
}

// AuthorizationPending creates the device-flow polling error (RFC 8628 §3.5).
func AuthorizationPending() *Error {
	return New(CodeAuthorizationPending, "Authorization request is still pending", http.StatusBadRequest)
}

// SlowDown tells a device-flow client it is polling faster than the interval.
func SlowDown() *Error {
	return New(CodeSlowDown, "Polling too frequently", http.StatusBadRequest)
}

// ExpiredToken creates the device-flow expiry error.
func ExpiredToken() *Error {
	return New(CodeExpiredToken, "Device code has expired", http.StatusBadRequest)
}

// ServerError creates a 500 server_error.
func ServerError() *Error {
	return New(CodeServerError, "The authorization server encountered an unexpected condition", http.StatusInternalServerError)
}

// TemporarilyUnavailable creates a 503 temporarily_unavailable error.
func TemporarilyUnavailable() *Error {
	return New(CodeTemporarilyUnavailable, "The authorization server is temporarily unable to handle the request", http.StatusServiceUnavailable)
}

// # Bridging

// FromInternal maps an internal error to the nearest protocol error.
//
// # Mapping Table
//
//   - NOT_FOUND / INVALID_CREDENTIALS / UNAUTHORIZED → invalid_grant
//   - ACCOUNT_LOCKED / ACCOUNT_DISABLED / FORBIDDEN  → invalid_grant (no detail leak)
//   - VALIDATION_ERROR / POLICY_VIOLATION            → invalid_request
//   - TRANSIENT_STORAGE / SERVICE_UNAVAILABLE        → temporarily_unavailable
//   - everything else                                → server_error
func FromInternal(err error) *Error {
	if protocolErr, ok := err.(*Error); ok {
		return protocolErr
	}

	appError := apperr.As(err)
	if appError == nil {
		return ServerError()
	}

	switch appError.Code {
	case "NOT_FOUND", "INVALID_CREDENTIALS", "UNAUTHORIZED", "ACCOUNT_LOCKED", "ACCOUNT_DISABLED", "FORBIDDEN":
		return InvalidGrant("Invalid grant")
	case "VALIDATION_ERROR", "POLICY_VIOLATION":
		return InvalidRequest(appError.Message)
	case "TRANSIENT_STORAGE", "SERVICE_UNAVAILABLE":
		return TemporarilyUnavailable()
	default:
		return ServerError()
	}
}

// Write renders a protocol error as an RFC 6749 JSON body.
func Write(writer http.ResponseWriter, protocolErr *Error) {
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.Header().Set("Cache-Control", "no-store")
	writer.WriteHeader(protocolErr.HTTPStatus)
	_ = json.NewEncoder(writer).Encode(protocolErr)
}

// WriteFrom maps an arbitrary error and renders it in one step.
func WriteFrom(writer http.ResponseWriter, err error) {
	Write(writer, FromInternal(err))
}
