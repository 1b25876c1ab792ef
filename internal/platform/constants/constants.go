// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package constants provides centralized, immutable values for the entire platform.

It defines default timeouts, rate limits, and cross-cutting keys that are shared
between different layers of the system.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Rate Limiting: Burst capacities and IP tracking TTLs.
  - Security: Cookie names and transient-token TTLs for the login flow.
  - Protocol: OAuth/OIDC lifespans and polling intervals.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "authme"
	AppVersion = "0.1.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout is the deadline for the entire request lifecycle.
	GlobalRequestTimeout = 30 * time.Second

	// ShutdownTimeout is how long we wait for in-flight requests to complete during shutdown.
	ShutdownTimeout = 30 * time.Second

	// OutboundCallTimeout bounds SMTP, backchannel-logout and federation calls.
	OutboundCallTimeout = 5 * time.Second
)

// # Rate Limiting

const (
	// DefaultRateLimitRPS is the requests per second allowed per IP.
	DefaultRateLimitRPS = 100.0

	// DefaultRateLimitBurst is the maximum burst allowed for the rate limiter.
	DefaultRateLimitBurst = 150

	// RateLimitCleanupInterval is how often old IP entries are removed from memory.
	RateLimitCleanupInterval = 1 * time.Minute

	// RateLimitClientTTL is how long a client must be idle before its entry is deleted.
	RateLimitClientTTL = 3 * time.Minute
)

// # HTTP Headers

const (
	HeaderXRequestID    = "X-Request-ID"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderOrigin        = "Origin"
	HeaderAuthorization = "Authorization"
	HeaderXAdminAPIKey  = "X-Admin-API-Key"
)

// # Browser Session Cookies

const (
	// SessionCookieName carries the raw SSO session token. The server stores
	// only its SHA-256 digest.
	SessionCookieName = "AUTHME_SESSION"

	// MfaChallengeCookieName carries the MFA challenge id between the
	// password page and the TOTP page.
	MfaChallengeCookieName = "AUTHME_MFA_CHALLENGE"

	// SessionTokenLength is the byte length of the random session token.
	SessionTokenLength = 32

	// SsoSessionTTL is the default browser session lifetime.
	SsoSessionTTL = 10 * time.Hour

	// RememberMeSessionTTL extends the session when the user opts in.
	RememberMeSessionTTL = 30 * 24 * time.Hour

	// MfaChallengeTTL bounds the window between password and TOTP entry.
	MfaChallengeTTL = 5 * time.Minute

	// MfaMaxAttempts invalidates the challenge after this many wrong codes.
	MfaMaxAttempts = 5
)

// # OAuth / OIDC Protocol

const (
	// AuthorizationCodeTTL is the maximum authorization code lifetime.
	AuthorizationCodeTTL = 10 * time.Minute

	// ConsentRequestTTL bounds a pending consent screen.
	ConsentRequestTTL = 10 * time.Minute

	// DeviceCodeTTL is the device-flow expiry window (RFC 8628 expires_in).
	DeviceCodeTTL = 10 * time.Minute

	// DeviceCodePollInterval is the minimum device-flow polling interval.
	DeviceCodePollInterval = 5 * time.Second

	// DefaultAccessTokenTTL applies when the realm does not override it.
	DefaultAccessTokenTTL = 5 * time.Minute

	// DefaultRefreshTokenTTL applies when the realm does not override it.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	// DefaultOfflineTokenTTL applies to offline_access refresh tokens.
	DefaultOfflineTokenTTL = 60 * 24 * time.Hour

	// VerificationTokenTTL bounds email-verification and reset tokens.
	VerificationTokenTTL = 24 * time.Hour

	// TokenLength is the byte length of random protocol tokens (codes,
	// refresh tokens, verification tokens).
	TokenLength = 32

	// BackchannelLogoutAttempts is the delivery budget per client per logout.
	BackchannelLogoutAttempts = 3
)

// # JSON Field Identifiers

const (
	FieldData    = "data"
	FieldError   = "error"
	FieldCode    = "code"
	FieldDetails = "details"
	FieldMessage = "message"
	FieldStatus  = "status"
)

// # Redis Prefixes (Volatile Taxonomy)

const (
	RedisPrefixVerifyToken    = "authme:verify:"
	RedisPrefixMfaChallenge   = "authme:mfa_challenge:"
	RedisPrefixMfaPending     = "authme:mfa_pending:"
	RedisPrefixConsentRequest = "authme:consent_request:"
	RedisPrefixDevicePoll     = "authme:device_poll:"
)
