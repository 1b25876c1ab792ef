// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

import (
	"crypto/sha256"
	"encoding/base64"
)

// # Proof Key for Code Exchange (RFC 7636)

// PKCEMethodS256 is the only code challenge method the platform accepts.
// The "plain" method is deliberately unsupported.
const PKCEMethodS256 = "S256"

// PKCEChallengeFromVerifier derives the S256 code challenge for a verifier:
// base64url(SHA-256(verifier)), unpadded.
func PKCEChallengeFromVerifier(codeVerifier string) string {
	digest := sha256.Sum256([]byte(codeVerifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// VerifyPKCE reports whether the code verifier presented at the token
// endpoint matches the challenge captured at authorization time.
//
// The comparison is constant-time; the challenge is public but the verifier
// acts as a one-time secret for the authorization code.
func VerifyPKCE(codeVerifier, codeChallenge string) bool {
	return ConstantTimeEquals(PKCEChallengeFromVerifier(codeVerifier), codeChallenge)
}
