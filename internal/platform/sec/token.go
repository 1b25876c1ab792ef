// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// # Secure Randomness

// GenerateSecureToken returns a base64url-encoded random token of the given
// byte length. 32 bytes (256 bits) is the platform standard for session,
// refresh, and verification tokens.
func GenerateSecureToken(byteLength int) (string, error) {
	raw := make([]byte, byteLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("sec: failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// GenerateBase32Secret returns an unpadded Base32 secret of the given byte
// length, the alphabet expected by authenticator apps for TOTP seeds.
func GenerateBase32Secret(byteLength int) (string, error) {
	raw := make([]byte, byteLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("sec: failed to read random bytes: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// GenerateUserCode returns a human-readable device-flow user code in the
// form "XXXX-XXXX", drawn from an alphabet without ambiguous characters.
func GenerateUserCode() (string, error) {
	const alphabet = "BCDFGHJKLMNPQRSTVWXZ"

	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("sec: failed to read random bytes: %w", err)
	}

	code := make([]byte, 9)
	for i := 0; i < 8; i++ {
		position := i
		if i >= 4 {
			position = i + 1
		}
		code[position] = alphabet[int(raw[i])%len(alphabet)]
	}
	code[4] = '-'

	return string(code), nil
}

// # Token Digests

// HashToken returns the hex-encoded SHA-256 digest of a raw token.
//
// Servers persist only this digest. A database leak therefore never exposes
// usable session, refresh, or verification tokens.
func HashToken(rawToken string) string {
	digest := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(digest[:])
}

// ConstantTimeEquals compares two strings without leaking the mismatch
// position through timing. Used for client secret digests.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
