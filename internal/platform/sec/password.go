// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package sec provides the cryptographic primitives used across the platform.

It isolates security-sensitive code (password hashing, secure randomness,
token digests, PKCE, key wrapping) from the domain logic. Domain services
consume these helpers but never touch crypto/* packages directly.

Primitives:

  - Password: Argon2id with encoded parameters, constant-time verification.
  - Random: 256-bit secrets from crypto/rand, base64url encoded.
  - Digest: SHA-256 hex digests for server-side token indexing.
  - PKCE: S256 challenge derivation and verification.
  - Keywrap: AES-GCM encryption of key material under the process master key.
*/
package sec

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// # Argon2id Parameters

// Parameters are sized so a verification costs roughly 100ms on the target
// hardware. Raising memory is preferred over raising time when re-tuning.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashPassword hashes a plain-text password using Argon2id.
//
// # Format
//
// The result is self-describing PHC notation, so parameters can be re-tuned
// without invalidating stored hashes:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<base64 salt>$<base64 key>
func HashPassword(plainTextPassword string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("sec: failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plainTextPassword), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory,
		argonTime,
		argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)

	return encoded, nil
}

// CheckPasswordHash compares a plain-text password with an encoded Argon2id hash.
//
// The comparison of derived keys is constant-time. Malformed hashes simply
// fail verification instead of returning a distinguishable error.
func CheckPasswordHash(plainTextPassword, encodedHash string) bool {
	memory, timeCost, threads, salt, key, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return false
	}

	derived := argon2.IDKey([]byte(plainTextPassword), salt, timeCost, memory, threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(derived, key) == 1
}

// DummyCheckPassword burns the same CPU budget as a real verification.
//
// The credential verifier calls this when no user was found, so the latency
// of a login attempt does not reveal whether the username exists.
func DummyCheckPassword(plainTextPassword string) {
	salt := make([]byte, argonSaltLen)
	_ = argon2.IDKey([]byte(plainTextPassword), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// decodeArgon2Hash parses a PHC-encoded Argon2id hash back into its parts.
func decodeArgon2Hash(encodedHash string) (memory uint32, timeCost uint32, threads uint8, salt, key []byte, err error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, fmt.Errorf("sec: not an argon2id hash")
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("sec: malformed version segment: %w", err)
	}
	if version != argon2.Version {
		return 0, 0, 0, nil, nil, fmt.Errorf("sec: unsupported argon2 version %d", version)
	}

	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &threads); err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("sec: malformed parameter segment: %w", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("sec: malformed salt segment: %w", err)
	}

	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("sec: malformed key segment: %w", err)
	}

	return memory, timeCost, threads, salt, key, nil
}
