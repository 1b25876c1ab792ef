// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// # Key Wrapping (encryption at rest)

// Realm signing keys and TOTP seeds never reach the database in plaintext.
// They are sealed with AES-256-GCM under a single process-wide master key
// loaded from configuration.

// KeyWrapper seals and opens secrets with the process master key.
type KeyWrapper struct {
	aead cipher.AEAD
}

// NewKeyWrapper constructs a [KeyWrapper] from a hex-encoded 32-byte key.
func NewKeyWrapper(masterKeyHex string) (*KeyWrapper, error) {
	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("sec: master key is not valid hex: %w", err)
	}
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("sec: master key must be 32 bytes, got %d", len(masterKey))
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("sec: failed to initialize cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sec: failed to initialize GCM: %w", err)
	}

	return &KeyWrapper{aead: aead}, nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext).
func (wrapper *KeyWrapper) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, wrapper.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("sec: failed to generate nonce: %w", err)
	}

	sealed := wrapper.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value previously produced by [KeyWrapper.Seal].
func (wrapper *KeyWrapper) Open(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("sec: sealed value is not valid base64: %w", err)
	}

	nonceSize := wrapper.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("sec: sealed value is truncated")
	}

	plaintext, err := wrapper.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("sec: failed to open sealed value: %w", err)
	}

	return plaintext, nil
}
