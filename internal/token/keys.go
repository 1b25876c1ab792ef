// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package token

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"sync"

	"github.com/taibuivan/authme/internal/platform/apperr"
	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/platform/sec"
	"github.com/taibuivan/authme/pkg/uuid"
)

// # Definitions & Constructors

// Manager owns the signing-key lifecycle for every realm.
//
// # Concurrency
//
// Parsed keys are cached per kid behind a RWMutex. Rotation invalidates
// the realm's active-key cache entry; retired keys stay cached since their
// material never changes.
type Manager struct {
	keys    KeyRepository
	wrapper *sec.KeyWrapper
	clock   clock.Clock

	cacheMu     sync.RWMutex
	privateByID map[string]*rsa.PrivateKey // kid -> unsealed private key
	activeKID   map[string]string          // realmID -> kid
}

// NewManager wires the key manager with its repository and master-key wrapper.
func NewManager(keys KeyRepository, wrapper *sec.KeyWrapper, clk clock.Clock) *Manager {
	return &Manager{
		keys:        keys,
		wrapper:     wrapper,
		clock:       clk,
		privateByID: make(map[string]*rsa.PrivateKey),
		activeKID:   make(map[string]string),
	}
}

// # Key Lifecycle

/*
ProvisionInitialKey generates and activates a realm's first signing key.
Called by realm creation; a no-op when the realm already has an active key.

Parameters:
  - context: context.Context
  - realmID: string

Returns:
  - error: Generation or persistence failures
*/
func (manager *Manager) ProvisionInitialKey(context context.Context, realmID string) error {
	if _, err := manager.keys.FindActive(context, realmID); err == nil {
		return nil
	} else if !apperr.IsNotFound(err) {
		return err
	}

	_, err := manager.generate(context, realmID, true)
	return err
}

/*
Rotate generates a fresh keypair and makes it the realm's signing key.

The previous key is retired, not deleted: it stays in JWKS so tokens it
signed keep verifying until they expire naturally.

Parameters:
  - context: context.Context
  - realmID: string

Returns:
  - *SigningKey: The new active key (public fields only are serializable)
  - error: Generation or persistence failures
*/
func (manager *Manager) Rotate(context context.Context, realmID string) (*SigningKey, error) {
	key, err := manager.generate(context, realmID, false)
	if err != nil {
		return nil, err
	}

	if err := manager.keys.Activate(context, realmID, key.KID); err != nil {
		return nil, err
	}
	key.Active = true

	manager.cacheMu.Lock()
	manager.activeKID[realmID] = key.KID
	manager.cacheMu.Unlock()

	return key, nil
}

// generate creates, seals, and persists a keypair.
func (manager *Manager) generate(context context.Context, realmID string, active bool) (*SigningKey, error) {
	keyPair, err := sec.GenerateRSAKeyPair()
	if err != nil {
		return nil, fmt.Errorf("token_manager_generate_failed: %w", err)
	}

	privatePEM, err := sec.EncodePrivateKeyPEM(keyPair)
	if err != nil {
		return nil, fmt.Errorf("token_manager_encode_private_failed: %w", err)
	}
	publicPEM, err := sec.EncodePublicKeyPEM(&keyPair.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("token_manager_encode_public_failed: %w", err)
	}

	sealed, err := manager.wrapper.Seal(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("token_manager_seal_failed: %w", err)
	}

	key := &SigningKey{
		KID:           uuid.New(),
		RealmID:       realmID,
		Algorithm:     AlgorithmRS256,
		PublicPEM:     string(publicPEM),
		PrivateSealed: sealed,
		Active:        active,
		CreatedAt:     manager.clock.Now(),
	}
	if err := manager.keys.Create(context, key); err != nil {
		return nil, err
	}

	manager.cacheMu.Lock()
	manager.privateByID[key.KID] = keyPair
	if active {
		manager.activeKID[realmID] = key.KID
	}
	manager.cacheMu.Unlock()

	return key, nil
}

// # Key Access

/*
ActiveSigner returns the realm's signing kid and unsealed private key.

Parameters:
  - context: context.Context
  - realmID: string

Returns:
  - string: The kid to stamp into the JOSE header
  - *rsa.PrivateKey: The signing key
  - error: apperr.NotFound when the realm has no active key
*/
func (manager *Manager) ActiveSigner(context context.Context, realmID string) (string, *rsa.PrivateKey, error) {
	manager.cacheMu.RLock()
	kid, known := manager.activeKID[realmID]
	privateKey := manager.privateByID[kid]
	manager.cacheMu.RUnlock()

	if known && privateKey != nil {
		return kid, privateKey, nil
	}

	key, err := manager.keys.FindActive(context, realmID)
	if err != nil {
		return "", nil, err
	}

	privateKey, err = manager.unseal(key)
	if err != nil {
		return "", nil, err
	}

	manager.cacheMu.Lock()
	manager.activeKID[realmID] = key.KID
	manager.privateByID[key.KID] = privateKey
	manager.cacheMu.Unlock()

	return key.KID, privateKey, nil
}

/*
PublicKey returns the verification key for a kid, active or retired.

Parameters:
  - context: context.Context
  - realmID: string
  - kid: string

Returns:
  - *rsa.PublicKey: Verification key
  - error: apperr.NotFound for unknown kids
*/
func (manager *Manager) PublicKey(context context.Context, realmID, kid string) (*rsa.PublicKey, error) {
	manager.cacheMu.RLock()
	privateKey := manager.privateByID[kid]
	manager.cacheMu.RUnlock()
	if privateKey != nil {
		return &privateKey.PublicKey, nil
	}

	key, err := manager.keys.FindByKID(context, realmID, kid)
	if err != nil {
		return nil, err
	}
	return sec.DecodePublicKeyPEM([]byte(key.PublicPEM))
}

// List returns the realm's keys, newest first.
func (manager *Manager) List(context context.Context, realmID string) ([]*SigningKey, error) {
	return manager.keys.List(context, realmID)
}

// DeleteRetired removes a retired key. The active key cannot be deleted.
func (manager *Manager) DeleteRetired(context context.Context, realmID, kid string) error {
	manager.cacheMu.RLock()
	active := manager.activeKID[realmID] == kid
	manager.cacheMu.RUnlock()
	if active {
		return apperr.Forbidden("Active signing key cannot be deleted")
	}

	if err := manager.keys.Delete(context, realmID, kid); err != nil {
		return err
	}

	manager.cacheMu.Lock()
	delete(manager.privateByID, kid)
	manager.cacheMu.Unlock()
	return nil
}

func (manager *Manager) unseal(key *SigningKey) (*rsa.PrivateKey, error) {
	privatePEM, err := manager.wrapper.Open(key.PrivateSealed)
	if err != nil {
		return nil, fmt.Errorf("token_manager_unseal_failed: %w", err)
	}
	return sec.DecodePrivateKeyPEM(privatePEM)
}

// # JWKS

// JWK is one RFC 7517 key entry.
type JWK struct {
	KeyType   string `json:"kty"`
	Use       string `json:"use"`
	Algorithm string `json:"alg"`
	KID       string `json:"kid"`
	Modulus   string `json:"n"`
	Exponent  string `json:"e"`
}

// JWKS is the document served at the realm's certs endpoint.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

/*
JWKS returns every published verification key for a realm, the active key
first. Retired keys stay published so relying parties can verify tokens
minted before the last rotation.

Parameters:
  - context: context.Context
  - realmID: string

Returns:
  - *JWKS: The RFC 7517 document
  - error: Database or decode failures
*/
func (manager *Manager) JWKS(context context.Context, realmID string) (*JWKS, error) {
	keys, err := manager.keys.List(context, realmID)
	if err != nil {
		return nil, err
	}

	document := &JWKS{Keys: make([]JWK, 0, len(keys))}
	for _, key := range keys {
		publicKey, err := sec.DecodePublicKeyPEM([]byte(key.PublicPEM))
		if err != nil {
			return nil, fmt.Errorf("token_manager_jwks_decode_failed: %w", err)
		}

		entry := JWK{
			KeyType:   "RSA",
			Use:       "sig",
			Algorithm: key.Algorithm,
			KID:       key.KID,
			Modulus:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
			Exponent:  base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
		}
		if key.Active {
			document.Keys = append([]JWK{entry}, document.Keys...)
		} else {
			document.Keys = append(document.Keys, entry)
		}
	}
	return document, nil
}
