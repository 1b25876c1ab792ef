// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package token owns realm signing keys and mints the JWTs the protocol
endpoints hand out.

# Architecture

  - SigningKey: An RS256 keypair scoped to one realm. The private half is
    sealed under the process master key before it touches PostgreSQL.
  - Manager: Key lifecycle (provision, rotate, JWKS). Exactly one key per
    realm signs; retired keys remain published so outstanding tokens keep
    verifying.
  - Factory: Claim assembly and signing for access, ID, and logout tokens,
    plus verification by the kid header.
*/
package token

import "time"

// # Domain Entities

// SigningKey is one realm-scoped RS256 keypair.
type SigningKey struct {
	// KID is the key identifier published in JWKS and stamped into the
	// JOSE header of every token this key signs.
	KID       string `json:"kid"`
	RealmID   string `json:"realm_id"`
	Algorithm string `json:"algorithm"`
	// PublicPEM is the PKIX public key, stored in the clear.
	PublicPEM string `json:"-"`
	// PrivateSealed is the PKCS#8 private key sealed under the master key.
	PrivateSealed string `json:"-"`
	// Active marks the signing key. At most one per realm.
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// AlgorithmRS256 is the only signing algorithm the server issues.
const AlgorithmRS256 = "RS256"
