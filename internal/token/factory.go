// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package token

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taibuivan/authme/internal/client"
	"github.com/taibuivan/authme/internal/platform/clock"
	"github.com/taibuivan/authme/internal/rbac"
	"github.com/taibuivan/authme/internal/realm"
	"github.com/taibuivan/authme/internal/user"
	"github.com/taibuivan/authme/pkg/uuid"
)

// # Definitions & Constructors

// Factory assembles and signs the JWTs handed out by the protocol endpoints.
type Factory struct {
	manager *Manager
	clock   clock.Clock
	// baseURL prefixes every issuer: iss = {baseURL}/realms/{name}.
	baseURL string
}

// NewFactory wires the token factory.
func NewFactory(manager *Manager, baseURL string, clk clock.Clock) *Factory {
	return &Factory{manager: manager, baseURL: baseURL, clock: clk}
}

// Issuer returns the issuer URL for a realm. Relying parties compare this
// value byte-for-byte, so it carries no trailing slash.
func (factory *Factory) Issuer(realmName string) string {
	return factory.baseURL + "/realms/" + realmName
}

// # Issuance Input

// IssueInput carries everything claim assembly needs for one token.
type IssueInput struct {
	Realm  *realm.Realm
	Client *client.Client
	// User is the authenticated account, or the service account for the
	// client_credentials grant.
	User *user.User
	// Scope is the space-joined granted scope string.
	Scope string
	// Mappers are the protocol mappers of the granted client scopes.
	Mappers []client.ProtocolMapper
	// Roles is the user's effective role set, consumed by role mappers.
	Roles *rbac.EffectiveRoles
	// SessionID is the SSO session identifier (sid claim). Empty for
	// sessionless grants like client_credentials.
	SessionID string
	// AuthTime is when the user last actively authenticated.
	AuthTime time.Time
	// Nonce is echoed into the ID token when the client sent one.
	Nonce string
	// Lifespan overrides the realm's access token lifespan when positive.
	Lifespan time.Duration
}

// # Access Tokens

/*
AccessToken mints a signed RS256 access token.

The audience starts as the requesting client_id; audience mappers extend
it. Role claims (realm_access, resource_access) appear only when a role
mapper is attached to one of the granted scopes.

Parameters:
  - context: context.Context
  - input: IssueInput

Returns:
  - string: The signed compact JWT
  - string: The jti claim, for session bookkeeping
  - error: Signing failures
*/
func (factory *Factory) AccessToken(context context.Context, input IssueInput) (string, string, error) {
	now := factory.clock.Now()
	lifespan := input.Realm.AccessTokenLifespan
	if input.Lifespan > 0 {
		lifespan = input.Lifespan
	}

	jti := uuid.New()
	claims := jwt.MapClaims{
		"iss": factory.Issuer(input.Realm.Name),
		"sub": input.User.ID,
		"aud": input.Client.ClientID,
		"exp": now.Add(lifespan).Unix(),
		"iat": now.Unix(),
		"jti": jti,
		"typ": "Bearer",
		"azp": input.Client.ClientID,
	}
	if input.Scope != "" {
		claims["scope"] = input.Scope
	}
	if input.User.Username != "" {
		claims["preferred_username"] = input.User.Username
	}
	if input.SessionID != "" {
		claims["sid"] = input.SessionID
	}
	if !input.AuthTime.IsZero() {
		claims["auth_time"] = input.AuthTime.Unix()
	}

	factory.applyMappers(claims, input)

	signed, err := factory.sign(context, input.Realm.ID, claims)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// # ID Tokens

/*
IDToken mints the OIDC identity token paired with an access token.

The at_hash claim binds the pair: base64url of the left half of the
SHA-256 digest of the access token (RS256 uses SHA-256).

Parameters:
  - context: context.Context
  - input: IssueInput
  - accessToken: string (the compact JWT returned alongside)

Returns:
  - string: The signed compact JWT
  - error: Signing failures
*/
func (factory *Factory) IDToken(context context.Context, input IssueInput, accessToken string) (string, error) {
	now := factory.clock.Now()
	claims := jwt.MapClaims{
		"iss":     factory.Issuer(input.Realm.Name),
		"sub":     input.User.ID,
		"aud":     input.Client.ClientID,
		"exp":     now.Add(input.Realm.AccessTokenLifespan).Unix(),
		"iat":     now.Unix(),
		"azp":     input.Client.ClientID,
		"at_hash": AccessTokenHash(accessToken),
	}
	if input.Nonce != "" {
		claims["nonce"] = input.Nonce
	}
	if input.SessionID != "" {
		claims["sid"] = input.SessionID
	}
	if !input.AuthTime.IsZero() {
		claims["auth_time"] = input.AuthTime.Unix()
	}

	scopes := strings.Fields(input.Scope)
	if containsScope(scopes, "profile") {
		if input.User.Username != "" {
			claims["preferred_username"] = input.User.Username
		}
		if input.User.FirstName != "" {
			claims["given_name"] = input.User.FirstName
		}
		if input.User.LastName != "" {
			claims["family_name"] = input.User.LastName
		}
	}
	if containsScope(scopes, "email") && input.User.Email != "" {
		claims["email"] = input.User.Email
		claims["email_verified"] = input.User.EmailVerified
	}

	factory.applyMappers(claims, input)

	return factory.sign(context, input.Realm.ID, claims)
}

// # Logout Tokens

/*
LogoutToken mints the OIDC back-channel logout token (spec section 2.4).

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - recipient: *client.Client
  - userID: string
  - sessionID: string (included when the client requires session scoping)

Returns:
  - string: The signed compact JWT
  - error: Signing failures
*/
func (factory *Factory) LogoutToken(context context.Context, currentRealm *realm.Realm, recipient *client.Client, userID, sessionID string) (string, error) {
	now := factory.clock.Now()
	claims := jwt.MapClaims{
		"iss": factory.Issuer(currentRealm.Name),
		"sub": userID,
		"aud": recipient.ClientID,
		"iat": now.Unix(),
		"exp": now.Add(2 * time.Minute).Unix(),
		"jti": uuid.New(),
		"events": map[string]any{
			"http://schemas.openid.net/event/backchannel-logout": map[string]any{},
		},
	}
	if sessionID != "" && recipient.BackchannelLogoutSessionRequired {
		claims["sid"] = sessionID
	}

	return factory.sign(context, currentRealm.ID, claims)
}

// # Verification

/*
Verify parses and validates a token minted by this realm.

The key is selected by the kid header; retired keys still verify. Issuer,
expiry, and algorithm family are enforced.

Parameters:
  - context: context.Context
  - currentRealm: *realm.Realm
  - tokenString: string

Returns:
  - jwt.MapClaims: The validated claims
  - error: Signature, expiry, or issuer failures
*/
func (factory *Factory) Verify(context context.Context, currentRealm *realm.Realm, tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("token_factory_unexpected_method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token_factory_missing_kid")
		}
		return factory.manager.PublicKey(context, currentRealm.ID, kid)
	},
		jwt.WithIssuer(factory.Issuer(currentRealm.Name)),
		jwt.WithTimeFunc(factory.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("token_factory_verify_failed: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("token_factory_invalid_token")
	}
	return claims, nil
}

// # Internals

// sign stamps the active kid into the JOSE header and signs the claims.
func (factory *Factory) sign(context context.Context, realmID string, claims jwt.MapClaims) (string, error) {
	kid, privateKey, err := factory.manager.ActiveSigner(context, realmID)
	if err != nil {
		return "", err
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	unsigned.Header["kid"] = kid

	signed, err := unsigned.SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("token_factory_sign_failed: %w", err)
	}
	return signed, nil
}

// applyMappers runs the granted scopes' protocol mappers over the claim set.
// Mappers never override the registered claims assembled above.
func (factory *Factory) applyMappers(claims jwt.MapClaims, input IssueInput) {
	for _, mapper := range input.Mappers {
		switch mapper.Type {

		case client.MapperUserProperty:
			if value := userProperty(input.User, mapper.Config["property"]); value != "" {
				setClaim(claims, mapper.Config["claim"], value)
			}

		case client.MapperHardcodedClaim:
			setClaim(claims, mapper.Config["claim"], mapper.Config["value"])

		case client.MapperRealmRoles:
			if input.Roles != nil && len(input.Roles.RealmRoles) > 0 {
				claims["realm_access"] = map[string]any{"roles": input.Roles.RealmRoles}
			}

		case client.MapperClientRoles:
			if input.Roles != nil && len(input.Roles.ClientRoles) > 0 {
				access := map[string]any{}
				for clientID, roles := range input.Roles.ClientRoles {
					access[clientID] = map[string]any{"roles": roles}
				}
				claims["resource_access"] = access
			}

		case client.MapperAudience:
			if audience := mapper.Config["audience"]; audience != "" {
				claims["aud"] = appendAudience(claims["aud"], audience)
			}
		}
	}
}

// registeredClaims must survive mapper collisions.
var registeredClaims = map[string]bool{
	"iss": true, "sub": true, "aud": true, "exp": true, "iat": true,
	"jti": true, "azp": true, "sid": true, "auth_time": true,
	"nonce": true, "at_hash": true, "scope": true, "typ": true,
}

func setClaim(claims jwt.MapClaims, name string, value any) {
	if name == "" || registeredClaims[name] {
		return
	}
	claims[name] = value
}

func userProperty(account *user.User, property string) string {
	if account == nil {
		return ""
	}
	switch property {
	case "username":
		return account.Username
	case "email":
		return account.Email
	case "firstName":
		return account.FirstName
	case "lastName":
		return account.LastName
	default:
		return ""
	}
}

func appendAudience(current any, audience string) any {
	switch existing := current.(type) {
	case nil:
		return audience
	case string:
		if existing == audience {
			return existing
		}
		return []string{existing, audience}
	case []string:
		for _, entry := range existing {
			if entry == audience {
				return existing
			}
		}
		return append(existing, audience)
	default:
		return audience
	}
}

func containsScope(scopes []string, name string) bool {
	for _, scope := range scopes {
		if scope == name {
			return true
		}
	}
	return false
}

// AccessTokenHash computes the OIDC at_hash value for an RS256 access
// token: base64url of the left 128 bits of its SHA-256 digest.
func AccessTokenHash(accessToken string) string {
	digest := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(digest[:len(digest)/2])
}
