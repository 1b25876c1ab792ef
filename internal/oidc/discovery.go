// Copyright (c) 2026 Authme. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package oidc

import (
	"github.com/taibuivan/authme/internal/client"
	"github.com/taibuivan/authme/internal/realm"
)

// # Discovery

// DiscoveryDocument is the OIDC Discovery metadata for one realm.
type DiscoveryDocument struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	IntrospectionEndpoint         string   `json:"introspection_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint"`
	EndSessionEndpoint            string   `json:"end_session_endpoint"`
	DeviceAuthorizationEndpoint   string   `json:"device_authorization_endpoint"`
	JwksURI                       string   `json:"jwks_uri"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	SubjectTypesSupported         []string `json:"subject_types_supported"`
	IDTokenSigningAlgValues       []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported               []string `json:"scopes_supported"`
	TokenEndpointAuthMethods      []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported               []string `json:"claims_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	BackchannelLogoutSupported    bool     `json:"backchannel_logout_supported"`
	BackchannelLogoutSession      bool     `json:"backchannel_logout_session_supported"`
}

// Discovery assembles the metadata document for a realm. Every endpoint
// derives from the issuer, so relying parties only configure one URL.
func (service *Service) Discovery(currentRealm *realm.Realm) *DiscoveryDocument {
	issuer := service.tokens.Issuer(currentRealm.Name)
	protocol := issuer + "/protocol/openid-connect"

	return &DiscoveryDocument{
		Issuer:                      issuer,
		AuthorizationEndpoint:       protocol + "/auth",
		TokenEndpoint:               protocol + "/token",
		IntrospectionEndpoint:       protocol + "/token/introspect",
		RevocationEndpoint:          protocol + "/revoke",
		UserinfoEndpoint:            protocol + "/userinfo",
		EndSessionEndpoint:          protocol + "/logout",
		DeviceAuthorizationEndpoint: protocol + "/auth/device",
		JwksURI:                     protocol + "/certs",
		ResponseTypesSupported:      []string{"code"},
		GrantTypesSupported: []string{
			client.GrantAuthorizationCode,
			client.GrantRefreshToken,
			client.GrantClientCredentials,
			client.GrantPassword,
			client.GrantDeviceCode,
		},
		SubjectTypesSupported:   []string{"public"},
		IDTokenSigningAlgValues: []string{"RS256"},
		ScopesSupported:         []string{ScopeOpenID, "profile", "email", "roles", ScopeOfflineAccess},
		TokenEndpointAuthMethods: []string{
			"client_secret_basic",
			"client_secret_post",
		},
		ClaimsSupported: []string{
			"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce", "sid",
			"preferred_username", "given_name", "family_name", "name",
			"email", "email_verified",
		},
		CodeChallengeMethodsSupported: []string{"S256"},
		BackchannelLogoutSupported:    true,
		BackchannelLogoutSession:      true,
	}
}
