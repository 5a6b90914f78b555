package discovery

import (
	"fmt"
	"net/url"
	"strings"
)

// ProviderMetadata is the subset of the OIDC discovery document the relying
// party consumes.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
type ProviderMetadata struct {
	// REQUIRED. The OP's Issuer Identifier. This MUST be identical to the iss
	// Claim value in ID Tokens issued from this Issuer.
	Issuer string `json:"issuer,omitempty"`
	// REQUIRED. URL of the OP's OAuth 2.0 Authorization Endpoint. Browsers are
	// sent here, so it is never rewritten.
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	// URL of the OP's OAuth 2.0 Token Endpoint.
	TokenEndpoint string `json:"token_endpoint,omitempty"`
	// RECOMMENDED. URL of the OP's UserInfo Endpoint.
	UserinfoEndpoint string `json:"userinfo_endpoint,omitempty"`
	// REQUIRED. URL of the OP's JSON Web Key Set document.
	JWKSURI string `json:"jwks_uri,omitempty"`
	// OPTIONAL. URL at the OP to which an RP can perform a redirect to request
	// that the End-User be logged out at the OP.
	EndSessionEndpoint string `json:"end_session_endpoint,omitempty"`

	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	SubjectTypesSupported             []string `json:"subject_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	ClaimsSupported                   []string `json:"claims_supported,omitempty"`
	// PKCE methods, from RFC 8414.
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

func (p *ProviderMetadata) validate(requireHTTPS bool) error {
	var errs []string

	aestr := func(val, e string) {
		if val == "" {
			errs = append(errs, e)
		}
	}

	aesurl := func(val, name string) {
		if val == "" {
			return
		}
		u, err := url.Parse(val)
		if err != nil || !u.IsAbs() {
			errs = append(errs, name+" is not an absolute URL")
			return
		}
		if requireHTTPS && u.Scheme != "https" {
			errs = append(errs, name+" must use https")
		}
	}

	aestr(p.Issuer, "Issuer is required")
	aestr(p.AuthorizationEndpoint, "AuthorizationEndpoint is required")
	aestr(p.TokenEndpoint, "TokenEndpoint is required")
	aestr(p.JWKSURI, "JWKSURI is required")

	aesurl(p.AuthorizationEndpoint, "AuthorizationEndpoint")
	aesurl(p.TokenEndpoint, "TokenEndpoint")
	aesurl(p.UserinfoEndpoint, "UserinfoEndpoint")
	aesurl(p.JWKSURI, "JWKSURI")

	if len(p.CodeChallengeMethodsSupported) > 0 && !contains(p.CodeChallengeMethodsSupported, "S256") {
		errs = append(errs, "S256 code challenge method is not supported")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid provider metadata: %s", strings.Join(errs, ", "))
	}
	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
