package rp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pardot/rp/discovery"
	"github.com/pardot/rp/pkce"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// DefaultTokenLifetime is assumed when the token response has no expires_in.
const DefaultTokenLifetime = 3600 * time.Second

// Scopes requested on every login.
var Scopes = []string{oidc.ScopeOpenID, "profile", "email"}

// Client talks to the provider: it builds authorization URLs, exchanges
// codes, verifies ID tokens and fetches userinfo. Discovery happens on first
// use and is cached for the life of the Client.
type Client struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	providers *discovery.Cache
	logger    logrus.FieldLogger
	now       func() time.Time
}

// NewClient returns a Client for the provider described by cfg.
func NewClient(cfg *Config, logger logrus.FieldLogger) *Client {
	return &Client{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		providers: discovery.NewCache(discovery.Config{
			Issuer:         cfg.Issuer,
			IssuerInternal: cfg.IssuerInternal,
			Tenant:         cfg.TenantCode,
			AllowInsecure:  cfg.AllowInsecureRequests,
			Timeout:        cfg.HTTPTimeout.Duration,
		}),
		logger: logger,
		now:    time.Now,
	}
}

// Provider returns the discovered provider.
func (c *Client) Provider(ctx context.Context) (*discovery.Provider, error) {
	return c.providers.Get(ctx)
}

func (c *Client) oauth2Config(p *discovery.Provider) *oauth2.Config {
	style := oauth2.AuthStyleInHeader
	if m := p.Metadata.TokenEndpointAuthMethodsSupported; len(m) > 0 && !contains(m, "client_secret_basic") && contains(m, "client_secret_post") {
		style = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			// the browser follows the authorization endpoint, so it stays public
			AuthURL:   p.Metadata.AuthorizationEndpoint,
			TokenURL:  p.Internal.TokenEndpoint,
			AuthStyle: style,
		},
		RedirectURL: c.RedirectURL,
		Scopes:      Scopes,
	}
}

// AuthCodeURL returns the URL the user should be directed to to initiate the
// code auth flow for the given pending request.
func (c *Client) AuthCodeURL(ctx context.Context, pending *pkce.Pending) (string, error) {
	p, err := c.providers.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("discovering provider: %w", err)
	}

	return c.oauth2Config(p).AuthCodeURL(
		pending.State,
		oauth2.SetAuthURLParam("nonce", pending.Nonce),
		oauth2.SetAuthURLParam("code_challenge", pending.Challenge()),
		oauth2.SetAuthURLParam("code_challenge_method", pkce.MethodS256),
	), nil
}

// Tokens is the successful result of Exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken *string
	IDToken      string
	// Expiry is when the access token expires.
	Expiry time.Time

	Subject string
	// SessionID is the provider's sid claim, if present.
	SessionID *string
	// Claims holds every claim of the ID token.
	Claims map[string]interface{}
}

// Exchange completes the authorization code flow for a callback with the
// given query parameters. It checks the returned state against pending,
// redeems the code with the PKCE verifier, and verifies the ID token's
// signature, issuer, audience, expiry, nonce and access token hash. Every
// failure is an *ExchangeError.
func (c *Client) Exchange(ctx context.Context, query url.Values, pending *pkce.Pending) (*Tokens, error) {
	if !equal(query.Get("state"), pending.State) {
		return nil, &ExchangeError{Kind: KindStateMismatch, Cause: errors.New("state parameter does not match")}
	}
	code := query.Get("code")
	if code == "" {
		return nil, &ExchangeError{Kind: KindMissingCode, Cause: errors.New("callback has no code parameter")}
	}

	p, err := c.providers.Get(ctx)
	if err != nil {
		return nil, &ExchangeError{Kind: KindDiscovery, Cause: err}
	}
	hctx := context.WithValue(ctx, oauth2.HTTPClient, p.HTTPClient)

	t, err := c.oauth2Config(p).Exchange(hctx, code, oauth2.VerifierOption(pending.CodeVerifier))
	if err != nil {
		return nil, &ExchangeError{Kind: KindTokenEndpoint, Cause: parseExchangeError(err)}
	}

	raw, ok := t.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, &ExchangeError{Kind: KindMissingIDToken, Cause: errors.New("token response did not contain id_token")}
	}

	verifier := oidc.NewVerifier(p.Metadata.Issuer, p.KeySet, &oidc.Config{
		ClientID:             c.ClientID,
		SupportedSigningAlgs: p.Metadata.IDTokenSigningAlgValuesSupported,
		Now:                  c.now,
	})
	idt, err := verifier.Verify(hctx, raw)
	if err != nil {
		return nil, &ExchangeError{Kind: KindIDTokenInvalid, Cause: err}
	}

	if !equal(idt.Nonce, pending.Nonce) {
		return nil, &ExchangeError{Kind: KindNonceMismatch, Cause: errors.New("id token nonce does not match")}
	}
	if idt.AccessTokenHash != "" {
		if err := idt.VerifyAccessToken(t.AccessToken); err != nil {
			return nil, &ExchangeError{Kind: KindAtHashMismatch, Cause: err}
		}
	}

	var claims map[string]interface{}
	if err := idt.Claims(&claims); err != nil {
		return nil, &ExchangeError{Kind: KindIDTokenInvalid, Cause: fmt.Errorf("decoding claims: %w", err)}
	}

	toks := &Tokens{
		AccessToken: t.AccessToken,
		IDToken:     raw,
		Expiry:      c.tokenExpiry(t),
		Subject:     idt.Subject,
		Claims:      claims,
	}
	if t.RefreshToken != "" {
		rt := t.RefreshToken
		toks.RefreshToken = &rt
	}
	if sid, ok := claims["sid"].(string); ok && sid != "" {
		toks.SessionID = &sid
	}
	return toks, nil
}

func (c *Client) tokenExpiry(t *oauth2.Token) time.Time {
	if t.ExpiresIn > 0 {
		return c.now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	if !t.Expiry.IsZero() {
		return t.Expiry
	}
	return c.now().Add(DefaultTokenLifetime)
}

// UserInfo is the result of a userinfo request.
type UserInfo struct {
	Subject string
	Email   *string
	Name    *string
	Claims  map[string]interface{}
}

// Userinfo fetches claims from the provider's userinfo endpoint with the
// given access token. The response subject must equal sub, to prevent token
// substitution. Every failure is a *UserInfoError.
//
// https://openid.net/specs/openid-connect-core-1_0.html#UserInfoResponse
func (c *Client) Userinfo(ctx context.Context, accessToken, sub string) (*UserInfo, error) {
	ui, err := c.userinfo(ctx, accessToken, sub)
	if err != nil {
		return nil, &UserInfoError{Cause: err}
	}
	return ui, nil
}

func (c *Client) userinfo(ctx context.Context, accessToken, sub string) (*UserInfo, error) {
	p, err := c.providers.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering provider: %w", err)
	}
	if p.Internal.UserinfoEndpoint == "" {
		return nil, fmt.Errorf("provider does not have a userinfo endpoint")
	}

	// userinfo is just a HTTP call using the access token. use the oauth2
	// client over the rewriting transport to do this.
	hctx := context.WithValue(ctx, oauth2.HTTPClient, p.HTTPClient)
	oc := oauth2.NewClient(hctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	oc.Timeout = p.HTTPClient.Timeout

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.Internal.UserinfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := oc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("authentication to userinfo endpoint failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, &HTTPError{Response: resp, Body: body}
	}

	var claims map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("failed decoding response body: %w", err)
	}

	got, _ := claims["sub"].(string)
	if got != sub {
		return nil, fmt.Errorf("userinfo subject %q does not match token subject %q", got, sub)
	}

	return &UserInfo{
		Subject: got,
		Email:   stringClaim(claims, "email"),
		Name:    stringClaim(claims, "name"),
		Claims:  claims,
	}, nil
}

func stringClaim(claims map[string]interface{}, name string) *string {
	s, ok := claims[name].(string)
	if !ok {
		return nil
	}
	return &s
}

// equal compares two secrets in constant time. An empty expected value never
// matches.
func equal(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
