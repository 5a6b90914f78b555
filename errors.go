package rp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// ErrSessionExpired is returned when a callback arrives without the pending
// login cookies, because they expired or were already consumed.
var ErrSessionExpired = errors.New("login session expired")

// ProviderError is an error the provider reported on the callback.
type ProviderError struct {
	Code        string
	Description string
}

func (p *ProviderError) Error() string {
	if p.Description == "" {
		return "provider returned error: " + p.Code
	}
	return fmt.Sprintf("provider returned error: %s: %s", p.Code, p.Description)
}

// ExchangeErrorKind identifies the step of the code exchange that failed.
type ExchangeErrorKind string

const (
	KindStateMismatch  ExchangeErrorKind = "state_mismatch"
	KindMissingCode    ExchangeErrorKind = "missing_code"
	KindDiscovery      ExchangeErrorKind = "discovery"
	KindTokenEndpoint  ExchangeErrorKind = "token_endpoint"
	KindMissingIDToken ExchangeErrorKind = "missing_id_token"
	KindIDTokenInvalid ExchangeErrorKind = "id_token_invalid"
	KindNonceMismatch  ExchangeErrorKind = "nonce_mismatch"
	KindAtHashMismatch ExchangeErrorKind = "at_hash_mismatch"
)

// ExchangeError is the failure result of Client.Exchange. The attempt is
// never retried, since the code has been consumed.
type ExchangeError struct {
	Kind  ExchangeErrorKind
	Cause error
}

func (e *ExchangeError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("code exchange failed: %s", e.Kind)
	}
	return fmt.Sprintf("code exchange failed: %s: %v", e.Kind, e.Cause)
}

func (e *ExchangeError) Unwrap() error {
	return e.Cause
}

// IsExchangeError reports whether err is an ExchangeError of the given kind.
func IsExchangeError(err error, kind ExchangeErrorKind) bool {
	var e *ExchangeError
	return errors.As(err, &e) && e.Kind == kind
}

// UserInfoError is a failed userinfo request. It never fails a login.
type UserInfoError struct {
	Cause error
}

func (u *UserInfoError) Error() string {
	return fmt.Sprintf("userinfo request failed: %v", u.Cause)
}

func (u *UserInfoError) Unwrap() error {
	return u.Cause
}

// ConfigurationMissingError lists configuration keys that are missing or
// invalid.
type ConfigurationMissingError struct {
	Fields []string
}

func (c *ConfigurationMissingError) Error() string {
	return "missing or invalid configuration: " + strings.Join(c.Fields, ", ")
}

// TokenErrorCode are the types of error that can be returned
type TokenErrorCode string

// https://tools.ietf.org/html/rfc6749#section-5.2
const (
	TokenErrorCodeInvalidRequest       TokenErrorCode = "invalid_request"
	TokenErrorCodeInvalidClient        TokenErrorCode = "invalid_client"
	TokenErrorCodeInvalidGrant         TokenErrorCode = "invalid_grant"
	TokenErrorCodeUnauthorizedClient   TokenErrorCode = "unauthorized_client"
	TokenErrorCodeUnsupportedGrantType TokenErrorCode = "unsupported_grant_type"
	TokenErrorCodeInvalidScope         TokenErrorCode = "invalid_scope"
)

// TokenError is an error response from the token endpoint.
//
// https://tools.ietf.org/html/rfc6749#section-5.2
type TokenError struct {
	ErrorCode   TokenErrorCode `json:"error,omitempty"`
	Description string         `json:"error_description,omitempty"`
	ErrorURI    string         `json:"error_uri,omitempty"`
	// WWWAuthenticate is set when an invalid_client error names the
	// authentication scheme the client should use.
	WWWAuthenticate string `json:"-"`
}

func (t *TokenError) Error() string {
	return fmt.Sprintf("%s error in token request: %s", t.ErrorCode, t.Description)
}

// HTTPError indicates a generic HTTP error occurred during an interaction. It
// exposes details about the returned response, as well as the original error
type HTTPError struct {
	Response *http.Response
	Body     []byte
	Cause    error
}

func (h *HTTPError) Error() string {
	return fmt.Sprintf("http status %s: %s", h.Response.Status, string(h.Body))
}

func (h *HTTPError) Unwrap() error {
	return h.Cause
}

// parseExchangeError takes an error returned from oauth2.Config.Exchange, and
// returns the first match of:
// * a TokenError if the response was 400 or 401 with a well formed body
// * a HTTPError if a general HTTP error response was returned
// * A generic error for all other errors
func parseExchangeError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		// the fallback when the body can't be interpreted
		herr := HTTPError{
			Response: rerr.Response,
			Body:     rerr.Body,
			// ignore cause to not make x/oauth2 part of the contract
		}

		if rerr.Response.StatusCode == http.StatusBadRequest || rerr.Response.StatusCode == http.StatusUnauthorized {
			terr := TokenError{}
			if err := json.Unmarshal(rerr.Body, &terr); err != nil || terr.ErrorCode == "" {
				return &herr
			}
			terr.WWWAuthenticate = rerr.Response.Header.Get("www-authenticate")
			return &terr
		}
		return &herr
	}
	return fmt.Errorf("error exchanging token: %w", err)
}
