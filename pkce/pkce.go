// Package pkce generates and stages the per-login state of an authorization
// request: the CSRF state, the ID token nonce and the PKCE code verifier.
//
// The three values travel as separate short-lived cookies and are only ever
// handled together. Read returns all of them or none.
package pkce

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

const (
	StateCookie        = "oidc_state"
	NonceCookie        = "oidc_nonce"
	CodeVerifierCookie = "oidc_code_verifier"

	// MaxAge is the lifetime of the pending cookies in seconds.
	MaxAge = 300

	// MethodS256 is the only challenge method sent.
	MethodS256 = "S256"

	entropyBytes = 32
)

// Pending is the state of an authorization request between redirecting to
// the provider and handling its callback.
type Pending struct {
	State        string
	Nonce        string
	CodeVerifier string
}

// New generates fresh, independent state, nonce and verifier values.
func New() (*Pending, error) {
	return newFrom(rand.Reader)
}

func newFrom(r io.Reader) (*Pending, error) {
	var vals [3]string
	for i := range vals {
		b := make([]byte, entropyBytes)
		if _, err := io.ReadFull(r, b); err != nil {
			return nil, fmt.Errorf("pkce: reading random bytes: %w", err)
		}
		vals[i] = base64.RawURLEncoding.EncodeToString(b)
	}
	return &Pending{State: vals[0], Nonce: vals[1], CodeVerifier: vals[2]}, nil
}

// Challenge returns the S256 code challenge for the verifier.
func (p *Pending) Challenge() string {
	return oauth2.S256ChallengeFromVerifier(p.CodeVerifier)
}

// Set writes the three pending cookies.
func (p *Pending) Set(w http.ResponseWriter, secure bool) {
	for _, c := range []struct{ name, value string }{
		{StateCookie, p.State},
		{NonceCookie, p.Nonce},
		{CodeVerifierCookie, p.CodeVerifier},
	} {
		http.SetCookie(w, cookie(c.name, c.value, MaxAge, secure))
	}
}

// Read returns the pending state from the request cookies. If any of the
// three is missing or empty, it returns false.
func Read(r *http.Request) (*Pending, bool) {
	var vals [3]string
	for i, name := range []string{StateCookie, NonceCookie, CodeVerifierCookie} {
		c, err := r.Cookie(name)
		if err != nil || c.Value == "" {
			return nil, false
		}
		vals[i] = c.Value
	}
	return &Pending{State: vals[0], Nonce: vals[1], CodeVerifier: vals[2]}, true
}

// Clear expires all three pending cookies.
func Clear(w http.ResponseWriter, secure bool) {
	for _, name := range []string{StateCookie, NonceCookie, CodeVerifierCookie} {
		http.SetCookie(w, cookie(name, "", -1, secure))
	}
}

func cookie(name, value string, maxAge int, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
