package rp

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/pardot/rp/discovery"
)

const (
	testTenant       = "demo"
	testClientID     = "rp-client"
	testClientSecret = "rp-secret"
	testRedirectURL  = "http://rp.example.com/api/auth/callback"
	testSubject      = "user-1"
	testAccessToken  = "access-abc123"
)

type authRequest struct {
	challenge string
	method    string
	nonce     string
	redirect  string
}

// mockOP mocks out just enough of a tenant scoped OIDC provider for tests.
// Codes are issued with issueCode, standing in for the user's trip through
// the authorization endpoint, and are redeemable once.
type mockOP struct {
	baseURL string
	key     *rsa.PrivateKey
	// signKey, when set, signs ID tokens instead of key.
	signKey *rsa.PrivateKey

	// knobs for failure cases
	omitExpiresIn  bool
	omitIDToken    bool
	omitRefresh    bool
	nonceOverride  string
	atHashOverride string
	userinfoStatus int
	userinfoSub    string

	mu    sync.Mutex
	codes map[string]authRequest
	n     int

	tokenRequests    int
	userinfoRequests int
}

func startMockOP(t *testing.T) *mockOP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	op := &mockOP{key: key, codes: map[string]authRequest{}}

	m := http.NewServeMux()
	m.HandleFunc("/"+testTenant+"/.well-known/openid-configuration", op.handleDiscovery)
	m.HandleFunc("/"+testTenant+"/token", op.handleToken)
	m.HandleFunc("/"+testTenant+"/userinfo", op.handleUserinfo)
	m.HandleFunc("/"+testTenant+"/jwks", op.handleKeys)

	ts := httptest.NewServer(m)
	t.Cleanup(ts.Close)
	op.baseURL = ts.URL
	return op
}

func (o *mockOP) issuer() string {
	return o.baseURL + "/" + testTenant
}

func (o *mockOP) config() *Config {
	return (&Config{
		Issuer:                o.baseURL,
		TenantCode:            testTenant,
		ClientID:              testClientID,
		ClientSecret:          testClientSecret,
		RedirectURI:           testRedirectURL,
		AllowInsecureRequests: true,
	}).withDefaults()
}

func (o *mockOP) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "not GET request", http.StatusMethodNotAllowed)
		return
	}
	iss := o.issuer()
	_ = json.NewEncoder(w).Encode(discovery.ProviderMetadata{
		Issuer:                            iss,
		AuthorizationEndpoint:             iss + "/authorize",
		TokenEndpoint:                     iss + "/token",
		UserinfoEndpoint:                  iss + "/userinfo",
		JWKSURI:                           iss + "/jwks",
		ResponseTypesSupported:            []string{"code"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic"},
		CodeChallengeMethodsSupported:     []string{"S256"},
	})
}

// issueCode records an authorization request, as built by the relying party,
// and returns the code the provider would send back.
func (o *mockOP) issueCode(t *testing.T, authURL string) (code, state string) {
	t.Helper()

	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if got := u.Scheme + "://" + u.Host + u.Path; got != o.issuer()+"/authorize" {
		t.Fatalf("authorization request went to %s", got)
	}
	if q.Get("client_id") != testClientID || q.Get("redirect_uri") != testRedirectURL || q.Get("response_type") != "code" {
		t.Fatalf("bad authorization request: %s", q.Encode())
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.n++
	code = fmt.Sprintf("code-%d", o.n)
	o.codes[code] = authRequest{
		challenge: q.Get("code_challenge"),
		method:    q.Get("code_challenge_method"),
		nonce:     q.Get("nonce"),
		redirect:  q.Get("redirect_uri"),
	}
	return code, q.Get("state")
}

func (o *mockOP) handleToken(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.tokenRequests++
	o.mu.Unlock()

	if r.Method != http.MethodPost {
		http.Error(w, "not a POST request", http.StatusMethodNotAllowed)
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok || clientID != testClientID || clientSecret != testClientSecret {
		w.Header().Set("WWW-Authenticate", "Basic")
		tokenError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}
	if r.FormValue("grant_type") != "authorization_code" {
		tokenError(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}

	o.mu.Lock()
	ar, ok := o.codes[r.FormValue("code")]
	delete(o.codes, r.FormValue("code"))
	o.mu.Unlock()
	if !ok {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "code is invalid or was already used")
		return
	}
	if r.FormValue("redirect_uri") != ar.redirect {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}
	if ar.method != "S256" || s256(r.FormValue("code_verifier")) != ar.challenge {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	resp := map[string]interface{}{
		"access_token": testAccessToken,
		"token_type":   "Bearer",
	}
	if !o.omitRefresh {
		resp["refresh_token"] = "refresh-xyz"
	}
	if !o.omitExpiresIn {
		resp["expires_in"] = 120
	}
	if !o.omitIDToken {
		nonce := ar.nonce
		if o.nonceOverride != "" {
			nonce = o.nonceOverride
		}
		idt, err := o.idToken(nonce)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp["id_token"] = idt
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (o *mockOP) idToken(nonce string) (string, error) {
	key := o.key
	if o.signKey != nil {
		key = o.signKey
	}
	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.RS256,
		Key:       jose.JSONWebKey{Key: key, Algorithm: "RS256", KeyID: "test"},
	}, nil)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(testAccessToken))
	atHash := base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
	if o.atHashOverride != "" {
		atHash = o.atHashOverride
	}

	now := time.Now()
	claims := map[string]interface{}{
		"iss":     o.issuer(),
		"aud":     testClientID,
		"sub":     testSubject,
		"exp":     now.Add(5 * time.Minute).Unix(),
		"iat":     now.Unix(),
		"nonce":   nonce,
		"sid":     "op-session-1",
		"at_hash": atHash,
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		return "", err
	}
	return jws.CompactSerialize()
}

func (o *mockOP) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.userinfoRequests++
	o.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+testAccessToken {
		http.Error(w, "bad token", http.StatusUnauthorized)
		return
	}
	if o.userinfoStatus != 0 {
		http.Error(w, "userinfo broken", o.userinfoStatus)
		return
	}
	sub := testSubject
	if o.userinfoSub != "" {
		sub = o.userinfoSub
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"sub":   sub,
		"email": "user@example.com",
		"name":  "Test User",
	})
}

func (o *mockOP) handleKeys(w http.ResponseWriter, r *http.Request) {
	jwks := jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{Key: o.key.Public(), Algorithm: "RS256", KeyID: "test", Use: "sig"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jwks)
}

func tokenError(w http.ResponseWriter, code int, errCode, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errCode,
		"error_description": desc,
	})
}

func s256(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// cookieHeader renders the cookies set on a response as a request Cookie
// header, skipping deletions.
func cookieHeader(res *http.Response) string {
	var parts []string
	for _, c := range res.Cookies() {
		if c.MaxAge < 0 {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
