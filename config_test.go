package rp

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func validEnv() map[string]string {
	return map[string]string{
		"RP_DATABASE_URL":                  "postgres://rp@localhost/rp?sslmode=disable",
		"RP_OIDC_ISSUER":                   "http://localhost:8080",
		"RP_OIDC_ISSUER_INTERNAL":          "http://op-backend:8080",
		"RP_OIDC_TENANT_CODE":              "demo",
		"RP_OIDC_CLIENT_ID":                "client",
		"RP_OIDC_CLIENT_SECRET":            "secret",
		"RP_OIDC_REDIRECT_URI":             "http://localhost:3000/api/auth/callback",
		"RP_OIDC_POST_LOGOUT_REDIRECT_URI": "http://localhost:3000/",
		"RP_SESSION_SECRET":                "session-secret",
		"RP_TOKEN_ENCRYPTION_KEY":          testKeyHex,
		"RP_ALLOW_INSECURE_REQUESTS":       "true",
		"RP_HTTP_TIMEOUT":                  "3s",
	}
}

func lookupIn(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestOverlayEnv(t *testing.T) {
	c := &Config{ListenAddr: ":9999"}
	if err := c.overlayEnv(lookupIn(validEnv())); err != nil {
		t.Fatal(err)
	}
	c = c.withDefaults()

	want := &Config{
		DatabaseURL:           "postgres://rp@localhost/rp?sslmode=disable",
		DatabaseDriver:        "postgres",
		Issuer:                "http://localhost:8080",
		IssuerInternal:        "http://op-backend:8080",
		TenantCode:            "demo",
		ClientID:              "client",
		ClientSecret:          "secret",
		RedirectURI:           "http://localhost:3000/api/auth/callback",
		PostLogoutRedirectURI: "http://localhost:3000/",
		SessionSecret:         "session-secret",
		TokenEncryptionKey:    testKeyHex,
		AllowInsecureRequests: true,
		ListenAddr:            ":9999",
		HTTPTimeout:           Duration{3 * time.Second},
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("unexpected config (-want +got):\n%s", diff)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestOverlayEnvBadValues(t *testing.T) {
	env := validEnv()
	env["RP_ALLOW_INSECURE_REQUESTS"] = "sometimes"
	env["RP_HTTP_TIMEOUT"] = "soon"

	err := (&Config{}).overlayEnv(lookupIn(env))
	var cerr *ConfigurationMissingError
	if !errors.As(err, &cerr) {
		t.Fatalf("want ConfigurationMissingError, got %v", err)
	}
	want := []string{"RP_ALLOW_INSECURE_REQUESTS", "RP_HTTP_TIMEOUT"}
	if diff := cmp.Diff(want, cerr.Fields); diff != "" {
		t.Errorf("fields (-want +got):\n%s", diff)
	}
}

func TestDefaults(t *testing.T) {
	c := (&Config{Issuer: "https://op.example.com"}).withDefaults()

	if c.IssuerInternal != "https://op.example.com" {
		t.Errorf("internal issuer should default to issuer, got %q", c.IssuerInternal)
	}
	if c.DatabaseDriver != "postgres" || c.ListenAddr != ":3000" || c.HTTPTimeout.Duration != 10*time.Second {
		t.Errorf("unexpected defaults: %+v", c)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		Name   string
		Mutate func(env map[string]string)
		Fields []string
	}{
		{
			Name:   "missing issuer and secret",
			Mutate: func(env map[string]string) {
				delete(env, "RP_OIDC_ISSUER")
				delete(env, "RP_SESSION_SECRET")
			},
			Fields: []string{"RP_OIDC_ISSUER", "RP_SESSION_SECRET"},
		},
		{
			Name:   "short key",
			Mutate: func(env map[string]string) { env["RP_TOKEN_ENCRYPTION_KEY"] = "abcd" },
			Fields: []string{"RP_TOKEN_ENCRYPTION_KEY"},
		},
		{
			Name:   "key not hex",
			Mutate: func(env map[string]string) { env["RP_TOKEN_ENCRYPTION_KEY"] = strings.Repeat("zz", 32) },
			Fields: []string{"RP_TOKEN_ENCRYPTION_KEY"},
		},
		{
			Name:   "unknown driver",
			Mutate: func(env map[string]string) { env["RP_DATABASE_DRIVER"] = "mysql" },
			Fields: []string{"RP_DATABASE_DRIVER"},
		},
		{
			Name:   "redirect not a url",
			Mutate: func(env map[string]string) { env["RP_OIDC_REDIRECT_URI"] = "callback" },
			Fields: []string{"RP_OIDC_REDIRECT_URI"},
		},
		{
			Name:   "no post logout redirect",
			Mutate: func(env map[string]string) { delete(env, "RP_OIDC_POST_LOGOUT_REDIRECT_URI") },
			Fields: []string{"RP_OIDC_POST_LOGOUT_REDIRECT_URI"},
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			env := validEnv()
			tc.Mutate(env)

			c := &Config{}
			if err := c.overlayEnv(lookupIn(env)); err != nil {
				t.Fatal(err)
			}
			err := c.withDefaults().Validate()

			var cerr *ConfigurationMissingError
			if !errors.As(err, &cerr) {
				t.Fatalf("want ConfigurationMissingError, got %v", err)
			}
			got := append([]string(nil), cerr.Fields...)
			sort.Strings(got)
			if diff := cmp.Diff(tc.Fields, got); diff != "" {
				t.Errorf("fields (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rp.yaml")
	yml := `
databaseURL: bolt:///var/lib/rp.db
issuer: https://op.example.com
tenantCode: demo
clientID: from-file
clientSecret: secret
redirectURI: https://rp.example.com/auth/cb
postLogoutRedirectURI: https://rp.example.com/
sessionSecret: s3cret
tokenEncryptionKey: ` + testKeyHex + `
httpTimeout: 5s
`
	if err := os.WriteFile(path, []byte(yml), 0600); err != nil {
		t.Fatal(err)
	}
	for k := range validEnv() {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
	t.Setenv("RP_OIDC_CLIENT_ID", "from-env")

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.ClientID != "from-env" {
		t.Errorf("environment should override the file, got %q", c.ClientID)
	}
	if c.HTTPTimeout.Duration != 5*time.Second {
		t.Errorf("want 5s timeout, got %s", c.HTTPTimeout)
	}
	if c.IssuerInternal != "https://op.example.com" {
		t.Errorf("unexpected internal issuer %q", c.IssuerInternal)
	}
	if got := c.CallbackPath(); got != "/auth/cb" {
		t.Errorf("want callback path /auth/cb, got %s", got)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("want error for missing file")
	}
}

func TestDurationUnmarshal(t *testing.T) {
	for in, want := range map[string]time.Duration{
		`"10s"`:   10 * time.Second,
		`"1m30s"`: 90 * time.Second,
		`15`:      15 * time.Second,
	} {
		var d Duration
		if err := d.UnmarshalJSON([]byte(in)); err != nil {
			t.Errorf("%s: %v", in, err)
			continue
		}
		if d.Duration != want {
			t.Errorf("%s: want %s, got %s", in, want, d.Duration)
		}
	}

	var d Duration
	if err := d.UnmarshalJSON([]byte(`"later"`)); err == nil {
		t.Error("want error for bad duration")
	}
}
