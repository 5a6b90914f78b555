package rp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pardot/rp/discovery"
	"github.com/pardot/rp/pkce"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/oauth2"
)

func TestOAuth2ConfigEndpoints(t *testing.T) {
	c := &Client{ClientID: "cid", ClientSecret: "secret", RedirectURL: "https://rp/callback"}

	for _, tc := range []struct {
		Name    string
		Methods []string
		Want    oauth2.AuthStyle
	}{
		{Name: "unadvertised", Want: oauth2.AuthStyleInHeader},
		{Name: "basic", Methods: []string{"client_secret_basic"}, Want: oauth2.AuthStyleInHeader},
		{Name: "both", Methods: []string{"client_secret_post", "client_secret_basic"}, Want: oauth2.AuthStyleInHeader},
		{Name: "post only", Methods: []string{"client_secret_post"}, Want: oauth2.AuthStyleInParams},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			p := &discovery.Provider{
				Metadata: discovery.ProviderMetadata{
					AuthorizationEndpoint:             "http://localhost:8080/demo/authorize",
					TokenEndpoint:                     "http://localhost:8080/demo/token",
					TokenEndpointAuthMethodsSupported: tc.Methods,
				},
				Internal: discovery.ProviderMetadata{
					AuthorizationEndpoint: "http://localhost:8080/demo/authorize",
					TokenEndpoint:         "http://op-backend:8080/demo/token",
				},
			}

			oc := c.oauth2Config(p)
			if oc.Endpoint.AuthStyle != tc.Want {
				t.Errorf("want auth style %v, got %v", tc.Want, oc.Endpoint.AuthStyle)
			}
			if oc.Endpoint.AuthURL != "http://localhost:8080/demo/authorize" {
				t.Errorf("auth url must stay public, got %s", oc.Endpoint.AuthURL)
			}
			if oc.Endpoint.TokenURL != "http://op-backend:8080/demo/token" {
				t.Errorf("token url must be internal, got %s", oc.Endpoint.TokenURL)
			}
		})
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := &Client{now: func() time.Time { return now }}

	for _, tc := range []struct {
		Name string
		Tok  *oauth2.Token
		Want time.Time
	}{
		{Name: "expires_in", Tok: &oauth2.Token{ExpiresIn: 60, Expiry: now.Add(time.Hour)}, Want: now.Add(time.Minute)},
		{Name: "expiry only", Tok: &oauth2.Token{Expiry: now.Add(time.Hour)}, Want: now.Add(time.Hour)},
		{Name: "neither", Tok: &oauth2.Token{}, Want: now.Add(3600 * time.Second)},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			if got := c.tokenExpiry(tc.Tok); !got.Equal(tc.Want) {
				t.Errorf("want %s, got %s", tc.Want, got)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	for _, tc := range []struct {
		Got, Want string
		Equal     bool
	}{
		{Got: "abc", Want: "abc", Equal: true},
		{Got: "abc", Want: "abd"},
		{Got: "abc", Want: "abcd"},
		{Got: "", Want: ""},
		{Got: "abc", Want: ""},
	} {
		if got := equal(tc.Got, tc.Want); got != tc.Equal {
			t.Errorf("equal(%q, %q): want %t, got %t", tc.Got, tc.Want, tc.Equal, got)
		}
	}
}

func TestUserinfo(t *testing.T) {
	op := startMockOP(t)
	logger, _ := logtest.NewNullLogger()
	c := NewClient(op.config(), logger)
	ctx := context.Background()

	ui, err := c.Userinfo(ctx, testAccessToken, testSubject)
	if err != nil {
		t.Fatal(err)
	}
	if ui.Subject != testSubject || ui.Email == nil || *ui.Email != "user@example.com" || ui.Name == nil || *ui.Name != "Test User" {
		t.Errorf("unexpected userinfo: %+v", ui)
	}

	for name, tc := range map[string]struct {
		token, sub string
		status     int
	}{
		"bad token":        {token: "nope", sub: testSubject},
		"subject mismatch": {token: testAccessToken, sub: "user-2"},
		"server error":     {token: testAccessToken, sub: testSubject, status: 502},
	} {
		t.Run(name, func(t *testing.T) {
			op.userinfoStatus = tc.status
			defer func() { op.userinfoStatus = 0 }()

			_, err := c.Userinfo(ctx, tc.token, tc.sub)
			var uerr *UserInfoError
			if !errors.As(err, &uerr) {
				t.Fatalf("want UserInfoError, got %T %v", err, err)
			}
		})
	}
}

func TestAuthCodeURLDiscoversOnce(t *testing.T) {
	op := startMockOP(t)
	logger, _ := logtest.NewNullLogger()
	c := NewClient(op.config(), logger)

	p1, err := c.Provider(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	pending, err := pkce.New()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.AuthCodeURL(context.Background(), pending); err != nil {
		t.Fatal(err)
	}
	p2, err := c.Provider(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Error("provider was discovered twice")
	}
	if p1.Metadata.Issuer != op.issuer() {
		t.Errorf("want issuer %s, got %s", op.issuer(), p1.Metadata.Issuer)
	}
}
