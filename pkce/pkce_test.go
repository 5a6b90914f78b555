package pkce

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestChallenge(t *testing.T) {
	// RFC 7636 appendix B
	p := &Pending{CodeVerifier: "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"}
	if got, want := p.Challenge(), "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"; got != want {
		t.Errorf("want challenge %s, got %s", want, got)
	}
}

func TestNew(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatal(err)
	}
	for name, v := range map[string]string{"state": p.State, "nonce": p.Nonce, "verifier": p.CodeVerifier} {
		// 32 bytes, unpadded base64url
		if len(v) != 43 {
			t.Errorf("%s: want 43 characters, got %d (%q)", name, len(v), v)
		}
	}
	if p.State == p.Nonce || p.State == p.CodeVerifier || p.Nonce == p.CodeVerifier {
		t.Errorf("values are not independent: %+v", p)
	}

	q, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if q.State == p.State {
		t.Error("state repeated across calls")
	}
}

func TestNewShortRead(t *testing.T) {
	if _, err := newFrom(bytes.NewReader(make([]byte, 40))); err == nil {
		t.Error("want error on short random source")
	}
}

func TestSetAttributes(t *testing.T) {
	p := &Pending{State: "s", Nonce: "n", CodeVerifier: "v"}
	rec := httptest.NewRecorder()
	p.Set(rec, true)

	cookies := rec.Result().Cookies()
	if len(cookies) != 3 {
		t.Fatalf("want 3 cookies, got %d", len(cookies))
	}
	got := map[string]string{}
	for _, c := range cookies {
		got[c.Name] = c.Value
		if c.MaxAge != MaxAge {
			t.Errorf("%s: want max-age %d, got %d", c.Name, MaxAge, c.MaxAge)
		}
		if c.Path != "/" || !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
			t.Errorf("%s: unexpected attributes %+v", c.Name, c)
		}
	}
	want := map[string]string{StateCookie: "s", NonceCookie: "n", CodeVerifierCookie: "v"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cookies (-want +got):\n%s", diff)
	}
}

func TestRead(t *testing.T) {
	all := []*http.Cookie{
		{Name: StateCookie, Value: "s"},
		{Name: NonceCookie, Value: "n"},
		{Name: CodeVerifierCookie, Value: "v"},
	}

	for _, tc := range []struct {
		Name    string
		Cookies []*http.Cookie
		Want    *Pending
	}{
		{Name: "all present", Cookies: all, Want: &Pending{State: "s", Nonce: "n", CodeVerifier: "v"}},
		{Name: "none", Cookies: nil},
		{Name: "missing state", Cookies: all[1:]},
		{Name: "missing nonce", Cookies: []*http.Cookie{all[0], all[2]}},
		{Name: "missing verifier", Cookies: all[:2]},
		{Name: "empty value", Cookies: []*http.Cookie{all[0], all[1], {Name: CodeVerifierCookie, Value: ""}}},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/callback", nil)
			for _, c := range tc.Cookies {
				req.AddCookie(c)
			}
			got, ok := Read(req)
			if ok != (tc.Want != nil) {
				t.Fatalf("want ok=%v, got %v", tc.Want != nil, ok)
			}
			if diff := cmp.Diff(tc.Want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestClear(t *testing.T) {
	rec := httptest.NewRecorder()
	Clear(rec, false)

	cookies := rec.Result().Cookies()
	if len(cookies) != 3 {
		t.Fatalf("want 3 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if c.MaxAge >= 0 || c.Value != "" || c.Path != "/" {
			t.Errorf("%s: not an expiring cookie: %+v", c.Name, c)
		}
	}
}
