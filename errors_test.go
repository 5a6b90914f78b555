package rp

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"golang.org/x/oauth2"
)

func TestParseExchangeError(t *testing.T) {
	for _, tc := range []struct {
		Name     string
		In       error
		Want     string
		WantAuth string
	}{
		{
			Name: "Generic error",
			In:   errors.New("Some rando thing happened"),
			Want: "error exchanging token: Some rando thing happened",
		},
		{
			Name: "Invalid Grant error",
			In: &oauth2.RetrieveError{
				Response: &http.Response{
					StatusCode: 400,
					Status:     "400 Bad Request",
				},
				Body: []byte(`{"error": "invalid_grant", "error_description":"PKCE verification failed"}`),
			},
			Want: "invalid_grant error in token request: PKCE verification failed",
		},
		{
			Name: "Unparseable 400",
			In: &oauth2.RetrieveError{
				Response: &http.Response{
					StatusCode: 400,
					Status:     "400 Bad Request",
				},
				Body: []byte(`<html>bad</html>`),
			},
			Want: "http status 400 Bad Request: <html>bad</html>",
		},
		{
			Name: "Internal server error",
			In: &oauth2.RetrieveError{
				Response: &http.Response{
					StatusCode: 500,
					Status:     "500 Internal Server Error",
				},
				Body: []byte(`Boomtown`),
			},
			Want: "http status 500 Internal Server Error: Boomtown",
		},
		{
			Name: "401 error",
			In: &oauth2.RetrieveError{
				Response: &http.Response{
					StatusCode: 401,
					Status:     "401 Unauthorized",
					Header: http.Header{
						http.CanonicalHeaderKey("www-authenticate"): []string{"Basic"},
					},
				},
				Body: []byte(`{"error": "invalid_client", "error_description":"auth or something"}`),
			},
			Want:     "invalid_client error in token request: auth or something",
			WantAuth: "Basic",
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			got := parseExchangeError(tc.In)

			if got.Error() != tc.Want {
				t.Errorf("want: %s, got: %s", tc.Want, got.Error())
			}
			if tc.WantAuth != "" {
				var terr *TokenError
				if !errors.As(got, &terr) {
					t.Fatalf("want TokenError, got %T", got)
				}
				if terr.WWWAuthenticate != tc.WantAuth {
					t.Errorf("want www-authenticate %q, got %q", tc.WantAuth, terr.WWWAuthenticate)
				}
			}
		})
	}
}

func TestExchangeErrorKind(t *testing.T) {
	cause := errors.New("signature invalid")
	err := fmt.Errorf("callback: %w", &ExchangeError{Kind: KindIDTokenInvalid, Cause: cause})

	if !IsExchangeError(err, KindIDTokenInvalid) {
		t.Error("kind not matched through wrapping")
	}
	if IsExchangeError(err, KindNonceMismatch) {
		t.Error("matched the wrong kind")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable")
	}
	if IsExchangeError(cause, KindIDTokenInvalid) {
		t.Error("plain error matched")
	}
}
