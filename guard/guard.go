// Package guard gates requests to the authenticated area on the presence of a
// validly signed session cookie.
//
// The guard never touches storage. A request that passes may still refer to a
// revoked or expired session; the handler behind the guard is responsible for
// the authoritative lookup.
package guard

import (
	"net/http"
	"strings"
)

const (
	defaultCookieName = "rp_session"
	defaultPrefix     = "/dashboard"
	defaultRedirectTo = "/"
)

// Guard wraps another http.Handler, redirecting requests under Prefix that do
// not carry a verifiable session cookie.
type Guard struct {
	// Secret is the session signing secret.
	Secret string
	// CookieName defaults to rp_session.
	CookieName string
	// Prefix is the protected path prefix. Defaults to /dashboard, which
	// covers /dashboard and everything below it.
	Prefix string
	// RedirectTo is where unauthenticated requests are sent. Defaults to /.
	RedirectTo string
}

// Wrap returns an http.Handler that checks the session cookie before calling
// next.
func (g *Guard) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.protects(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if _, ok := g.SessionID(r); !ok {
			http.Redirect(w, r, g.redirectTo(), http.StatusFound)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SessionID returns the identifier from a verified session cookie. A missing
// cookie, a missing secret and a bad signature are indistinguishable.
func (g *Guard) SessionID(r *http.Request) (string, bool) {
	if g.Secret == "" {
		return "", false
	}
	c, err := r.Cookie(g.cookieName())
	if err != nil || c.Value == "" {
		return "", false
	}
	return verify(c.Value, g.Secret)
}

func (g *Guard) protects(p string) bool {
	prefix := g.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func (g *Guard) cookieName() string {
	if g.CookieName != "" {
		return g.CookieName
	}
	return defaultCookieName
}

func (g *Guard) redirectTo() string {
	if g.RedirectTo != "" {
		return g.RedirectTo
	}
	return defaultRedirectTo
}
