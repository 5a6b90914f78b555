package discovery

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Rewriter maps URLs under the provider's public issuer onto the address the
// server reaches it at. Browsers see the public form; everything this process
// dials goes to the internal one.
type Rewriter struct {
	Public   string
	Internal string
}

// Rewrite returns u with the public prefix replaced by the internal one. URLs
// outside the public prefix are returned unchanged, including hosts that only
// share it as a string prefix.
func (rw Rewriter) Rewrite(u string) string {
	if !rw.active() || !strings.HasPrefix(u, rw.Public) {
		return u
	}
	rest := strings.TrimPrefix(u, rw.Public)
	if rest != "" && !strings.ContainsAny(rest[:1], "/?#") {
		return u
	}
	return rw.Internal + rest
}

func (rw Rewriter) active() bool {
	return rw.Public != "" && rw.Internal != "" && rw.Public != rw.Internal
}

var _ http.RoundTripper = (*Transport)(nil)

// Transport rewrites the destination of every outbound request and refuses
// plain http unless AllowInsecure is set.
type Transport struct {
	Rewriter Rewriter
	// AllowInsecure permits http:// destinations, for local deployments.
	AllowInsecure bool

	// Base is the base RoundTripper to make HTTP requests. If nil,
	// http.DefaultTransport is used.
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrip must always close the body, including on errors.
	bodyClosed := false
	if req.Body != nil {
		defer func() {
			if !bodyClosed {
				req.Body.Close()
			}
		}()
	}

	target := req.URL
	if rewritten := t.Rewriter.Rewrite(req.URL.String()); rewritten != req.URL.String() {
		u, err := url.Parse(rewritten)
		if err != nil {
			return nil, fmt.Errorf("rewriting %s: %w", req.URL.Redacted(), err)
		}
		target = u
	}

	if !t.AllowInsecure && target.Scheme != "https" {
		return nil, fmt.Errorf("refusing non-https request to %s", target.Redacted())
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// RoundTrip should not modify the request, except for consuming and
	// closing the Request's Body.
	req2 := cloneRequest(req)
	req2.URL = target
	req2.Host = ""

	res, err := base.RoundTrip(req2)
	// The base transporter will have closed the body by this point
	bodyClosed = true

	return res, err
}

func cloneRequest(r *http.Request) *http.Request {
	// shallow copy
	r2 := new(http.Request)
	*r2 = *r

	// deep copy of the Header
	r2.Header = make(http.Header, len(r.Header))
	for k, v := range r.Header {
		r2.Header[k] = append([]string(nil), v...)
	}

	return r2
}
