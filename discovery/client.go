package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

const oidcwk = "/.well-known/openid-configuration"

// Config locates a tenant's discovery document.
type Config struct {
	// Issuer is the public issuer base URL, as browsers reach it.
	Issuer string
	// IssuerInternal is the base URL this process uses to reach the same
	// provider. Defaults to Issuer.
	IssuerInternal string
	// Tenant is the path segment that scopes the discovery document.
	Tenant string
	// AllowInsecure permits http:// for local deployments.
	AllowInsecure bool
	// Timeout bounds every outbound call. Defaults to 10 seconds.
	Timeout time.Duration
	// Base is the underlying transport. Defaults to http.DefaultTransport.
	Base http.RoundTripper
}

// Provider is the result of a successful discovery.
type Provider struct {
	// Metadata is the document as published. Its authorization endpoint is
	// what browsers are redirected to and its issuer is what ID tokens carry.
	Metadata ProviderMetadata
	// Internal is Metadata with server-side endpoints rewritten to the
	// internal address.
	Internal ProviderMetadata
	// HTTPClient rewrites and bounds every request made on behalf of this
	// provider.
	HTTPClient *http.Client
	// KeySet fetches the provider's signing keys from the internal JWKS
	// endpoint and caches them.
	KeySet oidc.KeySet
}

// URL returns the tenant scoped discovery document URL under base.
func URL(base, tenant string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing issuer %q: %w", base, err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("issuer %q is not an absolute URL", base)
	}
	u.Path = path.Join("/", u.Path, tenant, oidcwk)
	u.RawPath = ""
	return u.String(), nil
}

// Issuer returns the issuer identifier a tenant's provider is expected to
// advertise: the public issuer with the tenant segment appended.
func Issuer(base, tenant string) string {
	base = strings.TrimSuffix(base, "/")
	if tenant == "" {
		return base
	}
	return base + "/" + tenant
}

// Discover fetches and validates the tenant's discovery document from the
// internal issuer, and builds the server-side view of the provider.
func Discover(ctx context.Context, cfg Config) (*Provider, error) {
	internal := cfg.IssuerInternal
	if internal == "" {
		internal = cfg.Issuer
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	rw := Rewriter{Public: strings.TrimSuffix(cfg.Issuer, "/"), Internal: strings.TrimSuffix(internal, "/")}
	hc := &http.Client{
		Timeout: timeout,
		Transport: &Transport{
			Rewriter:      rw,
			AllowInsecure: cfg.AllowInsecure,
			Base:          cfg.Base,
		},
	}

	wk, err := URL(internal, cfg.Tenant)
	if err != nil {
		return nil, err
	}

	md, err := Fetch(ctx, hc, wk)
	if err != nil {
		return nil, err
	}
	if err := md.validate(!cfg.AllowInsecure); err != nil {
		return nil, err
	}
	if want := Issuer(cfg.Issuer, cfg.Tenant); md.Issuer != want {
		return nil, fmt.Errorf("issuer did not match the issuer returned by provider, expected %q got %q", want, md.Issuer)
	}

	in := *md
	in.TokenEndpoint = rw.Rewrite(md.TokenEndpoint)
	in.UserinfoEndpoint = rw.Rewrite(md.UserinfoEndpoint)
	in.JWKSURI = rw.Rewrite(md.JWKSURI)

	// The key set outlives this call, so it must not inherit ctx.
	ksctx := oidc.ClientContext(context.Background(), hc)

	return &Provider{
		Metadata:   *md,
		Internal:   in,
		HTTPClient: hc,
		KeySet:     oidc.NewRemoteKeySet(ksctx, in.JWKSURI),
	}, nil
}

// Fetch retrieves the discovery document at wellKnown.
func Fetch(ctx context.Context, hc *http.Client, wellKnown string) (*ProviderMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", wellKnown, err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching %s: %w", wellKnown, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1<<10))
		return nil, fmt.Errorf("error fetching %s: %s: %s", wellKnown, res.Status, strings.TrimSpace(string(body)))
	}

	md := &ProviderMetadata{}
	if err := json.NewDecoder(res.Body).Decode(md); err != nil {
		return nil, fmt.Errorf("error decoding provider metadata response: %w", err)
	}
	return md, nil
}
