// Package discovery implements the relying party side of OIDC discovery: it
// fetches a tenant's provider metadata, rewrites server-side endpoints from
// the public issuer address to an internal one, and memoizes the result.
//
// https://openid.net/specs/openid-connect-discovery-1_0.html
package discovery
