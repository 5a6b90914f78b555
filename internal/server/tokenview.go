package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// The viewer only decodes, it never trusts a token for anything.
var viewAlgs = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
	jose.HS256, jose.HS384, jose.HS512,
}

// timestamp claims shown with a readable time alongside the number
var timeClaims = map[string]bool{"exp": true, "iat": true, "nbf": true, "auth_time": true}

type tokenView struct {
	Title   string
	Header  string
	Payload string
	// Err is set when the token is not a decodable JWS, e.g. an opaque access
	// token.
	Err string
}

func decodeToken(title, raw string) tokenView {
	tv := tokenView{Title: title}

	jws, err := jose.ParseSigned(raw, viewAlgs)
	if err != nil {
		tv.Err = err.Error()
		return tv
	}
	if len(jws.Signatures) != 1 {
		tv.Err = fmt.Sprintf("expected one signature, found %d", len(jws.Signatures))
		return tv
	}

	h := jws.Signatures[0].Protected
	header := map[string]interface{}{"alg": h.Algorithm}
	if h.KeyID != "" {
		header["kid"] = h.KeyID
	}
	for k, v := range h.ExtraHeaders {
		header[string(k)] = v
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(jws.UnsafePayloadWithoutVerification(), &claims); err != nil {
		tv.Err = fmt.Sprintf("payload is not a JSON object: %v", err)
		return tv
	}
	for k, v := range claims {
		n, ok := v.(float64)
		if !timeClaims[k] || !ok {
			continue
		}
		claims[k] = fmt.Sprintf("%d (%s)", int64(n), time.Unix(int64(n), 0).UTC().Format(time.RFC3339))
	}

	tv.Header = indent(header)
	tv.Payload = indent(claims)
	return tv
}

func indent(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}
