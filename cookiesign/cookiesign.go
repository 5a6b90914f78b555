// Package cookiesign signs and verifies session identifiers carried in cookies.
//
// A signed value is the identifier, a '.', and the lowercase hex encoding of
// HMAC-SHA256(secret, identifier). The guard package carries an independent
// implementation of the same format; both are checked against
// testdata/vectors.json.
package cookiesign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// Separator divides the identifier from its signature.
	Separator = "."
	// SignatureLen is the length of the hex encoded signature.
	SignatureLen = sha256.Size * 2
)

// Sign returns id with its signature appended.
func Sign(id string, secret []byte) string {
	return id + Separator + hex.EncodeToString(mac(id, secret))
}

// Verify checks a signed value and returns the identifier it carries. The
// value is split on the last separator so identifiers may contain '.'. Any
// failure returns false with no further detail.
func Verify(value string, secret []byte) (string, bool) {
	i := strings.LastIndex(value, Separator)
	if i < 0 {
		return "", false
	}
	id, sig := value[:i], value[i+1:]

	if len(sig) != SignatureLen || !isLowerHex(sig) {
		return "", false
	}
	provided, err := hex.DecodeString(sig)
	if err != nil {
		return "", false
	}

	if !hmac.Equal(provided, mac(id, secret)) {
		return "", false
	}
	return id, true
}

func mac(id string, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(id))
	return h.Sum(nil)
}

// isLowerHex rejects uppercase digits, which hex.DecodeString would accept.
func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
