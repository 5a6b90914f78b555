package guard

import (
	"crypto/sha256"
	"strings"
)

// This file is the edge build's copy of the rp_session signature check. It
// depends on crypto/sha256 alone: HMAC is assembled from the hash per RFC
// 2104, hex encoding and comparison are done by hand. The output must match
// cookiesign byte for byte; both run against cookiesign/testdata/vectors.json.

const (
	blockSize = 64 // SHA-256 block size in bytes
	sigHexLen = sha256.Size * 2
	hexDigits = "0123456789abcdef"
)

// hmacSHA256 computes HMAC-SHA256(key, msg).
func hmacSHA256(key, msg []byte) [sha256.Size]byte {
	var k [blockSize]byte
	if len(key) > blockSize {
		sum := sha256.Sum256(key)
		copy(k[:], sum[:])
	} else {
		copy(k[:], key)
	}

	var ipad, opad [blockSize]byte
	for i := range k {
		ipad[i] = k[i] ^ 0x36
		opad[i] = k[i] ^ 0x5c
	}

	inner := sha256.New()
	inner.Write(ipad[:])
	inner.Write(msg)
	innerSum := inner.Sum(nil)

	outer := sha256.New()
	outer.Write(opad[:])
	outer.Write(innerSum)

	var out [sha256.Size]byte
	copy(out[:], outer.Sum(nil))
	return out
}

func lowerHex(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0x0f]
	}
	return string(out)
}

// sign returns id + "." + lowercase hex HMAC.
func sign(id, secret string) string {
	mac := hmacSHA256([]byte(secret), []byte(id))
	return id + "." + lowerHex(mac[:])
}

// verify reports whether value carries a valid signature and returns the
// identifier. The provided signature is compared as text against the expected
// lowercase encoding, so uppercase hex never matches.
func verify(value, secret string) (string, bool) {
	i := strings.LastIndexByte(value, '.')
	if i < 0 {
		return "", false
	}
	id, provided := value[:i], value[i+1:]

	mac := hmacSHA256([]byte(secret), []byte(id))
	expected := lowerHex(mac[:])

	if len(provided) != sigHexLen {
		return "", false
	}
	var diff byte
	for j := 0; j < sigHexLen; j++ {
		diff |= provided[j] ^ expected[j]
	}
	if diff != 0 {
		return "", false
	}
	return id, true
}
