// Package tokencipher encrypts tokens for storage at rest.
//
// Values are sealed with AES-256-GCM and encoded as
//
//	hex(nonce) ":" hex(tag) ":" hex(ciphertext)
//
// The key is a fixed 32 byte secret. There is no key versioning, so replacing
// the key makes every previously stored value unreadable.
package tokencipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the required key length in bytes (AES-256).
	KeySize   = 32
	nonceSize = 12
	tagSize   = 16
	sep       = ":"
)

var (
	// ErrFormat is returned when an encoded value does not have the
	// nonce:tag:ciphertext shape, or a component is not valid hex.
	ErrFormat = errors.New("tokencipher: malformed ciphertext")
	// ErrAuthentication is returned when the value fails authentication,
	// including when the nonce or tag has been truncated.
	ErrAuthentication = errors.New("tokencipher: message authentication failed")
)

// Cipher seals and opens token values with a single key. It is safe for
// concurrent use.
type Cipher struct {
	aead cipher.AEAD

	// rand is the nonce source, crypto/rand unless overridden in tests.
	rand io.Reader
}

// New returns a Cipher for the given 32 byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("tokencipher: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("tokencipher: creating block cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("tokencipher: creating gcm: %w", err)
	}
	return &Cipher{aead: aead, rand: rand.Reader}, nil
}

// ParseKey decodes a 64 character hex string into a key.
func ParseKey(hexKey string) ([]byte, error) {
	k, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("tokencipher: key is not hex: %w", err)
	}
	if len(k) != KeySize {
		return nil, fmt.Errorf("tokencipher: key must be %d bytes (%d hex characters), got %d bytes", KeySize, KeySize*2, len(k))
	}
	return k, nil
}

// Encrypt seals plaintext under a freshly generated nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("tokencipher: generating nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// gcm appends the tag to the ciphertext
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(nonce) + sep + hex.EncodeToString(tag) + sep + hex.EncodeToString(ct), nil
}

// Decrypt opens a value produced by Encrypt. It never returns partial
// plaintext: on any failure the returned string is empty.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, sep)
	if len(parts) != 3 {
		return "", ErrFormat
	}

	var raw [3][]byte
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil {
			return "", ErrFormat
		}
		raw[i] = b
	}
	nonce, tag, ct := raw[0], raw[1], raw[2]

	if len(nonce) != nonceSize || len(tag) != tagSize {
		return "", ErrAuthentication
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	pt, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrAuthentication
	}
	return string(pt), nil
}

// Encrypt is a convenience wrapper that seals plaintext with key.
func Encrypt(plaintext string, key []byte) (string, error) {
	c, err := New(key)
	if err != nil {
		return "", err
	}
	return c.Encrypt(plaintext)
}

// Decrypt is a convenience wrapper that opens encoded with key.
func Decrypt(encoded string, key []byte) (string, error) {
	c, err := New(key)
	if err != nil {
		return "", err
	}
	return c.Decrypt(encoded)
}
