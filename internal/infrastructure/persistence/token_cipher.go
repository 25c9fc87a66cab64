package persistence

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "v1:"

// ErrTokenDecrypt is returned when a stored access token cannot be opened
var ErrTokenDecrypt = errors.New("persistence: cannot decrypt access token")

// TokenCipher seals store access tokens at rest with XChaCha20-Poly1305.
// A cipher without a key passes tokens through unchanged, which is only
// allowed outside production.
type TokenCipher struct {
	key []byte
}

// NewTokenCipher creates a cipher from a base64 encoded 32 byte key.
// An empty key yields a pass-through cipher.
func NewTokenCipher(encodedKey string) (*TokenCipher, error) {
	if encodedKey == "" {
		return &TokenCipher{}, nil
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode token key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("token key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &TokenCipher{key: key}, nil
}

// Enabled reports whether tokens are encrypted
func (c *TokenCipher) Enabled() bool {
	return len(c.key) > 0
}

// Seal encrypts a token. The store id is bound as associated data so a
// sealed token cannot be moved to another store row.
func (c *TokenCipher) Seal(token, storeID string) (string, error) {
	if token == "" || !c.Enabled() {
		return token, nil
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(token)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(token), []byte(storeID))
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed token. Values without the sealed prefix are
// returned as they are.
func (c *TokenCipher) Open(value, storeID string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if !c.Enabled() {
		return "", fmt.Errorf("%w: no key configured", ErrTokenDecrypt)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenDecrypt, err)
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("%w: value too short", ErrTokenDecrypt)
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(storeID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenDecrypt, err)
	}
	return string(plain), nil
}
