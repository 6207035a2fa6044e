// Package tokencrypt seals bearer tokens with AES-256-GCM before they
// touch storage and provides the non-reversible masking used anywhere a
// token is displayed or logged.
package tokencrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	KeyLen      = 32
	gcmNonceLen = 12

	// what a masked token of 16 chars or fewer collapses to
	Placeholder = "****"

	// where LoadOrCreateKey persists a generated key when the config
	// does not name a path
	DefaultKeyFile = "tokenvault.key"
)

var (
	ErrEmptyInput = errors.New("token must not be empty")
	ErrDecryption = errors.New("decryption failed")
	ErrInvalidKey = errors.New("key must be 32 bytes of url-safe base64")
)

type Crypto struct {
	aead cipher.AEAD
}

func New(key []byte) (*Crypto, error) {
	if len(key) != KeyLen {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Crypto{aead: aead}, nil
}

func NewFromBase64(key string) (*Crypto, error) {
	raw, err := base64.URLEncoding.DecodeString(strings.TrimSpace(key))
	if err != nil {
		return nil, ErrInvalidKey
	}
	return New(raw)
}

func GenerateKey() string {
	key := make([]byte, KeyLen)
	_, err := rand.Read(key)
	if err != nil {
		panic(err)
	}
	return base64.URLEncoding.EncodeToString(key)
}

// LoadOrCreateKey reads a base64 key from `path` (DefaultKeyFile when
// empty), generating and persisting a fresh one (0600) on first run.
func LoadOrCreateKey(path string) (string, error) {
	if path == "" {
		path = DefaultKeyFile
	}

	contents, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(contents)), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	key := GenerateKey()
	err = os.WriteFile(path, []byte(key+"\n"), 0o600)
	if err != nil {
		return "", fmt.Errorf("persist generated key: %w", err)
	}
	return key, nil
}

// Encrypt seals a token into url-safe base64 of nonce||ciphertext.
func (c *Crypto) Encrypt(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyInput
	}

	nonce := make([]byte, gcmNonceLen)
	_, err := io.ReadFull(rand.Reader, nonce)
	if err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(token), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt is the inverse of Encrypt. Anything malformed, truncated or
// sealed under a different key comes back as ErrDecryption, never as
// partial plaintext.
func (c *Crypto) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", ErrDecryption
	}

	sealed, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecryption
	}
	if len(sealed) < gcmNonceLen+1 {
		return "", ErrDecryption
	}

	plaintext, err := c.aead.Open(nil, sealed[:gcmNonceLen], sealed[gcmNonceLen:], nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}

// Mask renders a token for display: 16 chars or fewer become the fixed
// placeholder, anything longer keeps only the first and last 8 chars.
func Mask(token string) string {
	if len(token) <= 16 {
		return Placeholder
	}
	return token[:8] + "..." + token[len(token)-8:]
}
