package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// TokenCipher seals channel tokens with AES-256-GCM. The owner's user id is
// bound as additional data, so a sealed token only opens for that owner.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher parses a 64 hex char key.
func NewTokenCipher(hexKey string) (*TokenCipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes (64 hex chars)")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Seal returns base64(nonce || ciphertext).
func (c *TokenCipher) Seal(owner, token string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(token), []byte(owner))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *TokenCipher) Open(owner, encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	n := c.aead.NonceSize()
	if len(sealed) < n {
		return "", errors.New("ciphertext too short")
	}

	token, err := c.aead.Open(nil, sealed[:n], sealed[n:], []byte(owner))
	if err != nil {
		return "", fmt.Errorf("open token for %s: %w", owner, err)
	}
	return string(token), nil
}
