// Package secrets encrypts cluster credentials with AES-128-GCM. The
// ciphertext format is base64(nonce(12) || ciphertext+tag) and the key is
// 32 hex characters (16 bytes) shared between the governance and executor
// services.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const nonceSize = 12

// Box seals and opens password strings with a shared symmetric key.
type Box struct {
	aead cipher.AEAD
}

// New builds a Box from a 32-hex-character key.
func New(hexKey string) (*Box, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("encryption key must be 16 bytes (32 hex chars), got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (b *Box) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ct := b.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, ct...)), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Failures are fatal for
// the operation that required the credential.
func (b *Box) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt: invalid base64: %w", err)
	}
	if len(data) < nonceSize {
		return "", errors.New("decrypt: ciphertext too short")
	}
	plain, err := b.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}
