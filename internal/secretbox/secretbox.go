// Package secretbox encrypts short secrets at rest with AES-256-GCM.
// Sealed values have the form base64(nonce)|base64(ciphertext).
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeyLength is the decoded key size in bytes.
	KeyLength = 32

	nonceLength = 12
	separator   = "|"
)

var (
	// ErrInvalidKey indicates the key is not base64 of KeyLength bytes.
	ErrInvalidKey = errors.New("secretbox.invalid_key")
	// ErrMalformedCiphertext indicates the sealed value does not have the expected shape.
	ErrMalformedCiphertext = errors.New("secretbox.malformed_ciphertext")
	// ErrDecrypt indicates authentication failed, usually a wrong key or tampered value.
	ErrDecrypt = errors.New("secretbox.decrypt_failed")
)

// Box seals and opens secrets with one key. It is safe for concurrent use.
type Box struct {
	aead   cipher.AEAD
	random io.Reader
}

// New builds a Box from a base64 encoded 32-byte key.
func New(encodedKey string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, fmt.Errorf("secretbox.new: %w", ErrInvalidKey)
	}
	return NewFromKey(key)
}

// NewFromKey builds a Box from raw key bytes.
func NewFromKey(key []byte) (*Box, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("secretbox.new: %w", ErrInvalidKey)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secretbox.new: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox.new: %w", err)
	}
	return &Box{aead: aead, random: rand.Reader}, nil
}

// Encrypt seals plainText under a fresh random nonce.
func (box *Box) Encrypt(plainText string) (string, error) {
	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(box.random, nonce); err != nil {
		return "", fmt.Errorf("secretbox.encrypt: %w", err)
	}
	sealed := box.aead.Seal(nil, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(nonce) + separator + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (box *Box) Decrypt(cipherText string) (string, error) {
	parts := strings.Split(cipherText, separator)
	if len(parts) != 2 {
		return "", fmt.Errorf("secretbox.decrypt: %w", ErrMalformedCiphertext)
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceLength {
		return "", fmt.Errorf("secretbox.decrypt: %w", ErrMalformedCiphertext)
	}
	sealed, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("secretbox.decrypt: %w", ErrMalformedCiphertext)
	}
	plain, err := box.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("secretbox.decrypt: %w", ErrDecrypt)
	}
	return string(plain), nil
}
