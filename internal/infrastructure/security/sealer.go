package security

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrUnsealable is returned when a sealed value was tampered with, bound to a
// different context, or sealed under another key.
var ErrUnsealable = errors.New("sealed value cannot be opened")

// Sealer encrypts secrets at rest with XChaCha20-Poly1305. Each value is bound to
// a context string (the tenant id) so ciphertexts cannot be moved between rows.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("sealer key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create aead: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns nonce||ciphertext. Empty plaintext seals to nil.
func (s *Sealer) Seal(plaintext, boundTo string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(boundTo)), nil
}

// Open reverses Seal. A nil or empty value opens to "".
func (s *Sealer) Open(sealed []byte, boundTo string) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	if len(sealed) < s.aead.NonceSize()+s.aead.Overhead() {
		return "", ErrUnsealable
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(boundTo))
	if err != nil {
		return "", ErrUnsealable
	}
	return string(plaintext), nil
}
