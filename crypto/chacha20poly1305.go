package crypto

import (
	stdcipher "crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// chaCha20Poly1305 is the portable software AEAD backend. It has no
// hardware dependency and is the default negotiation preference.
type chaCha20Poly1305 struct{}

func newChaCha20Poly1305() Cipher { return chaCha20Poly1305{} }

func (chaCha20Poly1305) Algorithm() Algorithm { return AlgorithmChaCha20Poly1305 }
func (chaCha20Poly1305) KeySize() int         { return chacha20poly1305.KeySize }
func (chaCha20Poly1305) NonceSize() int       { return chacha20poly1305.NonceSize }
func (chaCha20Poly1305) Overhead() int        { return chacha20poly1305.Overhead }
func (chaCha20Poly1305) Authenticated() bool  { return true }

func (c chaCha20Poly1305) Encrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := c.aead(key, nonce)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func (c chaCha20Poly1305) Decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := c.aead(key, nonce)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	return plaintext, nil
}

func (c chaCha20Poly1305) aead(key, nonce []byte) (stdcipher.AEAD, error) {
	if len(key) != c.KeySize() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), c.KeySize())
	}
	if len(nonce) != c.NonceSize() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidNonceSize, len(nonce), c.NonceSize())
	}
	return chacha20poly1305.New(key)
}
