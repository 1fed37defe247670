package crypto

import "fmt"

// xorCipher is a non-cryptographic obfuscation placeholder. It provides no
// confidentiality and no integrity and is excluded from negotiation
// preferences; it exists only for explicitly unauthenticated test paths
// where the pipeline mechanics are under test rather than the crypto.
type xorCipher struct{}

func newXORCipher() Cipher { return xorCipher{} }

func (xorCipher) Algorithm() Algorithm { return AlgorithmXOR }
func (xorCipher) KeySize() int         { return 32 }
func (xorCipher) NonceSize() int       { return 12 }
func (xorCipher) Overhead() int        { return 0 }
func (xorCipher) Authenticated() bool  { return false }

func (x xorCipher) Encrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	return x.apply(key, nonce, plaintext)
}

func (x xorCipher) Decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	return x.apply(key, nonce, ciphertext)
}

func (x xorCipher) apply(key, nonce, data []byte) ([]byte, error) {
	if len(key) != x.KeySize() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), x.KeySize())
	}
	if len(nonce) != x.NonceSize() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidNonceSize, len(nonce), x.NonceSize())
	}
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)] ^ nonce[i%len(nonce)]
	}
	return out, nil
}
