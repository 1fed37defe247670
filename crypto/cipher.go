package crypto

import (
	"errors"
	"fmt"
)

// Algorithm identifies a negotiable cipher algorithm on the wire.
type Algorithm uint8

const (
	// AlgorithmChaCha20Poly1305 is the portable default: software AEAD
	// with no hardware dependency.
	AlgorithmChaCha20Poly1305 Algorithm = 1

	// AlgorithmAES256GCM is AES-256 in GCM mode. Internally it may run
	// on the CPU or an accelerator; both produce identical output.
	AlgorithmAES256GCM Algorithm = 2

	// AlgorithmAESCTR is AES-256 in CTR mode paired with an
	// encrypt-then-MAC HMAC-SHA256 step. CTR alone has no integrity;
	// the pairing is mandatory on the wire.
	AlgorithmAESCTR Algorithm = 3

	// AlgorithmXOR is a trivial obfuscation placeholder with no
	// confidentiality or integrity guarantees. It is excluded from
	// negotiation preferences and exists only for explicitly
	// unauthenticated test paths.
	AlgorithmXOR Algorithm = 255
)

var (
	// ErrAuthenticationFailure indicates ciphertext or tag verification
	// failed. This is a fatal session condition, never retried.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrUnsupportedAlgorithm indicates an unknown or unavailable
	// algorithm identifier.
	ErrUnsupportedAlgorithm = errors.New("unsupported cipher algorithm")

	// ErrNoCommonCipher indicates negotiation found no mutually
	// supported algorithm.
	ErrNoCommonCipher = errors.New("no common cipher algorithm")

	// ErrInvalidKeySize indicates key material of the wrong length.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize indicates a nonce of the wrong length.
	ErrInvalidNonceSize = errors.New("invalid nonce size")
)

// String returns the wire-registry name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmChaCha20Poly1305:
		return "chacha20-poly1305"
	case AlgorithmAES256GCM:
		return "aes-256-gcm"
	case AlgorithmAESCTR:
		return "aes-ctr-hmac"
	case AlgorithmXOR:
		return "xor-obfuscation"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// Cipher is the uniform contract every backend implements. Encrypt returns
// ciphertext with the authentication tag appended (when Authenticated);
// Decrypt verifies the tag before returning plaintext and fails with
// ErrAuthenticationFailure on any mismatch.
type Cipher interface {
	Algorithm() Algorithm
	KeySize() int
	NonceSize() int
	Overhead() int
	Authenticated() bool
	Encrypt(key, nonce, plaintext, aad []byte) ([]byte, error)
	Decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error)
}

// DefaultPreference is the negotiation preference order advertised by both
// peers unless configured otherwise. XOR is deliberately absent.
var DefaultPreference = []Algorithm{
	AlgorithmChaCha20Poly1305,
	AlgorithmAES256GCM,
	AlgorithmAESCTR,
}

// NewCipher constructs the backend for an algorithm identifier.
func NewCipher(alg Algorithm) (Cipher, error) {
	switch alg {
	case AlgorithmChaCha20Poly1305:
		return newChaCha20Poly1305(), nil
	case AlgorithmAES256GCM:
		return newAESGCM(), nil
	case AlgorithmAESCTR:
		return newAESCTRHMAC(), nil
	case AlgorithmXOR:
		return newXORCipher(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedAlgorithm, uint8(alg))
	}
}

// Negotiate selects the first algorithm in the local preference list that
// the remote peer also supports. Preference order is the local one; the
// choice is made once per session during the handshake and never changes.
func Negotiate(local, remote []Algorithm) (Algorithm, error) {
	if len(remote) == 0 {
		return 0, fmt.Errorf("%w: peer advertised no ciphers", ErrNoCommonCipher)
	}
	for _, l := range local {
		for _, r := range remote {
			if l == r {
				return l, nil
			}
		}
	}
	return 0, ErrNoCommonCipher
}
