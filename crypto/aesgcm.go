package crypto

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Sean-Khorasani/net-copy/crypto/accel"
	"github.com/Sean-Khorasani/net-copy/limits"
)

// aesGCM is AES-256-GCM with two execution backends behind one algorithm
// identity. The accelerator backend, when present, handles payloads at or
// above accel.MinDispatchSize; everything else runs on the CPU (which uses
// AES-NI where the runtime detects it). Backend choice is invisible on the
// wire: both produce identical ciphertext and tag.
type aesGCM struct {
	device accel.Device
}

func newAESGCM() Cipher {
	return &aesGCM{device: accel.Probe()}
}

// newAESGCMWithDevice binds an explicit device, bypassing the process-wide
// probe. Tests use it to verify cross-backend equality and fallback.
func newAESGCMWithDevice(d accel.Device) Cipher {
	return &aesGCM{device: d}
}

func (*aesGCM) Algorithm() Algorithm { return AlgorithmAES256GCM }
func (*aesGCM) KeySize() int         { return 32 }
func (*aesGCM) NonceSize() int       { return 12 }
func (*aesGCM) Overhead() int        { return limits.EncryptionOverhead }
func (*aesGCM) Authenticated() bool  { return true }

func (g *aesGCM) Encrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	if err := g.validate(key, nonce); err != nil {
		return nil, err
	}
	if g.device != nil && len(plaintext) >= accel.MinDispatchSize {
		ciphertext, err := g.device.SealAESGCM(key, nonce, plaintext, aad)
		if err == nil {
			return ciphertext, nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "Encrypt",
			"device":   g.device.Name(),
			"error":    err.Error(),
		}).Debug("Accelerator seal failed, falling back to CPU")
	}
	aead, err := g.aead(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func (g *aesGCM) Decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if err := g.validate(key, nonce); err != nil {
		return nil, err
	}
	if g.device != nil && len(ciphertext) >= accel.MinDispatchSize {
		plaintext, err := g.device.OpenAESGCM(key, nonce, ciphertext, aad)
		if err == nil {
			return plaintext, nil
		}
		// Any device error, including a tag mismatch reported by the
		// device, is re-checked on the authoritative CPU path.
		logrus.WithFields(logrus.Fields{
			"function": "Decrypt",
			"device":   g.device.Name(),
		}).Debug("Accelerator open failed, falling back to CPU")
	}
	aead, err := g.aead(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}
	return plaintext, nil
}

func (g *aesGCM) validate(key, nonce []byte) error {
	if len(key) != g.KeySize() {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), g.KeySize())
	}
	if len(nonce) != g.NonceSize() {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidNonceSize, len(nonce), g.NonceSize())
	}
	return nil
}

func (*aesGCM) aead(key []byte) (stdcipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return stdcipher.NewGCM(block)
}
