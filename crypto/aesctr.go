package crypto

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/Sean-Khorasani/net-copy/limits"
)

// aesCTRHMAC is AES-256 in CTR mode paired with an encrypt-then-MAC
// HMAC-SHA256 step. CTR on its own provides no integrity; the pairing is
// what makes the backend usable on the wire. The 32-byte session key is
// split into independent encryption and MAC subkeys so the stream cipher
// and the MAC never share key material.
type aesCTRHMAC struct{}

func newAESCTRHMAC() Cipher { return aesCTRHMAC{} }

func (aesCTRHMAC) Algorithm() Algorithm { return AlgorithmAESCTR }
func (aesCTRHMAC) KeySize() int         { return 32 }
func (aesCTRHMAC) NonceSize() int       { return aes.BlockSize }
func (aesCTRHMAC) Overhead() int        { return limits.MACOverhead }
func (aesCTRHMAC) Authenticated() bool  { return true }

func (c aesCTRHMAC) Encrypt(key, nonce, plaintext, aad []byte) ([]byte, error) {
	encKey, macKey, err := c.subkeys(key, nonce)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(plaintext)+sha256.Size)
	stdcipher.NewCTR(block, nonce).XORKeyStream(out[:len(plaintext)], plaintext)
	tag := computeMAC(macKey, nonce, aad, out[:len(plaintext)])
	copy(out[len(plaintext):], tag)
	return out, nil
}

func (c aesCTRHMAC) Decrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < sha256.Size {
		return nil, ErrAuthenticationFailure
	}
	encKey, macKey, err := c.subkeys(key, nonce)
	if err != nil {
		return nil, err
	}

	body := ciphertext[:len(ciphertext)-sha256.Size]
	tag := ciphertext[len(ciphertext)-sha256.Size:]
	if !hmac.Equal(tag, computeMAC(macKey, nonce, aad, body)) {
		return nil, ErrAuthenticationFailure
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(body))
	stdcipher.NewCTR(block, nonce).XORKeyStream(plaintext, body)
	return plaintext, nil
}

// subkeys derives independent encryption and MAC keys from the session key.
func (c aesCTRHMAC) subkeys(key, nonce []byte) (encKey, macKey []byte, err error) {
	if len(key) != c.KeySize() {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), c.KeySize())
	}
	if len(nonce) != c.NonceSize() {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidNonceSize, len(nonce), c.NonceSize())
	}
	r := hkdf.New(sha256.New, key, nil, []byte("net-copy aes-ctr-hmac subkeys"))
	encKey = make([]byte, 32)
	macKey = make([]byte, 32)
	if _, err := io.ReadFull(r, encKey); err != nil {
		return nil, nil, err
	}
	if _, err := io.ReadFull(r, macKey); err != nil {
		return nil, nil, err
	}
	return encKey, macKey, nil
}

// computeMAC authenticates nonce, associated data, and ciphertext with
// unambiguous length framing.
func computeMAC(macKey, nonce, aad, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	var lens [16]byte
	binary.BigEndian.PutUint64(lens[:8], uint64(len(aad)))
	binary.BigEndian.PutUint64(lens[8:], uint64(len(ciphertext)))
	mac.Write(lens[:])
	mac.Write(nonce)
	mac.Write(aad)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}
