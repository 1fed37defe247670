package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sean-Khorasani/net-copy/limits"
)

func allAlgorithms() []Algorithm {
	return []Algorithm{
		AlgorithmChaCha20Poly1305,
		AlgorithmAES256GCM,
		AlgorithmAESCTR,
		AlgorithmXOR,
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

// TestOverheadMatchesWireBudget pins each cipher's per-chunk expansion to
// the shared wire budget constants, which frame sizing and bandwidth
// accounting rely on.
func TestOverheadMatchesWireBudget(t *testing.T) {
	for alg, want := range map[Algorithm]int{
		AlgorithmChaCha20Poly1305: limits.EncryptionOverhead,
		AlgorithmAES256GCM:        limits.EncryptionOverhead,
		AlgorithmAESCTR:           limits.MACOverhead,
	} {
		c, err := NewCipher(alg)
		require.NoError(t, err)
		assert.Equal(t, want, c.Overhead(), alg.String())
	}
}

func TestCipherRoundTrip(t *testing.T) {
	sizes := []int{1, 17, 1024, 65536}

	for _, alg := range allAlgorithms() {
		for _, size := range sizes {
			t.Run(alg.String(), func(t *testing.T) {
				c, err := NewCipher(alg)
				require.NoError(t, err)

				key := randomBytes(t, c.KeySize())
				nonce := randomBytes(t, c.NonceSize())
				aad := []byte("frame header")
				plaintext := randomBytes(t, size)

				ciphertext, err := c.Encrypt(key, nonce, plaintext, aad)
				require.NoError(t, err)
				assert.Len(t, ciphertext, size+c.Overhead())

				decrypted, err := c.Decrypt(key, nonce, ciphertext, aad)
				require.NoError(t, err)
				assert.Equal(t, plaintext, decrypted)
			})
		}
	}
}

// TestCipherBitFlipRejected verifies that for every authenticated cipher,
// flipping any single bit of the ciphertext or tag fails authentication
// rather than silently returning altered plaintext.
func TestCipherBitFlipRejected(t *testing.T) {
	for _, alg := range allAlgorithms() {
		c, err := NewCipher(alg)
		require.NoError(t, err)
		if !c.Authenticated() {
			continue
		}

		t.Run(alg.String(), func(t *testing.T) {
			key := randomBytes(t, c.KeySize())
			nonce := randomBytes(t, c.NonceSize())
			plaintext := randomBytes(t, 256)

			ciphertext, err := c.Encrypt(key, nonce, plaintext, nil)
			require.NoError(t, err)

			for i := 0; i < len(ciphertext); i++ {
				for bit := 0; bit < 8; bit++ {
					corrupted := append([]byte(nil), ciphertext...)
					corrupted[i] ^= 1 << bit
					_, err := c.Decrypt(key, nonce, corrupted, nil)
					require.ErrorIs(t, err, ErrAuthenticationFailure,
						"byte %d bit %d flip must fail authentication", i, bit)
				}
			}
		})
	}
}

func TestCipherRejectsWrongAAD(t *testing.T) {
	for _, alg := range allAlgorithms() {
		c, err := NewCipher(alg)
		require.NoError(t, err)
		if !c.Authenticated() {
			continue
		}

		key := randomBytes(t, c.KeySize())
		nonce := randomBytes(t, c.NonceSize())
		ciphertext, err := c.Encrypt(key, nonce, []byte("payload"), []byte("aad-a"))
		require.NoError(t, err)

		_, err = c.Decrypt(key, nonce, ciphertext, []byte("aad-b"))
		assert.ErrorIs(t, err, ErrAuthenticationFailure, "%s must bind associated data", alg)
	}
}

func TestCipherRejectsBadKeyAndNonceSizes(t *testing.T) {
	for _, alg := range allAlgorithms() {
		c, err := NewCipher(alg)
		require.NoError(t, err)

		_, err = c.Encrypt(make([]byte, c.KeySize()-1), make([]byte, c.NonceSize()), []byte("x"), nil)
		assert.ErrorIs(t, err, ErrInvalidKeySize, "%s short key", alg)

		_, err = c.Encrypt(make([]byte, c.KeySize()), make([]byte, c.NonceSize()+1), []byte("x"), nil)
		assert.ErrorIs(t, err, ErrInvalidNonceSize, "%s long nonce", alg)
	}
}

func TestNewCipherUnknownAlgorithm(t *testing.T) {
	_, err := NewCipher(Algorithm(99))
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestXORIsNotAuthenticated(t *testing.T) {
	c, err := NewCipher(AlgorithmXOR)
	require.NoError(t, err)
	assert.False(t, c.Authenticated())
	assert.Zero(t, c.Overhead())

	// XOR must never appear in default negotiation preferences.
	for _, alg := range DefaultPreference {
		assert.NotEqual(t, AlgorithmXOR, alg)
	}
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name    string
		local   []Algorithm
		remote  []Algorithm
		want    Algorithm
		wantErr bool
	}{
		{
			name:   "first local preference wins",
			local:  DefaultPreference,
			remote: []Algorithm{AlgorithmAESCTR, AlgorithmAES256GCM, AlgorithmChaCha20Poly1305},
			want:   AlgorithmChaCha20Poly1305,
		},
		{
			name:   "falls through to shared algorithm",
			local:  DefaultPreference,
			remote: []Algorithm{AlgorithmAESCTR},
			want:   AlgorithmAESCTR,
		},
		{
			name:    "no overlap",
			local:   []Algorithm{AlgorithmChaCha20Poly1305},
			remote:  []Algorithm{AlgorithmAESCTR},
			wantErr: true,
		},
		{
			name:    "empty remote list",
			local:   DefaultPreference,
			remote:  nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Negotiate(tt.local, tt.remote)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoCommonCipher)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestCiphertextDiffersFromPlaintext is a sanity check that every backend
// actually transforms its input.
func TestCiphertextDiffersFromPlaintext(t *testing.T) {
	for _, alg := range allAlgorithms() {
		c, err := NewCipher(alg)
		require.NoError(t, err)

		key := randomBytes(t, c.KeySize())
		nonce := randomBytes(t, c.NonceSize())
		plaintext := randomBytes(t, 128)

		ciphertext, err := c.Encrypt(key, nonce, plaintext, nil)
		require.NoError(t, err)
		assert.False(t, bytes.Equal(plaintext, ciphertext[:len(plaintext)]),
			"%s ciphertext must not equal plaintext", alg)
	}
}
