package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// RandomSize is the length of the per-session random each peer contributes
// during the handshake.
const RandomSize = 32

// SessionKeys is the output of the per-session key schedule. The static
// pre-shared secret is never used directly for bulk encryption; every
// session derives fresh material from the handshake randoms and an
// ephemeral X25519 exchange.
type SessionKeys struct {
	// Key is the bulk cipher key, sized for the negotiated cipher.
	Key []byte
	// AuthKey keys the handshake possession proof.
	AuthKey []byte
	// InitiatorBase and ResponderBase are the per-direction nonce bases.
	InitiatorBase []byte
	ResponderBase []byte
}

// Wipe erases all derived key material.
func (k *SessionKeys) Wipe() {
	if k == nil {
		return
	}
	ZeroBytes(k.Key)
	ZeroBytes(k.AuthKey)
	ZeroBytes(k.InitiatorBase)
	ZeroBytes(k.ResponderBase)
}

// GenerateRandom produces a per-session handshake random.
func GenerateRandom() ([RandomSize]byte, error) {
	var r [RandomSize]byte
	if _, err := rand.Read(r[:]); err != nil {
		return r, fmt.Errorf("failed to generate session random: %w", err)
	}
	return r, nil
}

// GenerateEphemeralKeyPair creates an X25519 key pair whose public half is
// exchanged in the handshake. The ephemeral contribution gives sessions
// forward secrecy with respect to the static pre-shared secret.
func GenerateEphemeralKeyPair() (public, private [32]byte, err error) {
	if _, err = rand.Read(private[:]); err != nil {
		return public, private, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return public, private, fmt.Errorf("failed to derive ephemeral public key: %w", err)
	}
	copy(public[:], pub)
	return public, private, nil
}

// DeriveSharedSecret computes the X25519 shared secret between our
// ephemeral private key and the peer's ephemeral public key.
func DeriveSharedSecret(peerPublic, private [32]byte) ([32]byte, error) {
	logrus.WithFields(logrus.Fields{
		"function":        "DeriveSharedSecret",
		"peer_key_prefix": fmt.Sprintf("%x", peerPublic[:8]),
	}).Debug("Computing shared secret using ECDH")

	shared, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	var result [32]byte
	copy(result[:], shared)
	ZeroBytes(shared)
	return result, nil
}

// DeriveSessionKeys runs the HKDF-SHA256 key schedule. The input keying
// material concatenates the pre-shared secret and the ephemeral shared
// secret; the salt binds both handshake randoms. The nonce bases are sized
// for the negotiated cipher.
func DeriveSessionKeys(psk, shared, initiatorRandom, responderRandom []byte, c Cipher) (*SessionKeys, error) {
	if len(initiatorRandom) != RandomSize || len(responderRandom) != RandomSize {
		return nil, fmt.Errorf("%w: session randoms must be %d bytes", ErrInvalidKeySize, RandomSize)
	}

	ikm := make([]byte, 0, len(psk)+len(shared))
	ikm = append(ikm, psk...)
	ikm = append(ikm, shared...)
	defer ZeroBytes(ikm)

	salt := make([]byte, 0, 2*RandomSize)
	salt = append(salt, initiatorRandom...)
	salt = append(salt, responderRandom...)

	r := hkdf.New(sha256.New, ikm, salt, []byte("net-copy v1 key schedule"))
	keys := &SessionKeys{
		Key:           make([]byte, c.KeySize()),
		AuthKey:       make([]byte, 32),
		InitiatorBase: make([]byte, c.NonceSize()),
		ResponderBase: make([]byte, c.NonceSize()),
	}
	for _, buf := range [][]byte{keys.Key, keys.AuthKey, keys.InitiatorBase, keys.ResponderBase} {
		if _, err := io.ReadFull(r, buf); err != nil {
			keys.Wipe()
			return nil, fmt.Errorf("key schedule expansion failed: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "DeriveSessionKeys",
		"cipher":   c.Algorithm().String(),
		"key_len":  len(keys.Key),
	}).Debug("Session keys derived")

	return keys, nil
}

// ComputeAuthProof produces the keyed possession proof sent in the auth
// frame. The transcript covers everything both peers committed to during
// hello exchange, so a proof cannot be replayed across sessions or cipher
// choices.
func ComputeAuthProof(authKey, transcript []byte) []byte {
	mac := hmac.New(sha256.New, authKey)
	mac.Write(transcript)
	return mac.Sum(nil)
}

// VerifyAuthProof checks a received proof in constant time.
func VerifyAuthProof(authKey, transcript, proof []byte) bool {
	return hmac.Equal(proof, ComputeAuthProof(authKey, transcript))
}
