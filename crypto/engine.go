package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Role identifies which side of the session this engine encrypts for. The
// two directions use distinct nonce bases, so the same counter value on
// each side can never collide under the shared session key.
type Role uint8

const (
	// Initiator is the connecting peer.
	Initiator Role = iota
	// Responder is the accepting peer.
	Responder
)

// ErrNonceExhausted indicates a direction's chunk counter reached its
// maximum. The session must terminate; the counter never wraps, which
// bounds the bytes encrypted under one session key.
var ErrNonceExhausted = errors.New("nonce counter exhausted, session must terminate")

// maxCounter is the last usable counter value per direction.
const maxCounter = ^uint64(0)

// Engine binds one negotiated cipher and one session key to a session and
// owns the nonce lifecycle for both directions. An Engine is exclusively
// owned by its session's worker; none of its methods are safe for
// concurrent use, and none need to be.
type Engine struct {
	cipher Cipher
	key    []byte

	sendBase []byte
	recvBase []byte
	sendCtr  uint64
	recvCtr  uint64
}

// NewEngine creates the per-session crypto engine. The cipher binding is
// immutable for the engine's lifetime; both counters start at zero.
func NewEngine(c Cipher, keys *SessionKeys, role Role) (*Engine, error) {
	if c == nil || keys == nil {
		return nil, errors.New("cipher and session keys are required")
	}
	if len(keys.Key) != c.KeySize() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(keys.Key), c.KeySize())
	}

	e := &Engine{
		cipher: c,
		key:    append([]byte(nil), keys.Key...),
	}
	switch role {
	case Initiator:
		e.sendBase = append([]byte(nil), keys.InitiatorBase...)
		e.recvBase = append([]byte(nil), keys.ResponderBase...)
	case Responder:
		e.sendBase = append([]byte(nil), keys.ResponderBase...)
		e.recvBase = append([]byte(nil), keys.InitiatorBase...)
	default:
		return nil, fmt.Errorf("unknown role %d", role)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewEngine",
		"cipher":   c.Algorithm().String(),
		"role":     role,
	}).Debug("Crypto engine created")

	return e, nil
}

// Cipher returns the bound cipher backend.
func (e *Engine) Cipher() Cipher { return e.cipher }

// SendCounter returns the next send-direction counter value.
func (e *Engine) SendCounter() uint64 { return e.sendCtr }

// RecvCounter returns the next receive-direction counter value.
func (e *Engine) RecvCounter() uint64 { return e.recvCtr }

// Seal encrypts the next outbound payload, consuming one send counter
// value. The counter is strictly monotonic and never reused; when it would
// exhaust, Seal fails with ErrNonceExhausted and the session must close.
func (e *Engine) Seal(plaintext, aad []byte) ([]byte, error) {
	if e.sendCtr == maxCounter {
		return nil, ErrNonceExhausted
	}
	nonce := nonceAt(e.sendBase, e.sendCtr)
	ciphertext, err := e.cipher.Encrypt(e.key, nonce, plaintext, aad)
	if err != nil {
		return nil, err
	}
	e.sendCtr++
	return ciphertext, nil
}

// Open decrypts the next inbound payload, consuming one receive counter
// value. A failed open does not advance the counter; the session is fatal
// at that point anyway.
func (e *Engine) Open(ciphertext, aad []byte) ([]byte, error) {
	if e.recvCtr == maxCounter {
		return nil, ErrNonceExhausted
	}
	nonce := nonceAt(e.recvBase, e.recvCtr)
	plaintext, err := e.cipher.Decrypt(e.key, nonce, ciphertext, aad)
	if err != nil {
		return nil, err
	}
	e.recvCtr++
	return plaintext, nil
}

// Close wipes the engine's key material.
func (e *Engine) Close() {
	ZeroBytes(e.key)
	ZeroBytes(e.sendBase)
	ZeroBytes(e.recvBase)
}

// nonceAt builds the nonce for a counter value: the direction base with the
// big-endian counter XORed into its trailing eight bytes.
func nonceAt(base []byte, counter uint64) []byte {
	nonce := append([]byte(nil), base...)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], counter)
	off := len(nonce) - 8
	for i := 0; i < 8; i++ {
		nonce[off+i] ^= ctr[i]
	}
	return nonce
}
