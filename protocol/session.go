// Package protocol implements the net-copy session state machine: the
// authenticated handshake, cipher negotiation, chunk exchange with
// periodic acknowledgment, and orderly close.
//
// A session moves Idle → Handshaking → Authenticated → Transferring →
// Closing → Closed, with Error reachable from any non-terminal state. Any
// authentication failure, malformed frame, or timeout is fatal: the
// transport closes and nothing is retried at this layer. Retry and
// reconnection belong to the caller; resumable transfer state is persisted
// so a later session can continue where this one stopped.
package protocol

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sean-Khorasani/net-copy/bandwidth"
	"github.com/Sean-Khorasani/net-copy/config"
	"github.com/Sean-Khorasani/net-copy/crypto"
	"github.com/Sean-Khorasani/net-copy/file"
	"github.com/Sean-Khorasani/net-copy/storage"
	"github.com/Sean-Khorasani/net-copy/transport"
)

// AckInterval is the chunk cadence of periodic acknowledgments. Acking
// per-chunk would stall the pipeline on every round trip; acking only at
// completion would leave resume checkpoints worthless. Both peers derive
// the cadence from the session-relative chunk sequence, so no ack frame is
// ever unexpected. Transfer state checkpoints ride the same cadence, so
// the interval is the checkpoint interval.
const AckInterval = file.DefaultCheckpointInterval

// Session is one client-server connection's protocol state. It is
// exclusively owned by a single worker; nothing in it is locked, and
// nothing needs to be. The bandwidth limiter is the only shared
// collaborator, and it synchronizes internally.
type Session struct {
	id      string
	conn    *transport.Conn
	cfg     *config.Config
	role    crypto.Role
	state   State
	engine  *crypto.Engine
	limiter *bandwidth.Limiter
	store   *storage.Store

	psk [config.KeySize]byte
}

// NewSession wires a session over an established framed connection. The
// role decides handshake direction: the initiator dials and speaks first.
func NewSession(conn *transport.Conn, cfg *config.Config, role crypto.Role, limiter *bandwidth.Limiter, store *storage.Store) (*Session, error) {
	psk, err := cfg.PresharedKey()
	if err != nil {
		return nil, err
	}
	return &Session{
		id:      uuid.NewString(),
		conn:    conn,
		cfg:     cfg,
		role:    role,
		state:   StateIdle,
		limiter: limiter,
		store:   store,
		psk:     psk,
	}, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// State returns the session's current protocol state.
func (s *Session) State() State { return s.state }

// transition moves the state machine, logging the edge.
func (s *Session) transition(next State) {
	logrus.WithFields(logrus.Fields{
		"function":   "transition",
		"session_id": s.id,
		"from":       s.state.String(),
		"to":         next.String(),
	}).Debug("Session state transition")
	s.state = next
}

// fail moves to the Error terminal state and closes the transport. The
// original error passes through so callers can classify it.
func (s *Session) fail(err error) error {
	if !s.state.terminal() {
		s.transition(StateError)
		s.conn.Close()
	}
	return err
}

// Close releases the session. Key material is wiped; an in-flight
// transfer's state has already been checkpointed by the transfer loops.
func (s *Session) Close() error {
	if s.engine != nil {
		s.engine.Close()
	}
	crypto.ZeroBytes(s.psk[:])
	if !s.state.terminal() {
		s.transition(StateClosed)
	}
	return s.conn.Close()
}

// Handshake runs the hello/auth exchange for this session's role. On
// return the session is Authenticated with a bound cipher and fresh
// session keys, or in the Error state with the transport closed.
func (s *Session) Handshake(ctx context.Context) error {
	if s.state != StateIdle {
		return s.fail(fmt.Errorf("%w: handshake from state %s", ErrProtocol, s.state))
	}
	s.transition(StateHandshaking)

	var err error
	if s.role == crypto.Initiator {
		err = s.handshakeInitiator(ctx)
	} else {
		err = s.handshakeResponder(ctx)
	}
	if err != nil {
		return s.fail(err)
	}

	s.transition(StateAuthenticated)
	logrus.WithFields(logrus.Fields{
		"function":   "Handshake",
		"session_id": s.id,
		"cipher":     s.engine.Cipher().Algorithm().String(),
		"peer":       s.conn.RemoteAddr().String(),
	}).Info("Session authenticated")
	return nil
}

// handshakeInitiator speaks first: hello, then proves possession of the
// pre-shared secret over the exchanged randoms.
func (s *Session) handshakeInitiator(ctx context.Context) error {
	random, err := crypto.GenerateRandom()
	if err != nil {
		return err
	}
	ephPub, ephPriv, err := crypto.GenerateEphemeralKeyPair()
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(ephPriv[:])

	hello := &transport.Hello{
		Version:      transport.ProtocolVersion,
		Ciphers:      crypto.DefaultPreference,
		Random:       random,
		EphemeralKey: ephPub,
	}
	helloBytes := hello.Encode()
	if err := s.conn.WriteFrame(&transport.Frame{Type: transport.FrameHello, Payload: helloBytes}); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	ackFrame, err := s.expectFrame(transport.FrameHelloAck)
	if err != nil {
		return err
	}
	helloAck, err := transport.DecodeHelloAck(ackFrame.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if !contains(hello.Ciphers, helloAck.Cipher) {
		return fmt.Errorf("%w: responder chose unoffered cipher %s", ErrProtocol, helloAck.Cipher)
	}

	keys, err := s.deriveKeys(helloAck.Cipher, ephPriv, helloAck.EphemeralKey, random, helloAck.Random)
	if err != nil {
		return err
	}
	defer keys.Wipe()

	transcript := append(append([]byte(nil), helloBytes...), ackFrame.Payload...)
	proof := crypto.ComputeAuthProof(keys.AuthKey, transcript)
	auth := &transport.Auth{Proof: proof}
	if err := s.conn.WriteFrame(&transport.Frame{Type: transport.FrameAuth, Payload: auth.Encode()}); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	authAckFrame, err := s.expectFrame(transport.FrameAuthAck)
	if err != nil {
		return err
	}
	authAck, err := transport.DecodeAck(authAckFrame.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if !authAck.Accepted {
		return errorFromReason(authAck.Code, authAck.Reason)
	}

	return s.bindEngine(helloAck.Cipher, keys)
}

// handshakeResponder answers a hello, challenges with its own random, and
// verifies the initiator's proof before any file metadata is accepted.
func (s *Session) handshakeResponder(ctx context.Context) error {
	helloFrame, err := s.expectFrame(transport.FrameHello)
	if err != nil {
		return err
	}
	hello, err := transport.DecodeHello(helloFrame.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if hello.Version != transport.ProtocolVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrProtocol, hello.Version)
	}

	chosen, err := crypto.Negotiate(crypto.DefaultPreference, hello.Ciphers)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	random, err := crypto.GenerateRandom()
	if err != nil {
		return err
	}
	ephPub, ephPriv, err := crypto.GenerateEphemeralKeyPair()
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(ephPriv[:])

	helloAck := &transport.HelloAck{Cipher: chosen, Random: random, EphemeralKey: ephPub}
	helloAckBytes := helloAck.Encode()
	if err := s.conn.WriteFrame(&transport.Frame{Type: transport.FrameHelloAck, Payload: helloAckBytes}); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	keys, err := s.deriveKeys(chosen, ephPriv, hello.EphemeralKey, hello.Random, random)
	if err != nil {
		return err
	}
	defer keys.Wipe()

	authFrame, err := s.expectFrame(transport.FrameAuth)
	if err != nil {
		return err
	}
	auth, err := transport.DecodeAuth(authFrame.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	transcript := append(append([]byte(nil), helloFrame.Payload...), helloAckBytes...)
	if s.cfg.Security.RequireAuth {
		if !crypto.VerifyAuthProof(keys.AuthKey, transcript, auth.Proof) {
			reject := &transport.Ack{Accepted: false, Code: transport.ReasonAuthFailed, Reason: "possession proof mismatch"}
			s.conn.WriteFrame(&transport.Frame{Type: transport.FrameAuthAck, Payload: reject.Encode()})
			return fmt.Errorf("%w: possession proof mismatch", ErrAuthenticationFailure)
		}
	} else {
		logrus.WithFields(logrus.Fields{
			"function":   "handshakeResponder",
			"session_id": s.id,
			"peer":       s.conn.RemoteAddr().String(),
		}).Warn("require_auth disabled, accepting unverified peer")
	}

	accept := &transport.Ack{Accepted: true}
	if err := s.conn.WriteFrame(&transport.Frame{Type: transport.FrameAuthAck, Payload: accept.Encode()}); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	return s.bindEngine(chosen, keys)
}

// deriveKeys runs the key schedule for the negotiated cipher. Nonce
// counters implicitly reset to zero for both directions: the engine built
// from these keys starts fresh.
func (s *Session) deriveKeys(alg crypto.Algorithm, ephPriv, peerEphPub [32]byte, initiatorRandom, responderRandom [crypto.RandomSize]byte) (*crypto.SessionKeys, error) {
	c, err := crypto.NewCipher(alg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	shared, err := crypto.DeriveSharedSecret(peerEphPub, ephPriv)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(shared[:])

	return crypto.DeriveSessionKeys(s.psk[:], shared[:], initiatorRandom[:], responderRandom[:], c)
}

// bindEngine fixes the cipher context for the session's lifetime.
func (s *Session) bindEngine(alg crypto.Algorithm, keys *crypto.SessionKeys) error {
	c, err := crypto.NewCipher(alg)
	if err != nil {
		return err
	}
	engine, err := crypto.NewEngine(c, keys, s.role)
	if err != nil {
		return err
	}
	s.engine = engine
	return nil
}

// expectFrame reads one frame and requires the given type. An error frame
// from the peer is surfaced as its reported reason; anything else
// unexpected is a protocol error.
func (s *Session) expectFrame(want transport.FrameType) (*transport.Frame, error) {
	frame, err := s.conn.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if frame.Type == transport.FrameError {
		return nil, s.peerReportedError(frame)
	}
	if frame.Type != want {
		return nil, fmt.Errorf("%w: expected %s frame, got %s", ErrProtocol, want, frame.Type)
	}
	return frame, nil
}

// peerReportedError decodes an error frame, decrypting when the session is
// past the handshake.
func (s *Session) peerReportedError(frame *transport.Frame) error {
	payload := frame.Payload
	if s.engine != nil {
		plain, err := s.engine.Open(payload, transport.Header(frame.Type, len(payload)))
		if err != nil {
			return fmt.Errorf("%w: undecryptable error frame", ErrProtocol)
		}
		payload = plain
	}
	e, err := transport.DecodeError(payload)
	if err != nil {
		return fmt.Errorf("%w: malformed error frame", ErrProtocol)
	}
	logrus.WithFields(logrus.Fields{
		"function":   "peerReportedError",
		"session_id": s.id,
		"code":       e.Code,
		"message":    e.Message,
	}).Error("Peer reported fatal error")
	return errorFromReason(e.Code, e.Message)
}

// sealFrame encrypts a payload and writes it as a frame of the given type.
// The frame header is bound as associated data, so type and length are
// covered by the authentication tag.
func (s *Session) sealFrame(t transport.FrameType, plaintext []byte) error {
	ctLen := len(plaintext) + s.engine.Cipher().Overhead()
	ciphertext, err := s.engine.Seal(plaintext, transport.Header(t, ctLen))
	if err != nil {
		return err
	}
	if err := s.conn.WriteFrame(&transport.Frame{Type: t, Payload: ciphertext}); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// openFrame reads a frame of the expected type and decrypts its payload.
func (s *Session) openFrame(want transport.FrameType) ([]byte, error) {
	frame, err := s.expectFrame(want)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.engine.Open(frame.Payload, transport.Header(frame.Type, len(frame.Payload)))
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// sendErrorFrame best-effort reports a fatal condition before closing.
func (s *Session) sendErrorFrame(err error) {
	payload := (&transport.ErrorPayload{Code: reasonFor(err), Message: err.Error()}).Encode()
	if s.engine != nil && s.state != StateHandshaking {
		s.sealFrame(transport.FrameError, payload)
		return
	}
	s.conn.WriteFrame(&transport.Frame{Type: transport.FrameError, Payload: payload})
}

func contains(list []crypto.Algorithm, alg crypto.Algorithm) bool {
	for _, a := range list {
		if a == alg {
			return true
		}
	}
	return false
}
