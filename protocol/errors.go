package protocol

import (
	"context"
	"errors"
	"net"

	"github.com/Sean-Khorasani/net-copy/crypto"
	"github.com/Sean-Khorasani/net-copy/file"
	"github.com/Sean-Khorasani/net-copy/transport"
)

var (
	// ErrProtocol indicates a malformed or out-of-sequence frame. Fatal
	// for the session, never retried at this layer.
	ErrProtocol = errors.New("protocol error")

	// ErrAuthenticationFailure indicates a possession-proof mismatch or
	// an authentication-tag failure. Treated as a potential attack: the
	// session terminates with no retry.
	ErrAuthenticationFailure = errors.New("authentication failure")

	// ErrRejected indicates the peer refused the transfer at the
	// metadata step with a reason code.
	ErrRejected = errors.New("transfer rejected")

	// ErrTransport indicates a socket failure, timeout, or truncated
	// stream. Fatal for the session; transfer state is preserved for a
	// future resume when the failure hit mid-transfer.
	ErrTransport = errors.New("transport error")

	// ErrChecksumMismatch indicates the end-to-end checksums disagree
	// after all chunks verified individually.
	ErrChecksumMismatch = errors.New("end-to-end checksum mismatch")
)

// Status is the session completion status reported to the embedding
// process. Every fatal path maps to a distinct status so operators can
// tell a wrong key from a full disk from an unreachable peer.
type Status uint8

const (
	// StatusSuccess: transfer completed and checksums agree.
	StatusSuccess Status = iota
	// StatusRejected: the peer refused the transfer (policy).
	StatusRejected
	// StatusAuthFailure: handshake proof or tag verification failed.
	StatusAuthFailure
	// StatusIOError: local file or protocol failure.
	StatusIOError
	// StatusTimeout: a socket deadline expired.
	StatusTimeout
)

// String returns the operator-facing status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRejected:
		return "rejected"
	case StatusAuthFailure:
		return "authentication failure"
	case StatusIOError:
		return "i/o error"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Classify maps a session error to its completion status.
func Classify(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrAuthenticationFailure) || errors.Is(err, crypto.ErrAuthenticationFailure):
		return StatusAuthFailure
	case errors.Is(err, ErrRejected),
		errors.Is(err, file.ErrPathNotAllowed),
		errors.Is(err, file.ErrFileTooLarge):
		return StatusRejected
	case isTimeout(err):
		return StatusTimeout
	default:
		return StatusIOError
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// reasonFor maps a local rejection to its wire reason code.
func reasonFor(err error) transport.ReasonCode {
	switch {
	case errors.Is(err, file.ErrPathNotAllowed):
		return transport.ReasonPathNotAllowed
	case errors.Is(err, file.ErrFileTooLarge):
		return transport.ReasonFileTooLarge
	case errors.Is(err, ErrAuthenticationFailure):
		return transport.ReasonAuthFailed
	case errors.Is(err, ErrChecksumMismatch):
		return transport.ReasonChecksumMismatch
	case errors.Is(err, ErrProtocol):
		return transport.ReasonProtocol
	default:
		return transport.ReasonInternal
	}
}

// errorFromReason reconstructs the local error for a peer-reported reason
// code, so both sides classify a failure identically.
func errorFromReason(code transport.ReasonCode, message string) error {
	base := func() error {
		switch code {
		case transport.ReasonAuthFailed:
			return ErrAuthenticationFailure
		case transport.ReasonPathNotAllowed, transport.ReasonFileTooLarge, transport.ReasonFileNotFound:
			return ErrRejected
		case transport.ReasonChecksumMismatch:
			return ErrChecksumMismatch
		case transport.ReasonProtocol:
			return ErrProtocol
		default:
			return ErrTransport
		}
	}()
	if message == "" {
		return base
	}
	return &peerError{base: base, message: message}
}

// peerError carries the peer's reason text while unwrapping to the
// taxonomy error.
type peerError struct {
	base    error
	message string
}

func (e *peerError) Error() string { return e.base.Error() + ": " + e.message }
func (e *peerError) Unwrap() error { return e.base }
