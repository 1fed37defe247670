// Package transport implements wire framing and framed socket I/O for the
// net-copy protocol.
//
// Every wire unit is a frame: a fixed header (magic, protocol version,
// frame type, payload length) followed by the payload. For frame types
// carried after the handshake the payload is ciphertext produced by the
// session's crypto engine, with the authentication tag appended when the
// negotiated cipher authenticates; the frame header is bound to that
// ciphertext as associated data, so a frame's type and length cannot be
// swapped without failing verification.
//
// Decoding validates magic and version before trusting the length field,
// enforces the configured maximum payload size against hostile peers, and
// distinguishes a truncated stream from a corrupt one.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Sean-Khorasani/net-copy/limits"
)

const (
	// Magic is the frame magic constant, "NCP1" big-endian.
	Magic uint32 = 0x4E435031

	// ProtocolVersion is the wire protocol version this build speaks.
	ProtocolVersion uint8 = 1

	// HeaderSize is the fixed frame header length: magic (4) + version
	// (1) + type (1) + payload length (4).
	HeaderSize = 10
)

// FrameType identifies a wire frame's purpose.
type FrameType uint8

const (
	// FrameHello opens the handshake: version, cipher preferences,
	// initiator random and ephemeral key.
	FrameHello FrameType = 1
	// FrameHelloAck answers with the chosen cipher, responder random
	// and ephemeral key.
	FrameHelloAck FrameType = 2
	// FrameAuth carries the initiator's proof of the pre-shared secret.
	FrameAuth FrameType = 3
	// FrameAuthAck accepts or rejects the proof.
	FrameAuthAck FrameType = 4
	// FrameMeta announces the file: name, size, resume offset.
	FrameMeta FrameType = 5
	// FrameMetaAck accepts or rejects the transfer.
	FrameMetaAck FrameType = 6
	// FrameData carries one encrypted chunk.
	FrameData FrameType = 7
	// FrameDataAck acknowledges received chunks, periodically and at
	// completion.
	FrameDataAck FrameType = 8
	// FrameError reports a fatal condition with a reason code.
	FrameError FrameType = 9
	// FrameClose requests or confirms orderly shutdown.
	FrameClose FrameType = 10
)

var (
	// ErrInvalidMagic indicates the stream does not carry this protocol.
	ErrInvalidMagic = errors.New("invalid frame magic")

	// ErrVersionMismatch indicates an unsupported protocol version.
	ErrVersionMismatch = errors.New("unsupported protocol version")

	// ErrUnknownFrameType indicates a frame type outside the registry.
	ErrUnknownFrameType = errors.New("unknown frame type")

	// ErrFrameTooLarge indicates a payload length over the maximum.
	// Rejecting before allocation bounds memory use from a hostile peer.
	ErrFrameTooLarge = errors.New("frame payload exceeds maximum size")

	// ErrTruncatedFrame indicates the stream ended mid-frame. This is a
	// transport fault, distinct from authentication failure.
	ErrTruncatedFrame = errors.New("truncated frame")
)

// String returns the frame type's wire registry name.
func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameHelloAck:
		return "hello-ack"
	case FrameAuth:
		return "auth"
	case FrameAuthAck:
		return "auth-ack"
	case FrameMeta:
		return "meta"
	case FrameMetaAck:
		return "meta-ack"
	case FrameData:
		return "data"
	case FrameDataAck:
		return "data-ack"
	case FrameError:
		return "error"
	case FrameClose:
		return "close"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

func (t FrameType) valid() bool {
	return t >= FrameHello && t <= FrameClose
}

// Frame is one wire unit. Frames are ephemeral: constructed per send or
// receive event and discarded.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Header builds the serialized header for a frame of the given type and
// payload length. The same bytes serve as associated data for the crypto
// engine, binding type and length into the authentication tag.
func Header(t FrameType, payloadLen int) []byte {
	hdr := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(hdr[0:4], Magic)
	hdr[4] = ProtocolVersion
	hdr[5] = uint8(t)
	binary.BigEndian.PutUint32(hdr[6:10], uint32(payloadLen))
	return hdr
}

// ParseHeader validates a serialized header and returns the frame type and
// payload length. Magic and version are checked before the length field is
// trusted.
func ParseHeader(hdr []byte) (FrameType, int, error) {
	if len(hdr) != HeaderSize {
		return 0, 0, fmt.Errorf("%w: header %d bytes", ErrTruncatedFrame, len(hdr))
	}
	if binary.BigEndian.Uint32(hdr[0:4]) != Magic {
		return 0, 0, ErrInvalidMagic
	}
	if hdr[4] != ProtocolVersion {
		return 0, 0, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, hdr[4], ProtocolVersion)
	}
	t := FrameType(hdr[5])
	if !t.valid() {
		return 0, 0, fmt.Errorf("%w: %d", ErrUnknownFrameType, hdr[5])
	}
	length := int(binary.BigEndian.Uint32(hdr[6:10]))
	if length > limits.MaxFramePayload {
		return 0, 0, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, limits.MaxFramePayload)
	}
	return t, length, nil
}
