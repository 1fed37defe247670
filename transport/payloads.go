package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Sean-Khorasani/net-copy/crypto"
	"github.com/Sean-Khorasani/net-copy/limits"
)

// ReasonCode is the wire registry of rejection and error reasons. Every
// fatal path yields a specific code so an operator can tell a wrong key
// from a full disk from an unreachable peer.
type ReasonCode uint8

const (
	// ReasonNone accompanies accepted acks.
	ReasonNone ReasonCode = 0
	// ReasonAuthFailed reports a possession-proof mismatch.
	ReasonAuthFailed ReasonCode = 1
	// ReasonPathNotAllowed reports a file outside the allowed roots.
	ReasonPathNotAllowed ReasonCode = 2
	// ReasonFileTooLarge reports a file over the configured maximum.
	ReasonFileTooLarge ReasonCode = 3
	// ReasonFileNotFound reports a missing source file on a pull request.
	ReasonFileNotFound ReasonCode = 4
	// ReasonProtocol reports a malformed or unexpected frame.
	ReasonProtocol ReasonCode = 5
	// ReasonInternal reports a local I/O or resource failure.
	ReasonInternal ReasonCode = 6
	// ReasonChecksumMismatch reports end-to-end checksum disagreement.
	ReasonChecksumMismatch ReasonCode = 7
)

// ChecksumSHA256 identifies the SHA-256 end-to-end checksum algorithm, the
// only one currently registered.
const ChecksumSHA256 uint8 = 1

// ErrMalformedPayload indicates a payload that does not decode as its
// frame type requires.
var ErrMalformedPayload = errors.New("malformed payload")

// Hello is the handshake opener sent by the initiator.
type Hello struct {
	Version      uint8
	Ciphers      []crypto.Algorithm
	Random       [crypto.RandomSize]byte
	EphemeralKey [32]byte
}

// Encode serializes the hello payload.
func (h *Hello) Encode() []byte {
	buf := make([]byte, 0, 2+len(h.Ciphers)+crypto.RandomSize+32)
	buf = append(buf, h.Version, uint8(len(h.Ciphers)))
	for _, c := range h.Ciphers {
		buf = append(buf, uint8(c))
	}
	buf = append(buf, h.Random[:]...)
	buf = append(buf, h.EphemeralKey[:]...)
	return buf
}

// DecodeHello parses a hello payload.
func DecodeHello(payload []byte) (*Hello, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: hello too short", ErrMalformedPayload)
	}
	h := &Hello{Version: payload[0]}
	n := int(payload[1])
	if n == 0 {
		return nil, fmt.Errorf("%w: hello lists no ciphers", ErrMalformedPayload)
	}
	rest := payload[2:]
	if len(rest) != n+crypto.RandomSize+32 {
		return nil, fmt.Errorf("%w: hello length %d", ErrMalformedPayload, len(payload))
	}
	for i := 0; i < n; i++ {
		h.Ciphers = append(h.Ciphers, crypto.Algorithm(rest[i]))
	}
	copy(h.Random[:], rest[n:n+crypto.RandomSize])
	copy(h.EphemeralKey[:], rest[n+crypto.RandomSize:])
	return h, nil
}

// HelloAck is the responder's answer: the chosen cipher plus its own
// session random and ephemeral key.
type HelloAck struct {
	Cipher       crypto.Algorithm
	Random       [crypto.RandomSize]byte
	EphemeralKey [32]byte
}

// Encode serializes the hello-ack payload.
func (h *HelloAck) Encode() []byte {
	buf := make([]byte, 0, 1+crypto.RandomSize+32)
	buf = append(buf, uint8(h.Cipher))
	buf = append(buf, h.Random[:]...)
	buf = append(buf, h.EphemeralKey[:]...)
	return buf
}

// DecodeHelloAck parses a hello-ack payload.
func DecodeHelloAck(payload []byte) (*HelloAck, error) {
	if len(payload) != 1+crypto.RandomSize+32 {
		return nil, fmt.Errorf("%w: hello-ack length %d", ErrMalformedPayload, len(payload))
	}
	h := &HelloAck{Cipher: crypto.Algorithm(payload[0])}
	copy(h.Random[:], payload[1:1+crypto.RandomSize])
	copy(h.EphemeralKey[:], payload[1+crypto.RandomSize:])
	return h, nil
}

// Auth carries the initiator's keyed proof of the pre-shared secret. The
// secret itself never crosses the wire.
type Auth struct {
	Proof []byte
}

// Encode serializes the auth payload.
func (a *Auth) Encode() []byte {
	return append([]byte(nil), a.Proof...)
}

// DecodeAuth parses an auth payload.
func DecodeAuth(payload []byte) (*Auth, error) {
	if len(payload) != 32 {
		return nil, fmt.Errorf("%w: auth proof length %d", ErrMalformedPayload, len(payload))
	}
	return &Auth{Proof: append([]byte(nil), payload...)}, nil
}

// Ack is the shared accept/reject shape of auth-ack and meta-ack frames.
type Ack struct {
	Accepted bool
	Code     ReasonCode
	Reason   string
	// Offset is meaningful in meta-ack: the byte position the receiver
	// will accept data from, after verifying resume state.
	Offset uint64
	// FileSize is meaningful in meta-ack for pull transfers: the size of
	// the file the server will send.
	FileSize uint64
}

// Encode serializes an ack payload.
func (a *Ack) Encode() []byte {
	buf := make([]byte, 0, 2+2+len(a.Reason)+16)
	accepted := uint8(0)
	if a.Accepted {
		accepted = 1
	}
	buf = append(buf, accepted, uint8(a.Code))
	buf = binary.BigEndian.AppendUint64(buf, a.Offset)
	buf = binary.BigEndian.AppendUint64(buf, a.FileSize)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(a.Reason)))
	buf = append(buf, a.Reason...)
	return buf
}

// DecodeAck parses an ack payload.
func DecodeAck(payload []byte) (*Ack, error) {
	if len(payload) < 20 {
		return nil, fmt.Errorf("%w: ack too short", ErrMalformedPayload)
	}
	a := &Ack{
		Accepted: payload[0] == 1,
		Code:     ReasonCode(payload[1]),
		Offset:   binary.BigEndian.Uint64(payload[2:10]),
		FileSize: binary.BigEndian.Uint64(payload[10:18]),
	}
	reasonLen := int(binary.BigEndian.Uint16(payload[18:20]))
	if len(payload) != 20+reasonLen {
		return nil, fmt.Errorf("%w: ack reason length", ErrMalformedPayload)
	}
	a.Reason = string(payload[20:])
	return a, nil
}

// Meta announces the file to transfer. Pull inverts the data direction:
// the sender of the meta frame becomes the receiver of the chunks.
type Meta struct {
	FileName          string
	FileSize          uint64
	ResumeOffset      uint64
	ChecksumAlgorithm uint8
	Pull              bool
}

// Encode serializes the meta payload.
func (m *Meta) Encode() ([]byte, error) {
	if err := limits.ValidateFileName(m.FileName); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 20+len(m.FileName))
	buf = binary.BigEndian.AppendUint64(buf, m.FileSize)
	buf = binary.BigEndian.AppendUint64(buf, m.ResumeOffset)
	buf = append(buf, m.ChecksumAlgorithm)
	pull := uint8(0)
	if m.Pull {
		pull = 1
	}
	buf = append(buf, pull)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.FileName)))
	buf = append(buf, m.FileName...)
	return buf, nil
}

// DecodeMeta parses a meta payload.
func DecodeMeta(payload []byte) (*Meta, error) {
	if len(payload) < 20 {
		return nil, fmt.Errorf("%w: meta too short", ErrMalformedPayload)
	}
	m := &Meta{
		FileSize:          binary.BigEndian.Uint64(payload[0:8]),
		ResumeOffset:      binary.BigEndian.Uint64(payload[8:16]),
		ChecksumAlgorithm: payload[16],
		Pull:              payload[17] == 1,
	}
	nameLen := int(binary.BigEndian.Uint16(payload[18:20]))
	if len(payload) != 20+nameLen {
		return nil, fmt.Errorf("%w: meta name length", ErrMalformedPayload)
	}
	m.FileName = string(payload[20:])
	if err := limits.ValidateFileName(m.FileName); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return m, nil
}

// ChunkHeader prefixes every data frame's plaintext: the chunk index for
// ordering checks, the compression flag, and the original plaintext length.
type ChunkHeader struct {
	Index      uint64
	Compressed bool
	PlainLen   uint32
}

// ChunkHeaderSize is the serialized chunk header length.
const ChunkHeaderSize = 13

// EncodeChunk prefixes body with its header.
func EncodeChunk(h ChunkHeader, body []byte) []byte {
	buf := make([]byte, 0, ChunkHeaderSize+len(body))
	buf = binary.BigEndian.AppendUint64(buf, h.Index)
	compressed := uint8(0)
	if h.Compressed {
		compressed = 1
	}
	buf = append(buf, compressed)
	buf = binary.BigEndian.AppendUint32(buf, h.PlainLen)
	return append(buf, body...)
}

// DecodeChunk splits a decrypted data payload into header and body.
func DecodeChunk(payload []byte) (ChunkHeader, []byte, error) {
	if len(payload) < ChunkHeaderSize {
		return ChunkHeader{}, nil, fmt.Errorf("%w: chunk too short", ErrMalformedPayload)
	}
	h := ChunkHeader{
		Index:      binary.BigEndian.Uint64(payload[0:8]),
		Compressed: payload[8] == 1,
		PlainLen:   binary.BigEndian.Uint32(payload[9:13]),
	}
	if h.PlainLen > limits.MaxChunkSize {
		return ChunkHeader{}, nil, fmt.Errorf("%w: chunk claims %d plaintext bytes", ErrMalformedPayload, h.PlainLen)
	}
	return h, payload[ChunkHeaderSize:], nil
}

// DataAck acknowledges progress. Interval acks carry the received offset
// and an optional backpressure hint; the final ack adds the receiver's
// end-to-end checksum.
type DataAck struct {
	Offset        uint64
	Final         bool
	BackoffMillis uint16
	Checksum      []byte
}

// Encode serializes a data-ack payload.
func (d *DataAck) Encode() []byte {
	buf := make([]byte, 0, 11+len(d.Checksum))
	buf = binary.BigEndian.AppendUint64(buf, d.Offset)
	final := uint8(0)
	if d.Final {
		final = 1
	}
	buf = append(buf, final)
	buf = binary.BigEndian.AppendUint16(buf, d.BackoffMillis)
	buf = append(buf, d.Checksum...)
	return buf
}

// DecodeDataAck parses a data-ack payload.
func DecodeDataAck(payload []byte) (*DataAck, error) {
	if len(payload) < 11 {
		return nil, fmt.Errorf("%w: data-ack too short", ErrMalformedPayload)
	}
	d := &DataAck{
		Offset:        binary.BigEndian.Uint64(payload[0:8]),
		Final:         payload[8] == 1,
		BackoffMillis: binary.BigEndian.Uint16(payload[9:11]),
	}
	if rest := payload[11:]; len(rest) > 0 {
		if len(rest) != 32 {
			return nil, fmt.Errorf("%w: data-ack checksum length %d", ErrMalformedPayload, len(rest))
		}
		d.Checksum = append([]byte(nil), rest...)
	}
	if d.Final && d.Checksum == nil {
		return nil, fmt.Errorf("%w: final data-ack missing checksum", ErrMalformedPayload)
	}
	return d, nil
}

// ErrorPayload reports a fatal condition to the peer before closing.
type ErrorPayload struct {
	Code    ReasonCode
	Message string
}

// Encode serializes an error payload.
func (e *ErrorPayload) Encode() []byte {
	buf := make([]byte, 0, 3+len(e.Message))
	buf = append(buf, uint8(e.Code))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Message)))
	buf = append(buf, e.Message...)
	return buf
}

// DecodeError parses an error payload.
func DecodeError(payload []byte) (*ErrorPayload, error) {
	if len(payload) < 3 {
		return nil, fmt.Errorf("%w: error payload too short", ErrMalformedPayload)
	}
	e := &ErrorPayload{Code: ReasonCode(payload[0])}
	msgLen := int(binary.BigEndian.Uint16(payload[1:3]))
	if len(payload) != 3+msgLen {
		return nil, fmt.Errorf("%w: error message length", ErrMalformedPayload)
	}
	e.Message = string(payload[3:])
	return e, nil
}
