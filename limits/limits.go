// Package limits provides centralized size limits for the net-copy protocol.
// This ensures consistent validation across different components of the system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxChunkSize is the largest plaintext chunk the protocol will
	// compress and encrypt as one unit (1MB). Buffer sizes above this
	// are rejected by configuration validation.
	MaxChunkSize = 1024 * 1024

	// DefaultChunkSize is the chunk size used when the configuration
	// does not specify a buffer size.
	DefaultChunkSize = 65536

	// MinChunkSize is the smallest usable chunk size. Below this the
	// per-frame overhead dominates the payload.
	MinChunkSize = 1024

	// MaxFramePayload is the maximum wire frame payload size. It covers
	// a maximum-size chunk plus the chunk header, worst-case expansion
	// from incompressible lz4 input, and the authentication tag.
	MaxFramePayload = MaxChunkSize + 4096

	// MaxFileNameLength is the maximum allowed file name length in bytes.
	// This prevents memory exhaustion from hostile metadata. The value
	// (255) matches typical filesystem limits and fits in a uint16.
	MaxFileNameLength = 255

	// EncryptionOverhead is the overhead added by the authenticated
	// ciphers (the Poly1305 or GCM tag). AES-CTR paired with HMAC-SHA256
	// adds MACOverhead instead.
	EncryptionOverhead = 16

	// MACOverhead is the overhead of the HMAC-SHA256 tag appended to
	// AES-CTR ciphertext.
	MACOverhead = 32
)

var (
	// ErrPayloadEmpty indicates an empty payload was provided.
	ErrPayloadEmpty = errors.New("empty payload")

	// ErrPayloadTooLarge indicates a payload exceeds its maximum size.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ValidateChunk validates a plaintext chunk against MaxChunkSize.
// Returns an error with context if the chunk is empty or exceeds the limit.
func ValidateChunk(chunk []byte) error {
	if len(chunk) == 0 {
		return ErrPayloadEmpty
	}
	if len(chunk) > MaxChunkSize {
		return fmt.Errorf("%w: chunk size %d exceeds limit %d", ErrPayloadTooLarge, len(chunk), MaxChunkSize)
	}
	return nil
}

// ValidateFramePayload validates a wire frame payload against MaxFramePayload.
// Frame payloads may be empty (close frames carry none).
func ValidateFramePayload(payload []byte) error {
	if len(payload) > MaxFramePayload {
		return fmt.Errorf("%w: frame payload %d exceeds limit %d", ErrPayloadTooLarge, len(payload), MaxFramePayload)
	}
	return nil
}

// ValidateFileName validates a file name length against MaxFileNameLength.
func ValidateFileName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("%w: file name", ErrPayloadEmpty)
	}
	if len(name) > MaxFileNameLength {
		return fmt.Errorf("%w: file name length %d exceeds limit %d", ErrPayloadTooLarge, len(name), MaxFileNameLength)
	}
	return nil
}
