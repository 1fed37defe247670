// Package compress provides optional per-chunk lossless compression for the
// transfer pipeline. Compression is applied to plaintext before encryption
// on the send path and reversed after decryption on the receive path;
// ciphertext is never compressed.
package compress

import (
	"errors"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

var (
	// ErrDecompressedTooLarge indicates a compressed chunk claims a
	// decompressed size above the allowed bound.
	ErrDecompressedTooLarge = errors.New("decompressed size exceeds bound")

	// ErrCorruptChunk indicates a compressed chunk could not be decoded.
	ErrCorruptChunk = errors.New("corrupt compressed chunk")
)

// Compressor compresses chunks with lz4 block encoding. It reuses the
// lz4 hash table between chunks and is not safe for concurrent use; each
// session owns its own Compressor.
type Compressor struct {
	c lz4.Compressor
}

// Compress encodes chunk with lz4. The second return value reports whether
// compression was applied: incompressible input (or input that grows) is
// returned as-is with compressed=false, so callers never pay for negative
// compression on the wire.
func (z *Compressor) Compress(chunk []byte) ([]byte, bool, error) {
	if len(chunk) == 0 {
		return chunk, false, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(chunk)))
	n, err := z.c.CompressBlock(chunk, dst)
	if err != nil {
		return nil, false, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(chunk) {
		// Incompressible input.
		return chunk, false, nil
	}
	return dst[:n], true, nil
}

// Decompress decodes an lz4 block into a buffer of exactly plainLen bytes.
// plainLen comes from the authenticated chunk header, so a mismatch means
// corruption rather than a hostile length claim.
func Decompress(chunk []byte, plainLen int, maxLen int) ([]byte, error) {
	if plainLen > maxLen {
		return nil, fmt.Errorf("%w: %d > %d", ErrDecompressedTooLarge, plainLen, maxLen)
	}
	dst := make([]byte, plainLen)
	n, err := lz4.UncompressBlock(chunk, dst)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptChunk, err)
	}
	if n != plainLen {
		return nil, fmt.Errorf("%w: decoded %d bytes, expected %d", ErrCorruptChunk, n, plainLen)
	}
	return dst, nil
}
