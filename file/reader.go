package file

import (
	"crypto/sha256"
	"encoding"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// ErrResumeOffsetInvalid indicates a resume offset beyond the file size.
var ErrResumeOffsetInvalid = errors.New("resume offset exceeds file size")

// Reader walks a source file in fixed-size chunks, maintaining the running
// plaintext checksum. It is exclusively owned by one session worker.
type Reader struct {
	f         *os.File
	hash      hash.Hash
	size      uint64
	offset    uint64
	chunkSize int
	index     uint64
}

// OpenReader opens a source file for chunked reading starting at
// resumeOffset. The running checksum must cover the file from byte zero:
// when hashState carries a checkpointed state it is restored, otherwise the
// skipped prefix is rehashed from disk.
func OpenReader(path string, chunkSize int, resumeOffset uint64, hashState []byte) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat source file: %w", err)
	}
	size := uint64(info.Size())
	if resumeOffset > size {
		f.Close()
		return nil, fmt.Errorf("%w: offset %d, size %d", ErrResumeOffsetInvalid, resumeOffset, size)
	}

	r := &Reader{
		f:         f,
		hash:      sha256.New(),
		size:      size,
		chunkSize: chunkSize,
		index:     resumeOffset / uint64(chunkSize),
	}

	if err := r.seekTo(resumeOffset, hashState); err != nil {
		f.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "OpenReader",
		"path":          path,
		"file_size":     size,
		"resume_offset": resumeOffset,
		"chunk_size":    chunkSize,
	}).Info("Source file opened for transfer")

	return r, nil
}

// seekTo positions the reader at offset with the checksum state covering
// [0, offset).
func (r *Reader) seekTo(offset uint64, hashState []byte) error {
	if offset == 0 {
		return nil
	}
	if hashState != nil {
		if err := restoreHash(r.hash, hashState); err == nil {
			if _, err := r.f.Seek(int64(offset), io.SeekStart); err != nil {
				return fmt.Errorf("seek to resume offset: %w", err)
			}
			r.offset = offset
			return nil
		}
		// Unusable checkpoint state: fall through and rehash.
		logrus.WithFields(logrus.Fields{
			"function": "seekTo",
			"offset":   offset,
		}).Warn("Checkpointed hash state unusable, rehashing prefix")
	}
	if _, err := io.CopyN(r.hash, r.f, int64(offset)); err != nil {
		return fmt.Errorf("rehash prefix to offset %d: %w", offset, err)
	}
	r.offset = offset
	return nil
}

// Next returns the next chunk and its index. The final chunk may be short;
// io.EOF reports a cleanly exhausted file.
func (r *Reader) Next() ([]byte, uint64, error) {
	if r.offset >= r.size {
		return nil, 0, io.EOF
	}
	buf := make([]byte, r.chunkSize)
	n, err := io.ReadFull(r.f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, 0, fmt.Errorf("read chunk %d: %w", r.index, err)
	}
	chunk := buf[:n]
	r.hash.Write(chunk)
	r.offset += uint64(n)
	index := r.index
	r.index++
	return chunk, index, nil
}

// Offset reports bytes consumed so far, including any resumed prefix.
func (r *Reader) Offset() uint64 { return r.offset }

// Size reports the total file size.
func (r *Reader) Size() uint64 { return r.size }

// Sum returns the running checksum over all bytes hashed so far.
func (r *Reader) Sum() []byte { return r.hash.Sum(nil) }

// HashState serializes the running checksum for checkpointing.
func (r *Reader) HashState() ([]byte, error) { return marshalHash(r.hash) }

// Close releases the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

func marshalHash(h hash.Hash) ([]byte, error) {
	m, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, errors.New("hash state not serializable")
	}
	return m.MarshalBinary()
}

func restoreHash(h hash.Hash, state []byte) error {
	u, ok := h.(encoding.BinaryUnmarshaler)
	if !ok {
		return errors.New("hash state not serializable")
	}
	return u.UnmarshalBinary(state)
}
