package file

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// PartSuffix is appended to a destination file name while a transfer is in
// flight. The file is promoted to its final name only after the end-to-end
// checksum is confirmed.
const PartSuffix = ".part"

// Writer assembles a destination file chunk by chunk, maintaining the
// running plaintext checksum. It is exclusively owned by one session
// worker; Finalize or Abort must be called before the worker is released.
type Writer struct {
	f        *os.File
	hash     hash.Hash
	path     string
	partPath string
	size     uint64
	offset   uint64
}

// OpenWriter opens (or creates) the destination's part file, truncated to
// resumeOffset, with the checksum state covering the retained prefix. The
// destination directory is created as needed.
func OpenWriter(path string, size uint64, resumeOffset uint64, hashState []byte) (*Writer, error) {
	if resumeOffset > size {
		return nil, fmt.Errorf("%w: offset %d, size %d", ErrResumeOffsetInvalid, resumeOffset, size)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create destination directory: %w", err)
	}

	partPath := path + PartSuffix
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open part file: %w", err)
	}

	w := &Writer{
		f:        f,
		hash:     sha256.New(),
		path:     path,
		partPath: partPath,
		size:     size,
	}

	if err := w.prepareResume(resumeOffset, hashState); err != nil {
		f.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "OpenWriter",
		"path":          path,
		"file_size":     size,
		"resume_offset": w.offset,
	}).Info("Destination file opened for transfer")

	return w, nil
}

// prepareResume truncates the part file to the agreed offset, restores or
// rebuilds the checksum state for the prefix, and positions the write
// cursor.
func (w *Writer) prepareResume(offset uint64, hashState []byte) error {
	if err := w.f.Truncate(int64(offset)); err != nil {
		return fmt.Errorf("truncate part file to %d: %w", offset, err)
	}
	if offset == 0 {
		return nil
	}
	if hashState != nil && restoreHash(w.hash, hashState) == nil {
		if _, err := w.f.Seek(int64(offset), io.SeekStart); err != nil {
			return fmt.Errorf("seek part file: %w", err)
		}
		w.offset = offset
		return nil
	}
	if _, err := io.CopyN(w.hash, w.f, int64(offset)); err != nil {
		return fmt.Errorf("rehash part prefix: %w", err)
	}
	w.offset = offset
	return nil
}

// Write appends one plaintext chunk. Bytes written never exceed the
// announced file size.
func (w *Writer) Write(chunk []byte) error {
	if w.offset+uint64(len(chunk)) > w.size {
		return fmt.Errorf("chunk overruns announced size: %d + %d > %d", w.offset, len(chunk), w.size)
	}
	if _, err := w.f.Write(chunk); err != nil {
		return fmt.Errorf("write chunk at offset %d: %w", w.offset, err)
	}
	w.hash.Write(chunk)
	w.offset += uint64(len(chunk))
	return nil
}

// Offset reports bytes written so far, including any resumed prefix.
func (w *Writer) Offset() uint64 { return w.offset }

// Size reports the announced total file size.
func (w *Writer) Size() uint64 { return w.size }

// Sum returns the running checksum over all bytes written so far.
func (w *Writer) Sum() []byte { return w.hash.Sum(nil) }

// HashState serializes the running checksum for checkpointing.
func (w *Writer) HashState() ([]byte, error) { return marshalHash(w.hash) }

// Complete reports whether every announced byte has been written.
func (w *Writer) Complete() bool { return w.offset == w.size }

// Finalize flushes the part file and promotes it to its final name. It
// must only be called after the checksum is confirmed.
func (w *Writer) Finalize() error {
	if !w.Complete() {
		return fmt.Errorf("finalize with %d of %d bytes written", w.offset, w.size)
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("sync part file: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close part file: %w", err)
	}
	if err := os.Rename(w.partPath, w.path); err != nil {
		return fmt.Errorf("promote part file: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Finalize",
		"path":     w.path,
		"size":     w.size,
	}).Info("Destination file finalized")

	return nil
}

// Abort closes the part file, keeping its contents for a future resume.
func (w *Writer) Abort() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// PartSize reports the on-disk size of a destination's part file, or zero
// when none exists. Resume offers are verified against it.
func PartSize(path string) uint64 {
	info, err := os.Stat(path + PartSuffix)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}
