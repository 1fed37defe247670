package file

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sean-Khorasani/net-copy/storage"
)

func writeSource(t *testing.T, dir string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(dir, "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0o640))
	return path, data
}

func TestReaderWalksWholeFile(t *testing.T) {
	dir := t.TempDir()
	path, data := writeSource(t, dir, 10000)

	r, err := OpenReader(path, 4096, 0, nil)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, uint64(10000), r.Size())

	var got []byte
	var indexes []uint64
	for {
		chunk, index, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk...)
		indexes = append(indexes, index)
	}

	assert.Equal(t, data, got)
	assert.Equal(t, []uint64{0, 1, 2}, indexes, "10000 bytes in 4096 chunks")

	want := sha256.Sum256(data)
	assert.Equal(t, want[:], r.Sum())
}

func TestReaderResumeRehashesPrefix(t *testing.T) {
	dir := t.TempDir()
	path, data := writeSource(t, dir, 8192)

	r, err := OpenReader(path, 1024, 4096, nil)
	require.NoError(t, err)
	defer r.Close()

	for {
		if _, _, err := r.Next(); err == io.EOF {
			break
		}
	}

	want := sha256.Sum256(data)
	assert.Equal(t, want[:], r.Sum(), "checksum must cover the skipped prefix")
}

func TestReaderResumeFromHashState(t *testing.T) {
	dir := t.TempDir()
	path, data := writeSource(t, dir, 8192)

	first, err := OpenReader(path, 1024, 0, nil)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, _, err := first.Next()
		require.NoError(t, err)
	}
	state, err := first.HashState()
	require.NoError(t, err)
	offset := first.Offset()
	require.NoError(t, first.Close())

	second, err := OpenReader(path, 1024, offset, state)
	require.NoError(t, err)
	defer second.Close()
	for {
		if _, _, err := second.Next(); err == io.EOF {
			break
		}
	}

	want := sha256.Sum256(data)
	assert.Equal(t, want[:], second.Sum())
}

func TestReaderRejectsOffsetBeyondSize(t *testing.T) {
	dir := t.TempDir()
	path, _ := writeSource(t, dir, 100)
	_, err := OpenReader(path, 1024, 101, nil)
	assert.ErrorIs(t, err, ErrResumeOffsetInvalid)
}

func TestWriterAssemblesAndPromotes(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out", "dest.bin")
	data := make([]byte, 5000)
	_, err := rand.Read(data)
	require.NoError(t, err)

	w, err := OpenWriter(dest, 5000, 0, nil)
	require.NoError(t, err)
	require.NoError(t, w.Write(data[:2048]))
	require.NoError(t, w.Write(data[2048:4096]))
	require.NoError(t, w.Write(data[4096:]))

	require.True(t, w.Complete())
	want := sha256.Sum256(data)
	assert.Equal(t, want[:], w.Sum())
	require.NoError(t, w.Finalize())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = os.Stat(dest + PartSuffix)
	assert.True(t, os.IsNotExist(err), "part file must be gone after promotion")
}

func TestWriterRejectsOverrun(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(filepath.Join(dir, "d.bin"), 10, 0, nil)
	require.NoError(t, err)
	defer w.Abort()

	assert.Error(t, w.Write(make([]byte, 11)))
}

func TestWriterFinalizeRequiresCompletion(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenWriter(filepath.Join(dir, "d.bin"), 10, 0, nil)
	require.NoError(t, err)
	require.NoError(t, w.Write(make([]byte, 5)))
	assert.Error(t, w.Finalize())
	require.NoError(t, w.Abort())
}

// TestWriterAbortThenResumeProducesIdenticalFile is the interrupted
// transfer property: abort after N chunks, resume, and the destination is
// byte-identical to an uninterrupted copy.
func TestWriterAbortThenResumeProducesIdenticalFile(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "dest.bin")
	data := make([]byte, 10000)
	_, err := rand.Read(data)
	require.NoError(t, err)

	w, err := OpenWriter(dest, 10000, 0, nil)
	require.NoError(t, err)
	require.NoError(t, w.Write(data[:6000]))
	state, err := w.HashState()
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	assert.Equal(t, uint64(6000), PartSize(dest))

	resumed, err := OpenWriter(dest, 10000, 6000, state)
	require.NoError(t, err)
	require.NoError(t, resumed.Write(data[6000:]))
	want := sha256.Sum256(data)
	assert.Equal(t, want[:], resumed.Sum())
	require.NoError(t, resumed.Finalize())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

// TestWriterResumeWithoutStateRehashes resumes with no checkpointed hash
// state; the prefix on disk is rehashed instead.
func TestWriterResumeWithoutStateRehashes(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "dest.bin")
	data := make([]byte, 4096)
	_, err := rand.Read(data)
	require.NoError(t, err)

	w, err := OpenWriter(dest, 4096, 0, nil)
	require.NoError(t, err)
	require.NoError(t, w.Write(data[:1000]))
	require.NoError(t, w.Abort())

	resumed, err := OpenWriter(dest, 4096, 1000, nil)
	require.NoError(t, err)
	require.NoError(t, resumed.Write(data[1000:]))
	want := sha256.Sum256(data)
	assert.Equal(t, want[:], resumed.Sum())
	require.NoError(t, resumed.Finalize())
}

func TestResolveWithinRoots(t *testing.T) {
	roots := []string{"/srv/files", "/var/exports"}

	tests := []struct {
		name    string
		request string
		want    string
		wantErr bool
	}{
		{"simple name", "data.bin", filepath.Join("/srv/files", "data.bin"), false},
		{"nested path", "backups/db.tar", filepath.Join("/srv/files", "backups", "db.tar"), false},
		{"traversal", "../etc/passwd", "", true},
		{"hidden traversal", "a/../../etc/passwd", "", true},
		{"absolute path", "/etc/passwd", "", true},
		{"empty name", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveWithinRoots(tt.request, roots)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPathNotAllowed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveWithinRootsPrefersRootWithExistingFile(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	roots := []string{first, second}

	require.NoError(t, os.WriteFile(filepath.Join(second, "archive.tar"), []byte("x"), 0o640))

	// A file present only under a later root resolves there.
	got, err := ResolveWithinRoots("archive.tar", roots)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(second, "archive.tar"), got)

	// Present under both roots, the earlier one wins.
	require.NoError(t, os.WriteFile(filepath.Join(first, "archive.tar"), []byte("y"), 0o640))
	got, err = ResolveWithinRoots("archive.tar", roots)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(first, "archive.tar"), got)

	// A name that exists nowhere lands in the first root.
	got, err = ResolveWithinRoots("new.bin", roots)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(first, "new.bin"), got)
}

func TestCheckSize(t *testing.T) {
	assert.NoError(t, CheckSize(100, 100))
	assert.ErrorIs(t, CheckSize(101, 100), ErrFileTooLarge)
	assert.NoError(t, CheckSize(1<<40, 0), "zero maximum means unlimited")
}

func TestPlanResume(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "dest.bin")

	// No part file: fresh transfer.
	offset, state := PlanResume(nil, "dest.bin", 1000, dest)
	assert.Zero(t, offset)
	assert.Nil(t, state)

	// Part file without a store record: resume by rehash.
	require.NoError(t, os.WriteFile(dest+PartSuffix, make([]byte, 400), 0o640))
	offset, state = PlanResume(nil, "dest.bin", 1000, dest)
	assert.Equal(t, uint64(400), offset)
	assert.Nil(t, state)

	// Matching store record contributes its hash state.
	store, err := storage.Open(filepath.Join(dir, "resume.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Save(&storage.Record{
		FileName: "dest.bin", FileSize: 1000, Direction: storage.DirectionRecv,
		Offset: 400, HashState: []byte("state"),
	}))
	offset, state = PlanResume(store, "dest.bin", 1000, dest)
	assert.Equal(t, uint64(400), offset)
	assert.Equal(t, []byte("state"), state)

	// Stale record offset: part file wins, state discarded.
	require.NoError(t, store.Save(&storage.Record{
		FileName: "dest.bin", FileSize: 1000, Direction: storage.DirectionRecv,
		Offset: 300, HashState: []byte("stale"),
	}))
	offset, state = PlanResume(store, "dest.bin", 1000, dest)
	assert.Equal(t, uint64(400), offset)
	assert.Nil(t, state)

	// Part file larger than the announced size: fresh transfer.
	require.NoError(t, os.WriteFile(dest+PartSuffix, make([]byte, 2000), 0o640))
	offset, state = PlanResume(store, "dest.bin", 1000, dest)
	assert.Zero(t, offset)
	assert.Nil(t, state)
}
