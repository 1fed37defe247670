package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "resume.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNilStoreDegrades(t *testing.T) {
	var s *Store
	require.NoError(t, s.Save(&Record{FileName: "x"}))
	_, err := s.Load("x", 1, DirectionRecv)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Delete("x", 1, DirectionRecv))
	require.NoError(t, s.Close())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	rec := &Record{
		FileName:  "large.bin",
		FileSize:  10 << 20,
		Direction: DirectionRecv,
		Offset:    1 << 20,
		HashState: []byte("marshaled sha256 state"),
	}
	require.NoError(t, s.Save(rec))
	assert.NotEmpty(t, rec.ID, "save assigns an id")

	got, err := s.Load("large.bin", 10<<20, DirectionRecv)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, uint64(1<<20), got.Offset)
	assert.Equal(t, rec.HashState, got.HashState)
}

func TestSaveUpsertsByIdentity(t *testing.T) {
	s := openTestStore(t)

	first := &Record{FileName: "f", FileSize: 100, Direction: DirectionRecv, Offset: 10}
	require.NoError(t, s.Save(first))

	second := &Record{FileName: "f", FileSize: 100, Direction: DirectionRecv, Offset: 50}
	require.NoError(t, s.Save(second))

	got, err := s.Load("f", 100, DirectionRecv)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got.Offset)
	assert.Equal(t, first.ID, got.ID, "identity keeps its original id")
}

func TestDirectionsAreIndependent(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save(&Record{FileName: "f", FileSize: 100, Direction: DirectionSend, Offset: 7}))
	require.NoError(t, s.Save(&Record{FileName: "f", FileSize: 100, Direction: DirectionRecv, Offset: 9}))

	send, err := s.Load("f", 100, DirectionSend)
	require.NoError(t, err)
	recv, err := s.Load("f", 100, DirectionRecv)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), send.Offset)
	assert.Equal(t, uint64(9), recv.Offset)
}

func TestLoadMissingRecord(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load("absent", 1, DirectionRecv)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesRecord(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save(&Record{FileName: "f", FileSize: 1, Direction: DirectionRecv}))
	require.NoError(t, s.Delete("f", 1, DirectionRecv))

	_, err := s.Load("f", 1, DirectionRecv)
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is not an error.
	require.NoError(t, s.Delete("f", 1, DirectionRecv))
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resume.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(&Record{FileName: "f", FileSize: 42, Direction: DirectionRecv, Offset: 21}))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load("f", 42, DirectionRecv)
	require.NoError(t, err)
	assert.Equal(t, uint64(21), got.Offset)
}
