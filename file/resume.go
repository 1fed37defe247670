package file

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/Sean-Khorasani/net-copy/storage"
)

// DefaultCheckpointInterval is the number of chunks between transfer state
// checkpoints. The interval bounds rework after a crash to one window.
const DefaultCheckpointInterval = 64

// PlanResume decides the receive-side resume offset for a destination
// file. The on-disk part file is the source of truth for how many bytes
// are durable; a persisted record only contributes its checkpointed hash
// state, and only when its offset matches the part file exactly. Any
// disagreement falls back to rehashing the prefix, or to a fresh transfer
// when the part file is unusable.
func PlanResume(store *storage.Store, name string, size uint64, destPath string) (offset uint64, hashState []byte) {
	offset = PartSize(destPath)
	if offset == 0 || offset > size {
		return 0, nil
	}

	rec, err := store.Load(name, size, storage.DirectionRecv)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logrus.WithFields(logrus.Fields{
				"function": "PlanResume",
				"name":     name,
				"error":    err.Error(),
			}).Warn("Transfer state lookup failed, rehashing prefix")
		}
		return offset, nil
	}
	if rec.Offset == offset {
		hashState = rec.HashState
	}

	logrus.WithFields(logrus.Fields{
		"function":    "PlanResume",
		"name":        name,
		"offset":      offset,
		"have_state":  hashState != nil,
		"part_exists": true,
	}).Info("Resuming interrupted transfer")

	return offset, hashState
}

// PlanSendResume restores the sender's checkpointed hash state when it
// matches the offset the receiver agreed to. A mismatch returns nil state
// and the reader rehashes the prefix.
func PlanSendResume(store *storage.Store, name string, size, agreedOffset uint64) []byte {
	if agreedOffset == 0 {
		return nil
	}
	rec, err := store.Load(name, size, storage.DirectionSend)
	if err != nil || rec.Offset != agreedOffset {
		return nil
	}
	return rec.HashState
}
