package protocol

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sean-Khorasani/net-copy/compress"
	"github.com/Sean-Khorasani/net-copy/file"
	"github.com/Sean-Khorasani/net-copy/limits"
	"github.com/Sean-Khorasani/net-copy/storage"
	"github.com/Sean-Khorasani/net-copy/transport"
)

// Stats summarizes one completed transfer from this session's viewpoint.
type Stats struct {
	// FileName is the wire name of the transferred file.
	FileName string
	// FileSize is the announced total size in bytes.
	FileSize uint64
	// BytesTransferred counts bytes moved during this session, excluding
	// any resumed prefix.
	BytesTransferred uint64
	// Resumed reports whether the transfer continued an earlier attempt.
	Resumed bool
	// Elapsed is wall time from metadata exchange to final acknowledgment.
	Elapsed time.Duration
}

// Throughput reports the effective transfer rate in bytes per second.
func (s *Stats) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.BytesTransferred) / s.Elapsed.Seconds()
}

// SendFile pushes a local file to the peer under the given wire name. The
// session must be authenticated; on success it has completed the close
// exchange and is finished.
func (s *Session) SendFile(ctx context.Context, localPath, remoteName string) (*Stats, error) {
	if s.state != StateAuthenticated {
		return nil, s.fail(fmt.Errorf("%w: send from state %s", ErrProtocol, s.state))
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, s.fail(fmt.Errorf("stat source file: %w", err))
	}
	size := uint64(info.Size())

	s.transition(StateTransferring)
	start := time.Now()

	meta := &transport.Meta{
		FileName:          remoteName,
		FileSize:          size,
		ChecksumAlgorithm: transport.ChecksumSHA256,
	}
	metaBytes, err := meta.Encode()
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.sealFrame(transport.FrameMeta, metaBytes); err != nil {
		return nil, s.fail(err)
	}

	ack, err := s.readMetaAck()
	if err != nil {
		return nil, s.fail(err)
	}
	if ack.Offset > size {
		return nil, s.fail(fmt.Errorf("%w: peer resume offset %d beyond size %d", ErrProtocol, ack.Offset, size))
	}

	hashState := file.PlanSendResume(s.store, remoteName, size, ack.Offset)
	r, err := file.OpenReader(localPath, s.cfg.Performance.BufferSize, ack.Offset, hashState)
	if err != nil {
		s.sendErrorFrame(err)
		return nil, s.fail(err)
	}
	defer r.Close()

	if err := s.sendChunks(ctx, r, remoteName); err != nil {
		s.checkpointSend(r, remoteName)
		s.sendErrorFrame(err)
		return nil, s.fail(err)
	}
	s.store.Delete(remoteName, size, storage.DirectionSend)

	if err := s.closeInitiator(); err != nil {
		return nil, s.fail(err)
	}

	stats := &Stats{
		FileName:         remoteName,
		FileSize:         size,
		BytesTransferred: size - ack.Offset,
		Resumed:          ack.Offset > 0,
		Elapsed:          time.Since(start),
	}
	s.logTransferDone("SendFile", stats)
	return stats, nil
}

// FetchFile pulls a remote file into localPath. The client proposes a
// resume offset from its own part file; the meta-ack carries the agreed
// offset and the file's size.
func (s *Session) FetchFile(ctx context.Context, remoteName, localPath string) (*Stats, error) {
	if s.state != StateAuthenticated {
		return nil, s.fail(fmt.Errorf("%w: fetch from state %s", ErrProtocol, s.state))
	}

	s.transition(StateTransferring)
	start := time.Now()

	meta := &transport.Meta{
		FileName:          remoteName,
		ResumeOffset:      file.PartSize(localPath),
		ChecksumAlgorithm: transport.ChecksumSHA256,
		Pull:              true,
	}
	metaBytes, err := meta.Encode()
	if err != nil {
		return nil, s.fail(err)
	}
	if err := s.sealFrame(transport.FrameMeta, metaBytes); err != nil {
		return nil, s.fail(err)
	}

	ack, err := s.readMetaAck()
	if err != nil {
		return nil, s.fail(err)
	}
	size := ack.FileSize
	if ack.Offset > size {
		return nil, s.fail(fmt.Errorf("%w: agreed offset %d beyond size %d", ErrProtocol, ack.Offset, size))
	}

	// The part file plan only holds if the server agreed to the proposed
	// offset; otherwise the retained prefix is rebuilt from the agreed
	// position with no checkpointed state.
	planned, hashState := file.PlanResume(s.store, remoteName, size, localPath)
	if planned != ack.Offset {
		hashState = nil
	}
	w, err := file.OpenWriter(localPath, size, ack.Offset, hashState)
	if err != nil {
		s.sendErrorFrame(err)
		return nil, s.fail(err)
	}

	if err := s.recvChunks(ctx, w, remoteName); err != nil {
		s.checkpointRecv(w, remoteName)
		w.Abort()
		s.sendErrorFrame(err)
		return nil, s.fail(err)
	}

	if err := s.closeInitiator(); err != nil {
		return nil, s.fail(err)
	}

	stats := &Stats{
		FileName:         remoteName,
		FileSize:         size,
		BytesTransferred: size - ack.Offset,
		Resumed:          ack.Offset > 0,
		Elapsed:          time.Since(start),
	}
	s.logTransferDone("FetchFile", stats)
	return stats, nil
}

// Serve handles the responder side of one session: handshake, one
// transfer in either direction, close exchange. Policy is enforced at the
// metadata step, before any file I/O happens.
func (s *Session) Serve(ctx context.Context) (*Stats, error) {
	if err := s.Handshake(ctx); err != nil {
		return nil, err
	}

	metaPlain, err := s.openFrame(transport.FrameMeta)
	if err != nil {
		return nil, s.fail(err)
	}
	meta, err := transport.DecodeMeta(metaPlain)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrProtocol, err)
		s.sendErrorFrame(err)
		return nil, s.fail(err)
	}

	s.transition(StateTransferring)
	start := time.Now()

	path, err := file.ResolveWithinRoots(meta.FileName, s.cfg.Paths.AllowedPaths)
	if err != nil {
		return nil, s.rejectMeta(err, err.Error())
	}

	var stats *Stats
	if meta.Pull {
		stats, err = s.serveSend(ctx, meta, path)
	} else {
		stats, err = s.serveReceive(ctx, meta, path)
	}
	if err != nil {
		return nil, err
	}

	if err := s.closeResponder(); err != nil {
		return nil, s.fail(err)
	}

	stats.Elapsed = time.Since(start)
	s.logTransferDone("Serve", stats)
	return stats, nil
}

// serveReceive accepts a pushed file. The server is the resume authority:
// the meta-ack offset reflects its own part file and checkpoint state.
func (s *Session) serveReceive(ctx context.Context, meta *transport.Meta, path string) (*Stats, error) {
	if err := file.CheckSize(meta.FileSize, s.cfg.Security.MaxFileSize); err != nil {
		return nil, s.rejectMeta(err, fmt.Sprintf("file size %d over limit", meta.FileSize))
	}

	offset, hashState := file.PlanResume(s.store, meta.FileName, meta.FileSize, path)
	accept := &transport.Ack{Accepted: true, Offset: offset}
	if err := s.sealFrame(transport.FrameMetaAck, accept.Encode()); err != nil {
		return nil, s.fail(err)
	}

	w, err := file.OpenWriter(path, meta.FileSize, offset, hashState)
	if err != nil {
		s.sendErrorFrame(err)
		return nil, s.fail(err)
	}

	if err := s.recvChunks(ctx, w, meta.FileName); err != nil {
		s.checkpointRecv(w, meta.FileName)
		w.Abort()
		s.sendErrorFrame(err)
		return nil, s.fail(err)
	}

	return &Stats{
		FileName:         meta.FileName,
		FileSize:         meta.FileSize,
		BytesTransferred: meta.FileSize - offset,
		Resumed:          offset > 0,
	}, nil
}

// serveSend answers a pull request. The client proposed a resume offset
// from its part file; anything inconsistent with the source file restarts
// from zero rather than failing the session.
func (s *Session) serveSend(ctx context.Context, meta *transport.Meta, path string) (*Stats, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, s.rejectMetaCode(transport.ReasonFileNotFound, fmt.Sprintf("no such file: %s", meta.FileName),
			fmt.Errorf("%w: %s", ErrRejected, meta.FileName))
	}
	size := uint64(info.Size())
	if err := file.CheckSize(size, s.cfg.Security.MaxFileSize); err != nil {
		return nil, s.rejectMeta(err, fmt.Sprintf("file size %d over limit", size))
	}

	offset := meta.ResumeOffset
	if offset > size {
		offset = 0
	}
	accept := &transport.Ack{Accepted: true, Offset: offset, FileSize: size}
	if err := s.sealFrame(transport.FrameMetaAck, accept.Encode()); err != nil {
		return nil, s.fail(err)
	}

	hashState := file.PlanSendResume(s.store, meta.FileName, size, offset)
	r, err := file.OpenReader(path, s.cfg.Performance.BufferSize, offset, hashState)
	if err != nil {
		s.sendErrorFrame(err)
		return nil, s.fail(err)
	}
	defer r.Close()

	if err := s.sendChunks(ctx, r, meta.FileName); err != nil {
		s.checkpointSend(r, meta.FileName)
		s.sendErrorFrame(err)
		return nil, s.fail(err)
	}
	s.store.Delete(meta.FileName, size, storage.DirectionSend)

	return &Stats{
		FileName:         meta.FileName,
		FileSize:         size,
		BytesTransferred: size - offset,
		Resumed:          offset > 0,
	}, nil
}

// sendChunks streams the reader's remaining chunks, observing the
// bandwidth limiter, the deterministic ack cadence, and any backpressure
// hints. Both peers derive ack points from the session-relative chunk
// sequence, so reads and writes never deadlock.
func (s *Session) sendChunks(ctx context.Context, r *file.Reader, name string) error {
	var comp compress.Compressor
	seq := 0

	for {
		chunk, index, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := limits.ValidateChunk(chunk); err != nil {
			return err
		}

		body, compressed, err := comp.Compress(chunk)
		if err != nil {
			return err
		}
		payload := transport.EncodeChunk(transport.ChunkHeader{
			Index:      index,
			Compressed: compressed,
			PlainLen:   uint32(len(chunk)),
		}, body)

		wireLen := transport.HeaderSize + len(payload) + s.engine.Cipher().Overhead()
		if err := s.limiter.Wait(ctx, wireLen); err != nil {
			return err
		}
		if err := s.sealFrame(transport.FrameData, payload); err != nil {
			return err
		}

		seq++
		done := r.Offset() >= r.Size()
		if !done && seq%AckInterval == 0 {
			ack, err := s.readDataAck()
			if err != nil {
				return err
			}
			if ack.Final {
				return fmt.Errorf("%w: final ack before last chunk", ErrProtocol)
			}
			if ack.BackoffMillis > 0 {
				s.limiter.Penalize(time.Duration(ack.BackoffMillis) * time.Millisecond)
			}
			s.checkpointSend(r, name)
		}
	}

	final, err := s.readDataAck()
	if err != nil {
		return err
	}
	if !final.Final {
		return fmt.Errorf("%w: expected final ack", ErrProtocol)
	}
	if subtle.ConstantTimeCompare(final.Checksum, r.Sum()) != 1 {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, name)
	}
	return nil
}

// recvChunks assembles the writer's remaining bytes, acking on the shared
// cadence and finishing with the end-to-end checksum. The writer is
// finalized here, after the checksum covers every byte.
func (s *Session) recvChunks(ctx context.Context, w *file.Writer, name string) error {
	seq := 0
	var lastIndex uint64
	haveIndex := false

	for !w.Complete() {
		payload, err := s.openFrame(transport.FrameData)
		if err != nil {
			return err
		}
		if err := s.limiter.Wait(ctx, transport.HeaderSize+len(payload)+s.engine.Cipher().Overhead()); err != nil {
			return err
		}

		hdr, body, err := transport.DecodeChunk(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		if haveIndex && hdr.Index != lastIndex+1 {
			return fmt.Errorf("%w: chunk index %d after %d", ErrProtocol, hdr.Index, lastIndex)
		}
		lastIndex, haveIndex = hdr.Index, true

		chunk := body
		if hdr.Compressed {
			chunk, err = compress.Decompress(body, int(hdr.PlainLen), limits.MaxChunkSize)
			if err != nil {
				return err
			}
		} else if uint32(len(body)) != hdr.PlainLen {
			return fmt.Errorf("%w: chunk length %d, header claims %d", ErrProtocol, len(body), hdr.PlainLen)
		}
		if err := w.Write(chunk); err != nil {
			return err
		}

		seq++
		if !w.Complete() && seq%AckInterval == 0 {
			// Time this side spent throttled over the last window becomes
			// the backpressure hint: the sender pauses for as long as the
			// receiver could not keep up.
			ack := &transport.DataAck{
				Offset:        w.Offset(),
				BackoffMillis: backoffHint(s.limiter.TakeWaited()),
			}
			if err := s.sealFrame(transport.FrameDataAck, ack.Encode()); err != nil {
				return err
			}
			s.checkpointRecv(w, name)
		}
	}

	final := &transport.DataAck{Offset: w.Offset(), Final: true, Checksum: w.Sum()}
	if err := s.sealFrame(transport.FrameDataAck, final.Encode()); err != nil {
		return err
	}

	s.store.Delete(name, w.Size(), storage.DirectionRecv)
	return w.Finalize()
}

// backoffHint converts throttled time into the wire hint field, clamped to
// its 16-bit range.
func backoffHint(waited time.Duration) uint16 {
	ms := waited.Milliseconds()
	if ms <= 0 {
		return 0
	}
	if ms > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(ms)
}

// readMetaAck reads and decodes the meta-ack, converting rejection into
// the matching local error.
func (s *Session) readMetaAck() (*transport.Ack, error) {
	plain, err := s.openFrame(transport.FrameMetaAck)
	if err != nil {
		return nil, err
	}
	ack, err := transport.DecodeAck(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if !ack.Accepted {
		return nil, errorFromReason(ack.Code, ack.Reason)
	}
	return ack, nil
}

// readDataAck reads and decodes one data-ack frame.
func (s *Session) readDataAck() (*transport.DataAck, error) {
	plain, err := s.openFrame(transport.FrameDataAck)
	if err != nil {
		return nil, err
	}
	ack, err := transport.DecodeDataAck(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return ack, nil
}

// rejectMeta refuses a transfer at the metadata step with the reason code
// derived from the local error, then fails the session with that error.
func (s *Session) rejectMeta(cause error, reason string) error {
	return s.rejectMetaCode(reasonFor(cause), reason, cause)
}

func (s *Session) rejectMetaCode(code transport.ReasonCode, reason string, cause error) error {
	logrus.WithFields(logrus.Fields{
		"function":   "rejectMetaCode",
		"session_id": s.id,
		"code":       code,
		"reason":     reason,
	}).Warn("Transfer rejected at metadata step")

	reject := &transport.Ack{Accepted: false, Code: code, Reason: reason}
	if err := s.sealFrame(transport.FrameMetaAck, reject.Encode()); err != nil {
		return s.fail(err)
	}
	return s.fail(cause)
}

// closeInitiator runs the initiator's half of the close exchange.
func (s *Session) closeInitiator() error {
	s.transition(StateClosing)
	if err := s.sealFrame(transport.FrameClose, nil); err != nil {
		return err
	}
	if _, err := s.openFrame(transport.FrameClose); err != nil {
		return err
	}
	s.transition(StateClosed)
	return nil
}

// closeResponder answers the initiator's close.
func (s *Session) closeResponder() error {
	s.transition(StateClosing)
	if _, err := s.openFrame(transport.FrameClose); err != nil {
		return err
	}
	if err := s.sealFrame(transport.FrameClose, nil); err != nil {
		return err
	}
	s.transition(StateClosed)
	return nil
}

// checkpointSend persists the reader's progress for a future resume.
// Checkpoint failures are logged, not fatal: the transfer can continue and
// a lost checkpoint only costs rehashing on resume.
func (s *Session) checkpointSend(r *file.Reader, name string) {
	state, err := r.HashState()
	if err != nil {
		return
	}
	if err := s.store.Save(&storage.Record{
		FileName:  name,
		FileSize:  r.Size(),
		Direction: storage.DirectionSend,
		Offset:    r.Offset(),
		HashState: state,
	}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "checkpointSend",
			"name":     name,
			"error":    err.Error(),
		}).Warn("Failed to checkpoint send state")
	}
}

// checkpointRecv persists the writer's progress for a future resume.
func (s *Session) checkpointRecv(w *file.Writer, name string) {
	state, err := w.HashState()
	if err != nil {
		return
	}
	if err := s.store.Save(&storage.Record{
		FileName:  name,
		FileSize:  w.Size(),
		Direction: storage.DirectionRecv,
		Offset:    w.Offset(),
		HashState: state,
	}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "checkpointRecv",
			"name":     name,
			"error":    err.Error(),
		}).Warn("Failed to checkpoint receive state")
	}
}

func (s *Session) logTransferDone(function string, stats *Stats) {
	logrus.WithFields(logrus.Fields{
		"function":    function,
		"session_id":  s.id,
		"file_name":   stats.FileName,
		"file_size":   stats.FileSize,
		"transferred": stats.BytesTransferred,
		"resumed":     stats.Resumed,
		"elapsed":     stats.Elapsed.String(),
	}).Info("Transfer complete")
}
