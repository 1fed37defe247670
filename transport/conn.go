package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sean-Khorasani/net-copy/limits"
)

// Conn wraps a byte-stream connection with frame-at-a-time I/O and
// per-operation deadlines. A stalled peer can hold an operation for at most
// the configured timeout; deadline expiry surfaces as a transport error and
// the session terminates. Conn performs no locking: a session's worker is
// its sole user.
type Conn struct {
	conn    net.Conn
	timeout time.Duration
}

// NewConn wraps an established network connection. A zero timeout disables
// deadlines, which is only appropriate in tests.
func NewConn(conn net.Conn, timeout time.Duration) *Conn {
	return &Conn{conn: conn, timeout: timeout}
}

// WriteFrame serializes and writes one frame within the deadline. Header
// and payload go out in a single Write so a frame is never interleaved
// with another writer's bytes even if a Conn is misused.
func (c *Conn) WriteFrame(f *Frame) error {
	if err := limits.ValidateFramePayload(f.Payload); err != nil {
		return err
	}
	if err := c.setDeadline(); err != nil {
		return err
	}

	buf := make([]byte, 0, HeaderSize+len(f.Payload))
	buf = append(buf, Header(f.Type, len(f.Payload))...)
	buf = append(buf, f.Payload...)

	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "WriteFrame",
		"frame_type":  f.Type.String(),
		"payload_len": len(f.Payload),
	}).Debug("Frame written")

	return nil
}

// ReadFrame reads and validates one frame within the deadline. A stream
// that ends mid-frame reports ErrTruncatedFrame; a header that fails
// validation reports the specific corruption.
func (c *Conn) ReadFrame() (*Frame, error) {
	if err := c.setDeadline(); err != nil {
		return nil, err
	}

	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(c.conn, hdr); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: stream closed inside header", ErrTruncatedFrame)
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	frameType, payloadLen, err := ParseHeader(hdr)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(c.conn, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: stream closed inside %s payload", ErrTruncatedFrame, frameType)
		}
		return nil, fmt.Errorf("read %s payload: %w", frameType, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "ReadFrame",
		"frame_type":  frameType.String(),
		"payload_len": payloadLen,
	}).Debug("Frame read")

	return &Frame{Type: frameType, Payload: payload}, nil
}

// RemoteAddr reports the peer address for logging.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close shuts the underlying connection down.
func (c *Conn) Close() error { return c.conn.Close() }

func (c *Conn) setDeadline() error {
	if c.timeout <= 0 {
		return nil
	}
	return c.conn.SetDeadline(time.Now().Add(c.timeout))
}
