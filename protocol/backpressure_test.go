package protocol

import (
	"context"
	"crypto/sha256"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sean-Khorasani/net-copy/bandwidth"
	"github.com/Sean-Khorasani/net-copy/limits"
	"github.com/Sean-Khorasani/net-copy/transport"
)

// manualClock advances only when the limiter sleeps. Each limiter under
// test is driven from a single goroutine, so no locking is needed.
type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

func TestBackoffHintClampsToWireRange(t *testing.T) {
	assert.Equal(t, uint16(0), backoffHint(0))
	assert.Equal(t, uint16(0), backoffHint(-time.Second))
	assert.Equal(t, uint16(120), backoffHint(120*time.Millisecond))
	assert.Equal(t, uint16(math.MaxUint16), backoffHint(90*time.Second))
}

// A receiver whose limiter forces it to wait must report nonzero backoff
// on the interval ack. The test plays the sender by hand so it can read
// the ack fields directly.
func TestReceiverSignalsBackoffWhenThrottled(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	client, server := sessionPair(t, cfg, cfg)

	// 4KB/s against ~1KB chunks: the bucket drains within a few chunks
	// and every later chunk waits on refill.
	server.limiter = bandwidth.NewLimiter(4096)
	server.limiter.SetTimeProvider(&manualClock{now: time.Unix(0, 0)})

	ch := startServer(server)
	require.NoError(t, client.Handshake(context.Background()))

	const chunkSize = limits.MinChunkSize
	const chunks = 80
	content := make([]byte, chunks*chunkSize)
	want := sha256.Sum256(content)

	meta := &transport.Meta{
		FileName:          "throttled.bin",
		FileSize:          uint64(len(content)),
		ChecksumAlgorithm: transport.ChecksumSHA256,
	}
	metaBytes, err := meta.Encode()
	require.NoError(t, err)
	require.NoError(t, client.sealFrame(transport.FrameMeta, metaBytes))

	ack, err := client.readMetaAck()
	require.NoError(t, err)
	require.Zero(t, ack.Offset)

	for i := 0; i < chunks; i++ {
		body := content[i*chunkSize : (i+1)*chunkSize]
		payload := transport.EncodeChunk(transport.ChunkHeader{
			Index:    uint64(i),
			PlainLen: uint32(chunkSize),
		}, body)
		require.NoError(t, client.sealFrame(transport.FrameData, payload))

		if (i+1)%AckInterval == 0 && i+1 < chunks {
			interval, err := client.readDataAck()
			require.NoError(t, err)
			require.False(t, interval.Final)
			assert.Positive(t, interval.BackoffMillis,
				"throttled receiver must ask the sender to back off")
		}
	}

	final, err := client.readDataAck()
	require.NoError(t, err)
	require.True(t, final.Final)
	assert.Equal(t, want[:], final.Checksum)

	require.NoError(t, client.closeInitiator())
	require.NoError(t, (<-ch).err)
}

// A sender that receives a backoff hint must pause for at least the hinted
// duration before the next chunk. The test plays the receiver by hand and
// injects the hint on the interval ack.
func TestSenderThrottlesOnBackoffHint(t *testing.T) {
	cfg := testConfig(t.TempDir())
	client, server := sessionPair(t, cfg, cfg)

	// Effectively unlimited rate: only the penalty can make Wait sleep.
	client.limiter = bandwidth.NewLimiter(1 << 30)
	client.limiter.SetTimeProvider(&manualClock{now: time.Unix(0, 0)})

	const chunkSize = limits.MinChunkSize
	const chunks = 80
	src := filepath.Join(t.TempDir(), "hinted.bin")
	data := writeRandomFile(t, src, chunks*chunkSize)
	want := sha256.Sum256(data)

	ch := make(chan serveResult, 1)
	go func() {
		if err := client.Handshake(context.Background()); err != nil {
			ch <- serveResult{err: err}
			return
		}
		stats, err := client.SendFile(context.Background(), src, "hinted.bin")
		ch <- serveResult{stats: stats, err: err}
	}()

	require.NoError(t, server.Handshake(context.Background()))
	_, err := server.openFrame(transport.FrameMeta)
	require.NoError(t, err)
	accept := &transport.Ack{Accepted: true}
	require.NoError(t, server.sealFrame(transport.FrameMetaAck, accept.Encode()))

	for i := 0; i < AckInterval; i++ {
		_, err := server.openFrame(transport.FrameData)
		require.NoError(t, err)
	}
	hint := &transport.DataAck{Offset: AckInterval * chunkSize, BackoffMillis: 250}
	require.NoError(t, server.sealFrame(transport.FrameDataAck, hint.Encode()))

	for i := AckInterval; i < chunks; i++ {
		_, err := server.openFrame(transport.FrameData)
		require.NoError(t, err)
	}
	final := &transport.DataAck{Offset: uint64(len(data)), Final: true, Checksum: want[:]}
	require.NoError(t, server.sealFrame(transport.FrameDataAck, final.Encode()))
	require.NoError(t, server.closeResponder())

	res := <-ch
	require.NoError(t, res.err)
	assert.GreaterOrEqual(t, client.limiter.TakeWaited(), 250*time.Millisecond,
		"sender must sit out the hinted backoff")
}
