package netcopy

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/Sean-Khorasani/net-copy/bandwidth"
	"github.com/Sean-Khorasani/net-copy/config"
	"github.com/Sean-Khorasani/net-copy/crypto"
	"github.com/Sean-Khorasani/net-copy/protocol"
	"github.com/Sean-Khorasani/net-copy/storage"
	"github.com/Sean-Khorasani/net-copy/transport"
)

// Client performs transfers against a remote server. Each transfer runs
// its own connection and session with freshly derived keys; the client
// only carries configuration, the shared bandwidth limiter, and the
// resume state store between them.
type Client struct {
	cfg     *config.Config
	limiter *bandwidth.Limiter
	store   *storage.Store
}

// NewClient validates the configuration and prepares a client. A nil
// store disables resume persistence.
func NewClient(cfg *config.Config, store *storage.Store) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:     cfg,
		limiter: bandwidth.NewLimiter(cfg.BandwidthLimit()),
		store:   store,
	}, nil
}

// Send pushes a local file to the server under the given wire name.
func (c *Client) Send(ctx context.Context, addr, localPath, remoteName string) (*protocol.Stats, error) {
	sess, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := sess.Handshake(ctx); err != nil {
		return nil, err
	}
	return sess.SendFile(ctx, localPath, remoteName)
}

// Fetch pulls a remote file into localPath.
func (c *Client) Fetch(ctx context.Context, addr, remoteName, localPath string) (*protocol.Stats, error) {
	sess, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := sess.Handshake(ctx); err != nil {
		return nil, err
	}
	return sess.FetchFile(ctx, remoteName, localPath)
}

// dial connects and wraps the connection in an initiator session.
func (c *Client) dial(ctx context.Context, addr string) (*protocol.Session, error) {
	d := net.Dialer{Timeout: c.cfg.Timeout()}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "dial",
		"address":  addr,
	}).Debug("Connected to server")

	sess, err := protocol.NewSession(transport.NewConn(conn, c.cfg.Timeout()), c.cfg, crypto.Initiator, c.limiter, c.store)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sess, nil
}
