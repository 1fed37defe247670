package netcopy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sean-Khorasani/net-copy/bandwidth"
	"github.com/Sean-Khorasani/net-copy/config"
	"github.com/Sean-Khorasani/net-copy/crypto"
	"github.com/Sean-Khorasani/net-copy/protocol"
	"github.com/Sean-Khorasani/net-copy/storage"
	"github.com/Sean-Khorasani/net-copy/transport"
)

// Result reports one served session's outcome to the embedding process.
type Result struct {
	SessionID  string
	RemoteAddr string
	Status     protocol.Status
	Stats      *protocol.Stats
	Err        error
}

// Server accepts connections and serves one transfer per session on a
// fixed worker pool. Connections beyond the pool's queue are refused
// rather than queued without bound.
type Server struct {
	cfg     *config.Config
	limiter *bandwidth.Limiter
	store   *storage.Store

	ln   net.Listener
	jobs chan net.Conn
	wg   sync.WaitGroup

	// OnResult, when set before Serve, observes every session outcome.
	OnResult func(Result)
}

// NewServer validates the configuration and prepares a server. The
// bandwidth limiter is shared across all workers, so the configured rate
// caps the aggregate, not each session. A nil store disables resume
// persistence.
func NewServer(cfg *config.Config, store *storage.Store) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		limiter: bandwidth.NewLimiter(cfg.BandwidthLimit()),
		store:   store,
		jobs:    make(chan net.Conn, cfg.Network.MaxConnections),
	}, nil
}

// Addr returns the bound listen address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Listen binds the configured address. Split from Serve so callers can
// learn the bound port when the configuration asks for an ephemeral one.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Network.ListenAddress, s.cfg.Network.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.ln = ln

	logrus.WithFields(logrus.Fields{
		"function":     "Listen",
		"address":      ln.Addr().String(),
		"workers":      s.cfg.Performance.ThreadPoolSize,
		"rate_limit":   s.limiter.Rate(),
		"require_auth": s.cfg.Security.RequireAuth,
	}).Info("Server listening")

	return nil
}

// Serve runs the accept loop until the context is cancelled or the
// listener fails, then drains the worker pool. Listen must have been
// called first.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("serve before listen")
	}

	for i := 0; i < s.cfg.Performance.ThreadPoolSize; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			close(s.jobs)
			s.wg.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}

		select {
		case s.jobs <- conn:
		default:
			logrus.WithFields(logrus.Fields{
				"function": "Serve",
				"peer":     conn.RemoteAddr().String(),
			}).Warn("Connection refused, worker queue full")
			conn.Close()
		}
	}
}

// worker serves queued connections one session at a time.
func (s *Server) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	for conn := range s.jobs {
		s.handle(ctx, conn)
	}
	logrus.WithFields(logrus.Fields{
		"function":  "worker",
		"worker_id": id,
	}).Debug("Worker drained")
}

// handle runs one responder session over an accepted connection.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	peer := conn.RemoteAddr().String()
	sess, err := protocol.NewSession(transport.NewConn(conn, s.cfg.Timeout()), s.cfg, crypto.Responder, s.limiter, s.store)
	if err != nil {
		conn.Close()
		logrus.WithFields(logrus.Fields{
			"function": "handle",
			"peer":     peer,
			"error":    err.Error(),
		}).Error("Failed to create session")
		return
	}
	defer sess.Close()

	stats, err := sess.Serve(ctx)
	status := protocol.Classify(err)

	entry := logrus.WithFields(logrus.Fields{
		"function":   "handle",
		"session_id": sess.ID(),
		"peer":       peer,
		"status":     status.String(),
	})
	if err != nil {
		entry.WithField("error", err.Error()).Warn("Session failed")
	} else {
		entry.Info("Session served")
	}

	if s.OnResult != nil {
		s.OnResult(Result{
			SessionID:  sess.ID(),
			RemoteAddr: peer,
			Status:     status,
			Stats:      stats,
			Err:        err,
		})
	}
}
