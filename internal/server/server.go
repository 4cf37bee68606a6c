// Package server owns the TCP listener. Accepted connections are handed to
// a worker pool; each worker reads one request, applies it to the store,
// writes one response and closes the connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ASHISH26940/kvpool/internal/metrics"
	"github.com/ASHISH26940/kvpool/internal/pool"
	"github.com/ASHISH26940/kvpool/internal/protocol"
)

const (
	maxAcceptDelay = time.Second
	rejectTimeout  = time.Second
	lingerTimeout  = 200 * time.Millisecond
	maxLingerBytes = 256 << 10

	// maxPendingRejects caps the goroutines writing 429s. Past it, rate
	// limited connections are closed without a response.
	maxPendingRejects = 64
)

// DataStore is the interface the server needs from the storage layer.
type DataStore interface {
	Put(key string, value any)
	Get(key string) any
}

// LimiterConfig enables per-IP admission control when Rate > 0.
type LimiterConfig struct {
	Rate      float64
	Burst     int
	AllowList []string
}

// Config is everything the server needs to run.
type Config struct {
	Addr            string
	Backlog         int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxRequestBytes int64
	Pool            pool.Config
	Limiter         LimiterConfig
}

// Server accepts connections and serves the key-value protocol on them.
type Server struct {
	cfg      Config
	store    DataStore
	observer metrics.Observer
	limiter  *ipRateLimiter
	rejects  chan struct{}
	pool     *pool.Pool
	log      *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	closing  atomic.Bool
}

// New creates a Server and starts its worker pool.
func New(cfg Config, store DataStore, observer metrics.Observer, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if observer == nil {
		observer = metrics.Nop{}
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = protocol.DefaultMaxRequestBytes
	}

	s := &Server{
		cfg:      cfg,
		store:    store,
		observer: observer,
		log:      log,
	}
	if cfg.Limiter.Rate > 0 {
		burst := cfg.Limiter.Burst
		if burst <= 0 {
			burst = max(1, int(cfg.Limiter.Rate))
		}
		s.limiter = newIPRateLimiter(rate.Limit(cfg.Limiter.Rate), burst, cfg.Limiter.AllowList)
		s.rejects = make(chan struct{}, maxPendingRejects)
	}

	p, err := pool.New(cfg.Pool, s.handleConn, log.Named("pool"))
	if err != nil {
		return nil, err
	}
	s.pool = p
	return s, nil
}

// ListenAndServe binds cfg.Addr and serves until ctx is cancelled.
// A bind failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Shutdown is
// called. Accept errors are logged and retried with backoff. Serve on a
// server that was already shut down closes ln and returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("backlog", s.cfg.Backlog))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			s.log.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			time.Sleep(delay)
			continue
		}
		delay = 0
		s.dispatch(conn)
	}
}

// Addr returns the listening address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting and waits for queued connections to be served.
func (s *Server) Shutdown() {
	s.closing.Store(true)
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()
	s.pool.Stop()
}

// Stats reports the worker pool's current shape.
func (s *Server) Stats() pool.Stats {
	return s.pool.Stats()
}

func (s *Server) dispatch(conn net.Conn) {
	if s.limiter != nil && !s.limiter.allow(conn.RemoteAddr()) {
		select {
		case s.rejects <- struct{}{}:
			go func() {
				defer func() { <-s.rejects }()
				s.reject(conn)
			}()
		default:
			s.log.Debug("reject backlog full, closing", zap.String("remote", conn.RemoteAddr().String()))
			_ = conn.Close()
		}
		return
	}
	if err := s.pool.Submit(conn); err != nil {
		s.log.Warn("dropping connection", zap.Error(err))
		_ = conn.Close()
	}
}

func (s *Server) reject(conn net.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(rejectTimeout))
	if err := protocol.WriteResponse(conn, protocol.TooManyRequests()); err != nil {
		s.log.Debug("write rejection failed", zap.Error(err))
	} else {
		s.log.Debug("connection rate limited", zap.String("remote", conn.RemoteAddr().String()))
	}
	_ = closeConn(conn)
}

// handleConn runs on a pool worker and owns conn until it returns.
func (s *Server) handleConn(conn net.Conn) {
	start := time.Now()
	log := s.log.With(
		zap.String("conn", uuid.NewString()),
		zap.String("remote", conn.RemoteAddr().String()))

	if s.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(start.Add(s.cfg.ReadTimeout))
	}
	req := protocol.ReadRequest(conn, s.cfg.MaxRequestBytes)
	if req.Op == protocol.OpInvalid {
		log.Debug("invalid request", zap.String("reason", req.Reason))
	}

	resp := s.execute(req)

	if s.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if err := protocol.WriteResponse(conn, resp); err != nil {
		log.Warn("write response failed", zap.Error(err))
	}
	s.observer.RequestHandled(req.Op.String(), time.Since(start))

	if err := closeConn(conn); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Debug("close failed", zap.Error(err))
	}
}

// closeConn half-closes conn and discards unread input for up to
// lingerTimeout before closing. Closing with unread input sends an RST,
// which can drop the response before the client reads it.
func closeConn(conn net.Conn) error {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		_ = conn.SetReadDeadline(time.Now().Add(lingerTimeout))
		_, _ = io.CopyN(io.Discard, conn, maxLingerBytes)
	}
	return conn.Close()
}

func (s *Server) execute(req protocol.Request) protocol.Response {
	switch req.Op {
	case protocol.OpPut:
		s.store.Put(req.Key, req.Value)
		return protocol.OK(protocol.BodyPutOK)
	case protocol.OpGet:
		return protocol.GetResult(s.store.Get(req.Key))
	default:
		return protocol.BadRequest()
	}
}
