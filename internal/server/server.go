// Package server accepts TCP connections and hands each one, wrapped in a
// message channel, to a Handler running in its own goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tcpframe/internal/config"
	"tcpframe/internal/journal"
	"tcpframe/internal/logging"
	"tcpframe/internal/wire"
)

var srvlog = logging.For("server")

const (
	limiterCleanup = time.Minute

	// Backoff between failed Accept calls, doubling up to the max.
	acceptRetryMin = 5 * time.Millisecond
	acceptRetryMax = time.Second
)

// Session is one accepted connection as seen by a Handler.
type Session struct {
	ID      string
	Remote  net.Addr
	Channel *wire.Channel
	Started time.Time

	conn *countingConn
}

// BytesIn returns the bytes consumed from the connection so far.
func (s *Session) BytesIn() int64 { return s.conn.in.Load() }

// BytesOut returns the bytes written to the connection so far.
func (s *Session) BytesOut() int64 { return s.conn.out.Load() }

// Handler serves one connection end to end. The connection is closed when
// ServeConn returns. ctx is cancelled when the server shuts down.
type Handler interface {
	ServeConn(ctx context.Context, s *Session) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, s *Session) error

func (f HandlerFunc) ServeConn(ctx context.Context, s *Session) error {
	return f(ctx, s)
}

// Server is the listening side of the protocol.
type Server struct {
	cfg     config.ServerConfig
	opts    wire.Options
	handler Handler
	journal *journal.Journal // nil disables journaling
	limiter *AcceptLimiter   // nil when accept_rate is 0

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*wire.Handle

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a server. j may be nil.
func New(cfg config.ServerConfig, opts wire.Options, h Handler, j *journal.Journal) *Server {
	s := &Server{
		cfg:     cfg,
		opts:    opts,
		handler: h,
		journal: j,
		conns:   make(map[string]*wire.Handle),
		done:    make(chan struct{}),
	}
	if cfg.AcceptRate > 0 {
		s.limiter = NewAcceptLimiter(cfg.AcceptRate)
	}
	return s
}

// Listen binds the server socket. Call Serve to start accepting connections.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the listener's address. Useful when listening on :0.
func (s *Server) Addr() string {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ""
	}
	return ln.Addr().String()
}

// ActiveConns returns the number of connections being served.
func (s *Server) ActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Serve accepts connections until ctx is cancelled or Stop is called, then
// waits for every handler to return. Call Listen first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("Serve called before Listen")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		cancel()
		s.Stop()
	}()

	if s.limiter != nil {
		go s.limiter.CleanupLoop(s.done, limiterCleanup)
	}

	var retry time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				s.wg.Wait()
				return nil
			default:
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.Stop()
				return nil
			}
			retry = nextAcceptRetry(retry)
			srvlog.Warn("accept error", "err", err, "retry_in", retry)
			select {
			case <-time.After(retry):
			case <-s.done:
			}
			continue
		}
		retry = 0
		s.admit(ctx, conn)
	}
}

func nextAcceptRetry(prev time.Duration) time.Duration {
	if prev == 0 {
		return acceptRetryMin
	}
	return min(prev*2, acceptRetryMax)
}

// Start is a convenience that calls Listen + Serve.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Stop closes the listener and every live connection, then waits for the
// handlers to return. Safe to call more than once.
func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		for _, h := range s.conns {
			_ = h.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// admit applies the accept limits and, if the connection passes, starts its
// handler goroutine.
func (s *Server) admit(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr()
	started := time.Now()

	if s.limiter != nil && !s.limiter.Allow(remote) {
		srvlog.Info("rejecting connection: accept rate exceeded", "remote", remote)
		s.reject(conn, started, "accept rate exceeded")
		return
	}

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	if s.cfg.MaxConns > 0 && len(s.conns) >= s.cfg.MaxConns {
		s.mu.Unlock()
		srvlog.Info("rejecting connection: at capacity", "remote", remote, "max_conns", s.cfg.MaxConns)
		s.reject(conn, started, "max connections reached")
		return
	}

	id := uuid.NewString()
	h := wire.NewHandle(conn)
	cc := &countingConn{Conn: h}
	sess := &Session{
		ID:      id,
		Remote:  remote,
		Channel: wire.New(cc, wire.WithOptions(s.opts)),
		Started: started,
		conn:    cc,
	}
	s.conns[id] = h
	s.wg.Add(1)
	s.mu.Unlock()

	go s.serveSession(ctx, sess, h)
}

func (s *Server) reject(conn net.Conn, started time.Time, reason string) {
	_ = conn.Close()
	s.record(journal.Record{
		Session: uuid.NewString(),
		Remote:  conn.RemoteAddr().String(),
		Started: started,
		Ended:   time.Now(),
		Kind:    journal.KindRejected,
		Error:   reason,
	})
}

func (s *Server) serveSession(ctx context.Context, sess *Session, h *wire.Handle) {
	defer s.wg.Done()

	srvlog.Debug("session opened", "session", sess.ID, "remote", sess.Remote)
	kind, err := s.runHandler(ctx, sess)

	_ = h.Close()
	s.mu.Lock()
	delete(s.conns, sess.ID)
	s.mu.Unlock()

	rec := journal.Record{
		Session:  sess.ID,
		Remote:   sess.Remote.String(),
		Started:  sess.Started,
		Ended:    time.Now(),
		BytesIn:  sess.BytesIn(),
		BytesOut: sess.BytesOut(),
		Kind:     kind,
	}
	if err != nil {
		rec.Error = err.Error()
		srvlog.Warn("session failed", "session", sess.ID, "remote", sess.Remote, "kind", kind, "err", err)
	} else {
		srvlog.Debug("session closed", "session", sess.ID, "remote", sess.Remote,
			"bytes_in", rec.BytesIn, "bytes_out", rec.BytesOut, "duration", rec.Duration())
	}
	s.record(rec)
}

// runHandler calls the handler, turning a panic into an error so one bad
// connection cannot take the process down.
func (s *Server) runHandler(ctx context.Context, sess *Session) (kind journal.Kind, err error) {
	defer func() {
		if r := recover(); r != nil {
			kind = journal.KindPanic
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	err = s.handler.ServeConn(ctx, sess)
	if err != nil && s.stopping() && journal.Classify(err) == journal.KindTransport {
		// connection closed by Stop
		return journal.KindOK, nil
	}
	return journal.Classify(err), err
}

func (s *Server) stopping() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Server) record(rec journal.Record) {
	if err := s.journal.Record(rec); err != nil {
		srvlog.Error("journal record failed", "session", rec.Session, "err", err)
	}
}

// countingConn tallies the bytes that pass through a wire.Conn.
type countingConn struct {
	wire.Conn
	in  atomic.Int64
	out atomic.Int64
}

func (c *countingConn) ReadFull(p []byte) error {
	if err := c.Conn.ReadFull(p); err != nil {
		return err
	}
	c.in.Add(int64(len(p)))
	return nil
}

func (c *countingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.out.Add(int64(n))
	return n, err
}
