package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Conn is the byte-stream handle the protocol runs over.
//
// Buffered reports how many bytes can be read right now without blocking.
// Once the underlying stream has failed it also returns that error, alongside
// whatever bytes were buffered before the failure.
type Conn interface {
	Buffered() (int, error)
	ReadFull(p []byte) error
	Write(p []byte) (int, error)
}

// maxReadAhead bounds how far Handle reads ahead of its consumer, so that a
// slow reader still pushes back on the sender through the socket buffers.
const maxReadAhead = 256 << 10

// Handle adapts a net.Conn to Conn. A single goroutine reads ahead into a
// bounded buffer so that Buffered can answer without blocking.
type Handle struct {
	conn net.Conn

	mu   sync.Mutex
	cond *sync.Cond
	buf  bytes.Buffer
	err  error

	closeOnce sync.Once
}

// NewHandle wraps conn and starts its read-ahead goroutine. TCP connections
// get TCP_NODELAY so small frames are not held back by Nagle's algorithm.
func NewHandle(conn net.Conn) *Handle {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	h := &Handle{conn: conn}
	h.cond = sync.NewCond(&h.mu)
	go h.readLoop()
	return h
}

// Dial connects to a framing peer over TCP.
func Dial(addr string, timeout time.Duration) (*Handle, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return NewHandle(conn), nil
}

func (h *Handle) readLoop() {
	scratch := make([]byte, 32<<10)
	for {
		h.mu.Lock()
		for h.buf.Len() >= maxReadAhead && h.err == nil {
			h.cond.Wait()
		}
		stopped := h.err != nil
		h.mu.Unlock()
		if stopped {
			return
		}

		n, err := h.conn.Read(scratch)

		h.mu.Lock()
		h.buf.Write(scratch[:n])
		if err != nil && h.err == nil {
			h.err = err
		}
		h.cond.Broadcast()
		h.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// Buffered returns the number of bytes readable without blocking and, once
// the stream has failed, the failure.
func (h *Handle) Buffered() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.Len(), h.err
}

// ReadFull blocks until len(p) bytes are buffered, then consumes them. If the
// stream fails first nothing is consumed and the stream error is returned,
// io.ErrUnexpectedEOF when EOF arrived mid-read.
func (h *Handle) ReadFull(p []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for h.buf.Len() < len(p) && h.err == nil {
		h.cond.Wait()
	}
	if h.buf.Len() < len(p) {
		if errors.Is(h.err, io.EOF) && h.buf.Len() > 0 {
			return io.ErrUnexpectedEOF
		}
		return h.err
	}
	_, _ = h.buf.Read(p)
	h.cond.Broadcast()
	return nil
}

// Write writes p to the underlying connection. Writes are not guarded.
func (h *Handle) Write(p []byte) (int, error) {
	return h.conn.Write(p)
}

// Close closes the underlying connection and wakes any blocked reader.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.conn.Close()
		h.mu.Lock()
		if h.err == nil {
			h.err = net.ErrClosed
		}
		h.cond.Broadcast()
		h.mu.Unlock()
	})
	return err
}

// RemoteAddr returns the peer address of the underlying connection.
func (h *Handle) RemoteAddr() net.Addr {
	return h.conn.RemoteAddr()
}
