package wire_test

import (
	"bytes"
	"io"
	"sync"
)

// memConn is an in-memory loopback Conn: everything written to it becomes
// readable, and every Write call is recorded for layout assertions.
type memConn struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	err    error
	writes [][]byte
}

func (m *memConn) Buffered() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Len(), m.err
}

func (m *memConn) ReadFull(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buf.Len() < len(p) {
		if m.err != nil {
			return m.err
		}
		return io.ErrUnexpectedEOF
	}
	_, _ = m.buf.Read(p)
	return nil
}

func (m *memConn) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, bytes.Clone(p))
	m.buf.Write(p)
	return len(p), nil
}

// feed makes raw bytes readable without recording them as a write.
func (m *memConn) feed(b ...byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.Write(b)
}

func (m *memConn) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *memConn) recorded() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.writes...)
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + 7)
	}
	return b
}
