package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"tcpframe/internal/config"
	"tcpframe/internal/wire"
)

// flakyListener fails the first failures Accept calls, then blocks until
// closed. It records when each call was made.
type flakyListener struct {
	failures int

	mu     sync.Mutex
	calls  []time.Time
	closed chan struct{}
	once   sync.Once
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	l.calls = append(l.calls, time.Now())
	n := len(l.calls)
	l.mu.Unlock()
	if n <= l.failures {
		return nil, errors.New("accept: too many open files")
	}
	<-l.closed
	return nil, net.ErrClosed
}

func (l *flakyListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *flakyListener) Addr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func (l *flakyListener) callTimes() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time(nil), l.calls...)
}

func TestNextAcceptRetry(t *testing.T) {
	want := []time.Duration{
		5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
		40 * time.Millisecond, 80 * time.Millisecond, 160 * time.Millisecond,
		320 * time.Millisecond, 640 * time.Millisecond, time.Second, time.Second,
	}
	var d time.Duration
	for i, w := range want {
		d = nextAcceptRetry(d)
		if d != w {
			t.Fatalf("step %d: got %s, want %s", i, d, w)
		}
	}
}

func TestAcceptErrorsBackOff(t *testing.T) {
	ln := &flakyListener{failures: 4, closed: make(chan struct{})}
	s := New(config.ServerConfig{MaxConns: 1}, wire.DefaultOptions(), nil, nil)
	s.listener = ln

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(ln.callTimes()) < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d Accept calls before deadline", len(ln.callTimes()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	calls := ln.callTimes()
	var retry time.Duration
	for i := 1; i < len(calls); i++ {
		retry = nextAcceptRetry(retry)
		if gap := calls[i].Sub(calls[i-1]); gap < retry {
			t.Errorf("Accept call %d came %s after the previous one, want at least %s", i, gap, retry)
		}
	}

	s.Stop()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestStopInterruptsAcceptBackoff(t *testing.T) {
	ln := &flakyListener{failures: 1 << 30, closed: make(chan struct{})}
	s := New(config.ServerConfig{}, wire.DefaultOptions(), nil, nil)
	s.listener = ln

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(context.Background()) }()

	// Let the backoff grow past a few hundred milliseconds.
	time.Sleep(700 * time.Millisecond)
	start := time.Now()
	s.Stop()
	select {
	case <-errc:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Stop")
	}
	if waited := time.Since(start); waited > 500*time.Millisecond {
		t.Errorf("Stop waited %s for the accept backoff", waited)
	}
}
