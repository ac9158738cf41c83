package server

import (
	"net"
	"testing"
	"time"
)

func tcpAddr(ip string, port int) net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: port}
}

func TestAcceptLimiterBurst(t *testing.T) {
	l := NewAcceptLimiter(5.0) // burst=10
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		if !l.Allow(tcpAddr("10.0.0.1", 40000+i)) {
			t.Fatalf("accept %d should be allowed", i)
		}
	}
	if l.Allow(tcpAddr("10.0.0.1", 41000)) {
		t.Fatal("expected the 11th accept from the same host to be throttled")
	}
}

func TestAcceptLimiterRefill(t *testing.T) {
	l := NewAcceptLimiter(100.0) // burst=200
	now := time.Now()
	l.now = func() time.Time { return now }

	addr := tcpAddr("10.0.0.1", 1)
	for i := 0; i < 200; i++ {
		l.Allow(addr)
	}
	if l.Allow(addr) {
		t.Fatal("expected exhausted")
	}

	now = now.Add(50 * time.Millisecond) // ~5 tokens at 100/s
	if !l.Allow(addr) {
		t.Fatal("expected allowed after refill")
	}
}

func TestAcceptLimiterIndependentHosts(t *testing.T) {
	l := NewAcceptLimiter(1.0) // burst=2
	a := tcpAddr("10.0.0.1", 1)
	for i := 0; i < 2; i++ {
		l.Allow(a)
	}
	if l.Allow(a) {
		t.Fatal("host a should be throttled")
	}
	if !l.Allow(tcpAddr("10.0.0.2", 1)) {
		t.Fatal("host b should be allowed")
	}
}

func TestAcceptLimiterCleanup(t *testing.T) {
	l := NewAcceptLimiter(5.0)
	l.Allow(tcpAddr("10.0.0.1", 1))

	l.mu.Lock()
	l.hosts["10.0.0.1"].lastCheck = time.Now().Add(-10 * time.Minute)
	l.mu.Unlock()

	l.cleanup()

	l.mu.Lock()
	_, exists := l.hosts["10.0.0.1"]
	l.mu.Unlock()
	if exists {
		t.Fatal("expected idle host to be forgotten")
	}
}

func TestHostOf(t *testing.T) {
	if got := hostOf(tcpAddr("192.168.1.5", 9000)); got != "192.168.1.5" {
		t.Errorf("hostOf: got %q", got)
	}
	if got := hostOf(nil); got != "" {
		t.Errorf("hostOf(nil): got %q", got)
	}
}
