package server_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcpframe/internal/config"
	"tcpframe/internal/journal"
	"tcpframe/internal/server"
	boltstore "tcpframe/internal/store/bolt"
	"tcpframe/internal/wire"
)

func testOpts() wire.Options {
	return wire.Options{Budget: 2 * time.Second, PollInterval: 5 * time.Millisecond}
}

func serverConfig() config.ServerConfig {
	return config.ServerConfig{Listen: "127.0.0.1:0", MaxConns: 8, Mode: "echo"}
}

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	st, err := boltstore.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return journal.Open(st, 0)
}

// startServer runs s until the test ends and returns the channel Serve's
// result is delivered on.
func startServer(t *testing.T, cfg config.ServerConfig, h server.Handler, j *journal.Journal) (*server.Server, <-chan error) {
	t.Helper()
	s := server.New(cfg, testOpts(), h, j)
	require.NoError(t, s.Listen())

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(context.Background()) }()
	t.Cleanup(s.Stop)
	return s, errc
}

func dial(t *testing.T, addr string) (*wire.Handle, *wire.Channel) {
	t.Helper()
	h, err := wire.Dial(addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h, wire.New(h, wire.WithOptions(testOpts()))
}

func echo(_ context.Context, s *server.Session) error {
	for {
		b, err := s.Channel.ReceiveBytes()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := s.Channel.SendBytes(b); err != nil {
			return err
		}
	}
}

// waitRecords polls j until it holds n records.
func waitRecords(t *testing.T, j *journal.Journal, n int) []journal.Record {
	t.Helper()
	var recs []journal.Record
	require.Eventually(t, func() bool {
		var err error
		recs, err = j.Recent(0)
		return err == nil && len(recs) >= n
	}, 3*time.Second, 10*time.Millisecond)
	return recs
}

func TestEchoRoundTrip(t *testing.T) {
	s, _ := startServer(t, serverConfig(), server.HandlerFunc(echo), nil)
	_, ch := dial(t, s.Addr())

	for _, size := range []int{0, 1, 4096, 4097, 50000} {
		msg := make([]byte, size)
		for i := range msg {
			msg[i] = byte(i * 7)
		}
		require.NoError(t, ch.SendBytes(msg))
		got, err := ch.ReceiveBytes()
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, msg, got, "size %d", size)
	}
}

func TestSessionByteCountsJournaled(t *testing.T) {
	j := openJournal(t)
	s, _ := startServer(t, serverConfig(), server.HandlerFunc(echo), j)

	h, ch := dial(t, s.Addr())
	require.NoError(t, ch.SendText("hello"))
	got, err := ch.ReceiveText()
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	h.Close()

	recs := waitRecords(t, j, 1)
	rec := recs[0]
	assert.Equal(t, journal.KindOK, rec.Kind)
	assert.Empty(t, rec.Error)
	assert.Equal(t, int64(wire.HeaderSize+5), rec.BytesIn)
	assert.Equal(t, int64(wire.HeaderSize+5), rec.BytesOut)
	assert.NotEmpty(t, rec.Session)
	assert.False(t, rec.Ended.Before(rec.Started))
}

func TestMaxConnsRejects(t *testing.T) {
	j := openJournal(t)
	cfg := serverConfig()
	cfg.MaxConns = 1

	release := make(chan struct{})
	h := server.HandlerFunc(func(ctx context.Context, s *server.Session) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	s, _ := startServer(t, cfg, h, j)
	defer close(release)

	dial(t, s.Addr())
	require.Eventually(t, func() bool { return s.ActiveConns() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, second := dial(t, s.Addr())
	_, err := second.ReceiveBytes()
	require.Error(t, err)
	assert.False(t, errors.Is(err, wire.ErrTimeout), "rejected connection should be closed, got %v", err)

	recs := waitRecords(t, j, 1)
	assert.Equal(t, journal.KindRejected, recs[0].Kind)
	assert.Equal(t, "max connections reached", recs[0].Error)
	assert.Equal(t, 1, s.ActiveConns())
}

func TestAcceptRateRejects(t *testing.T) {
	j := openJournal(t)
	cfg := serverConfig()
	cfg.AcceptRate = 0.5 // burst of one

	s, _ := startServer(t, cfg, server.HandlerFunc(echo), j)

	_, first := dial(t, s.Addr())
	require.NoError(t, first.SendText("ping"))
	got, err := first.ReceiveText()
	require.NoError(t, err)
	assert.Equal(t, "ping", got)

	_, second := dial(t, s.Addr())
	_, err = second.ReceiveBytes()
	require.Error(t, err)

	recs := waitRecords(t, j, 1)
	assert.Equal(t, journal.KindRejected, recs[0].Kind)
	assert.Equal(t, "accept rate exceeded", recs[0].Error)
}

func TestStopUnblocksHandlers(t *testing.T) {
	j := openJournal(t)
	entered := make(chan struct{})
	h := server.HandlerFunc(func(_ context.Context, s *server.Session) error {
		close(entered)
		_, err := s.Channel.ReceiveBytes()
		return err
	})
	s, errc := startServer(t, serverConfig(), h, j)
	dial(t, s.Addr())
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return while a handler was blocked in receive")
	}
	require.NoError(t, <-errc)
	assert.Zero(t, s.ActiveConns())

	recs := waitRecords(t, j, 1)
	assert.Equal(t, journal.KindOK, recs[0].Kind, "closed by shutdown is not a failure")
}

func TestContextCancelStopsServe(t *testing.T) {
	s := server.New(serverConfig(), testOpts(), server.HandlerFunc(echo), nil)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ctx) }()

	_, ch := dial(t, s.Addr())
	require.NoError(t, ch.SendText("x"))
	_, err := ch.ReceiveText()
	require.NoError(t, err)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	_, err = ch.ReceiveBytes()
	assert.Error(t, err, "live connection should be closed on shutdown")
}

func TestHandlerPanicIsJournaled(t *testing.T) {
	j := openJournal(t)
	h := server.HandlerFunc(func(context.Context, *server.Session) error {
		panic("boom")
	})
	s, _ := startServer(t, serverConfig(), h, j)
	dial(t, s.Addr())

	recs := waitRecords(t, j, 1)
	assert.Equal(t, journal.KindPanic, recs[0].Kind)
	assert.Contains(t, recs[0].Error, "boom")

	// The server keeps serving after a panic.
	_, ch := dial(t, s.Addr())
	_, err := ch.ReceiveBytes()
	require.Error(t, err)
	waitRecords(t, j, 2)
}

func TestHandlerErrorKinds(t *testing.T) {
	j := openJournal(t)
	h := server.HandlerFunc(func(_ context.Context, s *server.Session) error {
		_, err := s.Channel.ReceiveBytes()
		return err
	})
	s, _ := startServer(t, serverConfig(), h, j)

	raw, _ := dial(t, s.Addr())
	_, err := raw.Write([]byte{0x00, 0x01, 0x02})
	require.NoError(t, err)

	recs := waitRecords(t, j, 1)
	assert.Equal(t, journal.KindDesync, recs[0].Kind)
}

func TestServeBeforeListen(t *testing.T) {
	s := server.New(serverConfig(), testOpts(), server.HandlerFunc(echo), nil)
	assert.Error(t, s.Serve(context.Background()))
	assert.Empty(t, s.Addr())
}
