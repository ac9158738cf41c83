package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"tcpframe/internal/server"
)

// handlerFor returns the connection handler for a server mode.
//
//	echo  send every message back unchanged
//	ack   answer every message with ACK
//	text  log every message as text and answer with ACK
func handlerFor(mode string) (server.Handler, error) {
	switch mode {
	case "echo":
		return server.HandlerFunc(echoHandler), nil
	case "ack":
		return server.HandlerFunc(ackHandler), nil
	case "text":
		return server.HandlerFunc(textHandler), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

func echoHandler(ctx context.Context, s *server.Session) error {
	return serveLoop(ctx, s, func(msg []byte) error {
		return s.Channel.SendBytes(msg)
	})
}

func ackHandler(ctx context.Context, s *server.Session) error {
	return serveLoop(ctx, s, func(msg []byte) error {
		clog.Debug("message received", "session", s.ID, "bytes", len(msg))
		return s.Channel.SendAck()
	})
}

func textHandler(ctx context.Context, s *server.Session) error {
	for ctx.Err() == nil {
		text, err := s.Channel.ReceiveText()
		if err != nil {
			return peerDone(err)
		}
		clog.Info("text", "session", s.ID, "remote", s.Remote, "text", text)
		if err := s.Channel.SendAck(); err != nil {
			return err
		}
	}
	return nil
}

// serveLoop receives messages until the peer hangs up or ctx ends, passing
// each one to reply.
func serveLoop(ctx context.Context, s *server.Session, reply func([]byte) error) error {
	for ctx.Err() == nil {
		msg, err := s.Channel.ReceiveBytes()
		if err != nil {
			return peerDone(err)
		}
		if err := reply(msg); err != nil {
			return err
		}
	}
	return nil
}

// peerDone treats a clean hang-up between messages as success.
func peerDone(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
