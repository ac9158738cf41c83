package journal

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"tcpframe/internal/codec"
	"tcpframe/internal/wire"
)

// Kind classifies how a connection ended.
type Kind string

const (
	KindOK        Kind = "ok"
	KindTimeout   Kind = "timeout"
	KindDesync    Kind = "desync"
	KindTransport Kind = "transport"
	KindDecode    Kind = "decode"
	KindHandler   Kind = "handler"
	KindPanic     Kind = "panic"
	KindRejected  Kind = "rejected"
)

// Record describes one served connection.
type Record struct {
	Session  string
	Remote   string
	Started  time.Time
	Ended    time.Time
	BytesIn  int64
	BytesOut int64
	Kind     Kind
	Error    string
}

// Duration is how long the connection was served.
func (r Record) Duration() time.Duration {
	return r.Ended.Sub(r.Started)
}

// Classify maps the error a connection ended with onto a Kind.
func Classify(err error) Kind {
	var ne net.Error
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, wire.ErrTimeout):
		return KindTimeout
	case errors.Is(err, wire.ErrDesync):
		return KindDesync
	case errors.Is(err, codec.ErrDecode):
		return KindDecode
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.As(err, &ne):
		return KindTransport
	default:
		return KindHandler
	}
}

func (r Record) marshal() ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		"session":   r.Session,
		"remote":    r.Remote,
		"started":   r.Started.UTC().Format(time.RFC3339Nano),
		"ended":     r.Ended.UTC().Format(time.RFC3339Nano),
		"bytes_in":  r.BytesIn,
		"bytes_out": r.BytesOut,
		"kind":      string(r.Kind),
		"error":     r.Error,
	})
	if err != nil {
		return nil, fmt.Errorf("building record: %w", err)
	}
	return proto.Marshal(st)
}

func unmarshalRecord(data []byte) (Record, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return Record{}, err
	}
	f := st.GetFields()
	started, err := time.Parse(time.RFC3339Nano, f["started"].GetStringValue())
	if err != nil {
		return Record{}, fmt.Errorf("started: %w", err)
	}
	ended, err := time.Parse(time.RFC3339Nano, f["ended"].GetStringValue())
	if err != nil {
		return Record{}, fmt.Errorf("ended: %w", err)
	}
	return Record{
		Session:  f["session"].GetStringValue(),
		Remote:   f["remote"].GetStringValue(),
		Started:  started,
		Ended:    ended,
		BytesIn:  int64(f["bytes_in"].GetNumberValue()),
		BytesOut: int64(f["bytes_out"].GetNumberValue()),
		Kind:     Kind(f["kind"].GetStringValue()),
		Error:    f["error"].GetStringValue(),
	}, nil
}
