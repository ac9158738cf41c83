package wire

import (
	"fmt"
	"strings"
	"time"

	"tcpframe/internal/codec"
)

const (
	// DefaultMaxMessage caps a logical message in either direction.
	DefaultMaxMessage = 16 << 20

	ackText = "ACK"
)

// Options configures a Channel.
type Options struct {
	Budget       time.Duration
	PollInterval time.Duration
	MaxMessage   int
	Codec        codec.Codec
}

// DefaultOptions returns the protocol defaults: 10 s budget, 20 ms polling,
// 16 MiB messages and JSON objects.
func DefaultOptions() Options {
	return Options{
		Budget:       DefaultBudget,
		PollInterval: DefaultPollInterval,
		MaxMessage:   DefaultMaxMessage,
		Codec:        codec.JSON{},
	}
}

type Option func(*Options)

func WithBudget(d time.Duration) Option       { return func(o *Options) { o.Budget = d } }
func WithPollInterval(d time.Duration) Option { return func(o *Options) { o.PollInterval = d } }
func WithMaxMessage(n int) Option             { return func(o *Options) { o.MaxMessage = n } }
func WithCodec(c codec.Codec) Option          { return func(o *Options) { o.Codec = c } }

// WithOptions replaces all options at once; zero fields keep their defaults.
func WithOptions(opts Options) Option {
	return func(o *Options) {
		if opts.Budget > 0 {
			o.Budget = opts.Budget
		}
		if opts.PollInterval > 0 {
			o.PollInterval = opts.PollInterval
		}
		if opts.MaxMessage > 0 {
			o.MaxMessage = opts.MaxMessage
		}
		if opts.Codec != nil {
			o.Codec = opts.Codec
		}
	}
}

// Channel exchanges logical messages over a Conn. It carries no protocol
// state between calls; all calls on one Channel must come from one goroutine
// at a time.
type Channel struct {
	conn  Conn
	guard Guard
	opts  Options
}

// New returns a Channel over conn.
func New(conn Conn, opts ...Option) *Channel {
	o := DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &Channel{
		conn:  conn,
		guard: Guard{Budget: o.Budget, Interval: o.PollInterval},
		opts:  o,
	}
}

// Conn returns the underlying connection.
func (c *Channel) Conn() Conn { return c.conn }

// SendBytes writes data as one standalone frame, or fragmented when it does
// not fit in a single frame.
func (c *Channel) SendBytes(data []byte) error {
	if c.opts.MaxMessage > 0 && len(data) > c.opts.MaxMessage {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), c.opts.MaxMessage)
	}
	if len(data) > MaxFramePayload {
		return writeFragmented(c.conn, data)
	}
	return WriteFrame(c.conn, data, FlagStandalone)
}

// ReceiveBytes reads the next logical message.
func (c *Channel) ReceiveBytes() ([]byte, error) {
	f, err := ReadFrame(c.conn, c.guard)
	if err != nil {
		return nil, err
	}
	if f.Flag == FlagStandalone {
		return f.Payload, nil
	}
	return reassemble(c.conn, c.guard, f.Payload, c.opts.MaxMessage)
}

func (c *Channel) SendText(s string) error {
	return c.SendBytes([]byte(s))
}

// ReceiveText reads the next message as UTF-8 text. Invalid sequences are
// replaced with U+FFFD rather than failing the read.
func (c *Channel) ReceiveText() (string, error) {
	b, err := c.ReceiveBytes()
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(b), "\uFFFD"), nil
}

// SendObject encodes v with the channel codec and sends it as text.
func (c *Channel) SendObject(v any) error {
	text, err := c.opts.Codec.Encode(v)
	if err != nil {
		return err
	}
	return c.SendText(text)
}

// ReceiveObject reads the next message and decodes it into v, which must be
// a pointer (or a proto.Message for the protojson codec).
func (c *Channel) ReceiveObject(v any) error {
	text, err := c.ReceiveText()
	if err != nil {
		return err
	}
	return c.opts.Codec.Decode(text, v)
}

// ReceiveAs reads the next message and decodes it as a T. It suits codecs
// that decode into plain Go values; protobuf messages go through ReceiveObject.
func ReceiveAs[T any](c *Channel) (T, error) {
	var v T
	err := c.ReceiveObject(&v)
	return v, err
}

func (c *Channel) SendAck() error {
	return c.SendText(ackText)
}

// ReceiveAck reports whether the next message is the literal "ACK". Any other
// message yields false; only a failed read returns an error.
func (c *Channel) ReceiveAck() (bool, error) {
	b, err := c.ReceiveBytes()
	if err != nil {
		return false, err
	}
	return string(b) == ackText, nil
}
