package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"tcpframe/internal/logging"
)

var wlog = logging.For("wire")

const (
	SyncMarker byte = 0xFC

	FlagStandalone byte = 0 // complete message or one chunk of a fragmented one
	FlagControl    byte = 1 // payload is the 4-byte total of a fragmented message

	HeaderSize      = 4    // 1 (sync) + 1 (flag) + 2 (length)
	MaxFramePayload = 4096 // single-frame capacity
	ChunkSize       = 4000 // payload carried by each chunk frame
	ControlSize     = 4    // control payload: uint32 total length
)

// Frame is one physical unit on the wire.
type Frame struct {
	Flag    byte
	Payload []byte
}

// EncodeFrame serializes a frame: [sync][flag][len_lo][len_hi][payload].
func EncodeFrame(payload []byte, flag byte) ([]byte, error) {
	if len(payload) > MaxFramePayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), MaxFramePayload)
	}
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = SyncMarker
	buf[1] = flag
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// WriteFrame writes one frame in a single Write call.
func WriteFrame(w io.Writer, payload []byte, flag byte) error {
	buf, err := EncodeFrame(payload, flag)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from c. Each field is read only after g has seen
// enough bytes for it. A bad sync marker, flag or length flushes c and
// returns a *DesyncError.
func ReadFrame(c Conn, g Guard) (Frame, error) {
	var hdr [HeaderSize]byte

	if err := readGuarded(c, g, hdr[0:1], StageSync); err != nil {
		return Frame{}, err
	}
	if hdr[0] != SyncMarker {
		return Frame{}, desync(c, StageSync, int(hdr[0]))
	}

	if err := readGuarded(c, g, hdr[1:2], StageFlag); err != nil {
		return Frame{}, err
	}
	flag := hdr[1]
	if flag != FlagStandalone && flag != FlagControl {
		return Frame{}, desync(c, StageFlag, int(flag))
	}

	if err := readGuarded(c, g, hdr[2:4], StageLength); err != nil {
		return Frame{}, err
	}
	length := int(binary.LittleEndian.Uint16(hdr[2:4]))
	if length > MaxFramePayload {
		return Frame{}, desync(c, StageLength, length)
	}

	payload := make([]byte, length)
	if length > 0 {
		if err := readGuarded(c, g, payload, StagePayload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Flag: flag, Payload: payload}, nil
}

// readGuarded fills p once g has seen enough bytes. EOF anywhere past the
// sync marker means the peer hung up mid-frame and is reported as
// io.ErrUnexpectedEOF.
func readGuarded(c Conn, g Guard, p []byte, stage Stage) error {
	err := g.Await(c, len(p), stage)
	if err == nil {
		err = c.ReadFull(p)
	} else if errors.Is(err, ErrTimeout) {
		return err
	}
	if err == nil {
		return nil
	}
	if stage != StageSync && errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("reading %s: %w", stage, err)
}
