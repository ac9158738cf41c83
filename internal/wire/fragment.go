package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// maxPrealloc bounds the buffer reserved up front for a fragmented message.
// The declared total comes from the peer, so larger messages grow as their
// chunks arrive.
const maxPrealloc = 1 << 20

// checkDeclarable reports whether a message of n bytes fits the 4-byte total
// carried by a control frame.
func checkDeclarable(n uint64) error {
	if n > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes cannot be declared in a control frame", ErrMessageTooLarge, n)
	}
	return nil
}

// writeFragmented sends data as a control frame announcing its length
// followed by ChunkSize chunk frames.
func writeFragmented(w io.Writer, data []byte) error {
	if err := checkDeclarable(uint64(len(data))); err != nil {
		return err
	}
	var total [ControlSize]byte
	binary.LittleEndian.PutUint32(total[:], uint32(len(data)))
	if err := WriteFrame(w, total[:], FlagControl); err != nil {
		return err
	}
	for off := 0; off < len(data); off += ChunkSize {
		end := min(off+ChunkSize, len(data))
		if err := WriteFrame(w, data[off:end], FlagStandalone); err != nil {
			return err
		}
	}
	return nil
}

// reassemble completes a fragmented message whose control frame carried ctl.
// A partially assembled message is dropped on any error.
func reassemble(c Conn, g Guard, ctl []byte, maxMessage int) ([]byte, error) {
	if len(ctl) != ControlSize {
		return nil, desync(c, StageTotal, len(ctl))
	}
	total := int(binary.LittleEndian.Uint32(ctl))
	if maxMessage > 0 && total > maxMessage {
		flushed := Flush(c)
		wlog.Warn("fragmented message over limit, read buffer flushed", "total", total, "max", maxMessage, "flushed", flushed)
		return nil, fmt.Errorf("%w: declared %d > %d", ErrMessageTooLarge, total, maxMessage)
	}

	buf := make([]byte, 0, min(total, maxPrealloc))
	for len(buf) < total {
		f, err := ReadFrame(c, g)
		if err != nil {
			return nil, err
		}
		if f.Flag != FlagStandalone {
			return nil, desync(c, StageChunk, int(f.Flag))
		}
		buf = append(buf, f.Payload...)
	}
	return buf, nil
}
