package wire

// Flush discards every byte currently buffered on c and returns how many were
// dropped. It never blocks waiting for more and leaves the connection open.
func Flush(c Conn) int {
	flushed := 0
	for {
		n, _ := c.Buffered()
		if n == 0 {
			return flushed
		}
		if err := c.ReadFull(make([]byte, n)); err != nil {
			return flushed
		}
		flushed += n
	}
}

// desync flushes c and builds the error describing why.
func desync(c Conn, stage Stage, got int) error {
	flushed := Flush(c)
	wlog.Warn("stream out of sync, read buffer flushed", "stage", stage, "got", got, "flushed", flushed)
	return &DesyncError{Stage: stage, Got: got, Flushed: flushed}
}
