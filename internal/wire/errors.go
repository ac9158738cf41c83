package wire

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout         = errors.New("wire: timed out waiting for data")
	ErrDesync          = errors.New("wire: stream out of sync")
	ErrFrameTooLarge   = errors.New("wire: frame payload too large")
	ErrMessageTooLarge = errors.New("wire: message too large")
)

// Stage names the step of a receive at which it failed.
type Stage string

const (
	StageSync    Stage = "sync"
	StageFlag    Stage = "flag"
	StageLength  Stage = "length"
	StagePayload Stage = "payload"
	StageTotal   Stage = "total"
	StageChunk   Stage = "chunk"
)

// TimeoutError reports a guarded wait that exhausted its budget.
type TimeoutError struct {
	Stage  Stage
	Want   int // bytes the wait needed
	Have   int // bytes buffered when the budget ran out
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("wire: timed out after %s awaiting %s (%d of %d bytes)", e.Budget, e.Stage, e.Have, e.Want)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// DesyncError reports a frame that did not line up with the wire format.
// By the time it is returned the connection's read buffer has been flushed.
type DesyncError struct {
	Stage   Stage
	Got     int // offending value (marker, flag, length or total)
	Flushed int // bytes discarded by the flush
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("wire: out of sync at %s (got %d), flushed %d bytes", e.Stage, e.Got, e.Flushed)
}

func (e *DesyncError) Is(target error) bool {
	return target == ErrDesync
}
