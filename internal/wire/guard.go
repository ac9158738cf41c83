package wire

import "time"

const (
	DefaultBudget       = 10 * time.Second
	DefaultPollInterval = 20 * time.Millisecond
)

// Guard bounds every wait for incoming data. It polls Conn.Buffered at a fixed
// interval until enough bytes are available or the budget is spent.
type Guard struct {
	Budget   time.Duration
	Interval time.Duration
}

// DefaultGuard returns a Guard with the 10 s budget and 20 ms poll interval.
func DefaultGuard() Guard {
	return Guard{Budget: DefaultBudget, Interval: DefaultPollInterval}
}

// Await waits until at least n bytes are buffered on c. A stream failure that
// leaves fewer than n bytes is returned as-is; an exhausted budget yields a
// *TimeoutError.
func (g Guard) Await(c Conn, n int, stage Stage) error {
	interval := g.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := time.Now().Add(g.Budget)
	for {
		have, err := c.Buffered()
		if have >= n {
			return nil
		}
		if err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return &TimeoutError{Stage: stage, Want: n, Have: have, Budget: g.Budget}
		}
		time.Sleep(interval)
	}
}
