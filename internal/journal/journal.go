// Package journal keeps a bounded history of served connections in a Store.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"tcpframe/internal/logging"
	"tcpframe/internal/store"
)

var jlog = logging.For("journal")

var (
	recordsBucket = []byte("connections")
	metaBucket    = []byte("meta")

	keyTotal    = []byte("total")
	keyFailures = []byte("failures")

	errStopWalk = errors.New("stop walk")
)

// Totals are lifetime counters that survive pruning.
type Totals struct {
	Connections uint64
	Failures    uint64
}

// Journal appends connection records and prunes the oldest beyond retain.
// A nil *Journal accepts every call and records nothing.
type Journal struct {
	st     store.Store
	retain int // 0 keeps everything

	mu sync.Mutex
}

// Open returns a journal over st.
func Open(st store.Store, retain int) *Journal {
	return &Journal{st: st, retain: retain}
}

// Record appends r, bumps the lifetime counters and prunes if needed.
func (j *Journal) Record(r Record) error {
	if j == nil {
		return nil
	}
	data, err := r.marshal()
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.st.Append(recordsBucket, data); err != nil {
		return fmt.Errorf("appending record: %w", err)
	}
	if err := j.bump(keyTotal); err != nil {
		return err
	}
	if r.Kind != KindOK {
		if err := j.bump(keyFailures); err != nil {
			return err
		}
	}
	if j.retain > 0 {
		if _, err := j.prune(); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns up to n records, newest first. n <= 0 returns all of them.
// Records that fail to decode are skipped.
func (j *Journal) Recent(n int) ([]Record, error) {
	if j == nil {
		return nil, nil
	}
	var out []Record
	err := j.st.ForEachReverse(recordsBucket, func(key, value []byte) error {
		r, err := unmarshalRecord(value)
		if err != nil {
			jlog.Warn("skipping corrupt journal record", "seq", seqOf(key), "err", err)
			return nil
		}
		out = append(out, r)
		if n > 0 && len(out) >= n {
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return nil, err
	}
	return out, nil
}

// Totals returns the lifetime counters.
func (j *Journal) Totals() (Totals, error) {
	if j == nil {
		return Totals{}, nil
	}
	total, err := j.counter(keyTotal)
	if err != nil {
		return Totals{}, err
	}
	failures, err := j.counter(keyFailures)
	if err != nil {
		return Totals{}, err
	}
	return Totals{Connections: total, Failures: failures}, nil
}

// Prune drops the oldest records beyond the retain limit and returns how many
// were removed.
func (j *Journal) Prune() (int, error) {
	if j == nil || j.retain <= 0 {
		return 0, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.prune()
}

func (j *Journal) prune() (int, error) {
	n, err := j.st.Len(recordsBucket)
	if err != nil {
		return 0, err
	}
	excess := n - j.retain
	if excess <= 0 {
		return 0, nil
	}

	keys := make([][]byte, 0, excess)
	err = j.st.ForEach(recordsBucket, func(key, _ []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		if len(keys) >= excess {
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return 0, err
	}
	for _, k := range keys {
		if err := j.st.Delete(recordsBucket, k); err != nil {
			return 0, fmt.Errorf("pruning record %d: %w", seqOf(k), err)
		}
	}
	jlog.Debug("pruned journal", "removed", len(keys), "retain", j.retain)
	return len(keys), nil
}

func (j *Journal) bump(key []byte) error {
	v, err := j.counter(key)
	if err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v+1)
	if err := j.st.Set(metaBucket, key, buf[:]); err != nil {
		return fmt.Errorf("updating %s counter: %w", key, err)
	}
	return nil
}

func (j *Journal) counter(key []byte) (uint64, error) {
	v, err := j.st.Get(metaBucket, key)
	if err != nil {
		return 0, fmt.Errorf("reading %s counter: %w", key, err)
	}
	if len(v) != 8 {
		return 0, nil
	}
	return binary.BigEndian.Uint64(v), nil
}

func seqOf(key []byte) uint64 {
	if len(key) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}
