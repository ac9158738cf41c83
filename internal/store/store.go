package store

// Store is a bucketed key-value store. The connection journal is its only
// user; bbolt backs it in production.
type Store interface {
	Get(bucket, key []byte) ([]byte, error)
	Set(bucket, key, value []byte) error
	Delete(bucket, key []byte) error
	// Append stores value under the bucket's next sequence number, encoded as
	// an 8-byte big-endian key so iteration order is insertion order.
	Append(bucket, value []byte) (uint64, error)
	// ForEach visits keys in ascending order. Returning an error stops the walk.
	ForEach(bucket []byte, fn func(key, value []byte) error) error
	// ForEachReverse visits keys in descending order.
	ForEachReverse(bucket []byte, fn func(key, value []byte) error) error
	Len(bucket []byte) (int, error)
	Close() error
}
