// Package ledger defines the views a host ledger exposes to the vote service and
// ships an in-memory ordered ledger used by the standalone node and tests.
//
// A Snapshot is a read-only view of committed state. A Fork is a transactional
// view whose writes become visible only when the ledger commits the operation
// that produced them. Keys are grouped into named ordered maps by prefix.
package ledger

import "errors"

// ErrStopIteration can be returned from an Iterate callback to end the scan early.
var ErrStopIteration = errors.New("stop iteration")

// Snapshot is a read-only view over the ordered maps.
type Snapshot interface {
	// Get returns nil, nil when the key is absent.
	Get(key string) ([]byte, error)
	// Iterate visits every key with the given prefix in ascending key order.
	Iterate(prefix string, fn func(key string, value []byte) error) error
}

// Fork is a mutable view. Reads through a Fork may or may not observe the
// fork's own pending writes; callers must not depend on either behaviour.
type Fork interface {
	Snapshot
	Put(key string, value []byte) error
}

// Transaction is an operation the ledger orders and replays.
// Verify runs before any state is touched; Execute mutates the fork and any
// error it returns discards every write it made.
type Transaction interface {
	Hash() [32]byte
	Verify() error
	Execute(fork Fork) error
}

// Fatal marks execution errors that indicate store corruption. Ledgers stop
// processing instead of recording them as an ordinary rejected operation.
type Fatal interface {
	Fatal() bool
}

// IsFatal reports whether err, or any error it wraps, is marked fatal.
func IsFatal(err error) bool {
	var f Fatal
	return errors.As(err, &f) && f.Fatal()
}
