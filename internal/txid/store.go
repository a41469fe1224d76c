// Package txid implements the transaction-id store: the monotonic
// commit clock of the storage engine. The store publishes a snapshot
// of the last closed transaction that readers can take without locks.
package txid

import (
	"sync/atomic"

	"github.com/grovedb/grove/internal/storage"
)

// Store tracks the last closed transaction and the log position its
// commit entry ends at.
//
// Thread-safety: TransactionClosed publishes a fresh snapshot with an
// atomic pointer swap; LastClosed is a lock-free acquire-load. Closing
// transactions out of id order is the caller's bug, the store keeps
// whichever snapshot was published last.
type Store struct {
	lastClosed atomic.Pointer[storage.ClosedTransaction]
}

// NewStore creates a store seeded with the given base transaction,
// typically recovered from the log at startup.
func NewStore(base storage.ClosedTransaction) *Store {
	s := &Store{}
	s.lastClosed.Store(&base)
	return s
}

// LastClosed returns the snapshot of the most recently closed
// transaction. Lock-free, safe on hot paths.
func (s *Store) LastClosed() storage.ClosedTransaction {
	return *s.lastClosed.Load()
}

// TransactionClosed publishes a newly closed transaction.
func (s *Store) TransactionClosed(tx storage.TransactionID, pos storage.LogPosition) {
	closed := storage.ClosedTransaction{TransactionID: tx, LogPosition: pos}
	s.lastClosed.Store(&closed)
}
