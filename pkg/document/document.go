// Package document defines the contract between the relay and the CRDT
// engine that owns document state.
//
// The relay never inspects updates or state vectors; it only moves them
// between transactions and the wire. Any engine that satisfies these
// interfaces can back a room. Package memdoc provides an in-memory
// reference engine.
//
// Engines must make Apply idempotent and order-insensitive: applying the
// same update twice, or a set of updates in different orders on different
// replicas, must converge to the same state.
package document

import "errors"

// ApplyOK is the Apply result that signals success. Any other value is an
// engine-specific failure code.
const ApplyOK = 0

// ErrDestroyed is returned by engines for operations on a destroyed document.
var ErrDestroyed = errors.New("document: destroyed")

// Store opens documents by name.
type Store interface {
	// Open returns the document for name, creating an empty one if needed.
	// Open is idempotent per name.
	Open(name string) (Doc, error)
}

// Doc is a single replicated document.
type Doc interface {
	// BeginRead starts a read transaction. The caller must call Release.
	BeginRead() ReadTxn

	// BeginWrite starts a write transaction. The caller must call exactly
	// one of Commit or Abort.
	BeginWrite() WriteTxn

	// Destroy releases engine resources. The document is unusable afterwards.
	Destroy()
}

// ReadTxn is a consistent read view of a document.
type ReadTxn interface {
	// StateVector summarizes which operations the document has incorporated.
	StateVector() ([]byte, error)

	// Diff returns the update a peer with the given state vector is missing.
	// An empty result means the peer is up to date.
	Diff(stateVector []byte) ([]byte, error)

	// Release ends the transaction.
	Release()
}

// WriteTxn stages updates against a document.
type WriteTxn interface {
	// Apply stages a foreign update and returns ApplyOK or a failure code.
	Apply(update []byte) int

	// Commit makes staged updates visible and ends the transaction.
	Commit() error

	// Abort discards staged updates and ends the transaction.
	Abort()
}
