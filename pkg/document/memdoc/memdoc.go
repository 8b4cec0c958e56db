// Package memdoc is an in-memory reference implementation of the document
// contract.
//
// A document is a grow-only set of operations keyed by (replica, clock).
// Each replica numbers its own operations 0, 1, 2, ... and the state vector
// records, per replica, the next clock after the longest contiguous run the
// document holds. Merging is set union, so applying an update twice or in a
// different order converges to the same set.
//
// Update wire form:
//
//	[count: uvarint] count × ([replica: uvarint][clock: uvarint][payload: len-prefixed])
//
// State vector wire form:
//
//	[count: uvarint] count × ([replica: uvarint][next clock: uvarint])
//
// An empty diff is encoded as zero bytes.
package memdoc

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vango-dev/yrelay/pkg/document"
)

// Apply failure codes.
const (
	ApplyMalformed = 1 // Update could not be decoded
	ApplyDestroyed = 2 // Document was destroyed
	ApplyDone      = 3 // Transaction already ended
)

// ErrMalformedVector is returned by Diff for an undecodable state vector.
var ErrMalformedVector = errors.New("memdoc: malformed state vector")

// Op is a single operation.
type Op struct {
	Replica uint64
	Clock   uint64
	Payload []byte
}

type opKey struct {
	replica uint64
	clock   uint64
}

// Doc is an in-memory document. It is safe for concurrent use; write
// transactions are exclusive and read transactions share.
type Doc struct {
	replica uint64

	mu        sync.RWMutex
	ops       map[opKey][]byte
	next      map[uint64]uint64
	destroyed bool
}

var _ document.Doc = (*Doc)(nil)

// New creates an empty document whose local edits are attributed to replica.
func New(replica uint64) *Doc {
	return &Doc{
		replica: replica,
		ops:     make(map[opKey][]byte),
		next:    make(map[uint64]uint64),
	}
}

// Replica returns the replica id used for local edits.
func (d *Doc) Replica() uint64 {
	return d.replica
}

// Edit records a local operation and returns the update that carries it.
func (d *Doc) Edit(payload []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.destroyed {
		return nil, document.ErrDestroyed
	}

	op := Op{Replica: d.replica, Clock: d.next[d.replica], Payload: append([]byte(nil), payload...)}
	d.insertLocked([]Op{op})
	return encodeUpdate([]Op{op}), nil
}

// Ops returns a snapshot of every operation ordered by (replica, clock).
func (d *Doc) Ops() []Op {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sortedLocked(nil)
}

// Len returns the number of operations held.
func (d *Doc) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ops)
}

// BeginRead starts a read transaction.
func (d *Doc) BeginRead() document.ReadTxn {
	d.mu.RLock()
	return &readTxn{doc: d}
}

// BeginWrite starts a write transaction.
func (d *Doc) BeginWrite() document.WriteTxn {
	d.mu.Lock()
	return &writeTxn{doc: d}
}

// Destroy drops all operations.
func (d *Doc) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	d.ops = nil
	d.next = nil
}

// insertLocked merges ops and advances the contiguous clocks.
func (d *Doc) insertLocked(ops []Op) {
	touched := make(map[uint64]struct{})
	for _, op := range ops {
		k := opKey{op.Replica, op.Clock}
		if _, ok := d.ops[k]; ok {
			continue
		}
		d.ops[k] = op.Payload
		touched[op.Replica] = struct{}{}
	}
	for r := range touched {
		c := d.next[r]
		for {
			if _, ok := d.ops[opKey{r, c}]; !ok {
				break
			}
			c++
		}
		d.next[r] = c
	}
}

// sortedLocked returns ops the vector sv lacks, or every op when sv is nil.
func (d *Doc) sortedLocked(sv map[uint64]uint64) []Op {
	out := make([]Op, 0, len(d.ops))
	for k, p := range d.ops {
		if sv != nil && k.clock < sv[k.replica] {
			continue
		}
		out = append(out, Op{Replica: k.replica, Clock: k.clock, Payload: append([]byte(nil), p...)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Replica != out[j].Replica {
			return out[i].Replica < out[j].Replica
		}
		return out[i].Clock < out[j].Clock
	})
	return out
}

type readTxn struct {
	doc  *Doc
	once sync.Once
}

func (t *readTxn) StateVector() ([]byte, error) {
	if t.doc.destroyed {
		return nil, document.ErrDestroyed
	}
	return encodeStateVector(t.doc.next), nil
}

func (t *readTxn) Diff(stateVector []byte) ([]byte, error) {
	if t.doc.destroyed {
		return nil, document.ErrDestroyed
	}
	sv, err := decodeStateVector(stateVector)
	if err != nil {
		return nil, err
	}
	missing := t.doc.sortedLocked(sv)
	if len(missing) == 0 {
		return []byte{}, nil
	}
	return encodeUpdate(missing), nil
}

func (t *readTxn) Release() {
	t.once.Do(t.doc.mu.RUnlock)
}

type writeTxn struct {
	doc    *Doc
	staged []Op
	done   bool
}

func (t *writeTxn) Apply(update []byte) int {
	if t.done {
		return ApplyDone
	}
	if t.doc.destroyed {
		return ApplyDestroyed
	}
	ops, err := decodeUpdate(update)
	if err != nil {
		return ApplyMalformed
	}
	t.staged = append(t.staged, ops...)
	return document.ApplyOK
}

func (t *writeTxn) Commit() error {
	if t.done {
		return errors.New("memdoc: transaction already ended")
	}
	t.done = true
	defer t.doc.mu.Unlock()

	if t.doc.destroyed {
		return document.ErrDestroyed
	}
	t.doc.insertLocked(t.staged)
	t.staged = nil
	return nil
}

func (t *writeTxn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.staged = nil
	t.doc.mu.Unlock()
}

func encodeUpdate(ops []Op) []byte {
	size := 4
	for _, op := range ops {
		size += 24 + len(op.Payload)
	}
	e := newEncoder(size)
	e.writeUvarint(uint64(len(ops)))
	for _, op := range ops {
		e.writeUvarint(op.Replica)
		e.writeUvarint(op.Clock)
		e.writeLenBytes(op.Payload)
	}
	return e.bytes()
}

func decodeUpdate(data []byte) ([]Op, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("memdoc: empty update")
	}
	d := newDecoder(data)
	n, err := d.readCount()
	if err != nil {
		return nil, err
	}
	ops := make([]Op, 0, n)
	for i := 0; i < n; i++ {
		replica, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		clock, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		payload, err := d.readLenBytes()
		if err != nil {
			return nil, err
		}
		ops = append(ops, Op{Replica: replica, Clock: clock, Payload: payload})
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return ops, nil
}

func encodeStateVector(next map[uint64]uint64) []byte {
	replicas := make([]uint64, 0, len(next))
	for r := range next {
		replicas = append(replicas, r)
	}
	sort.Slice(replicas, func(i, j int) bool { return replicas[i] < replicas[j] })

	e := newEncoder(1 + 20*len(replicas))
	e.writeUvarint(uint64(len(replicas)))
	for _, r := range replicas {
		e.writeUvarint(r)
		e.writeUvarint(next[r])
	}
	return e.bytes()
}

// decodeStateVector treats an empty vector as "knows nothing".
func decodeStateVector(data []byte) (map[uint64]uint64, error) {
	sv := make(map[uint64]uint64)
	if len(data) == 0 {
		return sv, nil
	}
	d := newDecoder(data)
	n, err := d.readCount()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVector, err)
	}
	for i := 0; i < n; i++ {
		r, err := d.readUvarint()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedVector, err)
		}
		c, err := d.readUvarint()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedVector, err)
		}
		sv[r] = c
	}
	if err := d.finish(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVector, err)
	}
	return sv, nil
}
