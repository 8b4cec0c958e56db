package memdoc

import (
	"sync"

	"github.com/vango-dev/yrelay/pkg/document"
)

// Store hands out one in-memory document per name.
type Store struct {
	replica uint64

	mu   sync.Mutex
	docs map[string]*Doc
}

var _ document.Store = (*Store)(nil)

// NewStore creates a store whose documents attribute local edits to replica.
// A relay never edits, so replica 0 is fine there.
func NewStore(replica uint64) *Store {
	return &Store{
		replica: replica,
		docs:    make(map[string]*Doc),
	}
}

// Open returns the document for name, creating it on first use.
func (s *Store) Open(name string) (document.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.docs[name]; ok {
		return d, nil
	}
	d := New(s.replica)
	s.docs[name] = d
	return d, nil
}

// Len returns the number of documents opened so far.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}
