package docstore

import (
	"context"
	"sync"

	"github.com/gridsx/pipegos/event"
)

// MemoryStore is an in-process Store for tests and dry runs. Errors can be
// injected per call to exercise the applier's failure handling.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]map[string]event.Row
	pending []error
	ops     int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]event.Row)}
}

// FailWith queues errors returned by the next calls, in order.
func (s *MemoryStore) FailWith(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, errs...)
}

func (s *MemoryStore) nextErr() error {
	if len(s.pending) == 0 {
		return nil
	}
	err := s.pending[0]
	s.pending = s.pending[1:]
	return err
}

func (s *MemoryStore) Upsert(ctx context.Context, index, id string, doc event.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops++
	if err := s.nextErr(); err != nil {
		return err
	}
	idx, ok := s.docs[index]
	if !ok {
		idx = make(map[string]event.Row)
		s.docs[index] = idx
	}
	cp := make(event.Row, len(doc))
	for k, v := range doc {
		cp[k] = v
	}
	idx[id] = cp
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, index, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops++
	if err := s.nextErr(); err != nil {
		return err
	}
	if idx, ok := s.docs[index]; ok {
		delete(idx, id)
	}
	return nil
}

// Get returns the stored document, if any.
func (s *MemoryStore) Get(index, id string) (event.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.docs[index]
	if !ok {
		return nil, false
	}
	doc, ok := idx[id]
	return doc, ok
}

// Count returns the number of documents in an index.
func (s *MemoryStore) Count(index string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[index])
}

// Ops returns the number of write calls the store has seen.
func (s *MemoryStore) Ops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops
}

func (s *MemoryStore) Close() error {
	return nil
}
