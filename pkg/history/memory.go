package history

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MemoryStore is an in-process Store used by tests.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	recs   map[int64]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, recs: map[int64]Record{}}
}

func (s *MemoryStore) Create(ctx context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Output == "" {
		rec.Output = Placeholder
	}
	rec.ID = s.nextID
	s.nextID++
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.recs[rec.ID] = rec
	return rec, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return Record{}, errors.Errorf("history %d not found", id)
	}
	return rec, nil
}

func (s *MemoryStore) UpdateOutput(ctx context.Context, id int64, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return errors.Errorf("history %d not found", id)
	}
	if rec.Final {
		return errors.Errorf("history %d already finalized", id)
	}
	rec.Output = output
	rec.UpdatedAt = time.Now().UTC()
	s.recs[id] = rec
	return nil
}

func (s *MemoryStore) Finalize(ctx context.Context, id int64, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return errors.Errorf("history %d not found", id)
	}
	if rec.Final && rec.Output != output {
		return errors.Errorf("history %d finalized with different output", id)
	}
	rec.Output = output
	rec.Final = true
	rec.UpdatedAt = time.Now().UTC()
	s.recs[id] = rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}
