package credential

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Used for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*AccountRecord
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*AccountRecord),
		now:     time.Now,
	}
}

// Get returns a copy of the record stored for identifier.
func (s *MemoryStore) Get(ctx context.Context, identifier string) (*AccountRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[StoreKey(identifier)]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Put replaces the record stored under record.Identifier.
func (s *MemoryStore) Put(ctx context.Context, record *AccountRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Validate(record); err != nil {
		return err
	}

	stored := record.Clone()
	stored.Identifier = NormalizeIdentifier(record.Identifier)
	key := StoreKey(stored.Identifier)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.records[key]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.records[key] = stored
	return nil
}

// List returns copies of all records with a face descriptor, ordered by nothing in particular.
func (s *MemoryStore) List(ctx context.Context) ([]*AccountRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*AccountRecord, 0, len(s.records))
	for _, rec := range s.records {
		if rec.HasDescriptor() {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Count returns the number of stored records and how many carry a descriptor.
func (s *MemoryStore) Count(ctx context.Context) (total, enrolled int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.HasDescriptor() {
			enrolled++
		}
	}
	return len(s.records), enrolled, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Validate checks the invariants every backend enforces before a write.
func Validate(record *AccountRecord) error {
	if record == nil {
		return fmt.Errorf("nil account record")
	}
	if NormalizeIdentifier(record.Identifier) == "" {
		return fmt.Errorf("account identifier is required")
	}
	if record.SecretHash == "" {
		return fmt.Errorf("account %s: secret hash is required", record.Identifier)
	}
	if record.FaceDescriptor != nil && !record.FaceDescriptor.Valid() {
		return fmt.Errorf("account %s: face descriptor has %d values", record.Identifier, len(record.FaceDescriptor))
	}
	return nil
}
