// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sync"

	"github.com/kozaktomas/facegate/internal/credential"
)

// MockRepository is a mock implementation of database.Repository backed by
// a credential.MemoryStore, with error injection and call counting.
type MockRepository struct {
	mu    sync.Mutex
	store *credential.MemoryStore

	// Error injection
	GetError   error
	PutError   error
	ListError  error
	CountError error

	GetCalls int
	PutCalls int
}

// NewMockRepository creates a new empty mock repository.
func NewMockRepository() *MockRepository {
	return &MockRepository{store: credential.NewMemoryStore()}
}

// AddRecord stores a record directly, bypassing error injection.
func (m *MockRepository) AddRecord(rec *credential.AccountRecord) {
	_ = m.store.Put(context.Background(), rec)
}

// Get returns the stored record or the injected error.
func (m *MockRepository) Get(ctx context.Context, identifier string) (*credential.AccountRecord, error) {
	m.mu.Lock()
	m.GetCalls++
	err := m.GetError
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return m.store.Get(ctx, identifier)
}

// Put stores the record or returns the injected error.
func (m *MockRepository) Put(ctx context.Context, record *credential.AccountRecord) error {
	m.mu.Lock()
	m.PutCalls++
	err := m.PutError
	m.mu.Unlock()

	if err != nil {
		return err
	}
	return m.store.Put(ctx, record)
}

// List returns the enrolled records or the injected error.
func (m *MockRepository) List(ctx context.Context) ([]*credential.AccountRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	return m.store.List(ctx)
}

// Count returns record counts or the injected error.
func (m *MockRepository) Count(ctx context.Context) (total, enrolled int, err error) {
	if m.CountError != nil {
		return 0, 0, m.CountError
	}
	return m.store.Count(ctx)
}

// Calls returns the Get and Put call counts.
func (m *MockRepository) Calls() (gets, puts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GetCalls, m.PutCalls
}
