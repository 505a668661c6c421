// Package credential defines the account record persisted at enrollment and
// the store contract both flows read and write through.
package credential

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/kozaktomas/facegate/internal/facematch"
)

// ErrNotFound is returned by Store.Get when no record exists for an identifier.
var ErrNotFound = errors.New("account not found")

// keyPrefix namespaces account entries in every backend.
const keyPrefix = "account:"

// AccountRecord is the persisted state of one enrolled identity.
type AccountRecord struct {
	Identifier        string
	SecretHash        string
	DisplayAttributes map[string]string
	FaceDescriptor    facematch.Descriptor // nil until enrollment captured a face
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasDescriptor reports whether the record carries a usable face descriptor.
func (r *AccountRecord) HasDescriptor() bool {
	return r != nil && r.FaceDescriptor.Valid()
}

// Clone returns a deep copy so callers can never mutate stored state.
func (r *AccountRecord) Clone() *AccountRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.FaceDescriptor = r.FaceDescriptor.Clone()
	if r.DisplayAttributes != nil {
		c.DisplayAttributes = maps.Clone(r.DisplayAttributes)
	}
	return &c
}

// Store persists one AccountRecord per identifier.
// Put replaces the whole record; there are no partial updates.
type Store interface {
	// Get returns the record for identifier, or ErrNotFound.
	Get(ctx context.Context, identifier string) (*AccountRecord, error)
	// Put unconditionally overwrites any record stored under record.Identifier.
	Put(ctx context.Context, record *AccountRecord) error
}

// StoreKey derives the storage key for an identifier.
func StoreKey(identifier string) string {
	return keyPrefix + NormalizeIdentifier(identifier)
}

// Lister enumerates records that carry a face descriptor.
type Lister interface {
	List(ctx context.Context) ([]*AccountRecord, error)
}
