package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/facegate/internal/credential"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/kozaktomas/facegate/internal/facematch"
	"github.com/kozaktomas/facegate/internal/logging"
)

// DefaultTTL bounds how long a cached record may be served.
const DefaultTTL = 5 * time.Minute

// invalidated marks a key written since the last fill. Fills use SetNX, so a
// read that started before the write cannot put the old record back.
const invalidated = "!invalidated"

type cachedRecord struct {
	Identifier        string            `json:"identifier"`
	SecretHash        string            `json:"secret_hash"`
	DisplayAttributes map[string]string `json:"display_attributes,omitempty"`
	FaceDescriptor    []float32         `json:"face_descriptor,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// CachedStore is a read-through cache in front of a database.Repository.
// Cache failures are logged and fall back to the repository. A Put leaves an
// invalidation marker for one TTL, during which reads of that key go to the
// repository.
type CachedStore struct {
	next   database.Repository
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStore wraps next. A non-positive ttl uses DefaultTTL.
func NewCachedStore(next database.Repository, cache Cache, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CachedStore{next: next, cache: cache, ttl: ttl, logger: logging.OrNop(logger)}
}

// Get serves the record from cache when present, else loads and caches it.
// Misses in the repository are not cached.
func (s *CachedStore) Get(ctx context.Context, identifier string) (*credential.AccountRecord, error) {
	key := credential.StoreKey(identifier)

	raw, err := s.cache.Get(ctx, key)
	switch {
	case err == nil && raw == invalidated:
		return s.next.Get(ctx, identifier)
	case err == nil:
		if rec, decodeErr := decode(raw); decodeErr == nil {
			return rec, nil
		}
		s.logger.Warn("ignoring undecodable cache entry", zap.String("key", key))
		return s.next.Get(ctx, identifier)
	case !errors.Is(err, ErrMiss):
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}

	rec, err := s.next.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, key, rec)
	return rec, nil
}

// Put writes through to the repository and replaces the cached entry with
// an invalidation marker.
func (s *CachedStore) Put(ctx context.Context, record *credential.AccountRecord) error {
	if err := s.next.Put(ctx, record); err != nil {
		return err
	}
	key := credential.StoreKey(record.Identifier)
	if err := s.cache.Set(ctx, key, invalidated, s.ttl); err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("key", key), zap.Error(err))
		if err := s.cache.Del(ctx, key); err != nil {
			s.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

// List always reads the repository.
func (s *CachedStore) List(ctx context.Context) ([]*credential.AccountRecord, error) {
	return s.next.List(ctx)
}

// Count always reads the repository.
func (s *CachedStore) Count(ctx context.Context) (total, enrolled int, err error) {
	return s.next.Count(ctx)
}

func (s *CachedStore) fill(ctx context.Context, key string, rec *credential.AccountRecord) {
	data, err := json.Marshal(cachedRecord{
		Identifier:        rec.Identifier,
		SecretHash:        rec.SecretHash,
		DisplayAttributes: rec.DisplayAttributes,
		FaceDescriptor:    rec.FaceDescriptor.Float32s(),
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	})
	if err != nil {
		s.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if _, err := s.cache.SetNX(ctx, key, string(data), s.ttl); err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func decode(raw string) (*credential.AccountRecord, error) {
	var c cachedRecord
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, err
	}
	rec := &credential.AccountRecord{
		Identifier:        c.Identifier,
		SecretHash:        c.SecretHash,
		DisplayAttributes: c.DisplayAttributes,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
	if c.FaceDescriptor != nil {
		rec.FaceDescriptor = facematch.Descriptor(c.FaceDescriptor)
	}
	if err := credential.Validate(rec); err != nil {
		return nil, err
	}
	return rec, nil
}
