package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/facegate/internal/credential"
	"github.com/kozaktomas/facegate/internal/database/mock"
	"github.com/kozaktomas/facegate/internal/facematch"
)

type fakeCache struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failGet error
	failSet error
	failDel error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return f.failSet
	}
	f.data[key] = value.(string)
	f.ttls[key] = expiration
	return nil
}

func (f *fakeCache) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return false, f.failSet
	}
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value.(string)
	f.ttls[key] = expiration
	return true, nil
}

// expire drops key as if its TTL had elapsed.
func (f *fakeCache) expire(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
}

func (f *fakeCache) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return "", f.failGet
	}
	v, ok := f.data[key]
	if !ok {
		return "", ErrMiss
	}
	return v, nil
}

func (f *fakeCache) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDel != nil {
		return f.failDel
	}
	delete(f.data, key)
	return nil
}

func descriptor(v float32) facematch.Descriptor {
	d := make(facematch.Descriptor, facematch.DescriptorLength)
	for i := range d {
		d[i] = v
	}
	return d
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewMockRepository()
	repo.AddRecord(&credential.AccountRecord{
		Identifier:        "a@x.com",
		SecretHash:        "h",
		DisplayAttributes: map[string]string{credential.AttrFullName: "Jan"},
		FaceDescriptor:    descriptor(0.2),
	})
	fc := newFakeCache()
	s := NewCachedStore(repo, fc, time.Minute, nil)

	first, err := s.Get(ctx, "A@x.com")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	second, err := s.Get(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if gets, _ := repo.Calls(); gets != 1 {
		t.Errorf("expected 1 repository read, got %d", gets)
	}
	if fc.ttls[credential.StoreKey("a@x.com")] != time.Minute {
		t.Errorf("expected ttl to be passed to cache")
	}
	if second.DisplayAttributes[credential.AttrFullName] != "Jan" {
		t.Errorf("expected cached attributes, got %v", second.DisplayAttributes)
	}
	if dist, _ := facematch.Distance(first.FaceDescriptor, second.FaceDescriptor); dist != 0 {
		t.Errorf("expected identical descriptor from cache, distance %v", dist)
	}
}

func TestCachedStore_NotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewMockRepository()
	fc := newFakeCache()
	s := NewCachedStore(repo, fc, 0, nil)

	for range 2 {
		if _, err := s.Get(ctx, "missing@x.com"); !errors.Is(err, credential.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if gets, _ := repo.Calls(); gets != 2 {
		t.Errorf("expected every miss to reach the repository, got %d", gets)
	}
	if len(fc.data) != 0 {
		t.Errorf("expected empty cache, got %v", fc.data)
	}
}

func TestCachedStore_PutInvalidates(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewMockRepository()
	fc := newFakeCache()
	s := NewCachedStore(repo, fc, time.Minute, nil)

	if err := s.Put(ctx, &credential.AccountRecord{Identifier: "a@x.com", SecretHash: "h1"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if _, err := s.Get(ctx, "a@x.com"); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if err := s.Put(ctx, &credential.AccountRecord{Identifier: "a@x.com", SecretHash: "h2", FaceDescriptor: descriptor(0.1)}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := s.Get(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.SecretHash != "h2" || !got.HasDescriptor() {
		t.Errorf("expected overwritten record, got hash %q", got.SecretHash)
	}
}

// blockingRepo pauses the first Get after it has read the record, until released.
type blockingRepo struct {
	*mock.MockRepository
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (b *blockingRepo) Get(ctx context.Context, identifier string) (*credential.AccountRecord, error) {
	rec, err := b.MockRepository.Get(ctx, identifier)
	b.once.Do(func() {
		close(b.read)
		<-b.release
	})
	return rec, err
}

func TestCachedStore_ConcurrentPutWinsOverInFlightRead(t *testing.T) {
	ctx := context.Background()
	repo := &blockingRepo{
		MockRepository: mock.NewMockRepository(),
		read:           make(chan struct{}),
		release:        make(chan struct{}),
	}
	repo.AddRecord(&credential.AccountRecord{Identifier: "a@x.com", SecretHash: "old", FaceDescriptor: descriptor(0.1)})
	fc := newFakeCache()
	s := NewCachedStore(repo, fc, time.Minute, nil)

	done := make(chan *credential.AccountRecord)
	go func() {
		rec, err := s.Get(ctx, "a@x.com")
		if err != nil {
			t.Errorf("Get() error: %v", err)
		}
		done <- rec
	}()

	<-repo.read
	if err := s.Put(ctx, &credential.AccountRecord{Identifier: "a@x.com", SecretHash: "new", FaceDescriptor: descriptor(0.5)}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	close(repo.release)
	if rec := <-done; rec != nil && rec.SecretHash != "old" {
		t.Errorf("expected in-flight read to see the old record, got %q", rec.SecretHash)
	}

	for range 2 {
		got, err := s.Get(ctx, "a@x.com")
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if got.SecretHash != "new" {
			t.Fatalf("expected re-enrolled record, got %q", got.SecretHash)
		}
	}
}

func TestCachedStore_RefillsAfterInvalidationExpires(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewMockRepository()
	fc := newFakeCache()
	s := NewCachedStore(repo, fc, time.Minute, nil)
	key := credential.StoreKey("a@x.com")

	if err := s.Put(ctx, &credential.AccountRecord{Identifier: "a@x.com", SecretHash: "h"}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if fc.data[key] != invalidated {
		t.Fatalf("expected invalidation marker, got %q", fc.data[key])
	}
	if _, err := s.Get(ctx, "a@x.com"); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if fc.data[key] != invalidated {
		t.Error("expected read during invalidation not to fill the cache")
	}

	fc.expire(key)
	for range 2 {
		if _, err := s.Get(ctx, "a@x.com"); err != nil {
			t.Fatalf("Get() error: %v", err)
		}
	}
	if gets, _ := repo.Calls(); gets != 2 {
		t.Errorf("expected 2 repository reads, got %d", gets)
	}
}

func TestCachedStore_PutFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewMockRepository()
	repo.AddRecord(&credential.AccountRecord{Identifier: "a@x.com", SecretHash: "h1"})
	fc := newFakeCache()
	s := NewCachedStore(repo, fc, time.Minute, nil)

	if _, err := s.Get(ctx, "a@x.com"); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	repo.PutError = errors.New("disk full")
	if err := s.Put(ctx, &credential.AccountRecord{Identifier: "a@x.com", SecretHash: "h2"}); err == nil {
		t.Fatal("expected Put error")
	}
	got, _ := s.Get(ctx, "a@x.com")
	if got.SecretHash != "h1" {
		t.Errorf("expected original record, got %q", got.SecretHash)
	}
}

func TestCachedStore_CacheErrorsFallBack(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewMockRepository()
	repo.AddRecord(&credential.AccountRecord{Identifier: "a@x.com", SecretHash: "h"})
	fc := newFakeCache()
	fc.failGet = errors.New("connection refused")
	fc.failSet = errors.New("connection refused")
	fc.failDel = errors.New("connection refused")
	s := NewCachedStore(repo, fc, time.Minute, nil)

	if _, err := s.Get(ctx, "a@x.com"); err != nil {
		t.Fatalf("expected fallback to repository, got %v", err)
	}
	if err := s.Put(ctx, &credential.AccountRecord{Identifier: "a@x.com", SecretHash: "h2"}); err != nil {
		t.Fatalf("expected Put to succeed despite cache failure, got %v", err)
	}
}

func TestCachedStore_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewMockRepository()
	repo.AddRecord(&credential.AccountRecord{Identifier: "a@x.com", SecretHash: "h"})
	fc := newFakeCache()
	fc.data[credential.StoreKey("a@x.com")] = "{not json"
	s := NewCachedStore(repo, fc, time.Minute, nil)

	got, err := s.Get(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.SecretHash != "h" {
		t.Errorf("expected repository record, got %q", got.SecretHash)
	}
}

func TestCachedStore_PassThrough(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewMockRepository()
	repo.AddRecord(&credential.AccountRecord{Identifier: "a@x.com", SecretHash: "h", FaceDescriptor: descriptor(0.1)})
	s := NewCachedStore(repo, newFakeCache(), time.Minute, nil)

	list, err := s.List(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("List() = %d records, %v", len(list), err)
	}
	total, enrolled, err := s.Count(ctx)
	if err != nil || total != 1 || enrolled != 1 {
		t.Errorf("Count() = %d/%d, %v", total, enrolled, err)
	}
}
