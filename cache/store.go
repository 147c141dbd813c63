// Package cache is a small key-value resource served over crm-rpc.
//
// Store is the capability set. LocalStore implements it in-process; RemoteStore implements it by
// calling a server that exposes a Resource wrapping a LocalStore. Open picks one by configuration,
// so callers are written once against Store.
package cache

import (
	"context"

	"github.com/pkg/errors"
	lru "github.com/hashicorp/golang-lru"
)

var ErrNotFound = errors.New("key not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context) (int, error)
}

// LocalStore is a bounded LRU map. Least recently used keys are evicted once it is full.
type LocalStore struct {
	cache *lru.Cache
}

func NewLocalStore(size int) (*LocalStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &LocalStore{cache: cache}, nil
}

func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, errors.Wrap(ErrNotFound, key)
	}
	return v.([]byte), nil
}

// Put stores a copy of value.
func (s *LocalStore) Put(_ context.Context, key string, value []byte) error {
	s.cache.Add(key, append([]byte(nil), value...))
	return nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

func (s *LocalStore) Len(context.Context) (int, error) {
	return s.cache.Len(), nil
}

// Purge drops every entry.
func (s *LocalStore) Purge() {
	s.cache.Purge()
}
