package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/railtrans/expo/internal/otp"
)

// KVStore is an in-process otp.Store for local runs without Redis and for tests.
type KVStore struct {
	mu    sync.Mutex
	items map[string]kvItem
	now   func() time.Time
}

type kvItem struct {
	val string
	exp time.Time
}

func NewKVStore() *KVStore {
	return &KVStore{
		items: make(map[string]kvItem),
		now:   time.Now,
	}
}

// WithClock swaps the time source; tests use it to expire keys.
func (s *KVStore) WithClock(now func() time.Time) *KVStore {
	s.now = now
	return s
}

// get must be called with mu held.
func (s *KVStore) get(key string) (kvItem, bool) {
	it, ok := s.items[key]
	if !ok {
		return kvItem{}, false
	}
	if !it.exp.IsZero() && !s.now().Before(it.exp) {
		delete(s.items, key)
		return kvItem{}, false
	}
	return it, true
}

func (s *KVStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *KVStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.get(key); ok {
		return false, nil
	}
	s.items[key] = kvItem{val: value, exp: s.expiry(ttl)}
	return true, nil
}

func (s *KVStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	s.items[key] = kvItem{val: value, exp: s.expiry(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *KVStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.get(key)
	if !ok {
		return "", otp.ErrMissing
	}
	return it.val, nil
}

func (s *KVStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.get(key)
	if !ok {
		it = kvItem{val: "0", exp: s.expiry(ttl)}
	}

	n, err := strconv.ParseInt(it.val, 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	it.val = strconv.FormatInt(n, 10)
	s.items[key] = it
	return n, nil
}

func (s *KVStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.items, k)
	}
	s.mu.Unlock()
	return nil
}
