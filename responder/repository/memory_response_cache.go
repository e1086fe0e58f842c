package repository

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/businesswalrus/pup.ai/responder/domain"
)

const (
	// DefaultCacheTTL is how long a cached completion stays servable.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultCacheMaxEntries bounds the in-memory cache size.
	DefaultCacheMaxEntries = 500
	// DefaultCachePurgeInterval is how often the background purge runs.
	DefaultCachePurgeInterval = time.Minute
)

type cacheEntry struct {
	fingerprint string
	completion  *domain.Completion
	expiresAt   time.Time
}

// MemoryResponseCacheStore is a mutex-guarded LRU with per-entry TTL.
// Used as the default when Valkey is not enabled. Entries are lazy-expired
// on Get and can be purged eagerly.
type MemoryResponseCacheStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	maxEntries int
	purgeEvery time.Duration
	now        func() time.Time
}

// CacheStoreOption tweaks store behavior, mostly for tests.
type CacheStoreOption func(*MemoryResponseCacheStore)

func WithPurgeInterval(d time.Duration) CacheStoreOption {
	return func(s *MemoryResponseCacheStore) { s.purgeEvery = d }
}

func WithCacheClock(now func() time.Time) CacheStoreOption {
	return func(s *MemoryResponseCacheStore) { s.now = now }
}

// NewMemoryResponseCacheStore creates an in-memory response cache store and
// starts its background purge. maxEntries <= 0 falls back to the default
// bound.
func NewMemoryResponseCacheStore(maxEntries int, opts ...CacheStoreOption) *MemoryResponseCacheStore {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	s := &MemoryResponseCacheStore{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		purgeEvery: DefaultCachePurgeInterval,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.purgeLoop()
	return s
}

func (s *MemoryResponseCacheStore) Get(ctx context.Context, fingerprint string) (*domain.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[fingerprint]
	if !ok {
		return nil, nil
	}
	entry := el.Value.(*cacheEntry)
	if s.now().After(entry.expiresAt) {
		s.removeLocked(el)
		return nil, nil
	}
	s.order.MoveToFront(el)
	return entry.completion, nil
}

func (s *MemoryResponseCacheStore) Save(ctx context.Context, fingerprint string, c *domain.Completion, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[fingerprint]; ok {
		entry := el.Value.(*cacheEntry)
		entry.completion = c
		entry.expiresAt = s.now().Add(ttl)
		s.order.MoveToFront(el)
		return nil
	}

	el := s.order.PushFront(&cacheEntry{
		fingerprint: fingerprint,
		completion:  c,
		expiresAt:   s.now().Add(ttl),
	})
	s.entries[fingerprint] = el

	for s.order.Len() > s.maxEntries {
		s.removeLocked(s.order.Back())
	}
	return nil
}

func (s *MemoryResponseCacheStore) PurgeExpired(ctx context.Context) error {
	s.purge()
	return nil
}

func (s *MemoryResponseCacheStore) purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	purged := 0
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*cacheEntry).expiresAt) {
			s.removeLocked(el)
			purged++
		}
		el = prev
	}
	return purged
}

func (s *MemoryResponseCacheStore) purgeLoop() {
	ticker := time.NewTicker(s.purgeEvery)
	defer ticker.Stop()

	for range ticker.C {
		if n := s.purge(); n > 0 {
			logrus.Debugf("[CACHE] Purged %d expired entries", n)
		}
	}
}

func (s *MemoryResponseCacheStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*list.Element)
	s.order.Init()
	return nil
}

func (s *MemoryResponseCacheStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len(), nil
}

func (s *MemoryResponseCacheStore) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	entry := el.Value.(*cacheEntry)
	delete(s.entries, entry.fingerprint)
	s.order.Remove(el)
}
