package store

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Orine99/ees-education-dashboard/internal/metrics"
)

var (
	// ErrNotFound is returned when no value is resident for a key.
	ErrNotFound = errors.New("no cached value for key")
	// ErrInvalidOptions is returned by NewMemoryStore for unusable options.
	ErrInvalidOptions = errors.New("invalid cache options")
)

// Options configures a MemoryStore.
type Options struct {
	// Name labels the store in logs and metrics.
	Name string
	// TTL is how long a stored value is served without refetching.
	TTL time.Duration
	// Capacity bounds the number of resident entries.
	Capacity int
	// RetainPerGroup protects the most recently used entries of each group
	// from eviction while fresh or stale candidates outside it exist.
	RetainPerGroup int
	// MaxStaleAge is how long a stale entry may stay resident before Sweep
	// drops it. Zero keeps stale entries until evicted.
	MaxStaleAge time.Duration
	Clock       clockwork.Clock
	Logger      zerolog.Logger
}

// Validate checks the options and fills defaults.
func (o *Options) Validate() error {
	if o.TTL <= 0 {
		return errors.Join(ErrInvalidOptions, errors.New("ttl must be positive"))
	}
	if o.Capacity <= 0 {
		return errors.Join(ErrInvalidOptions, errors.New("capacity must be positive"))
	}
	if o.RetainPerGroup < 0 {
		return errors.Join(ErrInvalidOptions, errors.New("retain per group must not be negative"))
	}
	if o.Name == "" {
		o.Name = "default"
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return nil
}

type entry[V any] struct {
	key      string
	group    string
	value    V
	storedAt time.Time
	elem     *list.Element // position in the store-wide LRU list
	groupPos *list.Element // position in the group's LRU list
}

// Stats is a point-in-time view of a store.
type Stats struct {
	Name      string `json:"name"`
	Entries   int    `json:"entries"`
	Fresh     int    `json:"fresh"`
	InFlight  int64  `json:"inFlight"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// MemoryStore is a concurrency-safe, bounded, in-memory cache of fetched
// values. Values are fresh for TTL after they are stored. At most one
// fetch per key is in flight; concurrent callers share its result. Failed
// fetches are never stored.
type MemoryStore[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	lru     *list.List            // front is most recently used
	groups  map[string]*list.List // per-group recency of keys

	flights singleflight.Group
	opts    Options

	inFlight  atomic.Int64
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore[V any](opts Options) (*MemoryStore[V], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &MemoryStore[V]{
		entries: make(map[string]*entry[V]),
		lru:     list.New(),
		groups:  make(map[string]*list.List),
		opts:    opts,
	}, nil
}

// Get returns the fresh value for key or fetches it. The fetch runs
// detached from the caller's cancellation so that callers who give up do
// not fail the others sharing it; its result is stored either way.
func (s *MemoryStore[V]) Get(ctx context.Context, key, group string, fetch func(context.Context) (V, error)) (V, error) {
	if v, ok := s.fresh(key); ok {
		s.hits.Add(1)
		metrics.RecordCacheLookup(s.opts.Name, true)
		s.opts.Logger.Debug().Str("cache", s.opts.Name).Str("key", key).Msg("cache hit")
		return v, nil
	}
	s.misses.Add(1)
	metrics.RecordCacheLookup(s.opts.Name, false)

	fetchCtx := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(key, func() (any, error) {
		// A flight that started after another one stored the key finds it here.
		if v, ok := s.fresh(key); ok {
			return v, nil
		}
		s.inFlight.Add(1)
		defer s.inFlight.Add(-1)

		s.opts.Logger.Debug().Str("cache", s.opts.Name).Str("key", key).Msg("cache miss, fetching")
		v, err := fetch(fetchCtx)
		if err != nil {
			return v, err
		}
		s.put(key, group, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Peek returns the resident value for key without fetching, and whether it
// is still fresh. Stale values stay readable until replaced or evicted.
func (s *MemoryStore[V]) Peek(key string) (value V, fresh bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false, ErrNotFound
	}
	return e.value, s.isFresh(e), nil
}

// Len returns the number of resident entries.
func (s *MemoryStore[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats returns counters and occupancy.
func (s *MemoryStore[V]) Stats() Stats {
	s.mu.Lock()
	fresh := 0
	for _, e := range s.entries {
		if s.isFresh(e) {
			fresh++
		}
	}
	n := len(s.entries)
	s.mu.Unlock()

	return Stats{
		Name:      s.opts.Name,
		Entries:   n,
		Fresh:     fresh,
		InFlight:  s.inFlight.Load(),
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
	}
}

// Sweep drops entries that have been stale for longer than MaxStaleAge and
// returns how many were removed.
func (s *MemoryStore[V]) Sweep() int {
	if s.opts.MaxStaleAge <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.opts.TTL + s.opts.MaxStaleAge
	now := s.opts.Clock.Now()
	removed := 0
	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry[V])
		if now.Sub(e.storedAt) > cutoff {
			s.remove(e)
			removed++
		}
		el = prev
	}
	metrics.SetCacheEntries(s.opts.Name, len(s.entries))
	return removed
}

func (s *MemoryStore[V]) fresh(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !s.isFresh(e) {
		var zero V
		return zero, false
	}
	s.touch(e)
	return e.value, true
}

func (s *MemoryStore[V]) isFresh(e *entry[V]) bool {
	return s.opts.Clock.Since(e.storedAt) < s.opts.TTL
}

func (s *MemoryStore[V]) touch(e *entry[V]) {
	s.lru.MoveToFront(e.elem)
	if g, ok := s.groups[e.group]; ok {
		g.MoveToFront(e.groupPos)
	}
}

func (s *MemoryStore[V]) put(key, group string, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Clock.Now()
	if e, ok := s.entries[key]; ok {
		e.value = v
		e.storedAt = now
		s.touch(e)
		return
	}

	e := &entry[V]{key: key, group: group, value: v, storedAt: now}
	e.elem = s.lru.PushFront(e)
	g, ok := s.groups[group]
	if !ok {
		g = list.New()
		s.groups[group] = g
	}
	e.groupPos = g.PushFront(e)
	s.entries[key] = e

	for len(s.entries) > s.opts.Capacity {
		victim := s.victim()
		s.opts.Logger.Debug().Str("cache", s.opts.Name).Str("key", victim.key).Msg("cache evict")
		s.remove(victim)
		s.evictions.Add(1)
		metrics.RecordCacheEviction(s.opts.Name)
	}
	metrics.SetCacheEntries(s.opts.Name, len(s.entries))
}

// victim picks the entry to evict: the least recently used stale entry
// outside its group's retained set, then the least recently used entry
// outside it, then the least recently used entry overall.
func (s *MemoryStore[V]) victim() *entry[V] {
	var unprotected *entry[V]
	for el := s.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry[V])
		if s.protected(e) {
			continue
		}
		if !s.isFresh(e) {
			return e
		}
		if unprotected == nil {
			unprotected = e
		}
	}
	if unprotected != nil {
		return unprotected
	}
	return s.lru.Back().Value.(*entry[V])
}

// protected reports whether e is among the RetainPerGroup most recently
// used entries of its group.
func (s *MemoryStore[V]) protected(e *entry[V]) bool {
	n := s.opts.RetainPerGroup
	if n == 0 {
		return false
	}
	g, ok := s.groups[e.group]
	if !ok {
		return false
	}
	i := 0
	for el := g.Front(); el != nil && i < n; el = el.Next() {
		if el == e.groupPos {
			return true
		}
		i++
	}
	return false
}

func (s *MemoryStore[V]) remove(e *entry[V]) {
	s.lru.Remove(e.elem)
	if g, ok := s.groups[e.group]; ok {
		g.Remove(e.groupPos)
		if g.Len() == 0 {
			delete(s.groups, e.group)
		}
	}
	delete(s.entries, e.key)
}
