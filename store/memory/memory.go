// Package memory provides an in-process store.Store.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/store"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is a map-backed store.Store. A single mutex serializes writers, so Update callbacks
// never observe a conflict and run exactly once.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
	closed  bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errClosed = errors.New("memory store closed")

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.Unavailable(errClosed)
	}

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return nil, store.ErrNotFound
	}
	return clone(e.value), nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return store.Unavailable(err)
	}
	if ttl < 0 {
		return errors.New("memory: negative ttl")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Unavailable(errClosed)
	}
	s.entries[key] = s.newEntry(value, ttl)
	return nil
}

// Delete implements store.Store. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return store.Unavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Unavailable(errClosed)
	}
	delete(s.entries, key)
	return nil
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, keys []string, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return store.Unavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Unavailable(errClosed)
	}

	now := s.now()
	snapshot := make(map[string][]byte, len(keys))
	for _, k := range keys {
		e, ok := s.entries[k]
		if !ok || e.expired(now) {
			snapshot[k] = nil
			continue
		}
		snapshot[k] = clone(e.value)
	}

	buf := store.NewBuffer(snapshot)
	if err := fn(buf); err != nil {
		return err
	}

	// The callback may have been slow; honour a cancellation that arrived meanwhile.
	if err := ctx.Err(); err != nil {
		return store.Unavailable(err)
	}

	for _, w := range buf.Writes() {
		if w.Delete {
			delete(s.entries, w.Key)
			continue
		}
		s.entries[w.Key] = s.newEntry(w.Value, w.TTL)
	}
	return nil
}

// Sweep drops expired entries and reports how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	n := 0
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Close implements store.Store. Calls after Close fail with store.ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.entries = map[string]entry{}
	s.mu.Unlock()
	return nil
}

func (s *Store) newEntry(value []byte, ttl time.Duration) entry {
	e := entry{value: clone(value)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	return e
}

func clone(in []byte) []byte {
	if in == nil {
		return []byte{}
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
