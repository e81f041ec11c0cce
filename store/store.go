package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("store: key not found")
	// ErrConflict is returned when an Update could not commit because a declared key kept
	// changing underneath it.
	ErrConflict = errors.New("store: transaction conflict")
	// ErrUnavailable wraps backend failures, timeouts, and cancellations. Nothing was written.
	ErrUnavailable = errors.New("store: backend unavailable")
	// ErrUndeclaredKey is returned by Tx methods for keys not passed to Update.
	ErrUndeclaredKey = errors.New("store: key not declared in transaction")
)

// MaxUpdateAttempts bounds how many times optimistic backends re-run an Update callback
// after losing a commit race.
const MaxUpdateAttempts = 16

// Store is the persistence capability the engine consumes. Keys are opaque strings,
// values are opaque bytes, and a zero ttl means the entry does not expire.
//
// Every method must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Update runs fn against a consistent snapshot of keys and commits its buffered
	// writes all-or-nothing. The commit fails if any declared key changed after it was
	// read; backends resolve that by re-running fn, so fn must be free of side effects
	// other than Tx writes. If fn returns an error nothing is written and that error is
	// returned as-is.
	Update(ctx context.Context, keys []string, fn func(tx Tx) error) error

	Close() error
}

// Tx is the view of a Store inside an Update callback.
type Tx interface {
	// Get returns ErrNotFound for absent keys and ErrUndeclaredKey for keys that were
	// not declared.
	Get(key string) ([]byte, error)
	Put(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

// Unavailable wraps err as a transient backend failure.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return &unavailableError{err: err}
}

type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string {
	return ErrUnavailable.Error() + ": " + e.err.Error()
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.err}
}

// CallbackError marks an error produced by an Update callback so backends can return it
// unchanged instead of treating it as a storage failure.
type CallbackError struct {
	Err error
}

func (e *CallbackError) Error() string { return e.Err.Error() }

func (e *CallbackError) Unwrap() error { return e.Err }

// Buffer is a reusable Tx implementation for backends that snapshot declared keys up
// front and apply writes at commit time.
type Buffer struct {
	reads  map[string][]byte
	writes []Write
	index  map[string]int
}

// Write is one buffered Tx mutation.
type Write struct {
	Key    string
	Value  []byte
	TTL    time.Duration
	Delete bool
}

// NewBuffer creates a Buffer over the snapshot. A nil value in snapshot means the key was
// declared but absent.
func NewBuffer(snapshot map[string][]byte) *Buffer {
	return &Buffer{
		reads: snapshot,
		index: make(map[string]int, len(snapshot)),
	}
}

// Get implements Tx. Reads observe earlier writes made in the same callback.
func (b *Buffer) Get(key string) ([]byte, error) {
	if i, ok := b.index[key]; ok {
		w := b.writes[i]
		if w.Delete {
			return nil, ErrNotFound
		}
		return cloneBytes(w.Value), nil
	}
	v, ok := b.reads[key]
	if !ok {
		return nil, ErrUndeclaredKey
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return cloneBytes(v), nil
}

// Put implements Tx.
func (b *Buffer) Put(key string, value []byte, ttl time.Duration) error {
	if _, ok := b.reads[key]; !ok {
		return ErrUndeclaredKey
	}
	if ttl < 0 {
		return errors.New("store: negative ttl")
	}
	b.record(Write{Key: key, Value: cloneBytes(value), TTL: ttl})
	return nil
}

// Delete implements Tx.
func (b *Buffer) Delete(key string) error {
	if _, ok := b.reads[key]; !ok {
		return ErrUndeclaredKey
	}
	b.record(Write{Key: key, Delete: true})
	return nil
}

// Writes returns the buffered mutations in key-first-touched order, one per key.
func (b *Buffer) Writes() []Write {
	return b.writes
}

func (b *Buffer) record(w Write) {
	if i, ok := b.index[w.Key]; ok {
		b.writes[i] = w
		return
	}
	b.index[w.Key] = len(b.writes)
	b.writes = append(b.writes, w)
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
