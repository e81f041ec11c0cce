// Package storetest is a conformance suite shared by every store.Store implementation.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store"
)

// Factory returns a fresh, empty store plus a function that moves the store's notion of
// time forward by d.
type Factory func(t *testing.T) (st store.Store, advance func(d time.Duration))

var errExists = errors.New("already exists")

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore) })
	t.Run("PutGetDelete", func(t *testing.T) { testPutGetDelete(t, newStore) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, newStore) })
	t.Run("UpdateCommitsAllKeys", func(t *testing.T) { testUpdateCommitsAllKeys(t, newStore) })
	t.Run("UpdateCallbackErrorWritesNothing", func(t *testing.T) { testUpdateCallbackError(t, newStore) })
	t.Run("UpdateUndeclaredKey", func(t *testing.T) { testUpdateUndeclared(t, newStore) })
	t.Run("UpdateSeesExpiredAsAbsent", func(t *testing.T) { testUpdateExpired(t, newStore) })
	t.Run("UpdateDelete", func(t *testing.T) { testUpdateDelete(t, newStore) })
	t.Run("ConcurrentCreateIfAbsent", func(t *testing.T) { testConcurrentCreate(t, newStore) })
	t.Run("ConcurrentIncrement", func(t *testing.T) { testConcurrentIncrement(t, newStore) })
	t.Run("CancelledContext", func(t *testing.T) { testCancelled(t, newStore) })
}

func testGetMissing(t *testing.T, newStore Factory) {
	st, _ := newStore(t)
	if _, err := st.Get(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testPutGetDelete(t *testing.T, newStore Factory) {
	st, _ := newStore(t)
	ctx := context.Background()

	if err := st.Put(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.Put(ctx, "k", []byte("v2"), 0); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := st.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("expected v2, got %q", got)
	}

	if err := st.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.Delete(ctx, "k"); err != nil {
		t.Fatalf("second delete must be a no-op, got %v", err)
	}
	if _, err := st.Get(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func testTTL(t *testing.T, newStore Factory) {
	st, advance := newStore(t)
	ctx := context.Background()

	if err := st.Put(ctx, "short", []byte("x"), 2*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := st.Put(ctx, "forever", []byte("y"), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := st.Get(ctx, "short"); err != nil {
		t.Fatalf("expected live entry, got %v", err)
	}

	advance(3 * time.Second)

	if _, err := st.Get(ctx, "short"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected expired entry to be gone, got %v", err)
	}
	if _, err := st.Get(ctx, "forever"); err != nil {
		t.Fatalf("entry without ttl must not expire: %v", err)
	}
}

func testUpdateCommitsAllKeys(t *testing.T, newStore Factory) {
	st, _ := newStore(t)
	ctx := context.Background()

	err := st.Update(ctx, []string{"a", "b"}, func(tx store.Tx) error {
		if _, err := tx.Get("a"); !errors.Is(err, store.ErrNotFound) {
			return errors.New("a should be absent")
		}
		if err := tx.Put("a", []byte("1"), 0); err != nil {
			return err
		}
		got, err := tx.Get("a")
		if err != nil || string(got) != "1" {
			return errors.New("write not visible inside transaction")
		}
		return tx.Put("b", []byte("2"), time.Hour)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	for k, want := range map[string]string{"a": "1", "b": "2"} {
		got, err := st.Get(ctx, k)
		if err != nil {
			t.Fatalf("get %s: %v", k, err)
		}
		if string(got) != want {
			t.Fatalf("key %s: expected %q, got %q", k, want, got)
		}
	}
}

func testUpdateCallbackError(t *testing.T, newStore Factory) {
	st, _ := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.Update(ctx, []string{"a", "b"}, func(tx store.Tx) error {
		_ = tx.Put("a", []byte("1"), 0)
		_ = tx.Put("b", []byte("2"), 0)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if _, err := st.Get(ctx, k); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("key %s must not be written, got %v", k, err)
		}
	}
}

func testUpdateUndeclared(t *testing.T, newStore Factory) {
	st, _ := newStore(t)

	err := st.Update(context.Background(), []string{"a"}, func(tx store.Tx) error {
		return tx.Put("other", []byte("x"), 0)
	})
	if !errors.Is(err, store.ErrUndeclaredKey) {
		t.Fatalf("expected ErrUndeclaredKey, got %v", err)
	}
}

func testUpdateExpired(t *testing.T, newStore Factory) {
	st, advance := newStore(t)
	ctx := context.Background()

	if err := st.Put(ctx, "k", []byte("old"), time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	advance(2 * time.Second)

	err := st.Update(ctx, []string{"k"}, func(tx store.Tx) error {
		if _, err := tx.Get("k"); !errors.Is(err, store.ErrNotFound) {
			return errExists
		}
		return tx.Put("k", []byte("new"), 0)
	})
	if err != nil {
		t.Fatalf("update over expired key: %v", err)
	}
	got, err := st.Get(ctx, "k")
	if err != nil || string(got) != "new" {
		t.Fatalf("expected new value, got %q err=%v", got, err)
	}
}

func testUpdateDelete(t *testing.T, newStore Factory) {
	st, _ := newStore(t)
	ctx := context.Background()

	if err := st.Put(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	err := st.Update(ctx, []string{"k", "absent"}, func(tx store.Tx) error {
		if err := tx.Delete("absent"); err != nil {
			return err
		}
		return tx.Delete("k")
	})
	if err != nil {
		t.Fatalf("update delete: %v", err)
	}
	if _, err := st.Get(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted key, got %v", err)
	}
}

func testConcurrentCreate(t *testing.T, newStore Factory) {
	st, _ := newStore(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := st.Update(ctx, []string{"unique"}, func(tx store.Tx) error {
				if _, err := tx.Get("unique"); err == nil {
					return errExists
				} else if !errors.Is(err, store.ErrNotFound) {
					return err
				}
				return tx.Put("unique", []byte(strconv.Itoa(i)), 0)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, errExists):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("expected exactly one winner, got successes=%d conflicts=%d", successes, conflicts)
	}
}

func testConcurrentIncrement(t *testing.T, newStore Factory) {
	st, _ := newStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.Update(ctx, []string{"counter"}, func(tx store.Tx) error {
				n := 0
				raw, err := tx.Get("counter")
				switch {
				case err == nil:
					n, err = strconv.Atoi(string(raw))
					if err != nil {
						return err
					}
				case !errors.Is(err, store.ErrNotFound):
					return err
				}
				return tx.Put("counter", []byte(strconv.Itoa(n+1)), 0)
			})
			if err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	raw, err := st.Get(ctx, "counter")
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if string(raw) != strconv.Itoa(workers) {
		t.Fatalf("lost update: expected %d, got %s", workers, raw)
	}
}

func testCancelled(t *testing.T, newStore Factory) {
	st, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := st.Update(ctx, []string{"k"}, func(tx store.Tx) error {
		return tx.Put("k", []byte("v"), 0)
	})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for cancelled context, got %v", err)
	}
	if _, err := st.Get(context.Background(), "k"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cancelled update must not write, got %v", err)
	}
}
