package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/storetest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// SQLite allows a single writer; one connection keeps the in-memory database alive
	// and serializes access.
	sqlDB.SetMaxOpenConns(1)

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s, err := New(db, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (store.Store, func(time.Duration)) {
		s, clock := newTestStore(t)
		return s, clock.Advance
	})
}

func TestSweepDeletesExpiredRows(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "short", []byte("x"), time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "long", []byte("y"), time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	clock.Advance(time.Minute)

	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept row, got %d", n)
	}
	if _, err := s.Get(ctx, "long"); err != nil {
		t.Fatalf("live row removed: %v", err)
	}
}

func TestVersionAdvancesOnEveryWrite(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Put(ctx, "k", []byte{byte(i)}, 0); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	var row kvEntry
	if err := s.db.Where("entry_key = ?", "k").Take(&row).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.Version != 3 {
		t.Fatalf("expected version 3, got %d", row.Version)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", ""); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
