package cache

import (
	"context"
	"testing"
	"time"

	"storybookai/internal/util"
	"storybookai/pkg/domain"
	"storybookai/pkg/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestCache(kv store.KV, clock *fakeClock) *Cache {
	return New(kv, WithClock(clock.Now), WithLogger(util.DiscardLogger()))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestCache(store.NewMemoryStore(), clock)

	books := []domain.Book{{ID: 1, Name: "Mira and the Moon", Theme: "Space Explorer"}}
	if err := c.Save(ctx, Discover, books); err != nil {
		t.Fatalf("save: %v", err)
	}
	clock.now = clock.now.Add(4*time.Minute + 59*time.Second)
	got, ok := c.Load(ctx, Discover)
	if !ok || len(got) != 1 || got[0].Name != books[0].Name {
		t.Fatalf("load = %+v, %v", got, ok)
	}
	if _, ok := c.Load(ctx, Library); ok {
		t.Fatalf("library channel should be empty")
	}
}

func TestLoadExpiredDoesNotDelete(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestCache(kv, clock)

	if err := c.Save(ctx, Library, []domain.Book{{ID: 2, Name: "Forest Friends"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	before, _ := kv.Get(ctx, store.KeyLibraryBooks)

	clock.now = clock.now.Add(TTL)
	if _, ok := c.Load(ctx, Library); ok {
		t.Fatalf("entry at exactly TTL must be expired")
	}
	after, err := kv.Get(ctx, store.KeyLibraryBooks)
	if err != nil {
		t.Fatalf("expired entry was removed: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("expired entry was rewritten: %s != %s", before, after)
	}

	// turning the clock back makes the untouched entry valid again
	clock.now = clock.now.Add(-time.Minute)
	if _, ok := c.Load(ctx, Library); !ok {
		t.Fatalf("expected entry to be valid again")
	}
}

func TestCorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	_ = kv.Set(ctx, store.KeyDiscoverBooks, []byte(`{"data":"nope"`))
	c := newTestCache(kv, &fakeClock{now: time.Now()})
	if _, ok := c.Load(ctx, Discover); ok {
		t.Fatalf("corrupt entry should miss")
	}
}

func TestInvalidateAndClear(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(store.NewMemoryStore(), clock)
	_ = c.Save(ctx, Discover, []domain.Book{{ID: 1}})
	_ = c.Save(ctx, Library, []domain.Book{{ID: 2}})

	if err := c.Invalidate(ctx, Library); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok := c.Load(ctx, Library); ok {
		t.Fatalf("library should be gone")
	}
	if _, ok := c.Load(ctx, Discover); !ok {
		t.Fatalf("discover should survive library invalidation")
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := c.Load(ctx, Discover); ok {
		t.Fatalf("discover should be cleared")
	}
}

func TestSaveNilStoresEmptyList(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(store.NewMemoryStore(), &fakeClock{now: time.Now()})
	if err := c.Save(ctx, Library, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok := c.Load(ctx, Library)
	if !ok || got == nil || len(got) != 0 {
		t.Fatalf("load = %#v, %v", got, ok)
	}
}
