package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storybookai/pkg/domain"
	"storybookai/pkg/store"
)

// TTL is how long a saved list stays valid.
const TTL = 5 * time.Minute

// Channel names one cached book list.
type Channel string

const (
	Discover Channel = "discover"
	Library  Channel = "library"
)

// Key returns the storage key of the channel.
func (c Channel) Key() string {
	switch c {
	case Discover:
		return store.KeyDiscoverBooks
	case Library:
		return store.KeyLibraryBooks
	}
	return "cache_" + string(c) + "_books"
}

type entry struct {
	Data      []domain.Book `json:"data"`
	Timestamp int64         `json:"timestamp"`
}

// Cache stores book lists with a save timestamp. Expired entries are
// ignored on load but never rewritten or removed by it.
type Cache struct {
	kv     store.KV
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func New(kv store.KV, opts ...Option) *Cache {
	c := &Cache{kv: kv, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Save stores books under ch stamped with the current time.
func (c *Cache) Save(ctx context.Context, ch Channel, books []domain.Book) error {
	if books == nil {
		books = []domain.Book{}
	}
	data, err := json.Marshal(entry{Data: books, Timestamp: c.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode %s cache: %w", ch, err)
	}
	if err := c.kv.Set(ctx, ch.Key(), data); err != nil {
		c.logger.Warn("cache_save_failed", "channel", string(ch), "err", err)
		return fmt.Errorf("save %s cache: %w", ch, err)
	}
	return nil
}

// Load returns the cached list when it is younger than TTL.
func (c *Cache) Load(ctx context.Context, ch Channel) ([]domain.Book, bool) {
	raw, err := c.kv.Get(ctx, ch.Key())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("cache_load_failed", "channel", string(ch), "err", err)
		}
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("cache_entry_corrupt", "channel", string(ch), "err", err)
		return nil, false
	}
	age := c.now().Sub(time.UnixMilli(e.Timestamp))
	if age >= TTL {
		return nil, false
	}
	return e.Data, true
}

// Invalidate drops one channel.
func (c *Cache) Invalidate(ctx context.Context, ch Channel) error {
	if err := c.kv.Delete(ctx, ch.Key()); err != nil {
		return fmt.Errorf("invalidate %s cache: %w", ch, err)
	}
	return nil
}

// Clear drops every channel.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.kv.Delete(ctx, Discover.Key(), Library.Key()); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}
