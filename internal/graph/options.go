package graph

import (
	"log/slog"
	"time"

	"github.com/lazypower/canopy/internal/events"
	"github.com/lazypower/canopy/internal/metrics"
	"github.com/lazypower/canopy/internal/protect"
)

// Option configures a Cache.
type Option func(*Cache)

// WithStore persists the cache through s. Without a store the cache runs
// in memory only and keeps note content in a map.
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.clock = now
		}
	}
}

// WithBus publishes change events to b.
func WithBus(b *events.Bus) Option {
	return func(c *Cache) { c.bus = b }
}

// WithProtectedSession sets the service that decrypts protected notes.
func WithProtectedSession(s protect.Session) Option {
	return func(c *Cache) {
		if s != nil {
			c.session = s
		}
	}
}

// WithMetrics records cache metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithSearchResolver sets the resolver used for search notes.
func WithSearchResolver(r SearchResolver) Option {
	return func(c *Cache) { c.resolver = r }
}
