package graph

import (
	"context"
	"fmt"
)

// Exclusive runs fn while holding the cache's exclusive region. Waiters are
// admitted in arrival order; a waiter whose ctx ends first gives up its
// place and gets the context error.
func (c *Cache) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire exclusive: %w", err)
	}
	defer c.sem.Release(1)
	return fn(ctx)
}
