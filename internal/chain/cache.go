package chain

import (
	"context"
	"sync"
	"time"

	"github.com/emberchat/ember-server/internal/clock"
)

// Cache wraps a Source and serves a height for up to ttl before asking
// the upstream again. Once a height has been seen, a failed refresh
// serves the stale value instead of an error; time-locks only ever move
// toward unlocked, so a stale height is at worst conservative.
type Cache struct {
	src Source
	clk clock.Clock
	ttl time.Duration

	mu        sync.Mutex
	height    int64
	fetchedAt time.Time
	primed    bool
}

// NewCache builds a Cache over src. A non-positive ttl falls back to
// 30 seconds.
func NewCache(src Source, clk clock.Clock, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{src: src, clk: clk, ttl: ttl}
}

// Height returns the cached height while fresh, refreshing from the
// upstream otherwise. An error is returned only when no height has ever
// been fetched.
func (c *Cache) Height(ctx context.Context) (int64, error) {
	c.mu.Lock()
	if c.primed && c.clk.Now().Sub(c.fetchedAt) < c.ttl {
		h := c.height
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	h, err := c.src.Height(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.primed {
			return c.height, nil
		}
		return 0, err
	}
	c.height = h
	c.fetchedAt = c.clk.Now()
	c.primed = true
	return h, nil
}
