package discovery

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Cache holds the process-wide discovery result. The first successful
// discovery is kept for the life of the process and never refreshed. Failures
// are not remembered, so the next Get tries again.
type Cache struct {
	cfg Config

	provider atomic.Pointer[Provider]
	group    singleflight.Group

	// discover is swapped in tests.
	discover func(context.Context, Config) (*Provider, error)
}

// NewCache returns an empty cache for cfg. No network calls are made until
// the first Get.
func NewCache(cfg Config) *Cache {
	return &Cache{cfg: cfg, discover: Discover}
}

// Get returns the cached provider, discovering it if needed. Concurrent
// callers on a cold cache share one discovery.
func (c *Cache) Get(ctx context.Context) (*Provider, error) {
	if p := c.provider.Load(); p != nil {
		return p, nil
	}

	v, err, _ := c.group.Do("discover", func() (interface{}, error) {
		if p := c.provider.Load(); p != nil {
			return p, nil
		}
		// shared by every waiter, so one caller going away must not fail
		// the others
		p, err := c.discover(context.WithoutCancel(ctx), c.cfg)
		if err != nil {
			return nil, err
		}
		if !c.provider.CompareAndSwap(nil, p) {
			return c.provider.Load(), nil
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Provider), nil
}
