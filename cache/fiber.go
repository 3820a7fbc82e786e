package cache

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

const maxBrowserTTL = 60 * time.Second

// WithCaching answers c from the cache, or computes, stores and answers the value.
// A negative browserTTL defaults to min(serverTTL, 60s).
func (g *Gateway) WithCaching(c *fiber.Ctx, scope, key string, serverTTL, browserTTL time.Duration,
	compute func() (any, error)) error {
	if browserTTL < 0 {
		browserTTL = min(serverTTL, maxBrowserTTL)
	}
	cacheControl := fmt.Sprintf("public, max-age=%d, must-revalidate", int(browserTTL/time.Second))

	if v, ok := g.Get(scope, key); ok {
		c.Set("X-Cache", "HIT")
		c.Set(fiber.HeaderCacheControl, cacheControl)
		return c.JSON(v)
	}

	v, err := compute()
	if err != nil {
		return err
	}
	g.SetWithTTL(scope, key, v, serverTTL)

	c.Set("X-Cache", "MISS")
	c.Set(fiber.HeaderCacheControl, cacheControl)
	return c.JSON(v)
}
