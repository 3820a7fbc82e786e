package cache_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/cache"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func TestGateway(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	g, err := cache.NewGateway(cache.WithClock(clock.Now), cache.WithScope(cache.ScopeListings, cache.ScopeConfig{MaxKeys: 2, TTL: time.Minute}))
	require.NoError(t, err)

	_, ok := g.Get(cache.ScopeStats, "fix-stats")
	assert.False(t, ok)

	g.Set(cache.ScopeStats, "fix-stats", 42)
	v, ok := g.Get(cache.ScopeStats, "fix-stats")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	t.Run("expiry", func(t *testing.T) {
		g.Set(cache.ScopeListings, "a", "a")
		g.SetWithTTL(cache.ScopeListings, "b", "b", 0)
		clock.now = clock.now.Add(time.Minute)
		_, ok := g.Get(cache.ScopeListings, "a")
		assert.False(t, ok)
		_, ok = g.Get(cache.ScopeListings, "b")
		assert.True(t, ok)
	})

	t.Run("bounded", func(t *testing.T) {
		g.Clear(cache.ScopeListings)
		for _, k := range []string{"x", "y", "z"} {
			g.Set(cache.ScopeListings, k, k)
		}
		assert.Equal(t, 2, g.Stats().Keys[cache.ScopeListings])
		_, ok := g.Get(cache.ScopeListings, "x")
		assert.False(t, ok)
	})

	t.Run("clear all", func(t *testing.T) {
		g.ResetStats()
		g.Set(cache.ScopeTrends, "t", 1)
		g.ClearAll()

		st := g.Stats()
		assert.Equal(t, []string{cache.ScopeListings, cache.ScopeStats, cache.ScopeTrends}, st.Scopes)
		assert.EqualValues(t, 3, st.Invalidations)
		for _, n := range st.Keys {
			assert.Zero(t, n)
		}
		_, ok := g.Get(cache.ScopeTrends, "t")
		assert.False(t, ok)
	})

	t.Run("unknown scope uses stats", func(t *testing.T) {
		g.Set("dashboard", "k", "v")
		v, ok := g.Get(cache.ScopeStats, "k")
		assert.True(t, ok)
		assert.Equal(t, "v", v)
	})
}

func TestGateway_WithCaching(t *testing.T) {
	g, err := cache.NewGateway()
	require.NoError(t, err)

	var computed int
	app := fiber.New()
	app.Get("/stats", func(c *fiber.Ctx) error {
		return g.WithCaching(c, cache.ScopeStats, "stats", 5*time.Minute, -1, func() (any, error) {
			computed++
			return fiber.Map{"total": 7}, nil
		})
	})
	app.Get("/broken", func(c *fiber.Ctx) error {
		return g.WithCaching(c, cache.ScopeStats, "broken", time.Minute, 10*time.Second, func() (any, error) {
			return nil, xerrors.New("database is locked")
		})
	})

	for i, want := range []string{"MISS", "HIT"} {
		resp, err := app.Test(httptest.NewRequest("GET", "/stats", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, i)
		assert.Equal(t, want, resp.Header.Get("X-Cache"))
		assert.Equal(t, "public, max-age=60, must-revalidate", resp.Header.Get("Cache-Control"))
		body, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{"total":7}`, string(body))
	}
	assert.Equal(t, 1, computed)

	g.ClearAll()
	resp, err := app.Test(httptest.NewRequest("GET", "/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Equal(t, 2, computed)

	resp, err = app.Test(httptest.NewRequest("GET", "/broken", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-Cache"))
}
