// Package cache holds short-lived read models served by the API. Sync runs
// invalidate every scope once they commit new data.
package cache

import (
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/hextrackr/advisory-sync/utils"
)

const (
	ScopeStats    = "stats"
	ScopeTrends   = "trends"
	ScopeListings = "listings"
)

// ScopeConfig bounds one scope.
type ScopeConfig struct {
	MaxKeys int           `yaml:"max_keys"`
	TTL     time.Duration `yaml:"ttl"`
}

func DefaultScopes() map[string]ScopeConfig {
	return map[string]ScopeConfig{
		ScopeStats:    {MaxKeys: 100, TTL: 30 * time.Minute},
		ScopeTrends:   {MaxKeys: 100, TTL: 30 * time.Minute},
		ScopeListings: {MaxKeys: 50, TTL: 30 * time.Minute},
	}
}

type entry struct {
	value   any
	expires time.Time
}

type scope struct {
	ttl   time.Duration
	items *lru.Cache[string, entry]
}

// Statistics are counted across all scopes since start or the last reset.
type Statistics struct {
	Hits          int64            `json:"hits"`
	Misses        int64            `json:"misses"`
	Invalidations int64            `json:"invalidations"`
	HitRate       float64          `json:"hitRate"`
	Keys          map[string]int   `json:"keys"`
	Scopes        []string         `json:"scopes"`
	TTLs          map[string]int64 `json:"ttlSeconds"`
}

type Gateway struct {
	scopes map[string]*scope
	logger *slog.Logger
	clock  func() time.Time

	mu            sync.Mutex
	hits          int64
	misses        int64
	invalidations int64
}

type options struct {
	scopes map[string]ScopeConfig
	logger *slog.Logger
	clock  func() time.Time
}

type Option func(*options)

// WithScope adds or replaces a scope.
func WithScope(name string, cfg ScopeConfig) Option {
	return func(opts *options) { opts.scopes[name] = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) { opts.logger = logger }
}

func WithClock(clock func() time.Time) Option {
	return func(opts *options) { opts.clock = clock }
}

func NewGateway(opts ...Option) (*Gateway, error) {
	o := &options{
		scopes: DefaultScopes(),
		logger: utils.NopLogger(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	g := &Gateway{
		scopes: map[string]*scope{},
		logger: o.logger,
		clock:  o.clock,
	}
	for name, cfg := range o.scopes {
		items, err := lru.New[string, entry](max(cfg.MaxKeys, 1))
		if err != nil {
			return nil, err
		}
		g.scopes[name] = &scope{ttl: cfg.TTL, items: items}
	}
	return g, nil
}

// lookup falls back to the stats scope for unknown names.
func (g *Gateway) lookup(name string) *scope {
	if s, ok := g.scopes[name]; ok {
		return s
	}
	return g.scopes[ScopeStats]
}

func (g *Gateway) Get(name, key string) (any, bool) {
	s := g.lookup(name)
	var (
		e  entry
		ok bool
	)
	if s != nil {
		e, ok = s.items.Get(key)
		if ok && !e.expires.IsZero() && !g.clock().Before(e.expires) {
			s.items.Remove(key)
			ok = false
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !ok {
		g.misses++
		return nil, false
	}
	g.hits++
	return e.value, true
}

// Set stores value with the scope's default TTL.
func (g *Gateway) Set(name, key string, value any) {
	s := g.lookup(name)
	if s == nil {
		return
	}
	g.SetWithTTL(name, key, value, s.ttl)
}

// SetWithTTL stores value for ttl. A non-positive ttl never expires.
func (g *Gateway) SetWithTTL(name, key string, value any, ttl time.Duration) {
	s := g.lookup(name)
	if s == nil {
		return
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expires = g.clock().Add(ttl)
	}
	s.items.Add(key, e)
}

func (g *Gateway) Delete(name, key string) {
	if s := g.lookup(name); s != nil {
		s.items.Remove(key)
	}
	g.countInvalidation()
}

func (g *Gateway) Clear(name string) {
	if s := g.lookup(name); s != nil {
		s.items.Purge()
	}
	g.countInvalidation()
}

func (g *Gateway) ClearAll() {
	for _, name := range g.names() {
		g.Clear(name)
	}
	g.logger.Info("All caches cleared")
}

func (g *Gateway) countInvalidation() {
	g.mu.Lock()
	g.invalidations++
	g.mu.Unlock()
}

func (g *Gateway) names() []string {
	names := maps.Keys(g.scopes)
	slices.Sort(names)
	return names
}

func (g *Gateway) Stats() Statistics {
	st := Statistics{
		Keys:   map[string]int{},
		TTLs:   map[string]int64{},
		Scopes: g.names(),
	}
	for _, name := range st.Scopes {
		s := g.scopes[name]
		st.Keys[name] = s.items.Len()
		st.TTLs[name] = int64(s.ttl / time.Second)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	st.Hits, st.Misses, st.Invalidations = g.hits, g.misses, g.invalidations
	if total := g.hits + g.misses; total > 0 {
		st.HitRate = float64(g.hits) / float64(total)
	}
	return st
}

func (g *Gateway) ResetStats() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hits, g.misses, g.invalidations = 0, 0, 0
}
