// Package server exposes sync triggers, status and advisory lookups over HTTP.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/hextrackr/advisory-sync/cache"
	"github.com/hextrackr/advisory-sync/db"
	"github.com/hextrackr/advisory-sync/syncer"
	"github.com/hextrackr/advisory-sync/types"
	"github.com/hextrackr/advisory-sync/utils"
)

const (
	defaultUser  = "default"
	defaultHours = 24
	fixableLimit = 500

	statsTTL    = 5 * time.Minute
	listingsTTL = 2 * time.Minute
	// browserTTL lets the cache derive max-age from the server TTL.
	browserTTL time.Duration = -1
)

// routes maps URL segments to vendor tags.
var routes = map[string]string{
	types.VendorCisco:    "cisco",
	types.VendorPaloAlto: "palo-alto",
	types.VendorKEV:      "kev",
}

type Store interface {
	Advisory(ctx context.Context, vendor, cveID string) (types.Advisory, error)
	FixedVersions(ctx context.Context, vendor, cveID, osFamily string) ([]types.FixedVersion, error)
	KEV(ctx context.Context, cveID string) (types.KEV, error)
	FixStats(ctx context.Context) (db.FixStats, error)
	FixableVulnerabilities(ctx context.Context, limit int) ([]types.Vulnerability, error)
}

type Server struct {
	app    *fiber.App
	store  Store
	cache  *cache.Gateway
	logger *slog.Logger
}

type options struct {
	logger *slog.Logger
}

type option func(*options)

func WithLogger(logger *slog.Logger) option {
	return func(opts *options) { opts.logger = logger }
}

func New(store Store, gateway *cache.Gateway, coordinators []*syncer.Coordinator, opts ...option) *Server {
	o := &options{logger: utils.NopLogger()}
	for _, opt := range opts {
		opt(o)
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "advisory-sync",
			DisableStartupMessage: true,
			ReadTimeout:           60 * time.Second,
		}),
		store:  store,
		cache:  gateway,
		logger: o.logger,
	}

	s.app.Use(fiberrecover.New())
	s.app.Use(s.logRequest)

	s.app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	api := s.app.Group("/api")
	for _, coord := range coordinators {
		s.mountVendor(api.Group("/"+routes[coord.Vendor()]), coord)
	}

	vulns := api.Group("/vulnerabilities")
	vulns.Get("/fix-stats", s.fixStats)
	vulns.Get("/fixable", s.fixable)
	api.Get("/cache/stats", s.cacheStats)

	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	s.logger.Info("Listening", slog.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) logRequest(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("Request", slog.String("method", c.Method()), slog.String("path", c.Path()),
		slog.Int("status", c.Response().StatusCode()), slog.Duration("took", time.Since(start)))
	return err
}
