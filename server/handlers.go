package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/cache"
	"github.com/hextrackr/advisory-sync/syncer"
	"github.com/hextrackr/advisory-sync/types"
)

type syncBody struct {
	CVEs []string `json:"cves"`
}

func (s *Server) mountVendor(r fiber.Router, coord *syncer.Coordinator) {
	vendor := coord.Vendor()

	r.Post("/sync", func(c *fiber.Ctx) error {
		var body syncBody
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&body); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error":   "invalid request body",
					"message": err.Error(),
				})
			}
		}
		user := c.Get("X-User-ID", defaultUser)

		report, err := coord.Sync(c.UserContext(), types.SyncRequest{UserID: user, CVEs: body.CVEs})
		switch {
		case xerrors.Is(err, types.ErrSyncInProgress):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": types.ErrSyncInProgress.Error()})
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   vendor + " sync failed",
				"message": err.Error(),
			})
		}

		status, err := coord.Status(c.UserContext())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "status unavailable",
				"message": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"success": true,
			"report":  report,
			"status":  status,
		})
	})

	r.Get("/status", func(c *fiber.Ctx) error {
		status, err := coord.Status(c.UserContext())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "status unavailable",
				"message": err.Error(),
			})
		}
		return c.JSON(status)
	})

	r.Get("/check-autosync", func(c *fiber.Ctx) error {
		hours := c.QueryInt("hours", defaultHours)
		if hours < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "hours must not be negative"})
		}
		due, err := coord.IsAutoSyncDue(c.UserContext(), time.Duration(hours)*time.Hour)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "status unavailable",
				"message": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"needsSync": due, "hours": hours})
	})

	r.Get("/advisory/:cveId", func(c *fiber.Ctx) error {
		cveID := strings.ToUpper(c.Params("cveId"))
		var (
			v   any
			err error
		)
		if vendor == types.VendorKEV {
			v, err = s.store.KEV(c.UserContext(), cveID)
		} else {
			v, err = s.store.Advisory(c.UserContext(), vendor, cveID)
		}
		switch {
		case xerrors.Is(err, types.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found", "cveId": cveID})
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "lookup failed",
				"message": err.Error(),
			})
		}
		return c.JSON(v)
	})

	if vendor == types.VendorKEV {
		return
	}
	r.Get("/fixed-versions/:cveId", func(c *fiber.Ctx) error {
		cveID := strings.ToUpper(c.Params("cveId"))
		fixed, err := s.store.FixedVersions(c.UserContext(), vendor, cveID, c.Query("os_family"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "lookup failed",
				"message": err.Error(),
			})
		}
		if fixed == nil {
			fixed = []types.FixedVersion{}
		}
		return c.JSON(fiber.Map{"cveId": cveID, "fixedVersions": fixed})
	})
}

func (s *Server) fixStats(c *fiber.Ctx) error {
	return s.cache.WithCaching(c, cache.ScopeStats, "fix-stats", statsTTL, browserTTL, func() (any, error) {
		return s.store.FixStats(c.UserContext())
	})
}

func (s *Server) fixable(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", fixableLimit)
	if limit <= 0 || limit > fixableLimit {
		limit = fixableLimit
	}
	key := fmt.Sprintf("fixable:%d", limit)
	return s.cache.WithCaching(c, cache.ScopeListings, key, listingsTTL, browserTTL, func() (any, error) {
		vulns, err := s.store.FixableVulnerabilities(c.UserContext(), limit)
		if err != nil {
			return nil, err
		}
		if vulns == nil {
			vulns = []types.Vulnerability{}
		}
		return fiber.Map{"count": len(vulns), "limit": limit, "vulnerabilities": vulns}, nil
	})
}

func (s *Server) cacheStats(c *fiber.Ctx) error {
	return c.JSON(s.cache.Stats())
}
