// Package reconcile merges parsed vendor advisories into storage and keeps the
// vendor-neutral fix flag on the inventory in step with them.
package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/types"
	"github.com/hextrackr/advisory-sync/utils"
)

// Repository is the storage surface the writer needs.
type Repository interface {
	UpsertAdvisory(ctx context.Context, vendor string, adv types.Advisory) error
	UpsertFixedVersion(ctx context.Context, vendor string, fv types.FixedVersion) error
	FixedVersionsForCVE(ctx context.Context, cveID string) ([]string, error)
	UpdateFixFlag(ctx context.Context, cveID string, fixAvailable bool, summary string) (int64, error)
}

// Result describes the projection written for one CVE.
type Result struct {
	FixAvailable  bool
	FixedVersions []string
	RowsUpdated   int64
}

type Writer struct {
	repo   Repository
	logger *slog.Logger
	clock  func() time.Time
}

type option func(*Writer)

func WithLogger(logger *slog.Logger) option {
	return func(w *Writer) {
		w.logger = logger
	}
}

func WithClock(clock func() time.Time) option {
	return func(w *Writer) {
		w.clock = clock
	}
}

func NewWriter(repo Repository, opts ...option) *Writer {
	w := &Writer{
		repo:   repo,
		logger: utils.NopLogger(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Reconcile writes one advisory and its fixed versions, then recomputes the
// fix flag of every inventory row sharing the CVE. The three steps commit
// independently; a failure in a later step leaves earlier writes in place and
// the next run reconverges the flag.
func (w *Writer) Reconcile(ctx context.Context, vendor string, adv types.Advisory, fixed []types.FixedVersion) (Result, error) {
	now := w.clock().UTC()
	adv.LastSynced = now
	if err := w.repo.UpsertAdvisory(ctx, vendor, adv); err != nil {
		return Result{}, xerrors.Errorf("advisory upsert %s: %w", adv.CVEID, wrapPersistence(err))
	}

	fixed = lo.UniqBy(fixed, func(fv types.FixedVersion) string { return fv.Key() })
	for _, fv := range fixed {
		if fv.FixedVersion == "" {
			continue
		}
		fv.CVEID = adv.CVEID
		fv.LastSynced = now
		if err := w.repo.UpsertFixedVersion(ctx, vendor, fv); err != nil {
			return Result{}, xerrors.Errorf("fixed version upsert %s: %w", fv.Key(), wrapPersistence(err))
		}
	}

	return w.ProjectFixFlag(ctx, adv.CVEID)
}

// ProjectFixFlag sets is_fix_available from the union of fixed versions
// recorded for cveID by any vendor.
func (w *Writer) ProjectFixFlag(ctx context.Context, cveID string) (Result, error) {
	versions, err := w.repo.FixedVersionsForCVE(ctx, cveID)
	if err != nil {
		return Result{}, xerrors.Errorf("fixed version lookup %s: %w", cveID, wrapPersistence(err))
	}
	versions = SortVersions(versions)

	res := Result{
		FixAvailable:  len(versions) > 0,
		FixedVersions: versions,
	}
	res.RowsUpdated, err = w.repo.UpdateFixFlag(ctx, cveID, res.FixAvailable, strings.Join(versions, ", "))
	if err != nil {
		return Result{}, xerrors.Errorf("fix flag update %s: %w", cveID, wrapPersistence(err))
	}

	w.logger.Debug("Fix flag projected", slog.String("cve", cveID), slog.Bool("fix_available", res.FixAvailable),
		slog.Int64("rows", res.RowsUpdated))
	return res, nil
}

// SortVersions dedupes and orders versions ascending. Semantic versions come
// first in semver order; vendor formats semver cannot read follow in string order.
func SortVersions(versions []string) []string {
	versions = lo.Uniq(lo.Filter(versions, func(v string, _ int) bool { return v != "" }))

	type parsed struct {
		raw string
		v   *semver.Version
	}
	items := lo.Map(versions, func(raw string, _ int) parsed {
		v, err := semver.NewVersion(raw)
		if err != nil {
			return parsed{raw: raw}
		}
		return parsed{raw: raw, v: v}
	})

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch {
		case a.v != nil && b.v != nil:
			if c := a.v.Compare(b.v); c != 0 {
				return c < 0
			}
			return a.raw < b.raw
		case a.v != nil:
			return true
		case b.v != nil:
			return false
		}
		return a.raw < b.raw
	})
	return lo.Map(items, func(p parsed, _ int) string { return p.raw })
}

func wrapPersistence(err error) error {
	if xerrors.Is(err, types.ErrPersistence) {
		return err
	}
	return xerrors.Errorf("%s: %w", err.Error(), types.ErrPersistence)
}
