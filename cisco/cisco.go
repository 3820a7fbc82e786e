/*
Package cisco syncs Cisco PSIRT openVuln advisories into the advisory store.
*/
package cisco

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/db"
	"github.com/hextrackr/advisory-sync/osfamily"
	"github.com/hextrackr/advisory-sync/reconcile"
	"github.com/hextrackr/advisory-sync/types"
	"github.com/hextrackr/advisory-sync/utils"
)

const (
	staleAfter = 30 * 24 * time.Hour
	// batch lookups are used while versions*batchRatio <= CVEs
	batchRatio = 2

	StrategyBatch  = "batch"
	StrategyPerCVE = "per-cve"
)

// Store is the read side of target selection.
type Store interface {
	StaleCVEs(ctx context.Context, vendor string, cutoff time.Time) ([]string, error)
	AdvisorySyncTimes(ctx context.Context, vendor string, cveIDs []string) (map[string]time.Time, error)
	InventoryItems(ctx context.Context, vendor string) ([]db.InventoryItem, error)
	VersionChecks(ctx context.Context) (map[string]types.VersionCheck, error)
	MarkVersionChecked(ctx context.Context, vc types.VersionCheck) error
}

type CredentialSource interface {
	Credentials(ctx context.Context, userID string) (types.Credentials, error)
}

type Updater struct {
	store       Store
	writer      *reconcile.Writer
	credentials CredentialSource
	tokens      *TokenManager
	fetcher     *Fetcher
	logger      *slog.Logger
	staleAfter  time.Duration
	clock       func() time.Time
}

type options struct {
	baseURL    string
	tokenURL   string
	httpClient *http.Client
	batchDelay time.Duration
	cveDelay   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
	clock      func() time.Time
}

type Option func(*options)

func WithBaseURL(url string) Option {
	return func(opts *options) { opts.baseURL = url }
}

func WithTokenURL(url string) Option {
	return func(opts *options) { opts.tokenURL = url }
}

// WithHTTPClient sets the client used for the token endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(opts *options) { opts.httpClient = c }
}

func WithDelays(batch, perCVE time.Duration) Option {
	return func(opts *options) {
		opts.batchDelay = batch
		opts.cveDelay = perCVE
	}
}

func WithStaleAfter(d time.Duration) Option {
	return func(opts *options) { opts.staleAfter = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) { opts.logger = logger }
}

func WithClock(clock func() time.Time) Option {
	return func(opts *options) { opts.clock = clock }
}

func NewUpdater(store Store, writer *reconcile.Writer, creds CredentialSource, opts ...Option) *Updater {
	o := &options{
		tokenURL:   tokenURL,
		baseURL:    baseURL,
		batchDelay: batchDelay,
		cveDelay:   cveDelay,
		staleAfter: staleAfter,
		logger:     utils.NopLogger(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Updater{
		store:       store,
		writer:      writer,
		credentials: creds,
		tokens:      NewTokenManager(o.tokenURL, o.httpClient),
		fetcher:     NewFetcher(o.baseURL, o.batchDelay, o.cveDelay),
		logger:      o.logger.With(slog.String("vendor", types.VendorCisco)),
		staleAfter:  o.staleAfter,
		clock:       o.clock,
	}
}

func (u *Updater) Vendor() string {
	return types.VendorCisco
}

// versionTarget is one installed release and the inventory CVEs reported on it.
type versionTarget struct {
	installed string
	parsed    osfamily.Result
	cves      map[string]struct{}
}

type plan struct {
	strategy string
	cves     []string
	versions []versionTarget
}

func (p plan) size() int {
	if p.strategy == StrategyBatch {
		return len(p.versions)
	}
	return len(p.cves)
}

// Update runs one sync: target selection, token, paced fetch and reconciliation.
func (u *Updater) Update(ctx context.Context, req types.SyncRequest) (types.Report, error) {
	p, err := u.plan(ctx, req.CVEs)
	if err != nil {
		return types.Report{}, xerrors.Errorf("cisco target selection: %w", err)
	}

	report := types.Report{Candidates: p.size(), Strategy: p.strategy}
	if p.size() == 0 {
		u.logger.Info("Nothing to sync")
		return report, nil
	}

	creds, err := u.credentials.Credentials(ctx, req.UserID)
	if err != nil {
		return types.Report{}, xerrors.Errorf("cisco credentials: %w", err)
	}
	token, err := u.tokens.Acquire(ctx, creds.ClientID, creds.ClientSecret)
	if err != nil {
		return types.Report{}, xerrors.Errorf("cisco token: %w", err)
	}

	u.logger.Info("Syncing Cisco advisories", slog.String("strategy", p.strategy), slog.Int("targets", p.size()))

	progress := types.ProgressOrNop(req.Progress)
	progress.Start(p.size())
	defer progress.Finish()

	if p.strategy == StrategyBatch {
		err = u.syncVersions(ctx, token, p.versions, &report, progress)
	} else {
		err = u.syncCVEs(ctx, token, p.cves, &report, progress)
	}
	if err != nil {
		return types.Report{}, err
	}

	u.logger.Info("Cisco sync finished", slog.Int("reconciled", report.Reconciled), slog.Int("matched", report.Matched),
		slog.Int("failed", report.Failed), slog.Int("not_found", report.NotFound), slog.Int("skipped", report.Skipped))
	return report, nil
}

func (u *Updater) plan(ctx context.Context, explicit []string) (plan, error) {
	cutoff := u.clock().Add(-u.staleAfter)

	if len(explicit) > 0 {
		cves := utils.NormalizeCVEs(explicit)
		synced, err := u.store.AdvisorySyncTimes(ctx, types.VendorCisco, cves)
		if err != nil {
			return plan{}, wrapSelection(err)
		}
		cves = lo.Filter(cves, func(c string, _ int) bool {
			t, ok := synced[c]
			return !ok || t.Before(cutoff)
		})
		return plan{strategy: StrategyPerCVE, cves: cves}, nil
	}

	staleCVEs, err := u.store.StaleCVEs(ctx, types.VendorCisco, cutoff)
	if err != nil {
		return plan{}, wrapSelection(err)
	}
	items, err := u.store.InventoryItems(ctx, types.VendorCisco)
	if err != nil {
		return plan{}, wrapSelection(err)
	}
	checks, err := u.store.VersionChecks(ctx)
	if err != nil {
		return plan{}, wrapSelection(err)
	}

	byVersion := map[string]*versionTarget{}
	for _, item := range items {
		if item.InstalledVersion == "" {
			continue
		}
		vt, ok := byVersion[item.InstalledVersion]
		if !ok {
			parsed, err := osfamily.Parse(item.InstalledVersion)
			if err != nil || parsed.Family == osfamily.PANOS {
				u.logger.Debug("Skipping unparseable installed version", slog.String("version", item.InstalledVersion))
				byVersion[item.InstalledVersion] = nil
				continue
			}
			vt = &versionTarget{installed: item.InstalledVersion, parsed: parsed, cves: map[string]struct{}{}}
			byVersion[item.InstalledVersion] = vt
		}
		if vt == nil {
			continue
		}
		vt.cves[item.CVE] = struct{}{}
	}

	var versions []versionTarget
	for installed, vt := range byVersion {
		if vt == nil {
			continue
		}
		if c, ok := checks[installed]; ok && !c.LastChecked.Before(cutoff) {
			continue
		}
		versions = append(versions, *vt)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].installed < versions[j].installed })

	if len(versions) > 0 && len(versions)*batchRatio <= len(staleCVEs) {
		return plan{strategy: StrategyBatch, versions: versions}, nil
	}
	return plan{strategy: StrategyPerCVE, cves: staleCVEs}, nil
}

func (u *Updater) syncCVEs(ctx context.Context, token string, cves []string, report *types.Report, progress types.Progress) error {
	for _, cveID := range cves {
		if err := ctx.Err(); err != nil {
			return err
		}
		u.syncCVE(ctx, token, cveID, report)
		progress.Increment()
	}
	return nil
}

func (u *Updater) syncCVE(ctx context.Context, token, cveID string, report *types.Report) {
	log := u.logger.With(slog.String("cve", cveID))

	advs, err := u.fetcher.FetchByCVE(ctx, token, cveID)
	if err != nil {
		u.countFailure(log, err, report)
		return
	}
	a, ok := pickAdvisory(advs, cveID)
	if !ok {
		report.NotFound++
		return
	}

	adv, err := toAdvisory(a, cveID)
	if err != nil {
		u.countFailure(log, err, report)
		return
	}
	res, err := u.writer.Reconcile(ctx, types.VendorCisco, adv, fixedFromCVE(a))
	if err != nil {
		u.countFailure(log, err, report)
		return
	}
	report.Reconciled++
	if res.FixAvailable {
		report.Matched++
	}
}

func (u *Updater) syncVersions(ctx context.Context, token string, versions []versionTarget, report *types.Report, progress types.Progress) error {
	reconciled := map[string]bool{}
	for _, vt := range versions {
		if err := ctx.Err(); err != nil {
			return err
		}
		u.syncVersion(ctx, token, vt, reconciled, report)
		progress.Increment()
	}

	report.Reconciled = len(reconciled)
	report.Matched = len(lo.PickBy(reconciled, func(_ string, fixed bool) bool { return fixed }))
	return nil
}

func (u *Updater) syncVersion(ctx context.Context, token string, vt versionTarget, reconciled map[string]bool, report *types.Report) {
	log := u.logger.With(slog.String("version", vt.installed), slog.String("os_family", vt.parsed.Family))

	advs, err := u.fetcher.FetchByVersion(ctx, token, vt.parsed.Family, vt.parsed.Version)
	if err != nil {
		u.countFailure(log, err, report)
		return
	}

	for _, a := range advs {
		for _, cveID := range utils.NormalizeCVEs(a.CVEs) {
			if _, ok := vt.cves[cveID]; !ok {
				continue
			}
			adv, err := toAdvisory(a, cveID)
			if err != nil {
				u.countFailure(log.With(slog.String("cve", cveID)), err, report)
				continue
			}
			res, err := u.writer.Reconcile(ctx, types.VendorCisco, adv, fixedFromVersion(a, vt.parsed))
			if err != nil {
				u.countFailure(log.With(slog.String("cve", cveID)), err, report)
				continue
			}
			reconciled[cveID] = reconciled[cveID] || res.FixAvailable
		}
	}

	err = u.store.MarkVersionChecked(ctx, types.VersionCheck{
		InstalledVersion: vt.installed,
		OSFamily:         vt.parsed.Family,
		AdvisoryCount:    len(advs),
		LastChecked:      u.clock(),
	})
	if err != nil {
		log.Error("Failed to record version check", slog.Any("err", err))
	}
}

func (u *Updater) countFailure(log *slog.Logger, err error, report *types.Report) {
	switch {
	case xerrors.Is(err, types.ErrNotFound):
		report.NotFound++
		return
	case xerrors.Is(err, types.ErrPersistence):
		log.Error("Failed to store advisory", slog.Any("err", err))
	case xerrors.Is(err, types.ErrRateLimited):
		log.Warn("Rate limited by openVuln", slog.Any("err", err))
	default:
		log.Warn("Skipping advisory", slog.Any("err", err))
	}
	report.Failed++
}

func wrapSelection(err error) error {
	return xerrors.Errorf("%s: %w", err.Error(), types.ErrTargetSelection)
}
