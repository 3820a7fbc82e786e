/*
Package paloalto syncs Palo Alto Networks security advisories, published as
CVE JSON 5.0 records, into the advisory store.
*/
package paloalto

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/osfamily"
	"github.com/hextrackr/advisory-sync/reconcile"
	"github.com/hextrackr/advisory-sync/types"
	"github.com/hextrackr/advisory-sync/utils"
)

const (
	baseURL        = "https://security.paloaltonetworks.com/json"
	publicationURL = "https://security.paloaltonetworks.com"
	delay          = 250 * time.Millisecond
	staleAfter     = 30 * 24 * time.Hour
	product        = "PAN-OS"
)

type Store interface {
	StaleCVEs(ctx context.Context, vendor string, cutoff time.Time) ([]string, error)
	AdvisorySyncTimes(ctx context.Context, vendor string, cveIDs []string) (map[string]time.Time, error)
}

type Updater struct {
	store      Store
	writer     *reconcile.Writer
	baseURL    string
	pacer      *utils.Pacer
	retry      int
	staleAfter time.Duration
	logger     *slog.Logger
	clock      func() time.Time
}

type options struct {
	baseURL    string
	delay      time.Duration
	retry      int
	staleAfter time.Duration
	logger     *slog.Logger
	clock      func() time.Time
}

type Option func(*options)

func WithBaseURL(url string) Option {
	return func(opts *options) { opts.baseURL = url }
}

func WithDelay(d time.Duration) Option {
	return func(opts *options) { opts.delay = d }
}

// WithRetry enables retries of transport errors and 5xx responses.
func WithRetry(retry int) Option {
	return func(opts *options) { opts.retry = retry }
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

func NewUpdater(store Store, writer *reconcile.Writer, opts ...Option) *Updater {
	o := &options{
		baseURL:    baseURL,
		delay:      delay,
		staleAfter: staleAfter,
		logger:     utils.NopLogger(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Updater{
		store:      store,
		writer:     writer,
		baseURL:    strings.TrimSuffix(o.baseURL, "/"),
		pacer:      utils.NewPacer(o.delay),
		retry:      o.retry,
		staleAfter: o.staleAfter,
		logger:     o.logger.With(slog.String("vendor", types.VendorPaloAlto)),
		clock:      o.clock,
	}
}

func (u *Updater) Vendor() string {
	return types.VendorPaloAlto
}

func (u *Updater) Update(ctx context.Context, req types.SyncRequest) (types.Report, error) {
	cves, err := u.targets(ctx, req.CVEs)
	if err != nil {
		return types.Report{}, xerrors.Errorf("palo alto target selection: %w", err)
	}

	report := types.Report{Candidates: len(cves)}
	if len(cves) == 0 {
		u.logger.Info("Nothing to sync")
		return report, nil
	}
	u.logger.Info("Syncing Palo Alto advisories", slog.Int("targets", len(cves)))

	progress := types.ProgressOrNop(req.Progress)
	progress.Start(len(cves))
	defer progress.Finish()

	for _, cveID := range cves {
		if err = ctx.Err(); err != nil {
			return types.Report{}, err
		}
		u.sync(ctx, cveID, &report)
		progress.Increment()
	}

	u.logger.Info("Palo Alto sync finished", slog.Int("reconciled", report.Reconciled), slog.Int("matched", report.Matched),
		slog.Int("failed", report.Failed), slog.Int("not_found", report.NotFound))
	return report, nil
}

func (u *Updater) targets(ctx context.Context, explicit []string) ([]string, error) {
	cutoff := u.clock().Add(-u.staleAfter)
	if len(explicit) == 0 {
		cves, err := u.store.StaleCVEs(ctx, types.VendorPaloAlto, cutoff)
		if err != nil {
			return nil, xerrors.Errorf("%s: %w", err.Error(), types.ErrTargetSelection)
		}
		return cves, nil
	}

	cves := utils.NormalizeCVEs(explicit)
	synced, err := u.store.AdvisorySyncTimes(ctx, types.VendorPaloAlto, cves)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", err.Error(), types.ErrTargetSelection)
	}
	return lo.Filter(cves, func(c string, _ int) bool {
		t, ok := synced[c]
		return !ok || t.Before(cutoff)
	}), nil
}

func (u *Updater) sync(ctx context.Context, cveID string, report *types.Report) {
	log := u.logger.With(slog.String("cve", cveID))

	rec, err := u.FetchByCVE(ctx, cveID)
	if err != nil {
		switch {
		case xerrors.Is(err, types.ErrNotFound):
			log.Debug("No advisory published")
			report.NotFound++
			return
		case xerrors.Is(err, types.ErrRateLimited):
			log.Warn("Rate limited", slog.Any("err", err))
		default:
			log.Warn("Skipping advisory", slog.Any("err", err))
		}
		report.Failed++
		return
	}

	adv, fixed, err := Parse(rec, cveID)
	if err != nil {
		log.Warn("Unusable advisory payload", slog.Any("err", err))
		report.Failed++
		return
	}

	res, err := u.writer.Reconcile(ctx, types.VendorPaloAlto, adv, fixed)
	if err != nil {
		log.Error("Failed to store advisory", slog.Any("err", err))
		report.Failed++
		return
	}
	report.Reconciled++
	if res.FixAvailable {
		report.Matched++
	}
}

// FetchByCVE downloads the CVE record of cveID. An unpublished CVE yields types.ErrNotFound.
func (u *Updater) FetchByCVE(ctx context.Context, cveID string) (Record, error) {
	if err := u.pacer.Wait(ctx); err != nil {
		return Record{}, err
	}

	b, err := utils.Fetch(fmt.Sprintf("%s/%s", u.baseURL, url.PathEscape(cveID)),
		utils.WithHeader("Accept", "application/json"),
		utils.WithRetry(u.retry),
	)
	if err != nil {
		return Record{}, xerrors.Errorf("palo alto request failed: %w", err)
	}

	var rec Record
	if err = json.Unmarshal(b, &rec); err != nil {
		return Record{}, xerrors.Errorf("invalid CVE record (%s): %w", err, types.ErrParse)
	}
	return rec, nil
}

// Parse normalizes a CVE record into an advisory and the PAN-OS releases that fix it.
func Parse(rec Record, queried string) (types.Advisory, []types.FixedVersion, error) {
	cna := rec.Containers.CNA
	if rec.CVEMetadata.CVEID == "" || cna == nil {
		return types.Advisory{}, nil, xerrors.Errorf("record for %s has no CNA container: %w", queried, types.ErrParse)
	}
	cveID := strings.ToUpper(rec.CVEMetadata.CVEID)

	severity, score := metrics(cna.Metrics)
	adv := types.Advisory{
		CVEID:            cveID,
		AdvisoryID:       cveID,
		Title:            strings.TrimSpace(cna.Title),
		Summary:          description(cna.Descriptions),
		Severity:         severity,
		CVSSScore:        score,
		ProductNames:     lo.Uniq(lo.Compact(lo.Map(cna.Affected, func(a Affected, _ int) string { return a.Product }))),
		AffectedVersions: affectedVersions(cna.AffectedList),
		PublicationURL:   fmt.Sprintf("%s/%s", publicationURL, cveID),
		FirstPublished:   normalizeDate(rec.CVEMetadata.DatePublished),
	}

	var fixed []types.FixedVersion
	for _, a := range cna.Affected {
		if a.Product != product {
			continue
		}
		for _, v := range a.Versions {
			for _, c := range v.Changes {
				if c.Status != "unaffected" || c.At == "" {
					continue
				}
				fixed = append(fixed, types.FixedVersion{
					CVEID:           cveID,
					OSFamily:        osfamily.PANOS,
					FixedVersion:    c.At,
					AffectedVersion: v.Version,
				})
			}
		}
	}
	return adv, fixed, nil
}

// metrics prefers CVSS v4.0 over v3.1. A missing score is computed from the vector.
func metrics(ms []Metric) (string, float64) {
	var picked *CVSS
	for _, m := range ms {
		if m.CVSSV40 != nil {
			picked = m.CVSSV40
			break
		}
		if m.CVSSV31 != nil && picked == nil {
			picked = m.CVSSV31
		}
	}
	if picked == nil {
		return "", 0
	}

	score := picked.BaseScore
	if score == 0 {
		score = utils.ScoreFromVector(picked.VectorString)
	}
	severity := strings.ToUpper(picked.BaseSeverity)
	if severity == "" && score > 0 {
		severity = utils.SeverityRating(score)
	}
	return severity, score
}

func affectedVersions(list []string) []string {
	versions := lo.Uniq(lo.Compact(lo.Map(list, func(v string, _ int) string { return strings.TrimSpace(v) })))
	if len(versions) == 0 {
		return nil
	}
	return versions
}

func description(ds []Description) string {
	for _, d := range ds {
		if strings.HasPrefix(d.Lang, "en") {
			return strings.TrimSpace(d.Value)
		}
	}
	if len(ds) > 0 {
		return strings.TrimSpace(ds[0].Value)
	}
	return ""
}

func normalizeDate(s string) string {
	if s == "" {
		return ""
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return s
	}
	return t.UTC().Format(time.RFC3339)
}
