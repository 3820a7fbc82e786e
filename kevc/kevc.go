package kevc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/types"
	"github.com/hextrackr/advisory-sync/utils"
)

const (
	kevcURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
	retry   = 5
)

type Store interface {
	ReplaceKEV(ctx context.Context, entries []types.KEV) (int, error)
}

// Matcher counts active inventory CVEs present in the loaded catalog.
type Matcher interface {
	KEVMatches(ctx context.Context) (int, error)
}

type Updater struct {
	store  Store
	url    string
	retry  int
	logger *slog.Logger
}

type Option func(*options)

type options struct {
	url    string
	retry  int
	logger *slog.Logger
}

// WithURL overrides the catalog source. Anything other than http(s) is handed to
// go-getter, so local files and bucket mirrors work too.
func WithURL(url string) Option {
	return func(opts *options) { opts.url = url }
}

func WithRetry(retry int) Option {
	return func(opts *options) { opts.retry = retry }
}

func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) { opts.logger = logger }
}

func NewUpdater(store Store, opts ...Option) *Updater {
	o := &options{
		url:    kevcURL,
		retry:  retry,
		logger: utils.NopLogger(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return &Updater{
		store:  store,
		url:    o.url,
		retry:  o.retry,
		logger: o.logger.With(slog.String("vendor", types.VendorKEV)),
	}
}

func (u *Updater) Vendor() string {
	return types.VendorKEV
}

// Update replaces the stored catalog with the current feed. A catalog that cannot
// be fetched or parsed fails the run and leaves the stored one untouched.
func (u *Updater) Update(ctx context.Context, req types.SyncRequest) (types.Report, error) {
	u.logger.Info("Fetching Known Exploited Vulnerabilities Catalog")

	kevc, err := u.FetchCatalog(ctx)
	if err != nil {
		return types.Report{}, err
	}

	entries := make([]types.KEV, 0, len(kevc.Vulnerabilities))
	progress := types.ProgressOrNop(req.Progress)
	progress.Start(kevc.Count)
	for _, vuln := range kevc.Vulnerabilities {
		progress.Increment()
		cveID := strings.ToUpper(strings.TrimSpace(vuln.CveID))
		if !utils.IsCVE(cveID) {
			u.logger.Warn("Discovered non-CVE-ID", slog.String("cve", vuln.CveID))
			continue
		}
		entries = append(entries, types.KEV{
			CVEID:              cveID,
			VendorProject:      vuln.VendorProject,
			Product:            vuln.Product,
			VulnerabilityName:  vuln.VulnerabilityName,
			DateAdded:          normalizeDate(vuln.DateAdded),
			ShortDescription:   vuln.ShortDescription,
			RequiredAction:     vuln.RequiredAction,
			DueDate:            normalizeDate(vuln.DueDate),
			KnownRansomwareUse: strings.EqualFold(vuln.KnownRansomwareCampaignUse, "Known"),
			Notes:              vuln.Notes,
		})
	}
	progress.Finish()

	loaded, err := u.store.ReplaceKEV(ctx, entries)
	if err != nil {
		return types.Report{}, xerrors.Errorf("failed to update KEVC (%s): %w", err, types.ErrPersistence)
	}

	report := types.Report{
		Candidates:     kevc.Count,
		Reconciled:     loaded,
		Skipped:        kevc.Count - loaded,
		CatalogVersion: kevc.CatalogVersion,
	}
	if m, ok := u.store.(Matcher); ok {
		if report.Matched, err = m.KEVMatches(ctx); err != nil {
			u.logger.Warn("Failed to count inventory matches", slog.Any("err", err))
		}
	}

	u.logger.Info("KEV catalog loaded", slog.String("catalog_version", kevc.CatalogVersion),
		slog.Int("loaded", loaded), slog.Int("matched", report.Matched))
	return report, nil
}

// FetchCatalog downloads and validates the catalog.
func (u *Updater) FetchCatalog(ctx context.Context) (KEVC, error) {
	res, err := u.download(ctx)
	if err != nil {
		return KEVC{}, xerrors.Errorf("failed to fetch KEVC: %w", err)
	}

	kevc := KEVC{}
	if err := json.Unmarshal(res, &kevc); err != nil {
		return KEVC{}, xerrors.Errorf("failed to KEVC json unmarshal error (%s): %w", err, types.ErrParse)
	}
	if kevc.Count != len(kevc.Vulnerabilities) {
		return KEVC{}, xerrors.Errorf("failed to Vulnerabilities count error: kevc.Count %d, kevc.Vulnerability length %d: %w",
			kevc.Count, len(kevc.Vulnerabilities), types.ErrParse)
	}
	return kevc, nil
}

func (u *Updater) download(ctx context.Context) ([]byte, error) {
	if parsed, err := url.Parse(u.url); err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") {
		return utils.FetchURL(u.url, "", u.retry)
	}

	path, err := utils.DownloadToTempFile(ctx, u.url)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", err.Error(), types.ErrFetch)
	}
	defer os.Remove(path)

	return os.ReadFile(path)
}

func normalizeDate(s string) string {
	if s == "" {
		return ""
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02")
}
