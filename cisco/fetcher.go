package cisco

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/types"
	"github.com/hextrackr/advisory-sync/utils"
)

const (
	baseURL = "https://api.cisco.com/security/advisories/v2"

	batchDelay = 10 * time.Second
	cveDelay   = 1 * time.Second
)

// Fetcher calls the openVuln REST API. Calls are paced per endpoint and are
// expected to be issued from a single goroutine.
type Fetcher struct {
	baseURL    string
	batchPacer *utils.Pacer
	cvePacer   *utils.Pacer
	timeout    time.Duration
}

func NewFetcher(base string, batchDelay, cveDelay time.Duration) *Fetcher {
	if base == "" {
		base = baseURL
	}
	return &Fetcher{
		baseURL:    strings.TrimSuffix(base, "/"),
		batchPacer: utils.NewPacer(batchDelay),
		cvePacer:   utils.NewPacer(cveDelay),
		timeout:    60 * time.Second,
	}
}

// FetchByCVE returns the advisories that reference cveID. A CVE unknown to
// Cisco yields types.ErrNotFound.
func (f *Fetcher) FetchByCVE(ctx context.Context, token, cveID string) ([]Advisory, error) {
	if err := f.cvePacer.Wait(ctx); err != nil {
		return nil, err
	}
	return f.get(ctx, token, fmt.Sprintf("%s/cve/%s", f.baseURL, url.PathEscape(cveID)))
}

// FetchByVersion asks the software checker for every advisory affecting one
// installed release of an OS family. No advisories is not an error.
func (f *Fetcher) FetchByVersion(ctx context.Context, token, family, version string) ([]Advisory, error) {
	if err := f.batchPacer.Wait(ctx); err != nil {
		return nil, err
	}
	q := url.Values{"version": []string{version}}
	advs, err := f.get(ctx, token, fmt.Sprintf("%s/OSType/%s?%s", f.baseURL, url.PathEscape(family), q.Encode()))
	if xerrors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	return advs, err
}

func (f *Fetcher) get(_ context.Context, token, u string) ([]Advisory, error) {
	b, err := utils.Fetch(u,
		utils.WithHeader("Authorization", "Bearer "+token),
		utils.WithHeader("Accept", "application/json"),
		utils.WithHeader("Accept-Encoding", "gzip"),
		utils.WithTimeout(f.timeout),
	)
	if err != nil {
		return nil, xerrors.Errorf("openVuln request failed: %w", err)
	}

	var res Response
	if err = json.Unmarshal(b, &res); err != nil {
		return nil, xerrors.Errorf("invalid openVuln response (%s): %w", err, types.ErrParse)
	}
	return res.Advisories, nil
}
