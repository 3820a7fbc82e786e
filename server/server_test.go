package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/cache"
	"github.com/hextrackr/advisory-sync/db"
	"github.com/hextrackr/advisory-sync/server"
	"github.com/hextrackr/advisory-sync/syncer"
	"github.com/hextrackr/advisory-sync/types"
)

type fakeUpdater struct {
	vendor string
	report types.Report
	err    error
	gate   chan struct{}

	mu      sync.Mutex
	started chan struct{}
	req     types.SyncRequest
}

func (f *fakeUpdater) Vendor() string { return f.vendor }

func (f *fakeUpdater) Update(_ context.Context, req types.SyncRequest) (types.Report, error) {
	f.mu.Lock()
	f.req = req
	started := f.started
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if f.gate != nil {
		<-f.gate
	}
	return f.report, f.err
}

type fixture struct {
	db       *db.DB
	server   *server.Server
	cisco    *fakeUpdater
	paloAlto *fakeUpdater
	kev      *fakeUpdater
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	d, err := db.Open(ctx, db.DriverSQLite, filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	gateway, err := cache.NewGateway()
	require.NoError(t, err)

	f := fixture{
		db:       d,
		cisco:    &fakeUpdater{vendor: types.VendorCisco, report: types.Report{Candidates: 2, Reconciled: 2, Matched: 1}},
		paloAlto: &fakeUpdater{vendor: types.VendorPaloAlto},
		kev:      &fakeUpdater{vendor: types.VendorKEV, report: types.Report{Reconciled: 1200, CatalogVersion: "2024.06.03"}},
	}
	var coords []*syncer.Coordinator
	for _, u := range []*fakeUpdater{f.cisco, f.paloAlto, f.kev} {
		coords = append(coords, syncer.NewCoordinator(u, d, syncer.WithCache(gateway)))
	}
	f.server = server.New(d, gateway, coords)
	return f
}

func (f fixture) do(t *testing.T, method, target, body string, header map[string]string) (int, http.Header, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	got := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(b, &got), string(b))
	}
	return resp.StatusCode, resp.Header, got
}

func TestSync(t *testing.T) {
	f := newFixture(t)

	code, _, body := f.do(t, http.MethodPost, "/api/cisco/sync", `{"cves":["CVE-2023-20198"]}`,
		map[string]string{"X-User-ID": "alice"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["report"].(map[string]any)["reconciled"])
	assert.Equal(t, float64(2), body["status"].(map[string]any)["recordCount"])
	assert.Equal(t, types.SyncRequest{UserID: "alice", CVEs: []string{"CVE-2023-20198"}}, f.cisco.req)

	code, _, body = f.do(t, http.MethodPost, "/api/kev/sync", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "default", f.kev.req.UserID)
	assert.Equal(t, "2024.06.03", body["status"].(map[string]any)["catalogVersion"])

	code, _, body = f.do(t, http.MethodPost, "/api/palo-alto/sync", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid request body", body["error"])
}

func TestSync_Conflict(t *testing.T) {
	f := newFixture(t)
	f.cisco.gate = make(chan struct{})
	f.cisco.started = make(chan struct{})

	first := make(chan int, 1)
	go func() {
		code, _, _ := f.do(t, http.MethodPost, "/api/cisco/sync", "", nil)
		first <- code
	}()
	<-f.cisco.started

	code, _, body := f.do(t, http.MethodPost, "/api/cisco/sync", "", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, map[string]any{"error": "already in progress"}, body)

	code, _, body = f.do(t, http.MethodGet, "/api/cisco/status", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["syncInProgress"])

	// other vendors are not blocked
	code, _, _ = f.do(t, http.MethodPost, "/api/palo-alto/sync", "", nil)
	assert.Equal(t, http.StatusOK, code)

	close(f.cisco.gate)
	assert.Equal(t, http.StatusOK, <-first)

	_, err := f.db.LatestSyncMetadata(context.Background(), types.VendorCisco)
	assert.NoError(t, err)
}

func TestSync_Failure(t *testing.T) {
	f := newFixture(t)
	f.cisco.err = xerrors.Errorf("cisco token: %w", types.ErrAuthentication)

	code, _, body := f.do(t, http.MethodPost, "/api/cisco/sync", "", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "cisco sync failed", body["error"])
	assert.Contains(t, body["message"], "authentication failure")

	code, _, body = f.do(t, http.MethodGet, "/api/cisco/status", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["lastSyncTime"])
	assert.Equal(t, false, body["syncInProgress"])
}

func TestCheckAutoSync(t *testing.T) {
	f := newFixture(t)

	code, _, body := f.do(t, http.MethodGet, "/api/kev/check-autosync", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"needsSync": true, "hours": float64(24)}, body)

	code, _, _ = f.do(t, http.MethodPost, "/api/kev/sync", "", nil)
	require.Equal(t, http.StatusOK, code)

	_, _, body = f.do(t, http.MethodGet, "/api/kev/check-autosync?hours=12", "", nil)
	assert.Equal(t, false, body["needsSync"])
	_, _, body = f.do(t, http.MethodGet, "/api/kev/check-autosync?hours=0", "", nil)
	assert.Equal(t, true, body["needsSync"])

	code, _, _ = f.do(t, http.MethodGet, "/api/kev/check-autosync?hours=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.UpsertAdvisory(ctx, types.VendorCisco, types.Advisory{
		CVEID:      "CVE-2023-20198",
		AdvisoryID: "cisco-sa-iosxe-webui-privesc-j22SaA4z",
		Severity:   "Critical",
		CVSSScore:  10,
	}))
	for _, fv := range []types.FixedVersion{
		{CVEID: "CVE-2023-20198", OSFamily: "iosxe", FixedVersion: "17.9.4a"},
		{CVEID: "CVE-2023-20198", OSFamily: "iosxe", FixedVersion: "17.6.6a"},
		{CVEID: "CVE-2023-20198", OSFamily: "ios", FixedVersion: "15.2(7)E9"},
	} {
		require.NoError(t, f.db.UpsertFixedVersion(ctx, types.VendorCisco, fv))
	}
	_, err := f.db.ReplaceKEV(ctx, []types.KEV{{CVEID: "CVE-2023-20198", VendorProject: "Cisco", KnownRansomwareUse: true}})
	require.NoError(t, err)

	code, _, body := f.do(t, http.MethodGet, "/api/cisco/advisory/cve-2023-20198", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cisco-sa-iosxe-webui-privesc-j22SaA4z", body["advisory_id"])

	code, _, body = f.do(t, http.MethodGet, "/api/palo-alto/advisory/CVE-2023-20198", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not found", body["error"])

	require.NoError(t, f.db.UpsertAdvisory(ctx, types.VendorPaloAlto, types.Advisory{
		CVEID:            "CVE-2024-3400",
		AffectedVersions: []string{"PAN-OS 11.1.2-h2", "PAN-OS 10.2.9"},
	}))
	code, _, body = f.do(t, http.MethodGet, "/api/palo-alto/advisory/CVE-2024-3400", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"PAN-OS 11.1.2-h2", "PAN-OS 10.2.9"}, body["affected_versions"])

	code, _, body = f.do(t, http.MethodGet, "/api/kev/advisory/CVE-2023-20198", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["known_ransomware_use"])

	code, _, body = f.do(t, http.MethodGet, "/api/cisco/fixed-versions/CVE-2023-20198?os_family=iosxe", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["fixedVersions"], 2)

	_, _, body = f.do(t, http.MethodGet, "/api/cisco/fixed-versions/CVE-2023-20198", "", nil)
	assert.Len(t, body["fixedVersions"], 3)

	_, _, body = f.do(t, http.MethodGet, "/api/palo-alto/fixed-versions/CVE-2023-20198", "", nil)
	assert.Equal(t, []any{}, body["fixedVersions"])

	code, _, _ = f.do(t, http.MethodGet, "/api/kev/fixed-versions/CVE-2023-20198", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCachedReadModels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, v := range []types.Vulnerability{
		{Hostname: "sw-01", CVE: "CVE-2023-20198", Vendor: "Cisco", IsFixAvailable: true, FixedVersions: "17.9.4a"},
		{Hostname: "fw-01", CVE: "CVE-2024-3400", Vendor: "Palo Alto Networks"},
	} {
		_, err := f.db.InsertVulnerability(ctx, v)
		require.NoError(t, err)
	}

	code, header, body := f.do(t, http.MethodGet, "/api/vulnerabilities/fix-stats", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "MISS", header.Get("X-Cache"))
	assert.Equal(t, "public, max-age=60, must-revalidate", header.Get("Cache-Control"))
	assert.Equal(t, map[string]any{"total": float64(2), "fixable": float64(1), "cisco": float64(1), "paloAlto": float64(0)}, body)

	_, err := f.db.UpdateFixFlag(ctx, "CVE-2024-3400", true, "11.1.2-h3")
	require.NoError(t, err)

	_, header, body = f.do(t, http.MethodGet, "/api/vulnerabilities/fix-stats", "", nil)
	assert.Equal(t, "HIT", header.Get("X-Cache"))
	assert.Equal(t, float64(1), body["fixable"])

	// a completed sync invalidates the read models
	code, _, _ = f.do(t, http.MethodPost, "/api/palo-alto/sync", "", nil)
	require.Equal(t, http.StatusOK, code)

	_, header, body = f.do(t, http.MethodGet, "/api/vulnerabilities/fix-stats", "", nil)
	assert.Equal(t, "MISS", header.Get("X-Cache"))
	assert.Equal(t, float64(2), body["fixable"])

	code, _, body = f.do(t, http.MethodGet, "/api/vulnerabilities/fixable?limit=10", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, float64(10), body["limit"])

	_, _, body = f.do(t, http.MethodGet, "/api/cache/stats", "", nil)
	assert.Equal(t, float64(1), body["hits"])
	assert.Equal(t, float64(3), body["misses"])
	assert.Equal(t, float64(3), body["invalidations"])
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	code, _, body := f.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}
