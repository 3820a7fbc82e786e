package kevc_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hextrackr/advisory-sync/db"
	"github.com/hextrackr/advisory-sync/kevc"
	"github.com/hextrackr/advisory-sync/types"
)

func newDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(context.Background(), db.DriverSQLite, filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	for _, v := range []types.Vulnerability{
		{Hostname: "fw-01", CVE: "CVE-2024-3400", Vendor: "Palo Alto Networks", InstalledVersion: "PAN-OS 10.2.8"},
		{Hostname: "sw-01", CVE: "CVE-2023-20198", Vendor: "Cisco", InstalledVersion: "IOS XE 16.9.2", LifecycleState: types.StateResolved},
		{Hostname: "srv-01", CVE: "CVE-2021-44228", Vendor: "Apache", InstalledVersion: "2.14.1", LifecycleState: types.StateReopened},
	} {
		_, err = d.InsertVulnerability(context.Background(), v)
		require.NoError(t, err)
	}
	return d
}

func TestUpdate(t *testing.T) {
	tests := []struct {
		name      string
		inputFile string
		want      types.Report
		wantErr   string
	}{
		{
			name:      "happy path",
			inputFile: "testdata/happy/known_exploited_vulnerabilities.json",
			want: types.Report{
				Candidates:     4,
				Reconciled:     3,
				Matched:        2,
				Skipped:        1,
				CatalogVersion: "2024.06.03",
			},
		},
		{
			name:      "sad path, invalid json",
			inputFile: "testdata/sad/known_exploited_vulnerabilities.json",
			wantErr:   "failed to KEVC json unmarshal",
		},
		{
			name:      "sad path, count mismatch",
			inputFile: "testdata/mismatch/known_exploited_vulnerabilities.json",
			wantErr:   "failed to Vulnerabilities count error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, err := os.ReadFile(tt.inputFile)
				assert.NoError(t, err, tt.name)
				_, err = w.Write(b)
				assert.NoError(t, err, tt.name)
			}))
			defer ts.Close()

			ctx := context.Background()
			d := newDB(t)
			u := kevc.NewUpdater(d, kevc.WithURL(ts.URL+"/sites/default/files/feeds/known_exploited_vulnerabilities.json"), kevc.WithRetry(0))

			got, err := u.Update(ctx, types.SyncRequest{})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.ErrorIs(t, err, types.ErrParse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			e, err := d.KEV(ctx, "CVE-2024-3400")
			require.NoError(t, err)
			assert.True(t, e.KnownRansomwareUse)
			assert.Equal(t, "2024-04-19", e.DueDate)

			e, err = d.KEV(ctx, "CVE-2023-20198")
			require.NoError(t, err)
			assert.False(t, e.KnownRansomwareUse)
			assert.Equal(t, "Cisco", e.VendorProject)

			e, err = d.KEV(ctx, "CVE-2021-44228")
			require.NoError(t, err)
			assert.Equal(t, "Apache Log4j2 Remote Code Execution Vulnerability", e.VulnerabilityName)
		})
	}
}

func TestUpdate_FailureKeepsCatalog(t *testing.T) {
	ctx := context.Background()
	d := newDB(t)

	u := kevc.NewUpdater(d, kevc.WithURL(filepath.Join("testdata", "happy", "known_exploited_vulnerabilities.json")))
	_, err := u.Update(ctx, types.SyncRequest{})
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	u = kevc.NewUpdater(d, kevc.WithURL(ts.URL), kevc.WithRetry(0))
	_, err = u.Update(ctx, types.SyncRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrFetch)

	_, err = d.KEV(ctx, "CVE-2024-3400")
	assert.NoError(t, err)
}

func TestUpdate_RateLimitedNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	u := kevc.NewUpdater(newDB(t), kevc.WithURL(ts.URL), kevc.WithRetry(1))
	_, err := u.Update(context.Background(), types.SyncRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRateLimited)
	assert.EqualValues(t, 1, calls.Load())
}
