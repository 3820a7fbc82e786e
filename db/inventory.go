package db

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/types"
)

// InventoryItem is one (installed version, CVE) pair of the active inventory.
type InventoryItem struct {
	InstalledVersion string
	CVE              string
}

// InsertVulnerability adds an inventory row. The inventory is owned by another
// subsystem; this exists for imports and fixtures.
func (d *DB) InsertVulnerability(ctx context.Context, v types.Vulnerability) (int64, error) {
	state := v.LifecycleState
	if state == "" {
		state = types.StateActive
	}
	args := []interface{}{v.Hostname, v.CVE, v.Vendor, v.InstalledVersion, state, boolInt(v.IsFixAvailable), v.FixedVersions}
	query := `INSERT INTO vulnerabilities_current
		(hostname, cve, vendor, operating_system, lifecycle_state, is_fix_available, fixed_versions)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	if d.driver == DriverPostgres {
		var id int64
		if err := d.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, xerrors.Errorf("failed to insert vulnerability: %w", err)
		}
		return id, nil
	}

	res, err := d.exec(ctx, query, args...)
	if err != nil {
		return 0, xerrors.Errorf("failed to insert vulnerability: %w", err)
	}
	return res.LastInsertId()
}

// Vulnerabilities returns the inventory rows of cveID.
func (d *DB) Vulnerabilities(ctx context.Context, cveID string) ([]types.Vulnerability, error) {
	return d.scanVulnerabilities(ctx, `SELECT id, hostname, cve, vendor, operating_system, lifecycle_state,
		is_fix_available, fixed_versions FROM vulnerabilities_current WHERE cve = ? ORDER BY id`, cveID)
}

// FixableVulnerabilities lists active inventory rows with a known fix.
func (d *DB) FixableVulnerabilities(ctx context.Context, limit int) ([]types.Vulnerability, error) {
	return d.scanVulnerabilities(ctx, `SELECT id, hostname, cve, vendor, operating_system, lifecycle_state,
		is_fix_available, fixed_versions FROM vulnerabilities_current
		WHERE is_fix_available = 1 AND lifecycle_state IN `+activeStatesSQL()+` ORDER BY cve, id LIMIT ?`, limit)
}

func (d *DB) scanVulnerabilities(ctx context.Context, query string, args ...interface{}) ([]types.Vulnerability, error) {
	rows, err := d.query(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Errorf("failed to query vulnerabilities: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var vulns []types.Vulnerability
	for rows.Next() {
		var (
			v   types.Vulnerability
			fix int
		)
		if err = rows.Scan(&v.ID, &v.Hostname, &v.CVE, &v.Vendor, &v.InstalledVersion, &v.LifecycleState,
			&fix, &v.FixedVersions); err != nil {
			return nil, xerrors.Errorf("failed to scan vulnerability: %w", err)
		}
		v.IsFixAvailable = fix == 1
		vulns = append(vulns, v)
	}
	return vulns, rows.Err()
}

// StaleCVEs returns the distinct active inventory CVEs of a vendor whose
// advisory is missing or was last synced before cutoff.
func (d *DB) StaleCVEs(ctx context.Context, vendor string, cutoff time.Time) ([]string, error) {
	ns, err := lookupNamespace(vendor)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT DISTINCT v.cve FROM vulnerabilities_current v
		LEFT JOIN %s a ON a.cve_id = v.cve
		WHERE LOWER(v.vendor) LIKE ? AND v.lifecycle_state IN %s AND v.cve <> ''
		AND (a.cve_id IS NULL OR a.last_synced < ?)
		ORDER BY v.cve`, ns.advisories(), activeStatesSQL())
	return d.queryStrings(ctx, query, ns.VendorPattern, formatTime(cutoff))
}

// InventoryItems returns the active (installed version, CVE) pairs of a vendor.
func (d *DB) InventoryItems(ctx context.Context, vendor string) ([]InventoryItem, error) {
	ns, err := lookupNamespace(vendor)
	if err != nil {
		return nil, err
	}

	rows, err := d.query(ctx, `SELECT DISTINCT operating_system, cve FROM vulnerabilities_current
		WHERE LOWER(vendor) LIKE ? AND lifecycle_state IN `+activeStatesSQL()+` AND cve <> ''
		ORDER BY operating_system, cve`, ns.VendorPattern)
	if err != nil {
		return nil, xerrors.Errorf("failed to query %s inventory: %w", vendor, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var items []InventoryItem
	for rows.Next() {
		var item InventoryItem
		if err = rows.Scan(&item.InstalledVersion, &item.CVE); err != nil {
			return nil, xerrors.Errorf("failed to scan inventory: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// VersionChecks returns when each installed version was last sent to the batch endpoint.
func (d *DB) VersionChecks(ctx context.Context) (map[string]types.VersionCheck, error) {
	rows, err := d.query(ctx, "SELECT installed_version, os_family, advisory_count, last_checked FROM cisco_version_checks")
	if err != nil {
		return nil, xerrors.Errorf("failed to query version checks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	checks := map[string]types.VersionCheck{}
	for rows.Next() {
		var (
			vc      types.VersionCheck
			checked string
		)
		if err = rows.Scan(&vc.InstalledVersion, &vc.OSFamily, &vc.AdvisoryCount, &checked); err != nil {
			return nil, xerrors.Errorf("failed to scan version check: %w", err)
		}
		if vc.LastChecked, err = parseTime(checked); err != nil {
			return nil, err
		}
		checks[vc.InstalledVersion] = vc
	}
	return checks, rows.Err()
}

func (d *DB) MarkVersionChecked(ctx context.Context, vc types.VersionCheck) error {
	checked := vc.LastChecked
	if checked.IsZero() {
		checked = d.clock()
	}
	_, err := d.exec(ctx, `INSERT INTO cisco_version_checks (installed_version, os_family, advisory_count, last_checked)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(installed_version) DO UPDATE SET
		os_family = excluded.os_family, advisory_count = excluded.advisory_count, last_checked = excluded.last_checked`,
		vc.InstalledVersion, vc.OSFamily, vc.AdvisoryCount, formatTime(checked))
	if err != nil {
		return xerrors.Errorf("failed to record version check of %s: %w", vc.InstalledVersion, err)
	}
	return nil
}

func (d *DB) queryStrings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := d.query(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Errorf("query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var values []string
	for rows.Next() {
		var s string
		if err = rows.Scan(&s); err != nil {
			return nil, xerrors.Errorf("scan failed: %w", err)
		}
		values = append(values, s)
	}
	return values, rows.Err()
}
