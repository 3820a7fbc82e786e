package db

import (
	"context"
	"database/sql"

	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/types"
)

// ReplaceKEV truncates kev_status and loads entries inside one transaction,
// so readers never observe an empty or partial catalog.
func (d *DB) ReplaceKEV(ctx context.Context, entries []types.KEV) (int, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, xerrors.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM kev_status"); err != nil {
		return 0, xerrors.Errorf("failed to truncate kev_status: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, d.rebind(`INSERT INTO kev_status
		(cve_id, date_added, vulnerability_name, vendor_project, product, short_description,
		required_action, due_date, known_ransomware_use, notes, last_synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cve_id) DO NOTHING`))
	if err != nil {
		return 0, xerrors.Errorf("failed to prepare kev insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	synced := formatTime(d.clock())
	var loaded int
	for _, e := range entries {
		res, err := stmt.ExecContext(ctx, e.CVEID, e.DateAdded, e.VulnerabilityName, e.VendorProject, e.Product,
			e.ShortDescription, e.RequiredAction, e.DueDate, boolInt(e.KnownRansomwareUse), e.Notes, synced)
		if err != nil {
			return 0, xerrors.Errorf("failed to insert %s: %w", e.CVEID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			loaded++
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, xerrors.Errorf("failed to commit kev catalog: %w", err)
	}
	return loaded, nil
}

func (d *DB) KEV(ctx context.Context, cveID string) (types.KEV, error) {
	var (
		e              types.KEV
		ransom         int
		lastSyncedText string
	)
	err := d.queryRow(ctx, `SELECT cve_id, date_added, vulnerability_name, vendor_project, product, short_description,
		required_action, due_date, known_ransomware_use, notes, last_synced FROM kev_status WHERE cve_id = ?`, cveID).
		Scan(&e.CVEID, &e.DateAdded, &e.VulnerabilityName, &e.VendorProject, &e.Product, &e.ShortDescription,
			&e.RequiredAction, &e.DueDate, &ransom, &e.Notes, &lastSyncedText)
	if err != nil {
		if xerrors.Is(err, sql.ErrNoRows) {
			return types.KEV{}, xerrors.Errorf("kev %s: %w", cveID, types.ErrNotFound)
		}
		return types.KEV{}, xerrors.Errorf("failed to query kev: %w", err)
	}
	e.KnownRansomwareUse = ransom == 1
	if e.LastSynced, err = parseTime(lastSyncedText); err != nil {
		return types.KEV{}, err
	}
	return e, nil
}

// KEVMatches counts active inventory CVEs listed in the catalog.
func (d *DB) KEVMatches(ctx context.Context) (int, error) {
	var n int
	err := d.queryRow(ctx, `SELECT COUNT(DISTINCT v.cve) FROM vulnerabilities_current v
		JOIN kev_status k ON k.cve_id = v.cve
		WHERE v.lifecycle_state IN `+activeStatesSQL()).Scan(&n)
	if err != nil {
		return 0, xerrors.Errorf("failed to count kev matches: %w", err)
	}
	return n, nil
}
