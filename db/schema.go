package db

import (
	"context"
	"strings"

	"golang.org/x/xerrors"
)

// Namespace identifies a vendor's advisory and fixed-version tables.
type Namespace struct {
	// Tag is the table prefix and the sync_metadata.sync_type value.
	Tag string
	// VendorPattern is matched with LIKE against the lower-cased inventory vendor.
	VendorPattern string
}

var (
	Cisco    = Namespace{Tag: "cisco", VendorPattern: "%cisco%"}
	PaloAlto = Namespace{Tag: "palo_alto", VendorPattern: "%palo alto%"}
)

// Namespaces lists every vendor whose fixed versions feed is_fix_available.
var Namespaces = []Namespace{Cisco, PaloAlto}

func (n Namespace) advisories() string    { return n.Tag + "_advisories" }
func (n Namespace) fixedVersions() string { return n.Tag + "_fixed_versions" }

func lookupNamespace(tag string) (Namespace, error) {
	for _, ns := range Namespaces {
		if ns.Tag == tag {
			return ns, nil
		}
	}
	return Namespace{}, xerrors.Errorf("unknown vendor namespace: %q", tag)
}

// activeStates are the lifecycle states that are eligible for sync.
var activeStates = []string{"active", "reopened"}

func activeStatesSQL() string {
	return "('" + strings.Join(activeStates, "','") + "')"
}

func (d *DB) schema() []string {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	float := "REAL"
	if d.driver == DriverPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
		float = "DOUBLE PRECISION"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vulnerabilities_current (
			id ` + pk + `,
			hostname TEXT NOT NULL DEFAULT '',
			cve TEXT NOT NULL DEFAULT '',
			vendor TEXT NOT NULL DEFAULT '',
			operating_system TEXT NOT NULL DEFAULT '',
			lifecycle_state TEXT NOT NULL DEFAULT 'active',
			is_fix_available INTEGER NOT NULL DEFAULT 0,
			fixed_versions TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vulnerabilities_current_cve ON vulnerabilities_current(cve)`,
	}

	for _, ns := range Namespaces {
		stmts = append(stmts,
			`CREATE TABLE IF NOT EXISTS `+ns.advisories()+` (
				id `+pk+`,
				cve_id TEXT NOT NULL UNIQUE,
				advisory_id TEXT NOT NULL DEFAULT '',
				advisory_title TEXT NOT NULL DEFAULT '',
				summary TEXT NOT NULL DEFAULT '',
				severity TEXT NOT NULL DEFAULT '',
				cvss_score `+float+` NOT NULL DEFAULT 0,
				product_names TEXT NOT NULL DEFAULT '',
				affected_versions TEXT NOT NULL DEFAULT '',
				publication_url TEXT NOT NULL DEFAULT '',
				first_published TEXT NOT NULL DEFAULT '',
				last_synced TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS `+ns.fixedVersions()+` (
				id `+pk+`,
				cve_id TEXT NOT NULL,
				os_family TEXT NOT NULL,
				fixed_version TEXT NOT NULL,
				affected_version TEXT NOT NULL DEFAULT '',
				last_synced TEXT NOT NULL,
				UNIQUE (cve_id, os_family, fixed_version)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_`+ns.fixedVersions()+`_cve ON `+ns.fixedVersions()+`(cve_id)`,
		)
	}

	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS cisco_version_checks (
			installed_version TEXT PRIMARY KEY,
			os_family TEXT NOT NULL DEFAULT '',
			advisory_count INTEGER NOT NULL DEFAULT 0,
			last_checked TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kev_status (
			cve_id TEXT PRIMARY KEY,
			date_added TEXT NOT NULL DEFAULT '',
			vulnerability_name TEXT NOT NULL DEFAULT '',
			vendor_project TEXT NOT NULL DEFAULT '',
			product TEXT NOT NULL DEFAULT '',
			short_description TEXT NOT NULL DEFAULT '',
			required_action TEXT NOT NULL DEFAULT '',
			due_date TEXT NOT NULL DEFAULT '',
			known_ransomware_use INTEGER NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			last_synced TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_metadata (
			id `+pk+`,
			sync_type TEXT NOT NULL,
			sync_time TEXT NOT NULL,
			next_sync_time TEXT NOT NULL DEFAULT '',
			version TEXT NOT NULL DEFAULT '',
			record_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'completed'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_metadata_type ON sync_metadata(sync_type, sync_time)`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
			id `+pk+`,
			user_id TEXT NOT NULL,
			preference_key TEXT NOT NULL,
			preference_value TEXT NOT NULL DEFAULT '',
			UNIQUE (user_id, preference_key)
		)`,
	)
	return stmts
}

// addedColumns are columns introduced after a table's first release. CREATE
// TABLE IF NOT EXISTS leaves older tables untouched, so they are added here.
func addedColumns() [][3]string {
	var cols [][3]string
	for _, ns := range Namespaces {
		cols = append(cols, [3]string{ns.advisories(), "affected_versions", "TEXT NOT NULL DEFAULT ''"})
	}
	return cols
}

func (d *DB) migrate(ctx context.Context) error {
	for _, stmt := range d.schema() {
		if _, err := d.conn.ExecContext(ctx, stmt); err != nil {
			return xerrors.Errorf("schema statement failed: %w", err)
		}
	}
	for _, c := range addedColumns() {
		if err := d.addColumn(ctx, c[0], c[1], c[2]); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) addColumn(ctx context.Context, table, column, def string) error {
	if d.driver == DriverPostgres {
		if _, err := d.conn.ExecContext(ctx, "ALTER TABLE "+table+" ADD COLUMN IF NOT EXISTS "+column+" "+def); err != nil {
			return xerrors.Errorf("failed to add %s.%s: %w", table, column, err)
		}
		return nil
	}

	var n int
	if err := d.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n); err != nil {
		return xerrors.Errorf("failed to inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := d.conn.ExecContext(ctx, "ALTER TABLE "+table+" ADD COLUMN "+column+" "+def); err != nil {
		return xerrors.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}
