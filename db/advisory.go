package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/types"
)

// UpsertAdvisory inserts adv or merges it into the stored row. Empty incoming
// fields never overwrite populated ones and last_synced never moves backwards.
func (d *DB) UpsertAdvisory(ctx context.Context, vendor string, adv types.Advisory) error {
	ns, err := lookupNamespace(vendor)
	if err != nil {
		return err
	}

	products, err := encodeList(adv.ProductNames)
	if err != nil {
		return xerrors.Errorf("failed to marshal product names: %w", err)
	}
	affected, err := encodeList(adv.AffectedVersions)
	if err != nil {
		return xerrors.Errorf("failed to marshal affected versions: %w", err)
	}

	synced := adv.LastSynced
	if synced.IsZero() {
		synced = d.clock()
	}

	t := ns.advisories()
	coalesce := func(col string) string {
		return fmt.Sprintf("%s = COALESCE(NULLIF(excluded.%s, ''), %s.%s)", col, col, t, col)
	}
	query := fmt.Sprintf(`INSERT INTO %s
		(cve_id, advisory_id, advisory_title, summary, severity, cvss_score, product_names, affected_versions,
		 publication_url, first_published, last_synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cve_id) DO UPDATE SET
		%s, %s, %s, %s,
		cvss_score = COALESCE(NULLIF(excluded.cvss_score, 0), %s.cvss_score),
		%s, %s, %s, %s,
		last_synced = %s(%s.last_synced, excluded.last_synced)`,
		t,
		coalesce("advisory_id"), coalesce("advisory_title"), coalesce("summary"), coalesce("severity"),
		t,
		coalesce("product_names"), coalesce("affected_versions"), coalesce("publication_url"), coalesce("first_published"),
		d.greatest(), t,
	)

	_, err = d.exec(ctx, query,
		adv.CVEID, adv.AdvisoryID, adv.Title, adv.Summary, adv.Severity, adv.CVSSScore,
		products, affected, adv.PublicationURL, adv.FirstPublished, formatTime(synced),
	)
	if err != nil {
		return xerrors.Errorf("failed to upsert %s advisory %s: %w", vendor, adv.CVEID, err)
	}
	return nil
}

// Advisory returns the stored advisory or types.ErrNotFound.
func (d *DB) Advisory(ctx context.Context, vendor, cveID string) (types.Advisory, error) {
	ns, err := lookupNamespace(vendor)
	if err != nil {
		return types.Advisory{}, err
	}

	var (
		adv              types.Advisory
		products, affected, synced string
	)
	err = d.queryRow(ctx, fmt.Sprintf(`SELECT cve_id, advisory_id, advisory_title, summary, severity, cvss_score,
		product_names, affected_versions, publication_url, first_published, last_synced FROM %s WHERE cve_id = ?`, ns.advisories()), cveID).
		Scan(&adv.CVEID, &adv.AdvisoryID, &adv.Title, &adv.Summary, &adv.Severity, &adv.CVSSScore,
			&products, &affected, &adv.PublicationURL, &adv.FirstPublished, &synced)
	if err != nil {
		if xerrors.Is(err, sql.ErrNoRows) {
			return types.Advisory{}, xerrors.Errorf("%s advisory %s: %w", vendor, cveID, types.ErrNotFound)
		}
		return types.Advisory{}, xerrors.Errorf("failed to query %s advisory: %w", vendor, err)
	}

	if adv.ProductNames, err = decodeList(products); err != nil {
		return types.Advisory{}, xerrors.Errorf("invalid product names for %s: %w", cveID, err)
	}
	if adv.AffectedVersions, err = decodeList(affected); err != nil {
		return types.Advisory{}, xerrors.Errorf("invalid affected versions for %s: %w", cveID, err)
	}
	if adv.LastSynced, err = parseTime(synced); err != nil {
		return types.Advisory{}, err
	}
	return adv, nil
}

// AdvisorySyncTimes returns last_synced of the given CVEs that have an advisory.
func (d *DB) AdvisorySyncTimes(ctx context.Context, vendor string, cveIDs []string) (map[string]time.Time, error) {
	ns, err := lookupNamespace(vendor)
	if err != nil {
		return nil, err
	}

	times := map[string]time.Time{}
	for start := 0; start < len(cveIDs); start += 500 {
		chunk := cveIDs[start:min(start+500, len(cveIDs))]
		args := make([]interface{}, len(chunk))
		for i, c := range chunk {
			args[i] = c
		}
		rows, err := d.query(ctx, fmt.Sprintf("SELECT cve_id, last_synced FROM %s WHERE cve_id IN (%s)",
			ns.advisories(), placeholders(len(chunk))), args...)
		if err != nil {
			return nil, xerrors.Errorf("failed to query %s sync times: %w", vendor, err)
		}
		err = func() error {
			defer func() {
				_ = rows.Close()
			}()
			for rows.Next() {
				var cve, synced string
				if err := rows.Scan(&cve, &synced); err != nil {
					return err
				}
				t, err := parseTime(synced)
				if err != nil {
					return err
				}
				times[cve] = t
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, xerrors.Errorf("failed to scan %s sync times: %w", vendor, err)
		}
	}
	return times, nil
}

// UpsertFixedVersion records a fixed-version fact. Re-observing it only refreshes last_synced.
func (d *DB) UpsertFixedVersion(ctx context.Context, vendor string, fv types.FixedVersion) error {
	ns, err := lookupNamespace(vendor)
	if err != nil {
		return err
	}

	synced := fv.LastSynced
	if synced.IsZero() {
		synced = d.clock()
	}

	t := ns.fixedVersions()
	query := fmt.Sprintf(`INSERT INTO %s (cve_id, os_family, fixed_version, affected_version, last_synced)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cve_id, os_family, fixed_version) DO UPDATE SET
		last_synced = %s(%s.last_synced, excluded.last_synced)`, t, d.greatest(), t)
	if _, err = d.exec(ctx, query, fv.CVEID, fv.OSFamily, fv.FixedVersion, fv.AffectedVersion, formatTime(synced)); err != nil {
		return xerrors.Errorf("failed to upsert %s fixed version %s: %w", vendor, fv.Key(), err)
	}
	return nil
}

// FixedVersions lists a vendor's fixed versions of cveID, optionally narrowed to one OS family.
func (d *DB) FixedVersions(ctx context.Context, vendor, cveID, osFamily string) ([]types.FixedVersion, error) {
	ns, err := lookupNamespace(vendor)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT cve_id, os_family, fixed_version, affected_version, last_synced
		FROM %s WHERE cve_id = ?`, ns.fixedVersions())
	args := []interface{}{cveID}
	if osFamily != "" {
		query += " AND os_family = ?"
		args = append(args, osFamily)
	}
	query += " ORDER BY os_family, fixed_version"

	rows, err := d.query(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Errorf("failed to query %s fixed versions: %w", vendor, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var fixed []types.FixedVersion
	for rows.Next() {
		var (
			fv     types.FixedVersion
			synced string
		)
		if err = rows.Scan(&fv.CVEID, &fv.OSFamily, &fv.FixedVersion, &fv.AffectedVersion, &synced); err != nil {
			return nil, xerrors.Errorf("failed to scan fixed version: %w", err)
		}
		if fv.LastSynced, err = parseTime(synced); err != nil {
			return nil, err
		}
		fixed = append(fixed, fv)
	}
	return fixed, rows.Err()
}

// FixedVersionsForCVE returns the distinct fixed versions of cveID across all vendors.
func (d *DB) FixedVersionsForCVE(ctx context.Context, cveID string) ([]string, error) {
	var (
		parts []string
		args  []interface{}
	)
	for _, ns := range Namespaces {
		parts = append(parts, fmt.Sprintf("SELECT fixed_version FROM %s WHERE cve_id = ?", ns.fixedVersions()))
		args = append(args, cveID)
	}

	rows, err := d.query(ctx, strings.Join(parts, " UNION "), args...)
	if err != nil {
		return nil, xerrors.Errorf("failed to query fixed versions of %s: %w", cveID, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var versions []string
	for rows.Next() {
		var v string
		if err = rows.Scan(&v); err != nil {
			return nil, xerrors.Errorf("failed to scan fixed version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// UpdateFixFlag writes the vendor-neutral projection onto every inventory row of cveID.
func (d *DB) UpdateFixFlag(ctx context.Context, cveID string, fixAvailable bool, summary string) (int64, error) {
	res, err := d.exec(ctx, "UPDATE vulnerabilities_current SET is_fix_available = ?, fixed_versions = ? WHERE cve = ?",
		boolInt(fixAvailable), summary, cveID)
	if err != nil {
		return 0, xerrors.Errorf("failed to update fix flag of %s: %w", cveID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, xerrors.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// encodeList stores a string list as a JSON array; an empty list is stored as ''.
func encodeList(list []string) (string, error) {
	if len(list) == 0 {
		return "", nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, err
	}
	return list, nil
}
