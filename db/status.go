package db

import (
	"context"
	"fmt"

	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/types"
)

// Counts feeds the per-vendor status read model.
type Counts struct {
	Candidates int
	Synced     int
	Matched    int
}

// VendorCounts returns how many active inventory CVEs a vendor covers, how many
// records it has synced and how many inventory CVEs it matched.
func (d *DB) VendorCounts(ctx context.Context, vendor string) (Counts, error) {
	if vendor == types.VendorKEV {
		return d.kevCounts(ctx)
	}

	ns, err := lookupNamespace(vendor)
	if err != nil {
		return Counts{}, err
	}

	var c Counts
	err = d.queryRow(ctx, `SELECT COUNT(DISTINCT cve) FROM vulnerabilities_current
		WHERE LOWER(vendor) LIKE ? AND lifecycle_state IN `+activeStatesSQL()+` AND cve <> ''`, ns.VendorPattern).
		Scan(&c.Candidates)
	if err != nil {
		return Counts{}, xerrors.Errorf("failed to count %s candidates: %w", vendor, err)
	}

	if err = d.queryRow(ctx, "SELECT COUNT(*) FROM "+ns.advisories()).Scan(&c.Synced); err != nil {
		return Counts{}, xerrors.Errorf("failed to count %s advisories: %w", vendor, err)
	}

	err = d.queryRow(ctx, fmt.Sprintf(`SELECT COUNT(DISTINCT v.cve) FROM vulnerabilities_current v
		JOIN %s f ON f.cve_id = v.cve
		WHERE LOWER(v.vendor) LIKE ? AND v.lifecycle_state IN %s`, ns.fixedVersions(), activeStatesSQL()),
		ns.VendorPattern).Scan(&c.Matched)
	if err != nil {
		return Counts{}, xerrors.Errorf("failed to count %s matches: %w", vendor, err)
	}
	return c, nil
}

func (d *DB) kevCounts(ctx context.Context) (Counts, error) {
	var c Counts
	err := d.queryRow(ctx, `SELECT COUNT(DISTINCT cve) FROM vulnerabilities_current
		WHERE lifecycle_state IN `+activeStatesSQL()+` AND cve <> ''`).Scan(&c.Candidates)
	if err != nil {
		return Counts{}, xerrors.Errorf("failed to count kev candidates: %w", err)
	}
	if err = d.queryRow(ctx, "SELECT COUNT(*) FROM kev_status").Scan(&c.Synced); err != nil {
		return Counts{}, xerrors.Errorf("failed to count kev entries: %w", err)
	}
	if c.Matched, err = d.KEVMatches(ctx); err != nil {
		return Counts{}, err
	}
	return c, nil
}

// FixStats summarizes fix availability over the active inventory.
type FixStats struct {
	Total    int `json:"total"`
	Fixable  int `json:"fixable"`
	Cisco    int `json:"cisco"`
	PaloAlto int `json:"paloAlto"`
}

func (d *DB) FixStats(ctx context.Context) (FixStats, error) {
	var s FixStats
	err := d.queryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(is_fix_available), 0) FROM vulnerabilities_current
		WHERE lifecycle_state IN `+activeStatesSQL()).Scan(&s.Total, &s.Fixable)
	if err != nil {
		return FixStats{}, xerrors.Errorf("failed to compute fix stats: %w", err)
	}

	for _, target := range []struct {
		ns  Namespace
		dst *int
	}{
		{Cisco, &s.Cisco},
		{PaloAlto, &s.PaloAlto},
	} {
		err = d.queryRow(ctx, `SELECT COUNT(*) FROM vulnerabilities_current
			WHERE is_fix_available = 1 AND LOWER(vendor) LIKE ? AND lifecycle_state IN `+activeStatesSQL(),
			target.ns.VendorPattern).Scan(target.dst)
		if err != nil {
			return FixStats{}, xerrors.Errorf("failed to count fixable %s rows: %w", target.ns.Tag, err)
		}
	}
	return s, nil
}
