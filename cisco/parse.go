package cisco

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/samber/lo"
	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/osfamily"
	"github.com/hextrackr/advisory-sync/types"
	"github.com/hextrackr/advisory-sync/utils"
)

// pickAdvisory returns the first advisory that lists cveID. Advisories that
// only mention other CVEs are not attributed to it.
func pickAdvisory(advs []Advisory, cveID string) (Advisory, bool) {
	for _, a := range advs {
		if lo.ContainsBy(a.CVEs, func(c string) bool { return strings.EqualFold(strings.TrimSpace(c), cveID) }) {
			return a, true
		}
	}
	return Advisory{}, false
}

// toAdvisory normalizes an openVuln advisory for one of its CVEs.
func toAdvisory(a Advisory, cveID string) (types.Advisory, error) {
	if !utils.IsCVE(cveID) {
		return types.Advisory{}, xerrors.Errorf("advisory %q has no usable CVE (%q): %w", a.AdvisoryID, cveID, types.ErrParse)
	}

	return types.Advisory{
		CVEID:          cveID,
		AdvisoryID:     a.AdvisoryID,
		Title:          strings.TrimSpace(a.AdvisoryTitle),
		Summary:        plainText(a.Summary),
		Severity:       a.SIR,
		CVSSScore:      float64(a.CVSSBaseScore),
		ProductNames:   lo.Uniq(lo.Compact(lo.Map(a.ProductNames, func(p string, _ int) string { return strings.TrimSpace(p) }))),
		PublicationURL: a.PublicationURL,
		FirstPublished: normalizeDate(a.FirstPublished),
	}, nil
}

// fixedFromCVE maps first-fixed releases of a per-CVE lookup. The family is
// inferred from the release string alone.
func fixedFromCVE(a Advisory) []types.FixedVersion {
	return lo.Map(firstFixed(a), func(v string, _ int) types.FixedVersion {
		return types.FixedVersion{
			OSFamily:     osfamily.Classify(v),
			FixedVersion: v,
		}
	})
}

// fixedFromVersion maps first-fixed releases of a software-checker lookup.
// The family and affected context come from the installed release that was queried.
func fixedFromVersion(a Advisory, installed osfamily.Result) []types.FixedVersion {
	return lo.Map(firstFixed(a), func(v string, _ int) types.FixedVersion {
		return types.FixedVersion{
			OSFamily:        installed.Family,
			FixedVersion:    v,
			AffectedVersion: installed.Version,
		}
	})
}

func firstFixed(a Advisory) []string {
	versions := append([]string{}, a.FirstFixed...)
	for _, p := range a.Platforms {
		for _, f := range p.FirstFixes {
			versions = append(versions, f.Name)
		}
	}
	versions = lo.Map(versions, func(v string, _ int) string { return strings.TrimSpace(v) })
	versions = lo.Filter(versions, func(v string, _ int) bool {
		return v != "" && !strings.EqualFold(v, "NA") && !strings.EqualFold(v, "not available")
	})
	return lo.Uniq(versions)
}

func plainText(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return strings.TrimSpace(html)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
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
