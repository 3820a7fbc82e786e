package utils

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

var cvePattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// IsCVE reports whether s is a well-formed CVE identifier.
func IsCVE(s string) bool {
	return cvePattern.MatchString(s)
}

// NormalizeCVEs upper-cases, validates and dedupes CVE identifiers, keeping input order.
func NormalizeCVEs(cves []string) []string {
	cves = lo.Map(cves, func(c string, _ int) string { return strings.ToUpper(strings.TrimSpace(c)) })
	return lo.Uniq(lo.Filter(cves, func(c string, _ int) bool { return IsCVE(c) }))
}
