package cisco

import (
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Response is the envelope of both openVuln lookups.
type Response struct {
	Advisories []Advisory `json:"advisories"`
}

type Advisory struct {
	AdvisoryID     string   `json:"advisoryId"`
	AdvisoryTitle  string   `json:"advisoryTitle"`
	BugIDs         []string `json:"bugIDs"`
	CVEs           []string `json:"cves"`
	CVSSBaseScore  Score    `json:"cvssBaseScore"`
	CWE            []string `json:"cwe"`
	FirstFixed     []string `json:"firstFixed"`
	FirstPublished string   `json:"firstPublished"`
	LastUpdated    string   `json:"lastUpdated"`
	ProductNames   []string `json:"productNames"`
	PublicationURL string   `json:"publicationUrl"`
	SIR            string   `json:"sir"`
	Summary        string   `json:"summary"`
	IOSRelease     []string `json:"iosRelease"`
	Platforms      []struct {
		Name       string `json:"name"`
		FirstFixes []struct {
			Name string `json:"name"`
		} `json:"firstFixes"`
	} `json:"platforms"`
}

// Score accepts the CVSS base score both as a JSON number and as a quoted string.
type Score float64

func (s *Score) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" || strings.EqualFold(raw, "NA") {
		*s = 0
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return xerrors.Errorf("invalid cvssBaseScore %q: %w", raw, err)
	}
	*s = Score(f)
	return nil
}
