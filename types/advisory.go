package types

import "time"

// Lifecycle states of an inventory row.
const (
	StateActive   = "active"
	StateReopened = "reopened"
	StateResolved = "resolved"
)

// Vendor tags. They double as sync_metadata.sync_type values.
const (
	VendorCisco    = "cisco"
	VendorPaloAlto = "palo_alto"
	VendorKEV      = "kev"
)

// Vulnerability is the subset of an inventory row the sync engine reads and writes.
type Vulnerability struct {
	ID               int64  `json:"id"`
	Hostname         string `json:"hostname,omitempty"`
	CVE              string `json:"cve"`
	Vendor           string `json:"vendor"`
	InstalledVersion string `json:"installed_version,omitempty"`
	LifecycleState   string `json:"lifecycle_state"`
	IsFixAvailable   bool   `json:"is_fix_available"`
	FixedVersions    string `json:"fixed_versions,omitempty"`
}

// Advisory is a vendor advisory normalized to one row per CVE.
type Advisory struct {
	CVEID            string    `json:"cve_id"`
	AdvisoryID       string    `json:"advisory_id,omitempty"`
	Title            string    `json:"advisory_title,omitempty"`
	Summary          string    `json:"summary,omitempty"`
	Severity         string    `json:"severity,omitempty"`
	CVSSScore        float64   `json:"cvss_score,omitempty"`
	ProductNames     []string  `json:"product_names,omitempty"`
	AffectedVersions []string  `json:"affected_versions,omitempty"`
	PublicationURL   string    `json:"publication_url,omitempty"`
	FirstPublished   string    `json:"first_published,omitempty"`
	LastSynced       time.Time `json:"last_synced"`
}

// FixedVersion records that CVEID is fixed in FixedVersion of OSFamily.
type FixedVersion struct {
	CVEID           string    `json:"cve_id"`
	OSFamily        string    `json:"os_family"`
	FixedVersion    string    `json:"fixed_version"`
	AffectedVersion string    `json:"affected_version,omitempty"`
	LastSynced      time.Time `json:"last_synced"`
}

// Key returns the identity of a fixed-version fact.
func (f FixedVersion) Key() string {
	return f.CVEID + "|" + f.OSFamily + "|" + f.FixedVersion
}

// KEV is one entry of the CISA Known Exploited Vulnerabilities catalog.
type KEV struct {
	CVEID              string    `json:"cve_id"`
	VendorProject      string    `json:"vendor_project,omitempty"`
	Product            string    `json:"product,omitempty"`
	VulnerabilityName  string    `json:"vulnerability_name,omitempty"`
	DateAdded          string    `json:"date_added"`
	ShortDescription   string    `json:"short_description,omitempty"`
	RequiredAction     string    `json:"required_action,omitempty"`
	DueDate            string    `json:"due_date,omitempty"`
	KnownRansomwareUse bool      `json:"known_ransomware_use"`
	Notes              string    `json:"notes,omitempty"`
	LastSynced         time.Time `json:"last_synced"`
}

// VersionCheck remembers when an installed version was last sent to a batch endpoint.
type VersionCheck struct {
	InstalledVersion string    `json:"installed_version"`
	OSFamily         string    `json:"os_family"`
	AdvisoryCount    int       `json:"advisory_count"`
	LastChecked      time.Time `json:"last_checked"`
}

// SyncMetadata is one row of the append-only sync log.
type SyncMetadata struct {
	ID             int64      `json:"id"`
	SyncType       string     `json:"sync_type"`
	SyncTime       time.Time  `json:"sync_time"`
	NextSyncTime   *time.Time `json:"next_sync_time,omitempty"`
	CatalogVersion string     `json:"catalog_version,omitempty"`
	RecordCount    int        `json:"record_count"`
}

// Credentials for vendors that require client-credentials auth.
type Credentials struct {
	ClientID     string
	ClientSecret string
}
