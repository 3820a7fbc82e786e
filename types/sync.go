package types

import "time"

// SyncRequest is the input of a single sync run.
type SyncRequest struct {
	// UserID selects whose stored vendor credentials are used.
	UserID string
	// CVEs restricts the run to an explicit list; empty means "derive from inventory".
	CVEs []string
	// Progress receives per-item progress. Nil is allowed.
	Progress Progress
}

// Report summarizes the item loop of a run.
type Report struct {
	Candidates     int    `json:"candidates"`
	Reconciled     int    `json:"reconciled"`
	Matched        int    `json:"matched"`
	NotFound       int    `json:"not_found"`
	Failed         int    `json:"failed"`
	Skipped        int    `json:"skipped"`
	CatalogVersion string `json:"catalog_version,omitempty"`
	Strategy       string `json:"strategy,omitempty"`
}

// Status is the read model served by the status endpoint.
type Status struct {
	TotalCandidates int        `json:"totalCandidates"`
	TotalSynced     int        `json:"totalSynced"`
	MatchedCount    int        `json:"matchedCount"`
	LastSyncTime    *time.Time `json:"lastSyncTime"`
	NextSyncTime    *time.Time `json:"nextSyncTime"`
	RecordCount     int        `json:"recordCount"`
	CatalogVersion  string     `json:"catalogVersion,omitempty"`
	SyncInProgress  bool       `json:"syncInProgress"`
}

// Progress is notified as a run walks its targets.
type Progress interface {
	Start(total int)
	Increment()
	Finish()
}

type nopProgress struct{}

func (nopProgress) Start(int)  {}
func (nopProgress) Increment() {}
func (nopProgress) Finish()    {}

// ProgressOrNop returns p, or a progress that ignores every call.
func ProgressOrNop(p Progress) Progress {
	if p == nil {
		return nopProgress{}
	}
	return p
}
