package types

import "golang.org/x/xerrors"

// Fatal errors abort a run and move it to the failed state.
var (
	ErrAuthentication  = xerrors.New("authentication failure")
	ErrTargetSelection = xerrors.New("target selection failure")
)

// Per-item errors are logged, counted and skipped.
var (
	ErrFetch       = xerrors.New("fetch failure")
	ErrRateLimited = xerrors.New("rate limited")
	ErrParse       = xerrors.New("parse failure")
	ErrPersistence = xerrors.New("persistence failure")
)

var (
	// ErrNotFound is a valid negative answer from a vendor: there is no advisory.
	ErrNotFound = xerrors.New("not found")
	// ErrSyncInProgress rejects a run while another one for the same vendor is active.
	ErrSyncInProgress = xerrors.New("already in progress")
)
