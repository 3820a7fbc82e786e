// Package syncer serializes sync runs per vendor and publishes their outcome.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/db"
	"github.com/hextrackr/advisory-sync/types"
	"github.com/hextrackr/advisory-sync/utils"
)

const nextSyncInterval = 24 * time.Hour

// Updater runs one vendor sync over its targets.
type Updater interface {
	Vendor() string
	Update(ctx context.Context, req types.SyncRequest) (types.Report, error)
}

type Store interface {
	InsertSyncMetadata(ctx context.Context, m types.SyncMetadata) error
	LatestSyncMetadata(ctx context.Context, syncType string) (types.SyncMetadata, error)
	VendorCounts(ctx context.Context, vendor string) (db.Counts, error)
	Checkpoint(ctx context.Context) error
}

// Invalidator drops derived read caches once new data is committed.
type Invalidator interface {
	ClearAll()
}

type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

type Coordinator struct {
	updater  Updater
	store    Store
	cache    Invalidator
	interval time.Duration
	logger   *slog.Logger
	clock    func() time.Time

	mu      sync.Mutex
	state   State
	outcome State
}

type options struct {
	cache    Invalidator
	interval time.Duration
	logger   *slog.Logger
	clock    func() time.Time
}

type option func(*options)

func WithCache(cache Invalidator) option {
	return func(opts *options) { opts.cache = cache }
}

// WithNextSyncInterval sets how far ahead of a completed run the next one is scheduled.
func WithNextSyncInterval(d time.Duration) option {
	return func(opts *options) { opts.interval = d }
}

func WithLogger(logger *slog.Logger) option {
	return func(opts *options) { opts.logger = logger }
}

func WithClock(clock func() time.Time) option {
	return func(opts *options) { opts.clock = clock }
}

func NewCoordinator(updater Updater, store Store, opts ...option) *Coordinator {
	o := &options{
		interval: nextSyncInterval,
		logger:   utils.NopLogger(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	return &Coordinator{
		updater:  updater,
		store:    store,
		cache:    o.cache,
		interval: o.interval,
		logger:   o.logger.With(slog.String("vendor", updater.Vendor())),
		clock:    o.clock,
	}
}

func (c *Coordinator) Vendor() string {
	return c.updater.Vendor()
}

// Sync performs one run. It fails fast with types.ErrSyncInProgress when a run
// for the same vendor is active.
func (c *Coordinator) Sync(ctx context.Context, req types.SyncRequest) (types.Report, error) {
	if !c.acquire() {
		return types.Report{}, xerrors.Errorf("%s sync: %w", c.Vendor(), types.ErrSyncInProgress)
	}

	outcome := StateFailed
	defer func() { c.release(outcome) }()

	start := c.clock()
	c.logger.Info("Sync started")

	report, err := c.updater.Update(ctx, req)
	if err != nil {
		c.logger.Error("Sync failed", slog.Any("err", err))
		return report, xerrors.Errorf("%s sync failed: %w", c.Vendor(), err)
	}

	now := c.clock()
	next := now.Add(c.interval)
	err = c.store.InsertSyncMetadata(ctx, types.SyncMetadata{
		SyncType:       c.Vendor(),
		SyncTime:       now,
		NextSyncTime:   &next,
		CatalogVersion: report.CatalogVersion,
		RecordCount:    report.Reconciled,
	})
	if err != nil {
		c.logger.Error("Failed to record sync", slog.Any("err", err))
		return report, xerrors.Errorf("%s sync metadata (%s): %w", c.Vendor(), err, types.ErrPersistence)
	}

	if err = c.store.Checkpoint(ctx); err != nil {
		c.logger.Warn("Checkpoint failed", slog.Any("err", err))
	}
	if c.cache != nil {
		c.cache.ClearAll()
	}

	outcome = StateCompleted
	c.logger.Info("Sync completed", slog.Int("candidates", report.Candidates), slog.Int("reconciled", report.Reconciled),
		slog.Int("matched", report.Matched), slog.Int("failed", report.Failed), slog.Duration("took", now.Sub(start)))
	return report, nil
}

func (c *Coordinator) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRunning {
		return false
	}
	c.state = StateRunning
	return true
}

func (c *Coordinator) release(outcome State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcome = outcome
	c.state = StateIdle
}

// Running reports whether a run is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateRunning
}

// LastOutcome is StateCompleted or StateFailed after a run, StateIdle before the first one.
func (c *Coordinator) LastOutcome() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Status reads the current counts and the last completed run.
func (c *Coordinator) Status(ctx context.Context) (types.Status, error) {
	counts, err := c.store.VendorCounts(ctx, c.Vendor())
	if err != nil {
		return types.Status{}, xerrors.Errorf("failed to read %s status: %w", c.Vendor(), err)
	}

	status := types.Status{
		TotalCandidates: counts.Candidates,
		TotalSynced:     counts.Synced,
		MatchedCount:    counts.Matched,
		SyncInProgress:  c.Running(),
	}

	meta, err := c.store.LatestSyncMetadata(ctx, c.Vendor())
	switch {
	case xerrors.Is(err, types.ErrNotFound):
		return status, nil
	case err != nil:
		return types.Status{}, xerrors.Errorf("failed to read %s status: %w", c.Vendor(), err)
	}

	lastSync := meta.SyncTime
	status.LastSyncTime = &lastSync
	status.NextSyncTime = meta.NextSyncTime
	status.RecordCount = meta.RecordCount
	status.CatalogVersion = meta.CatalogVersion
	return status, nil
}

// IsAutoSyncDue reports whether the vendor was never synced or its last
// completed run is at least threshold old.
func (c *Coordinator) IsAutoSyncDue(ctx context.Context, threshold time.Duration) (bool, error) {
	meta, err := c.store.LatestSyncMetadata(ctx, c.Vendor())
	switch {
	case xerrors.Is(err, types.ErrNotFound):
		return true, nil
	case err != nil:
		return false, xerrors.Errorf("failed to read %s sync metadata: %w", c.Vendor(), err)
	}
	return c.clock().Sub(meta.SyncTime) >= threshold, nil
}
