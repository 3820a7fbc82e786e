package db

import (
	"context"
	"database/sql"

	"golang.org/x/xerrors"

	"github.com/hextrackr/advisory-sync/types"
)

// InsertSyncMetadata appends one row to the sync log.
func (d *DB) InsertSyncMetadata(ctx context.Context, m types.SyncMetadata) error {
	var next string
	if m.NextSyncTime != nil {
		next = formatTime(*m.NextSyncTime)
	}
	_, err := d.exec(ctx, `INSERT INTO sync_metadata (sync_type, sync_time, next_sync_time, version, record_count, status)
		VALUES (?, ?, ?, ?, ?, 'completed')`,
		m.SyncType, formatTime(m.SyncTime), next, m.CatalogVersion, m.RecordCount)
	if err != nil {
		return xerrors.Errorf("failed to insert sync metadata: %w", err)
	}
	return nil
}

// LatestSyncMetadata returns the most recent completed run of syncType, or
// types.ErrNotFound when the vendor has never been synced.
func (d *DB) LatestSyncMetadata(ctx context.Context, syncType string) (types.SyncMetadata, error) {
	var (
		m            types.SyncMetadata
		synced, next string
	)
	err := d.queryRow(ctx, `SELECT id, sync_type, sync_time, next_sync_time, version, record_count
		FROM sync_metadata WHERE sync_type = ? AND status = 'completed'
		ORDER BY sync_time DESC, id DESC LIMIT 1`, syncType).
		Scan(&m.ID, &m.SyncType, &synced, &next, &m.CatalogVersion, &m.RecordCount)
	if err != nil {
		if xerrors.Is(err, sql.ErrNoRows) {
			return types.SyncMetadata{}, xerrors.Errorf("%s sync metadata: %w", syncType, types.ErrNotFound)
		}
		return types.SyncMetadata{}, xerrors.Errorf("failed to query sync metadata: %w", err)
	}

	if m.SyncTime, err = parseTime(synced); err != nil {
		return types.SyncMetadata{}, err
	}
	if next != "" {
		t, err := parseTime(next)
		if err != nil {
			return types.SyncMetadata{}, err
		}
		m.NextSyncTime = &t
	}
	return m, nil
}

// Preference returns a user preference value or types.ErrNotFound.
func (d *DB) Preference(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := d.queryRow(ctx, "SELECT preference_value FROM user_preferences WHERE user_id = ? AND preference_key = ?",
		userID, key).Scan(&value)
	if err != nil {
		if xerrors.Is(err, sql.ErrNoRows) {
			return "", xerrors.Errorf("preference %s: %w", key, types.ErrNotFound)
		}
		return "", xerrors.Errorf("failed to query preference: %w", err)
	}
	return value, nil
}

func (d *DB) SetPreference(ctx context.Context, userID, key, value string) error {
	_, err := d.exec(ctx, `INSERT INTO user_preferences (user_id, preference_key, preference_value) VALUES (?, ?, ?)
		ON CONFLICT(user_id, preference_key) DO UPDATE SET preference_value = excluded.preference_value`,
		userID, key, value)
	if err != nil {
		return xerrors.Errorf("failed to store preference: %w", err)
	}
	return nil
}
