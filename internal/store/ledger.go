package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rollcall/rollcall/internal/schema"
)

// UpsertSyncStatus records the outcome of a sync attempt for a table
// group. Keyed by group name, so the ledger never holds more than one
// row per group.
func (s *Store) UpsertSyncStatus(ctx context.Context, st *schema.SyncStatus) error {
	if st.TableGroup == "" {
		return fmt.Errorf("table_group is required")
	}
	query := `
	INSERT INTO sync_status (table_group, last_synced_at, last_error, synced_count)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(table_group) DO UPDATE SET
		last_synced_at = excluded.last_synced_at,
		last_error = excluded.last_error,
		synced_count = excluded.synced_count
	`
	_, err := s.conn.ExecContext(ctx, query,
		st.TableGroup, fmtTimePtr(st.LastSyncedAt), st.LastError, st.SyncedCount)
	if err != nil {
		return fmt.Errorf("failed to upsert sync status for %s: %w", st.TableGroup, err)
	}
	return nil
}

// RecordSyncError stores a failure for a group without touching its
// last successful sync timestamp. Creates the ledger row if this is
// the group's first attempt.
func (s *Store) RecordSyncError(ctx context.Context, group, msg string) error {
	query := `
	INSERT INTO sync_status (table_group, last_synced_at, last_error, synced_count)
	VALUES (?, NULL, ?, 0)
	ON CONFLICT(table_group) DO UPDATE SET
		last_error = excluded.last_error
	`
	if _, err := s.conn.ExecContext(ctx, query, group, msg); err != nil {
		return fmt.Errorf("failed to record sync error for %s: %w", group, err)
	}
	return nil
}

// GetSyncStatus returns the ledger row for a group, or nil if the
// group has never been synced.
func (s *Store) GetSyncStatus(ctx context.Context, group string) (*schema.SyncStatus, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT table_group, last_synced_at, COALESCE(last_error, ''), synced_count
		 FROM sync_status WHERE table_group = ?`, group)

	var st schema.SyncStatus
	var synced sql.NullString
	if err := row.Scan(&st.TableGroup, &synced, &st.LastError, &st.SyncedCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load sync status for %s: %w", group, err)
	}
	st.LastSyncedAt = parseTimePtr(synced)
	return &st, nil
}

// ListSyncStatus returns all ledger rows.
func (s *Store) ListSyncStatus(ctx context.Context) ([]*schema.SyncStatus, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT table_group, last_synced_at, COALESCE(last_error, ''), synced_count
		 FROM sync_status ORDER BY table_group`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync status: %w", err)
	}
	defer rows.Close()

	var out []*schema.SyncStatus
	for rows.Next() {
		var st schema.SyncStatus
		var synced sql.NullString
		if err := rows.Scan(&st.TableGroup, &synced, &st.LastError, &st.SyncedCount); err != nil {
			return nil, fmt.Errorf("failed to scan sync status: %w", err)
		}
		st.LastSyncedAt = parseTimePtr(synced)
		out = append(out, &st)
	}
	return out, rows.Err()
}
