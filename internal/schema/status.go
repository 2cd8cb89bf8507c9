package schema

import "time"

// Ledger table groups. The status ledger keeps at most one row per
// group: reference data is pulled as a unit, attendance is pushed as
// a unit.
const (
	GroupReference  = "reference"
	GroupAttendance = "attendance"
)

// SyncStatus is one status-ledger row: the last successful sync
// timestamp and last error for a table group. Upserted, never
// duplicated.
type SyncStatus struct {
	TableGroup   string     `json:"table_group"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	SyncedCount  int        `json:"synced_count"`
}

// Stale reports whether the group's last successful sync is older
// than the given window. A group that has never synced is stale.
func (s *SyncStatus) Stale(window time.Duration, now time.Time) bool {
	if s == nil || s.LastSyncedAt == nil {
		return true
	}
	return now.Sub(*s.LastSyncedAt) >= window
}
