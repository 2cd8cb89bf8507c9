package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CountOwnedRows returns how many domain rows belong to an identity:
// its assignments plus the attendance rows it created or marked.
func (s *Store) CountOwnedRows(ctx context.Context, identityID string) (int, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM assignments WHERE identity_id = ?) +
			(SELECT COUNT(*) FROM teacher_attendance WHERE identity_id = ?) +
			(SELECT COUNT(*) FROM student_attendance WHERE identity_id = ?)`,
		identityID, identityID, identityID)

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows for identity %s: %w", identityID, err)
	}
	return n, nil
}

// ForeignOwner returns the id and display label of an identity other
// than excludeID that owns domain rows in this store, or "" if the
// store holds no foreign data. When several foreign identities exist
// (shouldn't happen outside corrupted mirrors) the first is returned.
func (s *Store) ForeignOwner(ctx context.Context, excludeID string) (id, label string, err error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT identity_id FROM (
			SELECT identity_id FROM assignments
			UNION SELECT identity_id FROM teacher_attendance
			UNION SELECT identity_id FROM student_attendance
		) WHERE identity_id != ? ORDER BY identity_id LIMIT 1`, excludeID)

	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", "", nil
		}
		return "", "", fmt.Errorf("failed to find foreign owner: %w", err)
	}

	// Prefer the mirrored display name; fall back to the raw id when
	// the identity row was never pulled.
	ident, err := s.GetIdentity(ctx, id)
	if err == ErrNotFound {
		return id, id, nil
	}
	if err != nil {
		return "", "", err
	}
	return id, ident.DisplayName, nil
}

// WipeAll deletes every mirrored row and the status ledger in one
// transaction. Only the conflict resolver's discard path and explicit
// logout call this.
func (s *Store) WipeAll(ctx context.Context) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin wipe transaction: %w", err)
	}
	defer tx.Rollback()

	tables := []string{
		"student_attendance",
		"teacher_attendance",
		"assignments",
		"students",
		"subjects",
		"classes",
		"identities",
		"sync_status",
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to wipe %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit wipe: %w", err)
	}
	s.logger.Printf("Wiped all mirrored tables")
	return nil
}
