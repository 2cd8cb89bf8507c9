package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rollcall/rollcall/internal/schema"
)

// attendanceTables are the locally-mutated tables the dirty tracker
// enumerates. Reference tables never go dirty.
var attendanceTables = []string{"teacher_attendance", "student_attendance"}

// fkRef names a column in another table that references a row id.
type fkRef struct {
	table  string
	column string
}

// foreignKeys maps each table to every column elsewhere that points at
// its primary key. ClearDirty uses this to rewrite references together
// with the primary key when a temporary id is replaced; a missing
// entry here would leave referencing rows pointing at a dead id.
var foreignKeys = map[string][]fkRef{
	"identities": {
		{"assignments", "identity_id"},
		{"teacher_attendance", "identity_id"},
		{"student_attendance", "identity_id"},
	},
	"classes": {
		{"assignments", "class_id"},
		{"students", "class_id"},
		{"student_attendance", "class_id"},
	},
	"subjects": {
		{"assignments", "subject_id"},
		{"student_attendance", "subject_id"},
	},
	"students": {
		{"student_attendance", "student_id"},
	},
	"assignments":        nil,
	"teacher_attendance": nil,
	"student_attendance": nil,
}

// validTable reports whether table is a known mirror table. Table
// names reach this package from internal callers only, but the check
// keeps a typo from turning into raw SQL.
func validTable(table string) bool {
	_, ok := foreignKeys[table]
	return ok
}

// MarkDirty flags a row as locally modified and stamps updated_at.
// The flag stays set until a push attempt for the row succeeds.
func (s *Store) MarkDirty(ctx context.Context, table, id string) error {
	if !validTable(table) {
		return fmt.Errorf("unknown table %q", table)
	}
	query := fmt.Sprintf(`UPDATE %s SET is_dirty = 1, updated_at = ? WHERE id = ?`, table)
	res, err := s.conn.ExecContext(ctx, query, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark %s/%s dirty: %w", table, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark dirty %s/%s: %w", table, id, ErrNotFound)
	}
	return nil
}

// ClearDirty clears a row's dirty flag after a confirmed push and
// stamps last_synced_at.
//
// If newID is non-empty and differs from id, the row was created with
// a temporary identifier and the server has issued a permanent one:
// the primary key and every foreign-key reference to it are rewritten
// in the same transaction, so the store can never hold a dangling
// reference to the old id.
func (s *Store) ClearDirty(ctx context.Context, table, id, newID string) error {
	if !validTable(table) {
		return fmt.Errorf("unknown table %q", table)
	}

	now := fmtTime(time.Now())

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if newID == "" || newID == id {
		query := fmt.Sprintf(
			`UPDATE %s SET is_dirty = 0, last_synced_at = ? WHERE id = ?`, table)
		res, err := tx.ExecContext(ctx, query, now, id)
		if err != nil {
			return fmt.Errorf("failed to clear dirty %s/%s: %w", table, id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("clear dirty %s/%s: %w", table, id, ErrNotFound)
		}
		return tx.Commit()
	}

	// Cascading identifier rewrite: primary key first, then every
	// referencing column, all inside one transaction.
	query := fmt.Sprintf(
		`UPDATE %s SET id = ?, is_dirty = 0, last_synced_at = ? WHERE id = ?`, table)
	res, err := tx.ExecContext(ctx, query, newID, now, id)
	if err != nil {
		return fmt.Errorf("failed to rewrite id %s -> %s in %s: %w", id, newID, table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rewrite %s/%s: %w", table, id, ErrNotFound)
	}

	for _, ref := range foreignKeys[table] {
		refQuery := fmt.Sprintf(`UPDATE %s SET %s = ? WHERE %s = ?`,
			ref.table, ref.column, ref.column)
		if _, err := tx.ExecContext(ctx, refQuery, newID, id); err != nil {
			return fmt.Errorf("failed to rewrite %s.%s %s -> %s: %w",
				ref.table, ref.column, id, newID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit id rewrite: %w", err)
	}
	return nil
}

// ListDirtyTeacherAttendance returns all unconfirmed teacher
// attendance rows, oldest first so retries preserve submission order.
func (s *Store) ListDirtyTeacherAttendance(ctx context.Context) ([]*schema.TeacherAttendance, error) {
	query := teacherAttendanceSelect + ` WHERE is_dirty = 1 ORDER BY updated_at ASC`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty teacher attendance: %w", err)
	}
	defer rows.Close()

	var out []*schema.TeacherAttendance
	for rows.Next() {
		rec, err := scanTeacherAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListDirtyStudentAttendance returns all unconfirmed student
// attendance rows, oldest first.
func (s *Store) ListDirtyStudentAttendance(ctx context.Context) ([]*schema.StudentAttendance, error) {
	query := studentAttendanceSelect + ` WHERE is_dirty = 1 ORDER BY updated_at ASC`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty student attendance: %w", err)
	}
	defer rows.Close()

	var out []*schema.StudentAttendance
	for rows.Next() {
		rec, err := scanStudentAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PendingCounts returns the number of dirty rows per attendance table.
func (s *Store) PendingCounts(ctx context.Context) (teacher, student int, err error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM teacher_attendance WHERE is_dirty = 1),
			(SELECT COUNT(*) FROM student_attendance WHERE is_dirty = 1)`)
	if err := row.Scan(&teacher, &student); err != nil {
		return 0, 0, fmt.Errorf("failed to count pending rows: %w", err)
	}
	return teacher, student, nil
}

// HasUnsynced reports whether any attendance row is still dirty.
func (s *Store) HasUnsynced(ctx context.Context) (bool, error) {
	t, st, err := s.PendingCounts(ctx)
	if err != nil {
		return false, err
	}
	return t+st > 0, nil
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

const teacherAttendanceSelect = `SELECT id, identity_id, date, status,
	COALESCE(remarks, ''), created_at, updated_at, last_synced_at, is_dirty
	FROM teacher_attendance`

func scanTeacherAttendance(sc scanner) (*schema.TeacherAttendance, error) {
	var rec schema.TeacherAttendance
	var created, updated string
	var synced sql.NullString
	if err := sc.Scan(&rec.ID, &rec.IdentityID, &rec.Date, &rec.Status, &rec.Remarks,
		&created, &updated, &synced, &rec.Dirty); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan teacher attendance: %w", err)
	}
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	rec.LastSyncedAt = parseTimePtr(synced)
	return &rec, nil
}

const studentAttendanceSelect = `SELECT id, student_id, class_id,
	COALESCE(subject_id, ''), identity_id, date, status, COALESCE(remarks, ''),
	created_at, updated_at, last_synced_at, is_dirty
	FROM student_attendance`

func scanStudentAttendance(sc scanner) (*schema.StudentAttendance, error) {
	var rec schema.StudentAttendance
	var created, updated string
	var synced sql.NullString
	if err := sc.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &rec.SubjectID,
		&rec.IdentityID, &rec.Date, &rec.Status, &rec.Remarks,
		&created, &updated, &synced, &rec.Dirty); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan student attendance: %w", err)
	}
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	rec.LastSyncedAt = parseTimePtr(synced)
	return &rec, nil
}
