package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rollcall/rollcall/internal/schema"
)

// Reference-data upserts. Remote state always wins for reference
// tables: on conflict every domain field is overwritten and
// last_synced_at is refreshed. Pulled rows are never dirty.

// UpsertIdentity inserts or overwrites an identity row.
func (s *Store) UpsertIdentity(ctx context.Context, rec *schema.Identity) error {
	query := `
	INSERT INTO identities (id, display_name, email, created_at, updated_at, last_synced_at, is_dirty)
	VALUES (?, ?, ?, ?, ?, ?, 0)
	ON CONFLICT(id) DO UPDATE SET
		display_name = excluded.display_name,
		email = excluded.email,
		updated_at = excluded.updated_at,
		last_synced_at = excluded.last_synced_at,
		is_dirty = 0
	`
	_, err := s.conn.ExecContext(ctx, query,
		rec.ID, rec.DisplayName, rec.Email,
		fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt), fmtTimePtr(rec.LastSyncedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert identity %s: %w", rec.ID, err)
	}
	return nil
}

// UpsertAssignment inserts or overwrites an assignment row.
func (s *Store) UpsertAssignment(ctx context.Context, rec *schema.Assignment) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid assignment: %w", err)
	}
	query := `
	INSERT INTO assignments (id, identity_id, class_id, subject_id, role,
		created_at, updated_at, last_synced_at, is_dirty)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
	ON CONFLICT(id) DO UPDATE SET
		identity_id = excluded.identity_id,
		class_id = excluded.class_id,
		subject_id = excluded.subject_id,
		role = excluded.role,
		updated_at = excluded.updated_at,
		last_synced_at = excluded.last_synced_at,
		is_dirty = 0
	`
	_, err := s.conn.ExecContext(ctx, query,
		rec.ID, rec.IdentityID, rec.ClassID, rec.SubjectID, rec.Role,
		fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt), fmtTimePtr(rec.LastSyncedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert assignment %s: %w", rec.ID, err)
	}
	return nil
}

// UpsertClass inserts or overwrites a class row.
func (s *Store) UpsertClass(ctx context.Context, rec *schema.Class) error {
	query := `
	INSERT INTO classes (id, name, grade, created_at, updated_at, last_synced_at, is_dirty)
	VALUES (?, ?, ?, ?, ?, ?, 0)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		grade = excluded.grade,
		updated_at = excluded.updated_at,
		last_synced_at = excluded.last_synced_at,
		is_dirty = 0
	`
	_, err := s.conn.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.Grade,
		fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt), fmtTimePtr(rec.LastSyncedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert class %s: %w", rec.ID, err)
	}
	return nil
}

// UpsertStudent inserts or overwrites a student row.
func (s *Store) UpsertStudent(ctx context.Context, rec *schema.Student) error {
	query := `
	INSERT INTO students (id, class_id, first_name, last_name, roll_number,
		created_at, updated_at, last_synced_at, is_dirty)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
	ON CONFLICT(id) DO UPDATE SET
		class_id = excluded.class_id,
		first_name = excluded.first_name,
		last_name = excluded.last_name,
		roll_number = excluded.roll_number,
		updated_at = excluded.updated_at,
		last_synced_at = excluded.last_synced_at,
		is_dirty = 0
	`
	_, err := s.conn.ExecContext(ctx, query,
		rec.ID, rec.ClassID, rec.FirstName, rec.LastName, rec.RollNumber,
		fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt), fmtTimePtr(rec.LastSyncedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert student %s: %w", rec.ID, err)
	}
	return nil
}

// UpsertSubject inserts or overwrites a subject row.
func (s *Store) UpsertSubject(ctx context.Context, rec *schema.Subject) error {
	query := `
	INSERT INTO subjects (id, name, code, created_at, updated_at, last_synced_at, is_dirty)
	VALUES (?, ?, ?, ?, ?, ?, 0)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		code = excluded.code,
		updated_at = excluded.updated_at,
		last_synced_at = excluded.last_synced_at,
		is_dirty = 0
	`
	_, err := s.conn.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.Code,
		fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt), fmtTimePtr(rec.LastSyncedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert subject %s: %w", rec.ID, err)
	}
	return nil
}

// GetIdentity loads one identity by id.
func (s *Store) GetIdentity(ctx context.Context, id string) (*schema.Identity, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, display_name, COALESCE(email, ''), created_at, updated_at, last_synced_at, is_dirty
		 FROM identities WHERE id = ?`, id)

	var rec schema.Identity
	var created, updated string
	var synced sql.NullString
	if err := row.Scan(&rec.ID, &rec.DisplayName, &rec.Email,
		&created, &updated, &synced, &rec.Dirty); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load identity %s: %w", id, err)
	}
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	rec.LastSyncedAt = parseTimePtr(synced)
	return &rec, nil
}

// GetClass loads one class by id.
func (s *Store) GetClass(ctx context.Context, id string) (*schema.Class, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(grade, ''), created_at, updated_at, last_synced_at, is_dirty
		 FROM classes WHERE id = ?`, id)

	var rec schema.Class
	var created, updated string
	var synced sql.NullString
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Grade,
		&created, &updated, &synced, &rec.Dirty); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load class %s: %w", id, err)
	}
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	rec.LastSyncedAt = parseTimePtr(synced)
	return &rec, nil
}

// GetStudent loads one student by id.
func (s *Store) GetStudent(ctx context.Context, id string) (*schema.Student, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, class_id, first_name, last_name, COALESCE(roll_number, ''),
			created_at, updated_at, last_synced_at, is_dirty
		 FROM students WHERE id = ?`, id)

	var rec schema.Student
	var created, updated string
	var synced sql.NullString
	if err := row.Scan(&rec.ID, &rec.ClassID, &rec.FirstName, &rec.LastName, &rec.RollNumber,
		&created, &updated, &synced, &rec.Dirty); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load student %s: %w", id, err)
	}
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	rec.LastSyncedAt = parseTimePtr(synced)
	return &rec, nil
}

// ListAssignments returns an identity's assignments.
func (s *Store) ListAssignments(ctx context.Context, identityID string) ([]*schema.Assignment, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, identity_id, class_id, COALESCE(subject_id, ''), COALESCE(role, ''),
			created_at, updated_at, last_synced_at, is_dirty
		 FROM assignments WHERE identity_id = ? ORDER BY id`, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []*schema.Assignment
	for rows.Next() {
		var rec schema.Assignment
		var created, updated string
		var synced sql.NullString
		if err := rows.Scan(&rec.ID, &rec.IdentityID, &rec.ClassID, &rec.SubjectID, &rec.Role,
			&created, &updated, &synced, &rec.Dirty); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		rec.CreatedAt = parseTime(created)
		rec.UpdatedAt = parseTime(updated)
		rec.LastSyncedAt = parseTimePtr(synced)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// ListStudentsByClass returns the pulled roster for a class, ordered
// by roll number then name.
func (s *Store) ListStudentsByClass(ctx context.Context, classID string) ([]*schema.Student, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, class_id, first_name, last_name, COALESCE(roll_number, ''),
			created_at, updated_at, last_synced_at, is_dirty
		 FROM students WHERE class_id = ? ORDER BY roll_number, last_name, first_name`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to list students for class %s: %w", classID, err)
	}
	defer rows.Close()

	var out []*schema.Student
	for rows.Next() {
		var rec schema.Student
		var created, updated string
		var synced sql.NullString
		if err := rows.Scan(&rec.ID, &rec.ClassID, &rec.FirstName, &rec.LastName, &rec.RollNumber,
			&created, &updated, &synced, &rec.Dirty); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		rec.CreatedAt = parseTime(created)
		rec.UpdatedAt = parseTime(updated)
		rec.LastSyncedAt = parseTimePtr(synced)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
