package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rollcall/rollcall/internal/schema"
)

// InsertTeacherAttendance stores a newly captured teacher attendance
// row. The row is stamped and marked dirty; the caller is expected to
// have assigned a temporary id via localid.New.
func (s *Store) InsertTeacherAttendance(ctx context.Context, rec *schema.TeacherAttendance) error {
	rec.Touch(time.Now())
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid teacher attendance: %w", err)
	}

	query := `
	INSERT INTO teacher_attendance
		(id, identity_id, date, status, remarks, created_at, updated_at, last_synced_at, is_dirty)
	VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 1)
	`
	_, err := s.conn.ExecContext(ctx, query,
		rec.ID, rec.IdentityID, rec.Date, rec.Status, rec.Remarks,
		fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert teacher attendance %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateTeacherAttendance overwrites the domain fields of an existing
// row and re-marks it dirty.
func (s *Store) UpdateTeacherAttendance(ctx context.Context, rec *schema.TeacherAttendance) error {
	rec.Touch(time.Now())
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid teacher attendance: %w", err)
	}

	query := `
	UPDATE teacher_attendance
	SET status = ?, remarks = ?, updated_at = ?, is_dirty = 1
	WHERE id = ?
	`
	res, err := s.conn.ExecContext(ctx, query,
		rec.Status, rec.Remarks, fmtTime(rec.UpdatedAt), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update teacher attendance %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update teacher attendance %s: %w", rec.ID, ErrNotFound)
	}
	return nil
}

// GetTeacherAttendance loads one teacher attendance row by id.
func (s *Store) GetTeacherAttendance(ctx context.Context, id string) (*schema.TeacherAttendance, error) {
	row := s.conn.QueryRowContext(ctx, teacherAttendanceSelect+` WHERE id = ?`, id)
	return scanTeacherAttendance(row)
}

// GetTeacherAttendanceByDate loads the identity's attendance row for a
// date, if any. Used to make marking idempotent per day.
func (s *Store) GetTeacherAttendanceByDate(ctx context.Context, identityID, date string) (*schema.TeacherAttendance, error) {
	row := s.conn.QueryRowContext(ctx,
		teacherAttendanceSelect+` WHERE identity_id = ? AND date = ?`, identityID, date)
	return scanTeacherAttendance(row)
}

// InsertStudentAttendance stores a newly captured student attendance
// row, stamped and dirty.
func (s *Store) InsertStudentAttendance(ctx context.Context, rec *schema.StudentAttendance) error {
	rec.Touch(time.Now())
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid student attendance: %w", err)
	}

	query := `
	INSERT INTO student_attendance
		(id, student_id, class_id, subject_id, identity_id, date, status, remarks,
		 created_at, updated_at, last_synced_at, is_dirty)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 1)
	`
	_, err := s.conn.ExecContext(ctx, query,
		rec.ID, rec.StudentID, rec.ClassID, rec.SubjectID, rec.IdentityID,
		rec.Date, rec.Status, rec.Remarks,
		fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert student attendance %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateStudentAttendance overwrites the domain fields of an existing
// row and re-marks it dirty.
func (s *Store) UpdateStudentAttendance(ctx context.Context, rec *schema.StudentAttendance) error {
	rec.Touch(time.Now())
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid student attendance: %w", err)
	}

	query := `
	UPDATE student_attendance
	SET status = ?, remarks = ?, updated_at = ?, is_dirty = 1
	WHERE id = ?
	`
	res, err := s.conn.ExecContext(ctx, query,
		rec.Status, rec.Remarks, fmtTime(rec.UpdatedAt), rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update student attendance %s: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update student attendance %s: %w", rec.ID, ErrNotFound)
	}
	return nil
}

// GetStudentAttendance loads one student attendance row by id.
func (s *Store) GetStudentAttendance(ctx context.Context, id string) (*schema.StudentAttendance, error) {
	row := s.conn.QueryRowContext(ctx, studentAttendanceSelect+` WHERE id = ?`, id)
	return scanStudentAttendance(row)
}

// GetStudentAttendanceByKey loads the row for one student, subject and
// date, if any. Used to make marking idempotent per lesson.
func (s *Store) GetStudentAttendanceByKey(ctx context.Context, studentID, subjectID, date string) (*schema.StudentAttendance, error) {
	row := s.conn.QueryRowContext(ctx,
		studentAttendanceSelect+` WHERE student_id = ? AND COALESCE(subject_id, '') = ? AND date = ?`,
		studentID, subjectID, date)
	return scanStudentAttendance(row)
}
