package schema

import (
	"fmt"
	"time"
)

// Teacher attendance statuses.
const (
	TeacherPresent = "present"
	TeacherAbsent  = "absent"
	TeacherLeave   = "leave"
)

// Student attendance statuses.
const (
	StudentPresent = "present"
	StudentAbsent  = "absent"
	StudentLate    = "late"
	StudentExcused = "excused"
)

// TeacherAttendance records a teacher's own attendance for one date.
// Created offline with a temporary id; the id is rewritten to the
// server-issued one after the first successful push.
type TeacherAttendance struct {
	ID         string `json:"id"`
	IdentityID string `json:"identity_id"`
	Date       string `json:"date"` // DateFormat
	Status     string `json:"status"`
	Remarks    string `json:"remarks,omitempty"`

	SyncMeta
}

// Validate checks field values before the record is stored or pushed.
func (t *TeacherAttendance) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.IdentityID == "" {
		return fmt.Errorf("identity_id is required")
	}
	if _, err := time.Parse(DateFormat, t.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", t.Date, err)
	}
	switch t.Status {
	case TeacherPresent, TeacherAbsent, TeacherLeave:
	default:
		return fmt.Errorf("invalid teacher attendance status %q", t.Status)
	}
	return nil
}

// StudentAttendance records one student's attendance for a class,
// subject and date, marked by the signed-in identity.
type StudentAttendance struct {
	ID         string `json:"id"`
	StudentID  string `json:"student_id"`
	ClassID    string `json:"class_id"`
	SubjectID  string `json:"subject_id,omitempty"`
	IdentityID string `json:"identity_id"` // who marked it
	Date       string `json:"date"`        // DateFormat
	Status     string `json:"status"`
	Remarks    string `json:"remarks,omitempty"`

	SyncMeta
}

// Validate checks field values before the record is stored or pushed.
func (s *StudentAttendance) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.StudentID == "" {
		return fmt.Errorf("student_id is required")
	}
	if s.ClassID == "" {
		return fmt.Errorf("class_id is required")
	}
	if s.IdentityID == "" {
		return fmt.Errorf("identity_id is required")
	}
	if _, err := time.Parse(DateFormat, s.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", s.Date, err)
	}
	switch s.Status {
	case StudentPresent, StudentAbsent, StudentLate, StudentExcused:
	default:
		return fmt.Errorf("invalid student attendance status %q", s.Status)
	}
	return nil
}
