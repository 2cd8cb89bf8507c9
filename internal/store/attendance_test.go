package store

import (
	"context"
	"errors"
	"testing"

	"github.com/rollcall/rollcall/internal/localid"
	"github.com/rollcall/rollcall/internal/schema"
)

func TestTeacherAttendanceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &schema.TeacherAttendance{
		ID:         localid.New(),
		IdentityID: "t-1",
		Date:       "2026-09-01",
		Status:     schema.TeacherLeave,
		Remarks:    "medical",
	}
	if err := s.InsertTeacherAttendance(ctx, rec); err != nil {
		t.Fatalf("InsertTeacherAttendance failed: %v", err)
	}

	got, err := s.GetTeacherAttendance(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetTeacherAttendance failed: %v", err)
	}
	if got.Status != schema.TeacherLeave || got.Remarks != "medical" {
		t.Errorf("fields lost in round trip: %+v", got)
	}
	if !got.Dirty {
		t.Error("new row must be dirty")
	}
	if got.LastSyncedAt != nil {
		t.Error("new row must not carry last_synced_at")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not stamped on insert")
	}
}

func TestInsertTeacherAttendanceValidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cases := []*schema.TeacherAttendance{
		{ID: localid.New(), IdentityID: "t-1", Date: "2026-09-01", Status: "napping"},
		{ID: localid.New(), IdentityID: "t-1", Date: "01/09/2026", Status: schema.TeacherPresent},
		{ID: localid.New(), IdentityID: "", Date: "2026-09-01", Status: schema.TeacherPresent},
	}
	for _, rec := range cases {
		if err := s.InsertTeacherAttendance(ctx, rec); err == nil {
			t.Errorf("expected validation error for %+v", rec)
		}
	}
}

func TestUpdateTeacherAttendanceRemarksDirty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := seedTeacherRow(t, s, "t-1", "2026-09-01")

	// Confirm it, then edit: the edit must re-dirty the row.
	if err := s.ClearDirty(ctx, "teacher_attendance", rec.ID, "srv-9"); err != nil {
		t.Fatalf("ClearDirty failed: %v", err)
	}
	rec.ID = "srv-9"
	rec.Status = schema.TeacherAbsent
	if err := s.UpdateTeacherAttendance(ctx, rec); err != nil {
		t.Fatalf("UpdateTeacherAttendance failed: %v", err)
	}

	got, err := s.GetTeacherAttendance(ctx, "srv-9")
	if err != nil {
		t.Fatalf("GetTeacherAttendance failed: %v", err)
	}
	if !got.Dirty {
		t.Error("edited row must be dirty again")
	}
	if got.Status != schema.TeacherAbsent {
		t.Errorf("status not updated: %s", got.Status)
	}
	// The confirmation timestamp survives the edit; only the dirty flag
	// signals the pending resubmission.
	if got.LastSyncedAt == nil {
		t.Error("last_synced_at should survive an edit")
	}
}

func TestGetTeacherAttendanceByDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := seedTeacherRow(t, s, "t-1", "2026-09-01")
	seedTeacherRow(t, s, "t-1", "2026-09-02")

	got, err := s.GetTeacherAttendanceByDate(ctx, "t-1", "2026-09-01")
	if err != nil {
		t.Fatalf("GetTeacherAttendanceByDate failed: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("wrong row: got %s want %s", got.ID, rec.ID)
	}

	if _, err := s.GetTeacherAttendanceByDate(ctx, "t-1", "2026-09-03"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unmarked date, got %v", err)
	}
}

func TestGetStudentAttendanceByKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &schema.StudentAttendance{
		ID:         localid.New(),
		StudentID:  "s-1",
		ClassID:    "c-1",
		SubjectID:  "sub-math",
		IdentityID: "t-1",
		Date:       "2026-09-01",
		Status:     schema.StudentLate,
	}
	if err := s.InsertStudentAttendance(ctx, rec); err != nil {
		t.Fatalf("InsertStudentAttendance failed: %v", err)
	}

	got, err := s.GetStudentAttendanceByKey(ctx, "s-1", "sub-math", "2026-09-01")
	if err != nil {
		t.Fatalf("GetStudentAttendanceByKey failed: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("wrong row: got %s want %s", got.ID, rec.ID)
	}

	// A different subject on the same day is a different record.
	if _, err := s.GetStudentAttendanceByKey(ctx, "s-1", "sub-sci", "2026-09-01"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other subject, got %v", err)
	}
}
