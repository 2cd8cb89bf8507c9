package syncer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rollcall/rollcall/internal/schema"
)

func TestCheckConflictReportsForeignOwner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	// Three rows owned by teacher A, whose profile is mirrored.
	seedTeacherRow(t, h.store, "t-a", "2026-08-30")
	seedTeacherRow(t, h.store, "t-a", "2026-08-31")
	seedTeacherRow(t, h.store, "t-a", "2026-09-01")
	if err := h.store.UpsertIdentity(ctx, &schema.Identity{
		ID: "t-a", DisplayName: "Anita Desai",
	}); err != nil {
		t.Fatalf("UpsertIdentity failed: %v", err)
	}

	r := NewResolver(h.store, NewPuller(h.store, h.remote, time.Hour, testLogger()), "", testLogger())

	conflict, err := r.CheckConflict(ctx, "t-b")
	if err != nil {
		t.Fatalf("CheckConflict failed: %v", err)
	}
	if conflict == nil {
		t.Fatal("signing in over another identity's data must conflict")
	}
	if conflict.ExistingIdentityID != "t-a" || conflict.ExistingLabel != "Anita Desai" {
		t.Errorf("unexpected conflict: %+v", conflict)
	}
}

func TestCheckConflictAllowsOwner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	seedTeacherRow(t, h.store, "t-a", "2026-09-01")

	r := NewResolver(h.store, NewPuller(h.store, h.remote, time.Hour, testLogger()), "", testLogger())

	conflict, err := r.CheckConflict(ctx, "t-a")
	if err != nil {
		t.Fatalf("CheckConflict failed: %v", err)
	}
	if conflict != nil {
		t.Errorf("owner signing in again is no conflict, got %+v", conflict)
	}
}

func TestCheckConflictAllowsEmptyStore(t *testing.T) {
	h := newHarness(t, nil)

	r := NewResolver(h.store, NewPuller(h.store, h.remote, time.Hour, testLogger()), "", testLogger())

	conflict, err := r.CheckConflict(context.Background(), "t-new")
	if err != nil {
		t.Fatalf("CheckConflict failed: %v", err)
	}
	if conflict != nil {
		t.Errorf("fresh store should never conflict, got %+v", conflict)
	}
}

func TestDiscardAndReload(t *testing.T) {
	svc := referenceFixture() // serves teacher B's reference data
	h := newHarness(t, svc)
	ctx := context.Background()

	seedTeacherRow(t, h.store, "t-a", "2026-09-01")

	backupDir := filepath.Join(t.TempDir(), "backups")
	r := NewResolver(h.store, NewPuller(h.store, h.remote, time.Hour, testLogger()), backupDir, testLogger())

	if err := r.DiscardAndReload(ctx, "t-1"); err != nil {
		t.Fatalf("DiscardAndReload failed: %v", err)
	}

	// Teacher A's data is gone.
	id, _, err := h.store.ForeignOwner(ctx, "t-1")
	if err != nil {
		t.Fatalf("ForeignOwner failed: %v", err)
	}
	if id != "" {
		t.Errorf("old data should be wiped, found owner %s", id)
	}

	// The incoming identity's reference data is loaded.
	assignments, err := h.store.ListAssignments(ctx, "t-1")
	if err != nil {
		t.Fatalf("ListAssignments failed: %v", err)
	}
	if len(assignments) != 2 {
		t.Errorf("expected reloaded assignments, got %d", len(assignments))
	}

	// A pre-discard snapshot was written.
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		t.Fatalf("reading backup dir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected one backup file, got %d", len(entries))
	}
}

func TestKeepExistingLeavesData(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	rec := seedTeacherRow(t, h.store, "t-a", "2026-09-01")

	r := NewResolver(h.store, NewPuller(h.store, h.remote, time.Hour, testLogger()), "", testLogger())

	if err := r.KeepExisting(ctx, "t-b"); err != nil {
		t.Fatalf("KeepExisting failed: %v", err)
	}

	got, err := h.store.GetTeacherAttendance(ctx, rec.ID)
	if err != nil {
		t.Fatalf("row should survive KeepExisting: %v", err)
	}
	if got.IdentityID != "t-a" {
		t.Errorf("ownership must not be rewritten, got %s", got.IdentityID)
	}
}
