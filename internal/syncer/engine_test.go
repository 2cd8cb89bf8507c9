package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rollcall/rollcall/internal/schema"
)

func newTestEngine(t *testing.T, svc *fakeService, opts Options) (*Engine, *harness) {
	t.Helper()
	h := newHarness(t, svc)
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	if opts.Staleness == 0 {
		opts.Staleness = time.Hour
	}
	return NewEngine(h.store, h.remote, opts), h
}

func TestTrySyncEndToEnd(t *testing.T) {
	svc := referenceFixture()
	opts := Options{IdentityID: "t-1", KnownIdentityID: "t-1"}
	engine, h := newTestEngine(t, svc, opts)
	ctx := context.Background()

	// Two records captured offline under temporary ids.
	seedTeacherRow(t, h.store, "t-1", "2026-09-01")
	seedStudentRow(t, h.store, "s-1", "2026-09-01")

	result, err := engine.TrySync(ctx, TriggerManual)
	if err != nil {
		t.Fatalf("TrySync failed: %v", err)
	}
	if result.Push == nil || result.Push.Synced != 2 {
		t.Fatalf("expected 2 pushed records, got %+v", result.Push)
	}
	if result.PullSkipped {
		t.Error("first sync should pull reference data")
	}

	pending, err := engine.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if pending.Total != 0 {
		t.Errorf("expected 0 pending after sync, got %d", pending.Total)
	}

	status, err := h.store.GetSyncStatus(ctx, schema.GroupAttendance)
	if err != nil {
		t.Fatalf("GetSyncStatus failed: %v", err)
	}
	if status == nil || status.SyncedCount != 2 {
		t.Errorf("attendance ledger should record 2 synced, got %+v", status)
	}
}

func TestTrySyncDropsConcurrentTriggers(t *testing.T) {
	svc := &fakeService{blockPulls: make(chan struct{})}
	opts := Options{IdentityID: "t-1", KnownIdentityID: "t-1"}
	engine, _ := newTestEngine(t, svc, opts)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := engine.TrySync(ctx, TriggerStartup)
		done <- err
	}()

	// Wait until the first attempt holds the in-flight flag.
	deadline := time.After(5 * time.Second)
	for !engine.Syncing() {
		select {
		case <-deadline:
			t.Fatal("first sync never started")
		case <-time.After(time.Millisecond):
		}
	}

	if _, err := engine.TrySync(ctx, TriggerInterval); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("concurrent trigger must be dropped, got %v", err)
	}

	close(svc.blockPulls)
	if err := <-done; err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if engine.Syncing() {
		t.Error("in-flight flag must be released after the attempt")
	}
}

func TestTrySyncOfflineAbortsEarly(t *testing.T) {
	svc := &fakeService{}
	opts := Options{
		IdentityID:      "t-1",
		KnownIdentityID: "t-1",
		Online:          func() bool { return false },
	}
	engine, h := newTestEngine(t, svc, opts)
	ctx := context.Background()

	rec := seedTeacherRow(t, h.store, "t-1", "2026-09-01")

	_, err := engine.TrySync(ctx, TriggerInterval)
	if err == nil || !strings.Contains(err.Error(), "offline") {
		t.Fatalf("expected offline error, got %v", err)
	}

	// No remote call was made and the row is still pending.
	h.service.mu.Lock()
	creates := h.service.creates
	h.service.mu.Unlock()
	if creates != 0 {
		t.Errorf("offline attempt must not reach the service, got %d creates", creates)
	}
	got, err := h.store.GetTeacherAttendance(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetTeacherAttendance failed: %v", err)
	}
	if !got.Dirty {
		t.Error("row must stay dirty across an offline attempt")
	}

	status, err := h.store.GetSyncStatus(ctx, schema.GroupAttendance)
	if err != nil {
		t.Fatalf("GetSyncStatus failed: %v", err)
	}
	if status == nil || status.LastError == "" {
		t.Error("offline attempt should be recorded in the ledger")
	}
}

func TestTrySyncPushesDespitePullFailure(t *testing.T) {
	svc := &fakeService{assignmentStatus: 500}
	opts := Options{IdentityID: "t-1", KnownIdentityID: "t-1"}
	engine, h := newTestEngine(t, svc, opts)
	ctx := context.Background()

	seedTeacherRow(t, h.store, "t-1", "2026-09-01")

	result, err := engine.TrySync(ctx, TriggerInterval)
	if err != nil {
		t.Fatalf("TrySync failed: %v", err)
	}
	if result.PullErr == "" {
		t.Error("pull failure should be reported")
	}
	if result.Push == nil || result.Push.Synced != 1 {
		t.Errorf("push must proceed on stale reference data, got %+v", result.Push)
	}
}

func TestTrySyncBlocksOnIdentityConflict(t *testing.T) {
	svc := &fakeService{}
	opts := Options{IdentityID: "t-b", KnownIdentityID: ""}
	engine, h := newTestEngine(t, svc, opts)
	ctx := context.Background()

	rec := seedTeacherRow(t, h.store, "t-a", "2026-09-01")

	_, err := engine.TrySync(ctx, TriggerStartup)
	if err == nil || !strings.Contains(err.Error(), "another identity") {
		t.Fatalf("expected identity conflict, got %v", err)
	}

	// Nothing was pushed or modified.
	h.service.mu.Lock()
	creates := h.service.creates
	h.service.mu.Unlock()
	if creates != 0 {
		t.Errorf("conflicted sync must not push, got %d creates", creates)
	}
	if _, err := h.store.GetTeacherAttendance(ctx, rec.ID); err != nil {
		t.Errorf("conflicted sync must not touch local rows: %v", err)
	}
}

func TestTrySyncSkipsConflictCheckForKnownIdentity(t *testing.T) {
	svc := &fakeService{}
	// The user kept teacher A's data at sign-in; the engine was told so.
	opts := Options{IdentityID: "t-b", KnownIdentityID: "t-b"}
	engine, h := newTestEngine(t, svc, opts)

	seedTeacherRow(t, h.store, "t-a", "2026-09-01")

	result, err := engine.TrySync(context.Background(), TriggerInterval)
	if err != nil {
		t.Fatalf("resolved identity must sync cleanly, got %v", err)
	}
	if result.Push == nil || result.Push.Synced != 1 {
		t.Errorf("kept rows still sync, got %+v", result.Push)
	}
}

func TestStatusSnapshot(t *testing.T) {
	svc := referenceFixture()
	opts := Options{IdentityID: "t-1", KnownIdentityID: "t-1"}
	engine, h := newTestEngine(t, svc, opts)
	ctx := context.Background()

	seedTeacherRow(t, h.store, "t-1", "2026-09-01")

	status, err := engine.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Pending.Total != 1 {
		t.Errorf("expected 1 pending before sync, got %d", status.Pending.Total)
	}
	if status.LastResult != nil {
		t.Error("no attempt yet, LastResult should be nil")
	}

	if _, err := engine.TrySync(ctx, TriggerManual); err != nil {
		t.Fatalf("TrySync failed: %v", err)
	}

	status, err = engine.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Pending.Total != 0 {
		t.Errorf("expected 0 pending after sync, got %d", status.Pending.Total)
	}
	if status.LastResult == nil {
		t.Fatal("LastResult should be recorded")
	}
	if len(status.Ledger) != 2 {
		t.Errorf("expected ledger rows for both groups, got %d", len(status.Ledger))
	}
}
