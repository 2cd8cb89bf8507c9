package store

import (
	"context"
	"testing"
	"time"

	"github.com/rollcall/rollcall/internal/schema"
)

func TestSyncStatusUpsertKeyedByGroup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	for i := 0; i < 3; i++ {
		st := &schema.SyncStatus{
			TableGroup:   schema.GroupAttendance,
			LastSyncedAt: &now,
			SyncedCount:  i,
		}
		if err := s.UpsertSyncStatus(ctx, st); err != nil {
			t.Fatalf("UpsertSyncStatus failed: %v", err)
		}
	}

	all, err := s.ListSyncStatus(ctx)
	if err != nil {
		t.Fatalf("ListSyncStatus failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("ledger must hold one row per group, got %d", len(all))
	}
	if all[0].SyncedCount != 2 {
		t.Errorf("latest upsert should win, got count %d", all[0].SyncedCount)
	}
}

func TestRecordSyncErrorPreservesTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	synced := time.Now().Add(-10 * time.Minute)
	if err := s.UpsertSyncStatus(ctx, &schema.SyncStatus{
		TableGroup:   schema.GroupReference,
		LastSyncedAt: &synced,
		SyncedCount:  42,
	}); err != nil {
		t.Fatalf("UpsertSyncStatus failed: %v", err)
	}

	if err := s.RecordSyncError(ctx, schema.GroupReference, "connection refused"); err != nil {
		t.Fatalf("RecordSyncError failed: %v", err)
	}

	st, err := s.GetSyncStatus(ctx, schema.GroupReference)
	if err != nil {
		t.Fatalf("GetSyncStatus failed: %v", err)
	}
	if st.LastError != "connection refused" {
		t.Errorf("error not recorded: %q", st.LastError)
	}
	if st.LastSyncedAt == nil {
		t.Error("a failed attempt must not erase the last success timestamp")
	}
}

func TestRecordSyncErrorCreatesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordSyncError(ctx, schema.GroupAttendance, "offline"); err != nil {
		t.Fatalf("RecordSyncError failed: %v", err)
	}

	st, err := s.GetSyncStatus(ctx, schema.GroupAttendance)
	if err != nil {
		t.Fatalf("GetSyncStatus failed: %v", err)
	}
	if st == nil {
		t.Fatal("ledger row should exist after first failure")
	}
	if st.LastSyncedAt != nil {
		t.Error("never-synced group must keep a nil timestamp")
	}
}

func TestGetSyncStatusUnknownGroup(t *testing.T) {
	s := newTestStore(t)

	st, err := s.GetSyncStatus(context.Background(), schema.GroupReference)
	if err != nil {
		t.Fatalf("GetSyncStatus failed: %v", err)
	}
	if st != nil {
		t.Errorf("expected nil for never-synced group, got %+v", st)
	}
}
