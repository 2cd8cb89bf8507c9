package syncer

import (
	"context"
	"log"
	"time"

	"github.com/rollcall/rollcall/internal/localid"
	"github.com/rollcall/rollcall/internal/remote"
	"github.com/rollcall/rollcall/internal/schema"
	"github.com/rollcall/rollcall/internal/store"
)

// DefaultBulkThreshold is the dirty-batch size at which push switches
// from per-row submission to the bulk upload endpoints.
const DefaultBulkThreshold = 10

// RowError is one row's push failure. The row stays dirty and will be
// retried (unless Rejected) on the next scheduled attempt.
type RowError struct {
	Table    string `json:"table"`
	ID       string `json:"id"`
	Msg      string `json:"msg"`
	Rejected bool   `json:"rejected"` // 4xx: won't succeed without a local edit
}

// PushResult summarizes one push batch.
type PushResult struct {
	Synced int        `json:"synced"`
	Errors []RowError `json:"errors,omitempty"`
}

// FirstError returns the first row error message, or "".
func (r *PushResult) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Msg
}

// Pusher submits dirty attendance rows to the remote service.
//
// Rows whose id still carries the temporary prefix have never been
// accepted remotely and take the create path; on success the
// server-issued id replaces the temporary one (cascading rewrite in
// the store). All other dirty rows were synced before and edited
// again, so they take the update path. This split is what makes
// client-side at-least-once delivery exactly-once on the server: once
// the id is rewritten, a retried push of the same row can only be an
// update.
type Pusher struct {
	store         *store.Store
	remote        *remote.Client
	bulkThreshold int
	logger        *log.Logger
}

// NewPusher creates a pusher. bulkThreshold <= 0 selects
// DefaultBulkThreshold; a very large threshold effectively disables
// the bulk path.
func NewPusher(st *store.Store, rc *remote.Client, bulkThreshold int, logger *log.Logger) *Pusher {
	if bulkThreshold <= 0 {
		bulkThreshold = DefaultBulkThreshold
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pusher{store: st, remote: rc, bulkThreshold: bulkThreshold, logger: logger}
}

// Push submits every dirty attendance row. A failing row never aborts
// the batch; its error is accumulated and the row stays dirty. The
// returned error is non-nil only for local store failures, which are
// fatal to the attempt.
func (p *Pusher) Push(ctx context.Context) (*PushResult, error) {
	result := &PushResult{}

	if err := p.pushTeacherRows(ctx, result); err != nil {
		return nil, err
	}
	if err := p.pushStudentRows(ctx, result); err != nil {
		return nil, err
	}

	now := time.Now()
	ledger := &schema.SyncStatus{
		TableGroup:   schema.GroupAttendance,
		LastSyncedAt: &now,
		LastError:    result.FirstError(),
		SyncedCount:  result.Synced,
	}
	if err := p.store.UpsertSyncStatus(ctx, ledger); err != nil {
		return nil, err
	}

	p.logger.Printf("Push complete: %d synced, %d failed", result.Synced, len(result.Errors))
	return result, nil
}

func (p *Pusher) pushTeacherRows(ctx context.Context, result *PushResult) error {
	rows, err := p.store.ListDirtyTeacherAttendance(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	if len(rows) >= p.bulkThreshold {
		results, err := p.remote.BulkUploadTeacherAttendance(ctx, rows)
		if err == nil {
			return p.applyBulkResults(ctx, "teacher_attendance", rowIDs(rows), results, result)
		}
		p.logger.Printf("Bulk teacher upload failed, falling back to per-row: %v", err)
	}

	for _, rec := range rows {
		if localid.IsLocal(rec.ID) {
			created, err := p.remote.CreateTeacherAttendance(ctx, rec)
			if err != nil {
				result.Errors = append(result.Errors, rowError("teacher_attendance", rec.ID, err))
				continue
			}
			if err := p.store.ClearDirty(ctx, "teacher_attendance", rec.ID, created.ID); err != nil {
				return err
			}
		} else {
			if err := p.remote.UpdateTeacherAttendance(ctx, rec.ID, rec); err != nil {
				result.Errors = append(result.Errors, rowError("teacher_attendance", rec.ID, err))
				continue
			}
			if err := p.store.ClearDirty(ctx, "teacher_attendance", rec.ID, ""); err != nil {
				return err
			}
		}
		result.Synced++
	}
	return nil
}

func (p *Pusher) pushStudentRows(ctx context.Context, result *PushResult) error {
	rows, err := p.store.ListDirtyStudentAttendance(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	if len(rows) >= p.bulkThreshold {
		results, err := p.remote.BulkUploadStudentAttendance(ctx, rows)
		if err == nil {
			ids := make([]string, len(rows))
			for i, r := range rows {
				ids[i] = r.ID
			}
			return p.applyBulkResults(ctx, "student_attendance", ids, results, result)
		}
		p.logger.Printf("Bulk student upload failed, falling back to per-row: %v", err)
	}

	for _, rec := range rows {
		if localid.IsLocal(rec.ID) {
			created, err := p.remote.CreateStudentAttendance(ctx, rec)
			if err != nil {
				result.Errors = append(result.Errors, rowError("student_attendance", rec.ID, err))
				continue
			}
			if err := p.store.ClearDirty(ctx, "student_attendance", rec.ID, created.ID); err != nil {
				return err
			}
		} else {
			if err := p.remote.UpdateStudentAttendance(ctx, rec.ID, rec); err != nil {
				result.Errors = append(result.Errors, rowError("student_attendance", rec.ID, err))
				continue
			}
			if err := p.store.ClearDirty(ctx, "student_attendance", rec.ID, ""); err != nil {
				return err
			}
		}
		result.Synced++
	}
	return nil
}

// applyBulkResults settles a bulk upload: per-record results are keyed
// by the id the client submitted, so identifier rewriting matches the
// per-row create path exactly. A submitted row missing from the
// response is treated as failed and stays dirty.
func (p *Pusher) applyBulkResults(ctx context.Context, table string, submitted []string, results []remote.BulkResult, out *PushResult) error {
	byLocal := make(map[string]remote.BulkResult, len(results))
	for _, r := range results {
		byLocal[r.LocalID] = r
	}

	for _, id := range submitted {
		r, ok := byLocal[id]
		if !ok {
			out.Errors = append(out.Errors, RowError{
				Table: table, ID: id, Msg: "missing from bulk response",
			})
			continue
		}
		if r.Err != "" {
			out.Errors = append(out.Errors, RowError{Table: table, ID: id, Msg: r.Err})
			continue
		}
		newID := ""
		if localid.IsLocal(id) {
			newID = r.ServerID
		}
		if err := p.store.ClearDirty(ctx, table, id, newID); err != nil {
			return err
		}
		out.Synced++
	}
	return nil
}

func rowIDs(rows []*schema.TeacherAttendance) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}

func rowError(table, id string, err error) RowError {
	return RowError{
		Table:    table,
		ID:       id,
		Msg:      err.Error(),
		Rejected: remote.IsRejected(err),
	}
}
