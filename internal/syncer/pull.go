package syncer

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rollcall/rollcall/internal/remote"
	"github.com/rollcall/rollcall/internal/schema"
	"github.com/rollcall/rollcall/internal/store"
)

// DefaultStaleness is the minimum age of the last successful pull
// before reference data is fetched again. A cache-freshness policy,
// not a correctness requirement.
const DefaultStaleness = time.Hour

// Puller fetches teacher-scoped reference data and upserts it into
// the local mirror. Reference data is never edited offline, so the
// remote copy always wins and nothing here sets dirty flags.
type Puller struct {
	store     *store.Store
	remote    *remote.Client
	staleness time.Duration
	logger    *log.Logger
}

// NewPuller creates a puller. staleness <= 0 selects DefaultStaleness.
func NewPuller(st *store.Store, rc *remote.Client, staleness time.Duration, logger *log.Logger) *Puller {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Puller{store: st, remote: rc, staleness: staleness, logger: logger}
}

// Pull refreshes the identity's reference data (assignments, classes,
// students, subjects).
//
// Unless force is set, the pull is skipped entirely while the ledger
// says the reference group synced within the staleness window;
// skipped pulls return (true, nil).
func (p *Puller) Pull(ctx context.Context, identityID string, force bool) (skipped bool, err error) {
	status, err := p.store.GetSyncStatus(ctx, schema.GroupReference)
	if err != nil {
		return false, err
	}
	if !force && !status.Stale(p.staleness, time.Now()) {
		p.logger.Printf("Reference data fresh (synced %s), skipping pull",
			status.LastSyncedAt.Format(time.RFC3339))
		return true, nil
	}

	assignments, err := p.remote.Assignments(ctx, identityID)
	if err != nil {
		return false, p.recordPullError(ctx, err)
	}

	classIDs := make([]string, 0, len(assignments))
	seen := make(map[string]bool)
	for _, a := range assignments {
		if !seen[a.ClassID] {
			seen[a.ClassID] = true
			classIDs = append(classIDs, a.ClassID)
		}
	}

	// The three scoped fetches are independent; run them in parallel.
	var (
		classes  []*schema.Class
		students []*schema.Student
		subjects []*schema.Subject
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		classes, err = p.remote.Classes(gctx, classIDs)
		return err
	})
	g.Go(func() error {
		var err error
		students, err = p.remote.StudentsByClass(gctx, classIDs)
		return err
	})
	g.Go(func() error {
		var err error
		subjects, err = p.remote.Subjects(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, p.recordPullError(ctx, err)
	}

	now := time.Now()
	count := 0

	for _, c := range classes {
		stampPulled(&c.SyncMeta, now)
		if err := p.store.UpsertClass(ctx, c); err != nil {
			return false, err
		}
		count++
	}
	for _, sub := range subjects {
		stampPulled(&sub.SyncMeta, now)
		if err := p.store.UpsertSubject(ctx, sub); err != nil {
			return false, err
		}
		count++
	}
	for _, st := range students {
		stampPulled(&st.SyncMeta, now)
		if err := p.store.UpsertStudent(ctx, st); err != nil {
			return false, err
		}
		count++
	}
	for _, a := range assignments {
		stampPulled(&a.SyncMeta, now)
		if err := p.store.UpsertAssignment(ctx, a); err != nil {
			return false, err
		}
		count++
	}

	ledger := &schema.SyncStatus{
		TableGroup:   schema.GroupReference,
		LastSyncedAt: &now,
		SyncedCount:  count,
	}
	if err := p.store.UpsertSyncStatus(ctx, ledger); err != nil {
		return false, err
	}

	p.logger.Printf("Pull complete: %d assignments, %d classes, %d students, %d subjects",
		len(assignments), len(classes), len(students), len(subjects))
	return false, nil
}

// recordPullError notes the failure in the ledger without disturbing
// the last successful pull timestamp.
func (p *Puller) recordPullError(ctx context.Context, cause error) error {
	if err := p.store.RecordSyncError(ctx, schema.GroupReference, cause.Error()); err != nil {
		p.logger.Printf("Warning: failed to record pull error: %v", err)
	}
	return fmt.Errorf("pull failed: %w", cause)
}

// stampPulled normalizes sync metadata on a row arriving from the
// service: clean, acknowledged now, timestamps defaulted if the wire
// payload omitted them.
func stampPulled(m *schema.SyncMeta, now time.Time) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	synced := now
	m.LastSyncedAt = &synced
	m.Dirty = false
}
