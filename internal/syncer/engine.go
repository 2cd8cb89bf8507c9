package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rollcall/rollcall/internal/remote"
	"github.com/rollcall/rollcall/internal/schema"
	"github.com/rollcall/rollcall/internal/store"
)

// Trigger identifies what requested a sync attempt.
type Trigger int

const (
	// TriggerStartup fires once when the app starts.
	TriggerStartup Trigger = iota
	// TriggerConnectivity fires when the device regains connectivity.
	TriggerConnectivity
	// TriggerInterval fires on the fixed daemon interval.
	TriggerInterval
	// TriggerManual fires on an explicit user request.
	TriggerManual
)

// String returns a human-readable trigger name.
func (t Trigger) String() string {
	switch t {
	case TriggerStartup:
		return "startup"
	case TriggerConnectivity:
		return "connectivity"
	case TriggerInterval:
		return "interval"
	case TriggerManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ErrSyncInProgress is returned to triggers that lose the race for the
// in-flight flag. The request is dropped, not queued.
var ErrSyncInProgress = errors.New("sync already in progress")

// ErrOffline is returned when the connectivity observer reports no
// network; the attempt aborts before any remote call.
var ErrOffline = errors.New("device is offline")

// ErrIdentityConflict is returned when the store holds another
// identity's data set. The caller must resolve through the Resolver
// before syncing can proceed.
var ErrIdentityConflict = errors.New("local store holds another identity's data")

// Result is the outcome of one sync attempt, kept for display.
type Result struct {
	Trigger     Trigger       `json:"trigger"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	PullSkipped bool          `json:"pull_skipped"`
	PullErr     string        `json:"pull_err,omitempty"`
	Push        *PushResult   `json:"push,omitempty"`
	Err         string        `json:"err,omitempty"` // attempt-level failure
}

// Summary renders a one-line human-readable outcome.
func (r *Result) Summary() string {
	if r == nil {
		return "never synced"
	}
	if r.Err != "" {
		return fmt.Sprintf("sync failed (%s): %s", r.Trigger, r.Err)
	}
	pushed, failed := 0, 0
	if r.Push != nil {
		pushed = r.Push.Synced
		failed = len(r.Push.Errors)
	}
	s := fmt.Sprintf("synced %d record(s) in %v", pushed, r.Duration.Round(time.Millisecond))
	if failed > 0 {
		s += fmt.Sprintf(", %d failed", failed)
	}
	if r.PullErr != "" {
		s += " (reference pull failed)"
	}
	return s
}

// Pending holds dirty-row counts per attendance table.
type Pending struct {
	Teacher int `json:"teacher"`
	Student int `json:"student"`
	Total   int `json:"total"`
}

// Status is a point-in-time snapshot for the status command and the
// dashboard.
type Status struct {
	Syncing    bool                 `json:"syncing"`
	Pending    Pending              `json:"pending"`
	Ledger     []*schema.SyncStatus `json:"ledger"`
	LastResult *Result              `json:"last_result,omitempty"`
}

// Options configures an Engine.
type Options struct {
	// IdentityID is the identity currently signing in / signed in.
	IdentityID string

	// KnownIdentityID is the identity recorded at the last completed
	// sign-in. The conflict check only runs when it differs from
	// IdentityID; once the caller has resolved (or explicitly kept)
	// a foreign data set, recording the new identity suppresses
	// re-detection on every subsequent sync.
	KnownIdentityID string

	// Online reports current connectivity. nil means assume online.
	Online func() bool

	Staleness     time.Duration
	BulkThreshold int
	BackupDir     string
	Logger        *log.Logger
}

// Engine is the sync scheduler: it owns the pull/push/conflict
// components and serializes all sync attempts behind one atomic
// in-flight flag.
type Engine struct {
	store    *store.Store
	puller   *Puller
	pusher   *Pusher
	resolver *Resolver
	opts     Options
	logger   *log.Logger

	syncing atomic.Bool

	mu   sync.Mutex
	last *Result
}

// NewEngine wires an engine from a store and remote client.
func NewEngine(st *store.Store, rc *remote.Client, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	puller := NewPuller(st, rc, opts.Staleness, logger)
	return &Engine{
		store:    st,
		puller:   puller,
		pusher:   NewPusher(st, rc, opts.BulkThreshold, logger),
		resolver: NewResolver(st, puller, opts.BackupDir, logger),
		opts:     opts,
		logger:   logger,
	}
}

// Resolver exposes the conflict resolver for the sign-in flow.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// Syncing reports whether a sync attempt is currently in flight.
func (e *Engine) Syncing() bool {
	return e.syncing.Load()
}

// TrySync runs one full sync attempt (pull then push) unless one is
// already in flight, in which case the request is dropped and
// ErrSyncInProgress returned.
//
// The in-flight flag is released unconditionally when the attempt
// finishes, success or failure, so the engine can never get stuck in
// the syncing state. There is no mid-attempt cancellation beyond the
// context's own deadline.
func (e *Engine) TrySync(ctx context.Context, trigger Trigger) (*Result, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		e.logger.Printf("Sync trigger %s dropped: already in progress", trigger)
		return nil, ErrSyncInProgress
	}
	defer e.syncing.Store(false)

	e.logger.Printf("Sync started (trigger: %s)", trigger)
	result := e.run(ctx, trigger)

	e.mu.Lock()
	e.last = result
	e.mu.Unlock()

	if result.Err != "" {
		return result, errors.New(result.Err)
	}
	return result, nil
}

// ForceSync reruns the pull ignoring the staleness window, then pushes.
// Used by the manual `sync --force` path; respects the same flag.
func (e *Engine) ForceSync(ctx context.Context) (*Result, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer e.syncing.Store(false)

	result := e.runWith(ctx, TriggerManual, true)

	e.mu.Lock()
	e.last = result
	e.mu.Unlock()

	if result.Err != "" {
		return result, errors.New(result.Err)
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, trigger Trigger) *Result {
	return e.runWith(ctx, trigger, false)
}

func (e *Engine) runWith(ctx context.Context, trigger Trigger, force bool) *Result {
	start := time.Now()
	result := &Result{Trigger: trigger, StartedAt: start}
	defer func() { result.Duration = time.Since(start) }()

	// Connectivity gate: abort before any remote call, leave every
	// row dirty, record the failure only.
	if e.opts.Online != nil && !e.opts.Online() {
		result.Err = ErrOffline.Error()
		if err := e.store.RecordSyncError(ctx, schema.GroupAttendance, result.Err); err != nil {
			e.logger.Printf("Warning: failed to record offline attempt: %v", err)
		}
		return result
	}

	// Identity handover gate: never sync over a foreign data set.
	if e.opts.IdentityID != e.opts.KnownIdentityID {
		conflict, err := e.resolver.CheckConflict(ctx, e.opts.IdentityID)
		if err != nil {
			result.Err = err.Error()
			return result
		}
		if conflict != nil {
			result.Err = fmt.Sprintf("%v (owned by %s)", ErrIdentityConflict, conflict.ExistingLabel)
			return result
		}
	}

	skipped, err := e.puller.Pull(ctx, e.opts.IdentityID, force)
	result.PullSkipped = skipped
	if err != nil {
		if errors.Is(err, remote.ErrNetworkUnavailable) {
			// The service is unreachable; pushing would fail row by
			// row for the same reason. Abort the attempt.
			result.Err = err.Error()
			return result
		}
		// Reference data is stale but usable; attendance rows can
		// still be delivered.
		result.PullErr = err.Error()
		e.logger.Printf("Pull failed, continuing with push: %v", err)
	}

	push, err := e.pusher.Push(ctx)
	if err != nil {
		// Local store failure: fatal to the attempt.
		result.Err = err.Error()
		return result
	}
	result.Push = push
	return result
}

// LastResult returns the most recent sync outcome, or nil before the
// first attempt.
func (e *Engine) LastResult() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// PendingCount returns dirty-row counts across attendance tables.
func (e *Engine) PendingCount(ctx context.Context) (*Pending, error) {
	teacher, student, err := e.store.PendingCounts(ctx)
	if err != nil {
		return nil, err
	}
	return &Pending{Teacher: teacher, Student: student, Total: teacher + student}, nil
}

// HasUnsynced reports whether any attendance row awaits confirmation.
func (e *Engine) HasUnsynced(ctx context.Context) (bool, error) {
	return e.store.HasUnsynced(ctx)
}

// Status assembles the snapshot served to the status command and the
// dashboard.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	pending, err := e.PendingCount(ctx)
	if err != nil {
		return nil, err
	}
	ledger, err := e.store.ListSyncStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Syncing:    e.Syncing(),
		Pending:    *pending,
		Ledger:     ledger,
		LastResult: e.LastResult(),
	}, nil
}
