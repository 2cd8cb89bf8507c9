package syncer

import (
	"context"
	"log"

	"github.com/rollcall/rollcall/internal/backup"
	"github.com/rollcall/rollcall/internal/store"
)

// Conflict reports that the local store already holds another
// identity's data set.
type Conflict struct {
	ExistingIdentityID string
	ExistingLabel      string // display name for the sign-in prompt
}

// Resolver detects and settles the device-handover case: a different
// identity signing in over an existing local data set.
//
// The resolver never chooses a resolution itself; the caller presents
// the binary decision and invokes DiscardAndReload or KeepExisting.
type Resolver struct {
	store     *store.Store
	puller    *Puller
	backupDir string
	logger    *log.Logger
}

// NewResolver creates a resolver. backupDir may be empty to skip the
// pre-discard snapshot.
func NewResolver(st *store.Store, p *Puller, backupDir string, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{store: st, puller: p, backupDir: backupDir, logger: logger}
}

// CheckConflict reports whether signing in as incomingID would operate
// over another identity's data: the store owns zero rows for the
// incoming identity but at least one domain row for some other one.
// Returns nil when there is no conflict.
func (r *Resolver) CheckConflict(ctx context.Context, incomingID string) (*Conflict, error) {
	owned, err := r.store.CountOwnedRows(ctx, incomingID)
	if err != nil {
		return nil, err
	}
	if owned > 0 {
		return nil, nil
	}

	id, label, err := r.store.ForeignOwner(ctx, incomingID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	return &Conflict{ExistingIdentityID: id, ExistingLabel: label}, nil
}

// DiscardAndReload wipes every mirrored table and the status ledger,
// then pulls fresh reference data for the incoming identity. A JSONL
// snapshot of the old data set is written first when a backup
// directory is configured.
func (r *Resolver) DiscardAndReload(ctx context.Context, incomingID string) error {
	if r.backupDir != "" {
		path, stats, err := backup.ExportFile(ctx, r.store.RawDB(), r.backupDir)
		if err != nil {
			// The snapshot is a safety net, not a gate: log and proceed.
			r.logger.Printf("Warning: pre-discard backup failed: %v", err)
		} else {
			r.logger.Printf("Wrote pre-discard backup: %s (%d rows)", path, stats.Rows)
		}
	}

	if err := r.store.WipeAll(ctx); err != nil {
		return err
	}

	if _, err := r.puller.Pull(ctx, incomingID, true); err != nil {
		return err
	}
	return nil
}

// KeepExisting accepts operating over the foreign data set without
// merging. This silently attributes the incoming identity's future
// writes to rows created under another identity, so it is logged
// loudly; callers should require explicit confirmation before
// invoking it.
func (r *Resolver) KeepExisting(ctx context.Context, incomingID string) error {
	id, label, err := r.store.ForeignOwner(ctx, incomingID)
	if err != nil {
		return err
	}
	if id != "" {
		r.logger.Printf("WARNING: identity %s is keeping local data owned by %s (%s); offline rows remain attributed to the previous identity",
			incomingID, label, id)
	}
	return nil
}
