package sharing

import (
	"context"
	"errors"
	"fmt"

	"github.com/podshare/podshare-go/internal/store"
)

// UpdateOpts selects the bind columns an update may change. Nil fields are
// left untouched; only fields whose value actually differs are written.
type UpdateOpts struct {
	Mode    *store.BindMode
	Status  *store.BindStatus
	Summary *string
}

func modePtr(m store.BindMode) *store.BindMode       { return &m }
func statusPtr(s store.BindStatus) *store.BindStatus { return &s }

func summaryPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ShareWith binds this owned resource into another home. It is the sole
// mutation entry point that inserts bind rows: the insert runs in its own
// retryable sub-transaction so a concurrent-create race can be resolved
// without aborting the enclosing operation. Exhausted retries mean someone
// else created the bind first; the call then converges via an update, and
// the existing record's name wins. status defaults to accepted, which makes
// server-to-server provisioning sync-ready with no acceptance step.
// Returns the name ultimately assigned.
func (v *ChildView) ShareWith(ctx context.Context, tx store.Tx, shareeHome *Home, mode store.BindMode, status store.BindStatus, summary, name string) (string, error) {
	if !v.Owned() {
		return "", ErrNotOwner
	}
	if status == "" {
		status = store.BindStatusAccepted
	}

	var assigned string
	insertErr := tx.SubTransaction(ctx, shareCreateAttempts, func(ctx context.Context, sub store.Stores) error {
		assigned = name
		if assigned == "" {
			assigned = newShareName()
		}
		return sub.Binds().Insert(ctx, &store.BindRecord{
			HomeResourceID: shareeHome.ID(),
			ResourceID:     v.ID(),
			ExternalID:     v.bind.ExternalID,
			Name:           assigned,
			Mode:           mode,
			Status:         status,
			Message:        summary,
		})
	})

	switch {
	case errors.Is(insertErr, store.ErrRetriesExhausted):
		// Lost the creation race; the record exists. Converge on it.
		child, err := shareeHome.AnyChildWithID(ctx, tx, v.ID())
		if err != nil {
			return "", err
		}
		if child == nil {
			return "", fmt.Errorf("bind create race left no record for resource %d in home %q", v.ID(), shareeHome.UID())
		}
		if err := v.UpdateShare(ctx, tx, child, UpdateOpts{
			Mode:    modePtr(mode),
			Status:  statusPtr(status),
			Summary: summaryPtr(summary),
		}); err != nil {
			return "", err
		}
		assigned = child.Name()

	case insertErr != nil:
		return "", insertErr

	default:
		if status == store.BindStatusAccepted {
			shareeView, err := shareeHome.AnyChildWithShareUID(ctx, tx, assigned)
			if err != nil {
				return "", err
			}
			if err := shareeView.initSyncToken(ctx, tx); err != nil {
				return "", err
			}
			if err := shareeView.initBindRevision(ctx, tx); err != nil {
				return "", err
			}
			shareeHome.insertChild(shareeView)
		}
	}

	// Mark this as shared
	if err := v.setShared(ctx, tx, true); err != nil {
		return "", err
	}

	// Both homes cache their child index; they must observe the change even
	// when no bind column ended up different.
	v.notifyPropertyChanged(tx)
	shareeHome.notifyChanged(tx)

	return assigned, nil
}

// createShare resolves (or creates) the sharee's home and binds the share:
// invited for invitation modes, accepted immediately for direct shares.
func (v *ChildView) createShare(ctx context.Context, tx store.Tx, shareeUID string, mode store.BindMode, summary, name string) (*ChildView, error) {
	shareeHome, err := v.eng.HomeWithUID(ctx, tx, v.home.Type(), shareeUID, true)
	if err != nil {
		return nil, err
	}

	status := store.BindStatusInvited
	if mode == store.BindModeDirect {
		status = store.BindStatusAccepted
	}

	if _, err := v.ShareWith(ctx, tx, shareeHome, mode, status, summary, name); err != nil {
		return nil, err
	}
	return v.ShareeView(ctx, tx, shareeUID)
}

// UpdateShare applies a minimal column diff to a sharee's bind record and
// runs the transition side effects when the status actually changed.
func (v *ChildView) UpdateShare(ctx context.Context, tx store.Tx, sharee *ChildView, opts UpdateOpts) error {
	if !v.Owned() {
		return ErrNotOwner
	}

	columns := make(map[string]any)
	if opts.Mode != nil && *opts.Mode != sharee.bind.Mode {
		columns[store.ColBindMode] = *opts.Mode
	}
	if opts.Status != nil && *opts.Status != sharee.bind.Status {
		columns[store.ColBindStatus] = *opts.Status
	}
	if opts.Summary != nil && *opts.Summary != sharee.bind.Message {
		columns[store.ColBindMessage] = *opts.Summary
	}
	if len(columns) == 0 {
		return nil
	}

	// Snapshot the accepted count before a status write so integrations can
	// detect the first acceptance.
	var previouslyAccepted int64
	_, statusChanged := columns[store.ColBindStatus]
	if statusChanged {
		var err error
		previouslyAccepted, err = tx.Binds().AcceptedCountForResource(ctx, v.ID())
		if err != nil {
			return err
		}
	}

	if err := tx.Binds().Update(ctx, v.ID(), sharee.home.ID(), columns); err != nil {
		return err
	}

	if m, ok := columns[store.ColBindMode]; ok {
		sharee.bind.Mode = m.(store.BindMode)
	}
	if s, ok := columns[store.ColBindStatus]; ok {
		sharee.bind.Status = s.(store.BindStatus)
		if err := sharee.changedStatus(ctx, tx, previouslyAccepted); err != nil {
			return err
		}
	}
	if msg, ok := columns[store.ColBindMessage]; ok {
		sharee.bind.Message = msg.(string)
	}

	sharee.invalidateQueryCache(tx)
	v.notifyPropertyChanged(tx)
	sharee.home.notifyChanged(tx)
	return nil
}

// changedStatus applies the side effects of a persisted status transition:
// entering accepted makes the view sync-ready and visible in the sharee
// home's active index; leaving it tears the sync state down as a removal
// and evicts the view.
func (v *ChildView) changedStatus(ctx context.Context, tx store.Tx, previouslyAccepted int64) error {
	switch v.bind.Status {
	case store.BindStatusAccepted:
		if err := v.initSyncToken(ctx, tx); err != nil {
			return err
		}
		if err := v.initBindRevision(ctx, tx); err != nil {
			return err
		}
		v.home.insertChild(v)
		if previouslyAccepted == 0 && v.eng.hooks.FirstAccept != nil {
			if err := v.eng.hooks.FirstAccept(ctx, tx, v); err != nil {
				return err
			}
		}

	case store.BindStatusInvited, store.BindStatusDeclined:
		if err := v.deletedSyncToken(ctx, tx); err != nil {
			return err
		}
		v.home.evictChild(v.Name(), v.ID())
	}
	return nil
}

// RemoveShare unbinds a sharee view: sync-state teardown, index eviction,
// change notifications, then the hard delete of the bind row. Both
// invitation cancellation and explicit unshare go through here.
func (v *ChildView) RemoveShare(ctx context.Context, tx store.Tx, sharee *ChildView) error {
	if !v.Owned() {
		return ErrNotOwner
	}

	shareeHome := sharee.home
	if err := sharee.deletedSyncToken(ctx, tx); err != nil {
		return err
	}
	shareeHome.evictChild(sharee.Name(), sharee.ID())

	v.notifyPropertyChanged(tx)
	shareeHome.notifyChanged(tx)

	if err := tx.Binds().Delete(ctx, v.ID(), shareeHome.ID()); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	sharee.invalidateQueryCache(tx)
	return nil
}

// setShared flips the owner bind's "sharing enabled" marker. The marker is
// independent of invitees: a collection stays shared until the owner turns
// sharing off, even with nobody invited.
func (v *ChildView) setShared(ctx context.Context, tx store.Tx, shared bool) error {
	if !v.Owned() {
		return ErrNotOwner
	}

	newMessage := ""
	if shared {
		newMessage = store.MessageShared
	}
	if v.bind.Message == newMessage {
		return nil
	}
	v.bind.Message = newMessage

	if err := tx.Binds().Update(ctx, v.ID(), v.home.ID(), map[string]any{
		store.ColBindMessage: newMessage,
	}); err != nil {
		return err
	}

	v.invalidateQueryCache(tx)
	v.notifyPropertyChanged(tx)
	return nil
}

// initSyncToken creates or revives the view's sync-token state.
func (v *ChildView) initSyncToken(ctx context.Context, tx store.Tx) error {
	_, err := tx.Revisions().InitSyncToken(ctx, v.ID(), v.home.ID())
	return err
}

// initBindRevision snapshots the current sync revision onto the bind row so
// incremental-sync callers know as of where this bind became visible.
func (v *ChildView) initBindRevision(ctx context.Context, tx store.Tx) error {
	rev, err := tx.Revisions().Revision(ctx, v.ID(), v.home.ID())
	if err != nil {
		return err
	}
	v.bind.Revision = rev
	if err := tx.Binds().Update(ctx, v.ID(), v.home.ID(), map[string]any{
		store.ColBindRevision: rev,
	}); err != nil {
		return err
	}
	v.invalidateQueryCache(tx)
	return nil
}

// deletedSyncToken tombstones the view's sync state so incremental-sync
// clients observe a removal.
func (v *ChildView) deletedSyncToken(ctx context.Context, tx store.Tx) error {
	return tx.Revisions().MarkDeleted(ctx, v.ID(), v.home.ID())
}

// notifyPropertyChanged raises a change notification for the viewed
// resource on the viewer's home.
func (v *ChildView) notifyPropertyChanged(tx store.Tx) {
	v.invalidateQueryCache(tx)
	v.home.notifyChanged(tx)
}

// invalidateQueryCache schedules deferred invalidation of every cached
// lookup shape for this view. Deferred, never eager: a reader must not
// observe a refilled entry that predates the commit.
func (v *ChildView) invalidateQueryCache(tx store.Tx) {
	eng := v.eng
	if eng.cache == nil {
		return
	}
	keys := []string{
		keyForChildMetadata(v.ID()),
		keyForObjectWithName(v.home.ID(), v.Name()),
		keyForObjectWithID(v.home.ID(), v.ID()),
		keyForObjectWithExternalID(v.home.ID(), v.ExternalID()),
	}
	tx.AfterCommit(func() {
		for _, key := range keys {
			_ = eng.cache.Delete(context.Background(), key)
		}
	})
}
