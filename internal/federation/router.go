// Package federation mirrors sharing operations across pods: it routes
// inbound conduit messages into the local sharing engine and carries
// outbound ones to the peer that hosts the other principal.
package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/podshare/podshare-go/internal/platform/logutil"
	"github.com/podshare/podshare-go/internal/sharing"
	"github.com/podshare/podshare-go/internal/store"
)

// Router applies inbound conduit messages to the local pod. Each message is
// processed in its own transaction; a failed message leaves no partial
// local state.
type Router struct {
	eng    *sharing.Engine
	dir    sharing.Directory
	logger *slog.Logger
}

// NewRouter creates a router over the local sharing engine.
func NewRouter(eng *sharing.Engine, dir sharing.Directory, logger *slog.Logger) *Router {
	return &Router{eng: eng, dir: dir, logger: logutil.NoopIfNil(logger)}
}

// ProcessExternalInvite handles an invite arriving from the pod that owns
// the resource. The owner gets a shadow home here, the resource a shadow
// collection keyed by its peer-side id, and the local sharee is then
// invited (or direct-shared) against that shadow exactly as if the owner
// were local.
func (r *Router) ProcessExternalInvite(ctx context.Context, msg *sharing.ShareInviteMessage) error {
	if r.dir.IsExternal(msg.ShareeUID) {
		return fmt.Errorf("%w: sharee %q is not hosted on this pod", sharing.ErrExternalShareFailed, msg.ShareeUID)
	}

	r.logger.Info("processing external invite",
		slog.String("owner", msg.OwnerUID),
		slog.String("sharee", msg.ShareeUID),
		slog.String("shareUid", msg.ShareUID))

	return r.eng.InTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		ownerHome, err := r.eng.HomeWithUID(ctx, tx, msg.HomeType, msg.OwnerUID, true)
		if err != nil {
			return err
		}
		if !ownerHome.External() {
			return fmt.Errorf("%w: owner %q is hosted on this pod", sharing.ErrExternalShareFailed, msg.OwnerUID)
		}

		shadow, err := ownerHome.ChildByExternalID(ctx, tx, msg.ResourceID)
		if err != nil {
			return err
		}
		if shadow == nil {
			shadow, err = r.createShadow(ctx, tx, ownerHome, msg)
			if err != nil {
				return err
			}
		}

		if restricter, ok := shadow.Restricter(); ok && len(msg.SupportedComponents) > 0 {
			if err := restricter.SetSupportedComponents(ctx, tx, msg.SupportedComponents); err != nil {
				return err
			}
		}
		if err := shadow.SetInviteCopyProperties(ctx, tx, msg.Properties); err != nil {
			return err
		}

		if msg.Mode == store.BindModeDirect {
			_, err = shadow.DirectShareWithUser(ctx, tx, msg.ShareeUID, "", msg.ShareUID)
			return err
		}
		_, err = shadow.InviteUIDToShare(ctx, tx, msg.ShareeUID, msg.Mode, msg.Message, msg.ShareUID)
		return err
	})
}

// createShadow creates the shadow collection for an external resource. A
// name collision with an existing shadow that has no remaining sharees
// is stale state from an earlier share and is repaired by replacing it; a
// collision with a live shadow propagates as a conflict.
func (r *Router) createShadow(ctx context.Context, tx store.Tx, ownerHome *sharing.Home, msg *sharing.ShareInviteMessage) (*sharing.ChildView, error) {
	shadow, err := ownerHome.CreateChild(ctx, tx, msg.ResourceName, msg.ResourceID)
	if !errors.Is(err, sharing.ErrNameConflict) {
		return shadow, err
	}

	existing, lookupErr := ownerHome.ChildByName(ctx, tx, msg.ResourceName)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if existing == nil || existing.ExternalID() == msg.ResourceID {
		return nil, err
	}

	live, lookupErr := tx.Binds().InvitationsForResource(ctx, existing.ID())
	if lookupErr != nil {
		return nil, lookupErr
	}
	if len(live) > 0 {
		return nil, err
	}

	r.logger.Warn("replacing stale shadow collection",
		slog.String("owner", ownerHome.UID()),
		slog.String("name", msg.ResourceName),
		slog.Int64("externalId", existing.ExternalID()))
	if err := ownerHome.RemoveExternalChild(ctx, tx, existing); err != nil {
		return nil, err
	}
	return ownerHome.CreateChild(ctx, tx, msg.ResourceName, msg.ResourceID)
}

// ProcessExternalUninvite handles a revocation arriving from the owning
// pod. The local sharee is uninvited from the shadow collection, and the
// shadow itself is garbage collected once its last sharee of any mode is gone.
func (r *Router) ProcessExternalUninvite(ctx context.Context, msg *sharing.ShareUninviteMessage) error {
	if r.dir.IsExternal(msg.ShareeUID) {
		return fmt.Errorf("%w: sharee %q is not hosted on this pod", sharing.ErrExternalShareFailed, msg.ShareeUID)
	}

	r.logger.Info("processing external uninvite",
		slog.String("owner", msg.OwnerUID),
		slog.String("sharee", msg.ShareeUID),
		slog.String("shareUid", msg.ShareUID))

	return r.eng.InTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		ownerHome, err := r.eng.HomeWithUID(ctx, tx, msg.HomeType, msg.OwnerUID, false)
		if err != nil {
			return err
		}
		if ownerHome == nil || !ownerHome.External() {
			return fmt.Errorf("%w: no shadow home for owner %q", sharing.ErrExternalShareFailed, msg.OwnerUID)
		}

		shadow, err := ownerHome.ChildByExternalID(ctx, tx, msg.ResourceID)
		if err != nil {
			return err
		}
		if shadow == nil {
			return fmt.Errorf("%w: no shadow collection for resource %d", sharing.ErrExternalShareFailed, msg.ResourceID)
		}

		if err := shadow.UninviteUIDFromShare(ctx, tx, msg.ShareeUID); err != nil {
			return err
		}

		// Collect the shadow only when no sharee of any mode remains; a
		// live direct share must keep it alive even with all invitations
		// gone.
		remaining, err := tx.Binds().InvitationsForResource(ctx, shadow.ID())
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return ownerHome.RemoveExternalChild(ctx, tx, shadow)
		}
		return nil
	})
}

// ProcessExternalReply handles a sharee's accept or decline arriving from
// the pod that hosts them. The reply is applied to the sharee's shadow home
// here on the owning pod, which updates the real bind and notifies the
// owner locally.
func (r *Router) ProcessExternalReply(ctx context.Context, msg *sharing.ShareReplyMessage) error {
	if r.dir.IsExternal(msg.OwnerUID) {
		return fmt.Errorf("%w: owner %q is not hosted on this pod", sharing.ErrExternalShareFailed, msg.OwnerUID)
	}

	r.logger.Info("processing external reply",
		slog.String("owner", msg.OwnerUID),
		slog.String("sharee", msg.ShareeUID),
		slog.String("shareUid", msg.ShareUID),
		slog.String("status", string(msg.Status)))

	return r.eng.InTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		shareeHome, err := r.eng.HomeWithUID(ctx, tx, msg.HomeType, msg.ShareeUID, false)
		if err != nil {
			return err
		}
		if shareeHome == nil || !shareeHome.External() {
			return fmt.Errorf("%w: no shadow home for sharee %q", sharing.ErrExternalShareFailed, msg.ShareeUID)
		}

		sharee, err := shareeHome.AnyChildWithShareUID(ctx, tx, msg.ShareUID)
		if err != nil {
			return err
		}
		if sharee == nil {
			return fmt.Errorf("%w: no share %q for sharee %q", sharing.ErrExternalShareFailed, msg.ShareUID, msg.ShareeUID)
		}

		switch msg.Status {
		case store.BindStatusAccepted:
			return sharee.AcceptShare(ctx, tx, msg.Summary)
		case store.BindStatusDeclined:
			if sharee.Direct() {
				return sharee.DeleteShare(ctx, tx)
			}
			return sharee.DeclineShare(ctx, tx)
		default:
			return fmt.Errorf("%w: reply status %q", sharing.ErrExternalShareFailed, msg.Status)
		}
	})
}
