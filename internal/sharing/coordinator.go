package sharing

import (
	"context"
	"fmt"
	"sort"

	"github.com/podshare/podshare-go/internal/store"
)

// InviteUIDToShare invites a principal to this owned collection, or updates
// an outstanding invite's mode and summary. A sharee who previously declined
// (or whose invite went invalid) is re-invited; an accepted sharee keeps
// their accepted status and only the access mode changes. The invite reaches
// the sharee through their pod's conduit when they are external, through
// their local notification inbox otherwise. shareName pins the share UID
// for binds mirrored from another pod; leave it empty to get a generated one.
func (v *ChildView) InviteUIDToShare(ctx context.Context, tx store.Tx, shareeUID string, mode store.BindMode, summary, shareName string) (*SharingInvitation, error) {
	if !v.Owned() {
		return nil, ErrNotOwner
	}

	sharee, err := v.ShareeView(ctx, tx, shareeUID)
	if err != nil {
		return nil, err
	}

	if sharee != nil {
		opts := UpdateOpts{Mode: modePtr(mode), Summary: summaryPtr(summary)}
		switch sharee.ShareStatus() {
		case store.BindStatusDeclined, store.BindStatusInvalid:
			opts.Status = statusPtr(store.BindStatusInvited)
		}
		if err := v.UpdateShare(ctx, tx, sharee, opts); err != nil {
			return nil, err
		}
	} else {
		sharee, err = v.createShare(ctx, tx, shareeUID, mode, summary, shareName)
		if err != nil {
			return nil, err
		}
	}

	if sharee.home.External() {
		if err := v.sendExternalInvite(ctx, tx, sharee); err != nil {
			return nil, err
		}
	} else {
		if err := v.sendInviteNotification(ctx, tx, sharee, sharee.ShareStatus(), summary); err != nil {
			return nil, err
		}
	}

	return v.invitationFor(sharee), nil
}

// DirectShareWithUser shares this owned collection with a principal without
// the invitation round trip: the bind goes straight to accepted and no
// notification is produced. Calling it again for the same principal is a
// no-op returning the existing sharee view. shareName pins the share UID
// for binds mirrored from another pod.
func (v *ChildView) DirectShareWithUser(ctx context.Context, tx store.Tx, shareeUID, displayName, shareName string) (*ChildView, error) {
	if !v.Owned() {
		return nil, ErrNotOwner
	}

	sharee, err := v.ShareeView(ctx, tx, shareeUID)
	if err != nil {
		return nil, err
	}
	if sharee != nil {
		return sharee, nil
	}

	sharee, err = v.createShare(ctx, tx, shareeUID, store.BindModeDirect, "", shareName)
	if err != nil {
		return nil, err
	}
	if err := sharee.newShare(ctx, tx, displayName); err != nil {
		return nil, err
	}

	if sharee.home.External() {
		if err := v.sendExternalInvite(ctx, tx, sharee); err != nil {
			return nil, err
		}
	}
	return sharee, nil
}

// UninviteUIDFromShare revokes a principal's invite or live share. A sharee
// who had accepted gets a deleted-status notification so their client can
// clean up; a sharee who never accepted just has the pending invite pulled
// from their inbox. Unknown sharees are a no-op.
func (v *ChildView) UninviteUIDFromShare(ctx context.Context, tx store.Tx, shareeUID string) error {
	if !v.Owned() {
		return ErrNotOwner
	}

	sharee, err := v.ShareeView(ctx, tx, shareeUID)
	if err != nil || sharee == nil {
		return err
	}

	if sharee.home.External() {
		if err := v.sendExternalUninvite(ctx, tx, sharee); err != nil {
			return err
		}
	} else if !sharee.Direct() {
		if !sharee.Accepted() {
			if err := v.removeInviteNotification(ctx, tx, sharee); err != nil {
				return err
			}
		} else {
			summary, err := sharee.DisplayName(ctx, tx)
			if err != nil {
				return err
			}
			if summary == "" {
				summary = sharee.Name()
			}
			if err := v.sendInviteNotification(ctx, tx, sharee, store.BindStatusDeleted, summary); err != nil {
				return err
			}
		}
	}

	return v.RemoveShare(ctx, tx, sharee)
}

// AcceptShare accepts a pending invite on this sharee view. Accepting an
// already-accepted share is a no-op; direct shares have no acceptance step.
// For resources hosted on another pod the reply crosses the conduit before
// any local state changes, so a rejected reply leaves the invite pending.
func (v *ChildView) AcceptShare(ctx context.Context, tx store.Tx, summary string) error {
	if v.Direct() || v.Accepted() {
		return nil
	}

	owner, err := v.OwnerView(ctx, tx)
	if err != nil {
		return err
	}
	ownerExternal := owner.home.External()

	if ownerExternal {
		if err := v.sendExternalReply(ctx, tx, store.BindStatusAccepted, summary); err != nil {
			return err
		}
	}

	if err := owner.UpdateShare(ctx, tx, v, UpdateOpts{Status: statusPtr(store.BindStatusAccepted)}); err != nil {
		return err
	}
	if err := v.newShare(ctx, tx, summary); err != nil {
		return err
	}

	if !ownerExternal {
		return v.sendReplyNotification(ctx, tx, owner, store.BindStatusAccepted, summary)
	}
	return nil
}

// DeclineShare declines a pending or accepted (non-direct) share. Declining
// a live share tears down the sharee's view but keeps the bind row so the
// owner can re-invite.
func (v *ChildView) DeclineShare(ctx context.Context, tx store.Tx) error {
	if v.Direct() || v.ShareStatus() == store.BindStatusDeclined {
		return nil
	}

	owner, err := v.OwnerView(ctx, tx)
	if err != nil {
		return err
	}
	ownerExternal := owner.home.External()

	if ownerExternal {
		if err := v.sendExternalReply(ctx, tx, store.BindStatusDeclined, ""); err != nil {
			return err
		}
	}

	if err := owner.UpdateShare(ctx, tx, v, UpdateOpts{Status: statusPtr(store.BindStatusDeclined)}); err != nil {
		return err
	}

	if !ownerExternal {
		return v.sendReplyNotification(ctx, tx, owner, store.BindStatusDeclined, "")
	}
	return nil
}

// DeleteShare removes this shared view from the sharee's home. Direct shares
// are unbound outright; invited shares decline instead, preserving the bind
// row for a later re-invite.
func (v *ChildView) DeleteShare(ctx context.Context, tx store.Tx) error {
	if !v.Direct() {
		return v.DeclineShare(ctx, tx)
	}

	owner, err := v.OwnerView(ctx, tx)
	if err != nil {
		return err
	}
	if owner.home.External() {
		if err := v.sendExternalReply(ctx, tx, store.BindStatusDeclined, ""); err != nil {
			return err
		}
	}
	return owner.RemoveShare(ctx, tx, v)
}

// OwnerDeleteShare turns sharing off for this owned collection: the shared
// marker is cleared and every invitee, in whatever state, is uninvited.
func (v *ChildView) OwnerDeleteShare(ctx context.Context, tx store.Tx) error {
	if !v.Owned() {
		return ErrNotOwner
	}

	if err := v.setShared(ctx, tx, false); err != nil {
		return err
	}

	// Snapshot first: uninviting mutates the bind set. Direct shares are
	// revoked here too, not just invitations.
	rows, err := tx.Binds().InvitationsForResource(ctx, v.ID())
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := v.UninviteUIDFromShare(ctx, tx, row.ShareeUID); err != nil {
			return err
		}
	}
	return nil
}

// Unshare removes sharing from whichever side this view is on: the owner's
// view stops sharing entirely, a sharee's view removes just their share.
func (v *ChildView) Unshare(ctx context.Context, tx store.Tx) error {
	if v.Owned() {
		return v.OwnerDeleteShare(ctx, tx)
	}
	return v.DeleteShare(ctx, tx)
}

// SharingInvites lists the current invitations to this collection. Only the
// owner's view has invitations; any other view yields an empty list.
func (v *ChildView) SharingInvites(ctx context.Context, tx store.Tx) ([]*SharingInvitation, error) {
	if !v.Owned() {
		return []*SharingInvitation{}, nil
	}
	return v.AllInvitations(ctx, tx)
}

// AllInvitations returns every invitation-mode bind of this resource as an
// immutable projection, sorted by sharee UID. Direct shares are not
// invitations and never appear.
func (v *ChildView) AllInvitations(ctx context.Context, tx store.Tx) ([]*SharingInvitation, error) {
	rows, err := tx.Binds().InvitationsForResource(ctx, v.ID())
	if err != nil {
		return nil, err
	}

	invites := make([]*SharingInvitation, 0, len(rows))
	for _, row := range rows {
		if row.Mode == store.BindModeDirect {
			continue
		}
		invites = append(invites, &SharingInvitation{
			UID:          row.Name,
			OwnerUID:     v.home.UID(),
			OwnerHomeID:  v.home.ID(),
			ShareeUID:    row.ShareeUID,
			ShareeHomeID: row.HomeResourceID,
			Mode:         row.Mode,
			Status:       row.Status,
			Summary:      row.Message,
		})
	}
	sort.Slice(invites, func(i, j int) bool {
		return invites[i].ShareeUID < invites[j].ShareeUID
	})
	return invites, nil
}

// invitationFor projects one sharee view into an invitation record.
func (v *ChildView) invitationFor(sharee *ChildView) *SharingInvitation {
	return &SharingInvitation{
		UID:          sharee.ShareUID(),
		OwnerUID:     v.home.UID(),
		OwnerHomeID:  v.home.ID(),
		ShareeUID:    sharee.home.UID(),
		ShareeHomeID: sharee.home.ID(),
		Mode:         sharee.ShareMode(),
		Status:       sharee.ShareStatus(),
		Summary:      sharee.ShareMessage(),
	}
}

// AcceptShareByUID accepts the share bound under shareUID in a principal's
// home. This is the entry point for both the local inbox flow and replies
// arriving over the conduit.
func (e *Engine) AcceptShareByUID(ctx context.Context, tx store.Tx, homeType, shareeUID, shareUID, summary string) error {
	sharee, err := e.shareByUID(ctx, tx, homeType, shareeUID, shareUID)
	if err != nil {
		return err
	}
	return sharee.AcceptShare(ctx, tx, summary)
}

// DeclineShareByUID declines the share bound under shareUID in a principal's
// home.
func (e *Engine) DeclineShareByUID(ctx context.Context, tx store.Tx, homeType, shareeUID, shareUID string) error {
	sharee, err := e.shareByUID(ctx, tx, homeType, shareeUID, shareUID)
	if err != nil {
		return err
	}
	return sharee.DeclineShare(ctx, tx)
}

// shareByUID resolves the shared view bound under shareUID in a principal's
// home, in any status.
func (e *Engine) shareByUID(ctx context.Context, tx store.Tx, homeType, shareeUID, shareUID string) (*ChildView, error) {
	home, err := e.HomeWithUID(ctx, tx, homeType, shareeUID, false)
	if err != nil {
		return nil, err
	}
	if home == nil {
		return nil, fmt.Errorf("home for %q: %w", shareeUID, store.ErrNotFound)
	}
	sharee, err := home.AnyChildWithShareUID(ctx, tx, shareUID)
	if err != nil {
		return nil, err
	}
	if sharee == nil {
		return nil, fmt.Errorf("share %q in home %q: %w", shareUID, shareeUID, store.ErrNotFound)
	}
	return sharee, nil
}

// sendInviteNotification writes (or rewrites) the invite document in a local
// sharee's inbox. status is the state the sharee should see, which for a
// revocation is the transient deleted status.
func (v *ChildView) sendInviteNotification(ctx context.Context, tx store.Tx, sharee *ChildView, status store.BindStatus, summary string) error {
	var components []string
	if r, ok := v.Restricter(); ok {
		components = r.SupportedComponents()
	}
	payload := invitePayload(
		v.home.UID(), v.Name(),
		sharee.home.UID(), sharee.ShareUID(),
		v.SharedResourceType(), summary,
		sharee.ShareMode(), status, components,
	)
	return v.eng.notifier.Write(ctx, tx, sharee.home.UID(), sharee.ShareUID(), NotificationInvite, payload)
}

// removeInviteNotification pulls a pending invite document from a local
// sharee's inbox.
func (v *ChildView) removeInviteNotification(ctx context.Context, tx store.Tx, sharee *ChildView) error {
	return v.eng.notifier.Remove(ctx, tx, sharee.home.UID(), sharee.ShareUID())
}

// sendReplyNotification writes the sharee's accept/decline document into a
// local owner's inbox.
func (v *ChildView) sendReplyNotification(ctx context.Context, tx store.Tx, owner *ChildView, status store.BindStatus, summary string) error {
	payload := replyPayload(
		owner.home.UID(), v.home.UID(), v.ShareUID(),
		v.SharedResourceType(), summary, status,
	)
	return v.eng.notifier.Write(ctx, tx, owner.home.UID(), replyNotificationUID(v.ShareUID()), NotificationReply, payload)
}

// sendExternalInvite mirrors an invite onto the pod hosting the sharee.
func (v *ChildView) sendExternalInvite(ctx context.Context, tx store.Tx, sharee *ChildView) error {
	if v.eng.conduit == nil {
		return ErrNoConduit
	}

	props, err := v.InviteCopyProperties(ctx, tx)
	if err != nil {
		return err
	}
	var components []string
	if r, ok := v.Restricter(); ok {
		components = r.SupportedComponents()
	}

	return v.eng.conduit.SendShareInvite(ctx, &ShareInviteMessage{
		HomeType:            v.home.Type(),
		OwnerUID:            v.home.UID(),
		ResourceID:          v.ID(),
		ResourceName:        v.Name(),
		ShareeUID:           sharee.home.UID(),
		ShareUID:            sharee.ShareUID(),
		Mode:                sharee.ShareMode(),
		Message:             sharee.ShareMessage(),
		Properties:          props,
		SupportedComponents: components,
	})
}

// sendExternalUninvite cancels a federated invite on the sharee's pod.
func (v *ChildView) sendExternalUninvite(ctx context.Context, tx store.Tx, sharee *ChildView) error {
	if v.eng.conduit == nil {
		return ErrNoConduit
	}
	return v.eng.conduit.SendShareUninvite(ctx, &ShareUninviteMessage{
		HomeType:   v.home.Type(),
		OwnerUID:   v.home.UID(),
		ResourceID: v.ID(),
		ShareeUID:  sharee.home.UID(),
		ShareUID:   sharee.ShareUID(),
	})
}

// sendExternalReply carries this sharee's accept/decline back to the pod
// that owns the resource.
func (v *ChildView) sendExternalReply(ctx context.Context, tx store.Tx, status store.BindStatus, summary string) error {
	if v.eng.conduit == nil {
		return ErrNoConduit
	}
	ownerHome, err := v.OwnerHome(ctx, tx)
	if err != nil {
		return err
	}
	return v.eng.conduit.SendShareReply(ctx, &ShareReplyMessage{
		HomeType:  v.home.Type(),
		OwnerUID:  ownerHome.UID(),
		ShareeUID: v.home.UID(),
		ShareUID:  v.ShareUID(),
		Status:    status,
		Summary:   summary,
	})
}
