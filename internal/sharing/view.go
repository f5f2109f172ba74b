package sharing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/podshare/podshare-go/internal/store"
)

// DisplayNameProperty is the shadowable per-view display name.
const DisplayNameProperty = "displayname"

// ChildView is one home's view of a resource: the bind record joining them
// plus the resource itself. The owner's view and each sharee's view of the
// same resource are distinct ChildViews over the same resource id.
type ChildView struct {
	eng  *Engine
	home *Home
	res  *store.Resource
	bind *store.BindRecord
}

// ID returns the resource id.
func (v *ChildView) ID() int64 { return v.res.ID }

// Name returns the resource's name within the viewer's home.
func (v *ChildView) Name() string { return v.bind.Name }

// ExternalID returns the peer-side resource id, or zero.
func (v *ChildView) ExternalID() int64 { return v.bind.ExternalID }

// ViewerHome returns the home this view belongs to.
func (v *ChildView) ViewerHome() *Home { return v.home }

// Owned reports whether this is the owner's own view.
func (v *ChildView) Owned() bool { return v.bind.Mode == store.BindModeOwn }

// Direct reports whether this is a direct (no-invitation) share.
func (v *ChildView) Direct() bool { return v.bind.Mode == store.BindModeDirect }

// Indirect reports whether access is inherited through group membership.
func (v *ChildView) Indirect() bool { return v.bind.Mode == store.BindModeIndirect }

// Accepted reports whether the share is live in the viewer's home.
func (v *ChildView) Accepted() bool { return v.bind.Status == store.BindStatusAccepted }

// ShareUID is the share identifier exchanged with peers and notifications.
func (v *ChildView) ShareUID() string { return v.bind.Name }

// ShareMode returns the bind's access mode.
func (v *ChildView) ShareMode() store.BindMode { return v.bind.Mode }

// EffectiveShareMode returns the mode access checks should apply.
func (v *ChildView) EffectiveShareMode() store.BindMode { return v.bind.Mode }

// ShareStatus returns the bind's invitation status.
func (v *ChildView) ShareStatus() store.BindStatus { return v.bind.Status }

// ShareMessage returns the bind's message column.
func (v *ChildView) ShareMessage() string { return v.bind.Message }

// BindRevision returns the sync revision snapshotted at acceptance.
func (v *ChildView) BindRevision() int64 { return v.bind.Revision }

// SharedResourceType identifies the kind of resource being shared.
func (v *ChildView) SharedResourceType() string { return v.res.Kind }

// IsShared reports, for an owned view, whether sharing is enabled. This is
// tracked on the owner bind's message column independent of invitees.
func (v *ChildView) IsShared() bool {
	return v.Owned() && v.bind.Message == store.MessageShared
}

// OwnerHome resolves the home that owns the viewed resource.
func (v *ChildView) OwnerHome(ctx context.Context, tx store.Tx) (*Home, error) {
	if v.Owned() {
		return v.home, nil
	}
	own, err := tx.Binds().OwnBindForResource(ctx, v.ID())
	if err != nil {
		return nil, fmt.Errorf("owner bind for resource %d: %w", v.ID(), err)
	}
	return v.eng.homeForID(ctx, tx, own.HomeResourceID)
}

// OwnerView returns the owner's counterpart view of this shared resource.
func (v *ChildView) OwnerView(ctx context.Context, tx store.Tx) (*ChildView, error) {
	ownerHome, err := v.OwnerHome(ctx, tx)
	if err != nil {
		return nil, err
	}
	if ownerHome == v.home {
		return v, nil
	}
	return ownerHome.AnyChildWithID(ctx, tx, v.ID())
}

// External reports whether the viewed resource is hosted on another pod,
// i.e. whether the owner's home is an external shadow.
func (v *ChildView) External(ctx context.Context, tx store.Tx) (bool, error) {
	ownerHome, err := v.OwnerHome(ctx, tx)
	if err != nil {
		return false, err
	}
	return ownerHome.External(), nil
}

// ShareeView returns the sharee's counterpart view of this owned resource,
// or nil when no bind exists. The owner's own UID never resolves to a view.
func (v *ChildView) ShareeView(ctx context.Context, tx store.Tx, shareeUID string) (*ChildView, error) {
	if v.home.UID() == shareeUID {
		return nil, nil
	}
	shareeHome, err := v.eng.HomeWithUID(ctx, tx, v.home.Type(), shareeUID, false)
	if err != nil || shareeHome == nil {
		return nil, err
	}
	return shareeHome.AnyChildWithID(ctx, tx, v.ID())
}

// DisplayName returns the viewer's display name for this resource, or "".
func (v *ChildView) DisplayName(ctx context.Context, tx store.Tx) (string, error) {
	val, err := tx.Properties().Get(ctx, v.ID(), v.home.ID(), DisplayNameProperty)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return val, err
}

// InviteCopyProperties returns the shadowable properties that travel with a
// cross-pod invite.
func (v *ChildView) InviteCopyProperties(ctx context.Context, tx store.Tx) (map[string]string, error) {
	return tx.Properties().ForResourceAndHome(ctx, v.ID(), v.home.ID())
}

// SetInviteCopyProperties seeds properties received with a cross-pod invite
// onto this (sharee) view.
func (v *ChildView) SetInviteCopyProperties(ctx context.Context, tx store.Tx, props map[string]string) error {
	for name, value := range props {
		if err := tx.Properties().Set(ctx, v.ID(), v.home.ID(), name, value); err != nil {
			return err
		}
	}
	return nil
}

// ComponentRestricter is the optional capability of resource kinds that can
// restrict which component types they hold. Only calendar-kind resources
// implement it; callers obtain it through Restricter.
type ComponentRestricter interface {
	SupportedComponents() []string
	SetSupportedComponents(ctx context.Context, tx store.Tx, components []string) error
}

// Restricter returns the component-restriction capability when the viewed
// resource kind supports it.
func (v *ChildView) Restricter() (ComponentRestricter, bool) {
	if v.res.Kind != HomeTypeCalendar {
		return nil, false
	}
	return calendarComponents{v}, true
}

// calendarComponents implements ComponentRestricter for calendar resources.
type calendarComponents struct {
	v *ChildView
}

func (c calendarComponents) SupportedComponents() []string {
	if c.v.res.SupportedComponents == "" {
		return nil
	}
	return strings.Split(c.v.res.SupportedComponents, ",")
}

func (c calendarComponents) SetSupportedComponents(ctx context.Context, tx store.Tx, components []string) error {
	c.v.res.SupportedComponents = strings.Join(components, ",")
	return tx.Resources().Update(ctx, c.v.res)
}

// newShare runs the application hook when a share first becomes live.
func (v *ChildView) newShare(ctx context.Context, tx store.Tx, displayName string) error {
	if v.eng.hooks.NewShare == nil {
		return nil
	}
	return v.eng.hooks.NewShare(ctx, tx, v, displayName)
}
