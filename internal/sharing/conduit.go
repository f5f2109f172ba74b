package sharing

import (
	"context"

	"github.com/podshare/podshare-go/internal/store"
)

// ShareInviteMessage mirrors a local invite onto the pod hosting the sharee.
type ShareInviteMessage struct {
	HomeType     string         `json:"homeType"`
	OwnerUID     string         `json:"owner"`
	ResourceID   int64          `json:"resourceId"`
	ResourceName string         `json:"resourceName"`
	ShareeUID    string         `json:"sharee"`
	ShareUID     string         `json:"shareUid"`
	Mode         store.BindMode `json:"mode"`
	Message      string         `json:"message,omitempty"`

	// Properties are the shadowable properties copied onto the sharee's
	// shadow collection.
	Properties map[string]string `json:"properties,omitempty"`

	// SupportedComponents restricts the shadow collection's component types
	// when the shared resource supports such a restriction.
	SupportedComponents []string `json:"supportedComponents,omitempty"`
}

// ShareUninviteMessage cancels a previously federated invite.
type ShareUninviteMessage struct {
	HomeType   string `json:"homeType"`
	OwnerUID   string `json:"owner"`
	ResourceID int64  `json:"resourceId"`
	ShareeUID  string `json:"sharee"`
	ShareUID   string `json:"shareUid"`
}

// ShareReplyMessage carries a sharee's accept/decline back to the owner pod.
type ShareReplyMessage struct {
	HomeType  string           `json:"homeType"`
	OwnerUID  string           `json:"owner"`
	ShareeUID string           `json:"sharee"`
	ShareUID  string           `json:"shareUid"`
	Status    store.BindStatus `json:"status"`
	Summary   string           `json:"summary,omitempty"`
}

// Conduit is the asynchronous federation channel to peer pods. Sends are
// fire-and-await-acknowledgement; the wire encoding belongs to the
// implementation.
type Conduit interface {
	SendShareInvite(ctx context.Context, msg *ShareInviteMessage) error
	SendShareUninvite(ctx context.Context, msg *ShareUninviteMessage) error
	SendShareReply(ctx context.Context, msg *ShareReplyMessage) error
}
