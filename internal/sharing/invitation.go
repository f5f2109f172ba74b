package sharing

import "github.com/podshare/podshare-go/internal/store"

// SharingInvitation is an immutable projection of one non-owner bind record,
// produced transiently when listing a resource's invitees.
type SharingInvitation struct {
	// UID is the share identifier, i.e. the bind's name in the sharee home.
	UID          string           `json:"uid"`
	OwnerUID     string           `json:"ownerUid"`
	OwnerHomeID  int64            `json:"ownerHomeId"`
	ShareeUID    string           `json:"shareeUid"`
	ShareeHomeID int64            `json:"shareeHomeId"`
	Mode         store.BindMode   `json:"mode"`
	Status       store.BindStatus `json:"status"`
	Summary      string           `json:"summary,omitempty"`
}
