package store

import "fmt"

// BindMode is the access mode column of a bind row.
type BindMode string

const (
	BindModeOwn      BindMode = "own"
	BindModeRead     BindMode = "read"
	BindModeWrite    BindMode = "write"
	BindModeDirect   BindMode = "direct"
	BindModeIndirect BindMode = "indirect"
)

// BindStatus is the invitation status column of a bind row. It is
// meaningless for BindModeOwn. BindStatusDeleted is a transient
// notification-payload status, never a persisted bind state.
type BindStatus string

const (
	BindStatusInvited  BindStatus = "invited"
	BindStatusAccepted BindStatus = "accepted"
	BindStatusDeclined BindStatus = "declined"
	BindStatusInvalid  BindStatus = "invalid"
	BindStatusDeleted  BindStatus = "deleted"
)

// ParseBindMode parses a mode string, returning an error for unknown values.
func ParseBindMode(s string) (BindMode, error) {
	switch BindMode(s) {
	case BindModeOwn, BindModeRead, BindModeWrite, BindModeDirect, BindModeIndirect:
		return BindMode(s), nil
	default:
		return "", fmt.Errorf("invalid bind mode %q", s)
	}
}

func (m BindMode) String() string { return string(m) }

// ParseBindStatus parses a status string, returning an error for unknown
// values. The transient deleted status is accepted; it appears in
// notification payloads even though it is never persisted.
func ParseBindStatus(s string) (BindStatus, error) {
	switch BindStatus(s) {
	case BindStatusInvited, BindStatusAccepted, BindStatusDeclined, BindStatusInvalid, BindStatusDeleted:
		return BindStatus(s), nil
	default:
		return "", fmt.Errorf("invalid bind status %q", s)
	}
}

func (s BindStatus) String() string { return string(s) }

// MessageShared is the owner-bind message marker for "sharing enabled".
const MessageShared = "shared"

// Home is a principal's top-level container of owned and shared resources.
// External homes are local shadows of principals hosted on a federated peer.
type Home struct {
	ID        int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	HomeType  string `json:"home_type" gorm:"uniqueIndex:idx_home_type_uid"`
	UID       string `json:"uid" gorm:"uniqueIndex:idx_home_type_uid"`
	External  bool   `json:"external"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Resource is a shareable collection (calendar, address book).
type Resource struct {
	ID        int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Kind      string `json:"kind"` // calendar, addressbook
	// SupportedComponents restricts calendar-kind resources to a comma
	// separated set of component types (e.g. "VEVENT,VTODO"). Empty means
	// unrestricted.
	SupportedComponents string `json:"supported_components,omitempty"`
	CreatedAt           int64  `json:"created_at"`
	UpdatedAt           int64  `json:"updated_at"`
}

// BindRecord links one resource to one consuming home, carrying the sharing
// mode/status. Exactly one BindModeOwn row exists per resource; all other
// rows are unique per (resource, home) and their Name is unique per home.
type BindRecord struct {
	HomeResourceID int64 `json:"home_resource_id" gorm:"primaryKey;autoIncrement:false;uniqueIndex:idx_bind_home_name,priority:1"`
	ResourceID     int64 `json:"resource_id" gorm:"primaryKey;autoIncrement:false"`

	// ExternalID is the resource's identifier on the federated peer that
	// hosts it, or zero for purely local resources.
	ExternalID int64 `json:"external_id" gorm:"index:idx_bind_home_external"`

	// Name is the resource's display name within the consuming home,
	// unique per home, not globally.
	Name string `json:"name" gorm:"uniqueIndex:idx_bind_home_name,priority:2"`

	Mode   BindMode   `json:"mode"`
	Status BindStatus `json:"status"`

	// Message holds the invite summary; on the owner's own bind it is
	// overloaded as the MessageShared marker.
	Message string `json:"message"`

	// Revision is the bind-level sync revision snapshotted at acceptance.
	Revision int64 `json:"revision"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Bind column names for partial updates, matching gorm's naming of the
// BindRecord fields above.
const (
	ColBindMode     = "mode"
	ColBindStatus   = "status"
	ColBindMessage  = "message"
	ColBindRevision = "revision"
)

// InvitationRow is the join of a non-owner bind row with its consuming home.
type InvitationRow struct {
	ShareeUID      string     `json:"sharee_uid"`
	HomeResourceID int64      `json:"home_resource_id"`
	ResourceID     int64      `json:"resource_id"`
	Name           string     `json:"name"`
	Mode           BindMode   `json:"mode"`
	Status         BindStatus `json:"status"`
	Message        string     `json:"message"`
}

// ResourceRevision is a sync-token row for one (resource, home) view.
type ResourceRevision struct {
	ID         int64 `json:"id" gorm:"primaryKey;autoIncrement"`
	ResourceID int64 `json:"resource_id" gorm:"uniqueIndex:idx_rev_resource_home"`
	HomeID     int64 `json:"home_id" gorm:"uniqueIndex:idx_rev_resource_home"`
	Revision   int64 `json:"revision"`
	Deleted    bool  `json:"deleted"`
	UpdatedAt  int64 `json:"updated_at"`
}

// Notification is one typed document in a principal's notification inbox.
type Notification struct {
	ID           int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	PrincipalUID string `json:"principal_uid" gorm:"uniqueIndex:idx_notify_principal_uid"`
	UID          string `json:"uid" gorm:"uniqueIndex:idx_notify_principal_uid"`
	TypeTag      string `json:"type_tag"`
	Payload      []byte `json:"payload"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// ResourceProperty is one shadowable per-(resource, home) property.
type ResourceProperty struct {
	ID         int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	ResourceID int64  `json:"resource_id" gorm:"uniqueIndex:idx_prop_resource_home_name"`
	HomeID     int64  `json:"home_id" gorm:"uniqueIndex:idx_prop_resource_home_name"`
	Name       string `json:"name" gorm:"uniqueIndex:idx_prop_resource_home_name"`
	Value      string `json:"value"`
}
