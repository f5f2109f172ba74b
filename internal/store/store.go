// Package store provides persistence primitives and driver abstractions for
// the sharing engine: homes, resources, bind records, revisions, the
// notification inbox and per-view properties.
package store

import (
	"context"
	"errors"
)

// Common errors for store operations.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRetriesExhausted = errors.New("all retries failed")
	ErrClosed           = errors.New("store closed")
)

// Driver defines the lifecycle interface for a persistence backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Init initializes the driver (create tables, load data, etc).
	Init(ctx context.Context) error

	// Close releases resources held by the driver.
	Close() error

	// Name returns the driver name (sqlite).
	Name() string
}

// Stores bundles the individual record stores. A Stores value is either
// transaction-scoped (obtained inside InTransaction) or auto-committing.
type Stores interface {
	Homes() HomeStore
	Resources() ResourceStore
	Binds() BindStore
	Revisions() RevisionStore
	Notifications() NotificationStore
	Properties() PropertyStore
}

// Tx is a transaction handle. All mutations made through its stores commit
// or roll back atomically. AfterCommit callbacks run only after a successful
// commit, AfterRollback callbacks only after a rollback, each in
// registration order; together they keep caches and in-memory indexes in
// step with what actually committed.
type Tx interface {
	Stores

	// AfterCommit registers fn to run once the enclosing transaction commits.
	AfterCommit(fn func())

	// AfterRollback registers fn to run once the enclosing transaction rolls
	// back; callers use it to discard in-memory state derived from writes
	// that never committed.
	AfterRollback(fn func())

	// SubTransaction runs fn in a scope whose failure rolls back only fn's
	// own writes, retrying up to attempts times. Only ErrAlreadyExists
	// triggers a retry; any other failure propagates immediately. When all
	// attempts lose the race the returned error wraps ErrRetriesExhausted.
	SubTransaction(ctx context.Context, attempts int, fn func(ctx context.Context, sub Stores) error) error
}

// Store is the full persistence interface implemented by drivers.
type Store interface {
	Driver
	Stores

	// InTransaction runs fn inside a transaction, then fires the AfterCommit
	// callbacks registered on tx when the commit succeeds.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// HomeStore defines operations on principal homes.
type HomeStore interface {
	Insert(ctx context.Context, home *Home) error
	ByUID(ctx context.Context, homeType, uid string) (*Home, error)
	ByID(ctx context.Context, id int64) (*Home, error)
}

// ResourceStore defines operations on shared resources (collections).
type ResourceStore interface {
	Insert(ctx context.Context, res *Resource) error
	ByID(ctx context.Context, id int64) (*Resource, error)
	Update(ctx context.Context, res *Resource) error
	Delete(ctx context.Context, id int64) error
}

// BindStore is the query contract over the bind table. All lookups are keyed
// by integer resource/home identifiers; name uniqueness is scoped per home.
type BindStore interface {
	// Insert creates a bind row. Returns ErrAlreadyExists when either the
	// (resource, home) pair or the (home, name) pair is already bound.
	Insert(ctx context.Context, bind *BindRecord) error

	// Update writes the given column subset for one bind row.
	Update(ctx context.Context, resourceID, homeID int64, columns map[string]any) error

	Delete(ctx context.Context, resourceID, homeID int64) error

	ByResourceAndHome(ctx context.Context, resourceID, homeID int64) (*BindRecord, error)
	ByExternalIDAndHome(ctx context.Context, externalID, homeID int64) (*BindRecord, error)
	ByNameAndHome(ctx context.Context, name string, homeID int64) (*BindRecord, error)

	// OwnBindForResource returns the single OWN bind row for a resource.
	OwnBindForResource(ctx context.Context, resourceID int64) (*BindRecord, error)

	// InvitationsForResource returns all non-owner bind rows for a resource,
	// joined to the consuming home to recover the sharee's UID.
	InvitationsForResource(ctx context.Context, resourceID int64) ([]*InvitationRow, error)

	// AcceptedForHome returns the accepted bind rows for a consuming home.
	AcceptedForHome(ctx context.Context, homeID int64) ([]*BindRecord, error)

	// AcceptedCountForResource counts accepted non-owner binds for a resource.
	AcceptedCountForResource(ctx context.Context, resourceID int64) (int64, error)
}

// RevisionStore manages per-(resource, home) sync-token state.
type RevisionStore interface {
	// InitSyncToken creates or revives the sync-token row and returns its
	// revision, allocated from the resource's monotonic sequence.
	InitSyncToken(ctx context.Context, resourceID, homeID int64) (int64, error)

	// MarkDeleted tombstones the sync-token row so incremental-sync clients
	// observe a removal.
	MarkDeleted(ctx context.Context, resourceID, homeID int64) error

	// Revision returns the current revision, or ErrNotFound.
	Revision(ctx context.Context, resourceID, homeID int64) (int64, error)

	// DeleteForResource removes all revision rows for a resource.
	DeleteForResource(ctx context.Context, resourceID int64) error
}

// NotificationStore is the write/remove contract of the notification inbox.
type NotificationStore interface {
	// Write creates or replaces the notification document with the given UID
	// in the principal's inbox.
	Write(ctx context.Context, principalUID, notificationUID, typeTag string, payload []byte) error

	Remove(ctx context.Context, principalUID, notificationUID string) error

	ByPrincipal(ctx context.Context, principalUID string) ([]*Notification, error)

	ByUID(ctx context.Context, principalUID, notificationUID string) (*Notification, error)
}

// PropertyStore holds per-(resource, home) shadowable properties.
type PropertyStore interface {
	Set(ctx context.Context, resourceID, homeID int64, name, value string) error
	Get(ctx context.Context, resourceID, homeID int64, name string) (string, error)
	ForResourceAndHome(ctx context.Context, resourceID, homeID int64) (map[string]string, error)
	DeleteForResource(ctx context.Context, resourceID int64) error
}
