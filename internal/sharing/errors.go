package sharing

import "errors"

// Common errors for sharing operations.
var (
	// ErrExternalShareFailed marks a federation call that references a UID
	// whose home does not exist or is not external. The conduit layer turns
	// it into a rejected message, never a partial local mutation.
	ErrExternalShareFailed = errors.New("external share failed")

	// ErrNameConflict is returned when creating a home child collides with
	// an existing, differently-identified resource of the same name.
	ErrNameConflict = errors.New("home child name already exists")

	// ErrNoConduit is returned when an operation needs to reach a federated
	// peer but no conduit is configured.
	ErrNoConduit = errors.New("no federation conduit configured")

	// ErrNotOwner is returned when an owner-side operation is invoked on a
	// sharee view.
	ErrNotOwner = errors.New("operation requires the owner view")
)
