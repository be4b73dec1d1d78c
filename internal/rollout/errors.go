package rollout

import "errors"

// Typed failures surfaced by catalog operations. Handlers map these to
// RFC 7807 problem responses.
var (
	// ErrNotFound means the referenced firmware version does not exist.
	ErrNotFound = errors.New("firmware version not found")

	// ErrDuplicateVersion means a release with this version is already
	// published. Versions are immutable once created.
	ErrDuplicateVersion = errors.New("firmware version already exists")

	// ErrInvalidPercent means the target percent is outside [0,100].
	ErrInvalidPercent = errors.New("target percent must be between 0 and 100")

	// ErrRolledBack means the operation targets a rolled-back release,
	// which is terminal as a forward target.
	ErrRolledBack = errors.New("release has been rolled back")
)
