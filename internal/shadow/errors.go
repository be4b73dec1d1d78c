package shadow

import "errors"

var (
	// ErrEmptyPatch is returned when a merge-patch carries no keys.
	ErrEmptyPatch = errors.New("patch has no keys")
)
