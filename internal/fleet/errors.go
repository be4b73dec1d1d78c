package fleet

import "errors"

var (
	// ErrNotFound is returned when a device does not exist.
	ErrNotFound = errors.New("device not found")
	// ErrInvalidTransition is returned for a lifecycle transition the
	// state machine does not permit (decommissioned is terminal).
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrEmptyBatch is returned when a measurement batch has no samples.
	ErrEmptyBatch = errors.New("measurement batch is empty")
)
