package fleet

import (
	"crypto/sha256"
	"encoding/binary"
)

// AssignBucket maps a device ID to a rollout bucket in [0,100).
// Deterministic in the ID, so re-registering the same device yields the
// same bucket, and uniform enough over real ID distributions that a
// target percentage of N admits close to N% of the fleet. The bucket is
// computed once at registration and persisted; it never changes for the
// life of the device row.
func AssignBucket(deviceID string) int {
	sum := sha256.Sum256([]byte(deviceID))
	return int(binary.BigEndian.Uint64(sum[:8]) % 100)
}
