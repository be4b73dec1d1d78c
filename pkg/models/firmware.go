package models

import "time"

// RolloutStatus is the state machine for a firmware release.
//
//	active -> paused -> active        (operator pause/resume)
//	active|paused -> rolled_back      (terminal as a forward target)
type RolloutStatus string

const (
	RolloutActive     RolloutStatus = "active"
	RolloutPaused     RolloutStatus = "paused"
	RolloutRolledBack RolloutStatus = "rolled_back"
)

// Firmware describes a published firmware release and its rollout state.
type Firmware struct {
	Version  string `json:"version" example:"1.3.0"`
	Checksum string `json:"checksum" example:"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"`
	URL      string `json:"url" example:"/api/v1/rollout/binary/1.3.0"`

	// Signature is an opaque verification token produced by the signing
	// service; the decision engine never inspects it.
	Signature string `json:"signature,omitempty"`

	// RolloutGroup tags the release for an environment segment
	// ("default", "blue", "green"). Green releases are never offered
	// outside the green segment.
	RolloutGroup string `json:"rollout_group" example:"default"`

	// Hard compatibility filters. Empty means no restriction.
	RequiredRegion      string `json:"required_region,omitempty" example:"eu-west"`
	RequiredHardwareRev string `json:"required_hardware_rev,omitempty" example:"rev-b"`

	// TargetPercent gates automatic rollout: a device is admitted when
	// its rollout bucket is strictly below this value.
	TargetPercent int `json:"target_percent" example:"25"`

	RolloutStatus RolloutStatus `json:"rollout_status" example:"active"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Descriptor returns the wire form offered to a device: just enough to
// fetch and verify the binary.
func (f *Firmware) Descriptor() *FirmwareDescriptor {
	return &FirmwareDescriptor{
		Version:   f.Version,
		Checksum:  f.Checksum,
		URL:       f.URL,
		Signature: f.Signature,
	}
}

// FirmwareDescriptor is what a device receives when an update is offered.
type FirmwareDescriptor struct {
	Version   string `json:"version" example:"1.3.0"`
	Checksum  string `json:"checksum"`
	URL       string `json:"url"`
	Signature string `json:"signature,omitempty"`
}
