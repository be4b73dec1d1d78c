package models

import "time"

// LifecycleState tracks a device through its administrative lifecycle.
// Only active devices may authenticate for data-plane operations.
type LifecycleState string

const (
	LifecycleNew            LifecycleState = "new"
	LifecycleActive         LifecycleState = "active"
	LifecycleSuspended      LifecycleState = "suspended"
	LifecycleDecommissioned LifecycleState = "decommissioned"
)

// DeviceStatus represents the observed connectivity of a device.
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusUnknown DeviceStatus = "unknown"
)

// Deployment environments. Releases tagged for one environment are
// invisible to devices in the other.
const (
	EnvironmentBlue  = "blue"
	EnvironmentGreen = "green"
)

// Device represents a remote device tracked by FleetWarden.
type Device struct {
	ID             string         `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	LifecycleState LifecycleState `json:"lifecycle_state" example:"active"`
	Environment    string         `json:"environment" example:"blue"`
	Region         string         `json:"region,omitempty" example:"eu-west"`
	HardwareRev    string         `json:"hardware_rev,omitempty" example:"rev-b"`

	// RolloutBucket is assigned once at registration and never changes.
	// A fixed bucket plus a monotonic target percentage gives a stable,
	// growing canary population.
	RolloutBucket int `json:"rollout_bucket" example:"42"`

	// CurrentVersion is the firmware the device last reported running.
	// Only device self-reports move it; the server never writes it.
	CurrentVersion string `json:"current_version,omitempty" example:"1.2.0"`

	// DesiredVersion pins the device to a specific release. Empty means
	// the device follows automatic rollout.
	DesiredVersion string `json:"desired_version,omitempty" example:"1.3.0"`

	Status         DeviceStatus `json:"status" example:"online"`
	PredictedIssue string       `json:"predicted_issue,omitempty" example:"battery degraded 14% over 48h"`

	ReportedSampleIntervalSecs    int `json:"reported_sample_interval_secs,omitempty"`
	ReportedUploadIntervalSecs    int `json:"reported_upload_interval_secs,omitempty"`
	ReportedHeartbeatIntervalSecs int `json:"reported_heartbeat_interval_secs,omitempty"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// DataPlaneEligible reports whether the device may authenticate for
// data-plane operations (heartbeat, ingest, shadow patch).
func (d *Device) DataPlaneEligible() bool {
	return d.LifecycleState == LifecycleActive
}
