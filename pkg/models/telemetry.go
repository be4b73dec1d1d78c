package models

import "time"

// Measurement is a single telemetry sample reported by a device.
// Measurements are append-only.
type Measurement struct {
	ID              int64     `json:"id"`
	DeviceID        string    `json:"device_id"`
	Timestamp       time.Time `json:"timestamp"`
	Temp            float64   `json:"temp"`
	Humidity        float64   `json:"humidity"`
	Battery         float64   `json:"battery"`
	SequenceNumber  int       `json:"sequence_number"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	Latitude        float64   `json:"latitude,omitempty"`
	Longitude       float64   `json:"longitude,omitempty"`
	Speed           float64   `json:"speed,omitempty"`
}

// DeviceError is an error report from a device, scoped to the firmware
// it was running at the time. Errors feed the per-version failure rate.
type DeviceError struct {
	ID              int64     `json:"id"`
	DeviceID        string    `json:"device_id"`
	FirmwareVersion string    `json:"firmware_version"`
	Code            string    `json:"code,omitempty"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
}

// Metric is a timestamped named value, optionally scoped to a device or
// firmware version. Append-only.
type Metric struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name" example:"failure_rate"`
	Value           float64   `json:"value"`
	DeviceID        string    `json:"device_id,omitempty"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert types emitted by the health aggregator.
const (
	AlertTypeFailureRate    = "failure_rate"
	AlertTypeBatteryDegrade = "battery_degrade"
)

// Alert is a persisted operator alert. Alerts are never deleted, only
// deactivated.
type Alert struct {
	ID              string     `json:"id"`
	Type            string     `json:"type" example:"failure_rate"`
	Severity        string     `json:"severity" example:"critical"`
	Message         string     `json:"message"`
	DeviceID        string     `json:"device_id,omitempty"`
	FirmwareVersion string     `json:"firmware_version,omitempty"`
	IsActive        bool       `json:"is_active"`
	TriggeredAt     time.Time  `json:"triggered_at"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
	ClearedAt       *time.Time `json:"cleared_at,omitempty"`
}

// FleetSettings is the singleton fleet-wide configuration returned to
// devices at check-in, overridable per device via the desired shadow.
type FleetSettings struct {
	NumDevices             int `json:"num_devices"`
	SampleIntervalSecs     int `json:"sample_interval_secs"`
	UploadIntervalSecs     int `json:"upload_interval_secs"`
	HeartbeatIntervalSecs  int `json:"heartbeat_interval_secs"`
}

// VersionHealth is the per-version aggregate computed by the health module.
type VersionHealth struct {
	FirmwareVersion string  `json:"firmware_version"`
	DeviceCount     int     `json:"device_count"`
	ErrorCount      int     `json:"error_count"`
	FailureRate     float64 `json:"failure_rate"`
}
