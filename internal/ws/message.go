package ws

import (
	"time"
)

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	MessageDeviceRegistered MessageType = "device.registered"
	MessageDeviceOffline    MessageType = "device.offline"
	MessageReleasePublished MessageType = "release.published"
	MessageReleasePaused    MessageType = "release.paused"
	MessageReleaseResumed   MessageType = "release.resumed"
	MessageRolloutRollback  MessageType = "release.rolled_back"
	MessagePercentChanged   MessageType = "release.percent_changed"
	MessageShadowUpdated    MessageType = "shadow.updated"
	MessageAlertRaised      MessageType = "alert.raised"
	MessageAlertCleared     MessageType = "alert.cleared"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// DeviceStatusData is the payload for device.registered and device.offline messages.
type DeviceStatusData struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status,omitempty"`
}

// ReleasePublishedData is the payload for release.published messages.
type ReleasePublishedData struct {
	Version       string `json:"version"`
	RolloutGroup  string `json:"rollout_group"`
	TargetPercent int    `json:"target_percent"`
}

// ReleaseStateData is the payload for release.paused and release.resumed messages.
type ReleaseStateData struct {
	Version string `json:"version"`
}

// RollbackData is the payload for release.rolled_back messages.
type RollbackData struct {
	FromVersion     string `json:"from_version"`
	ToVersion       string `json:"to_version"`
	DevicesAffected int64  `json:"devices_affected"`
}

// PercentChangedData is the payload for release.percent_changed messages.
type PercentChangedData struct {
	Version       string `json:"version"`
	TargetPercent int    `json:"target_percent"`
}

// ShadowUpdatedData is the payload for shadow.updated messages.
type ShadowUpdatedData struct {
	DeviceID string `json:"device_id"`
	Side     string `json:"side"`
	InSync   bool   `json:"in_sync"`
}

// AlertData is the payload for alert.raised and alert.cleared messages.
type AlertData struct {
	Type            string `json:"type"`
	Severity        string `json:"severity,omitempty"`
	Message         string `json:"message,omitempty"`
	DeviceID        string `json:"device_id,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
}
