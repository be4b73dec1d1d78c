package fleet

// Event topics published by the fleet module.
const (
	TopicDeviceRegistered = "fleet.device.registered"
	TopicDeviceOffline    = "fleet.device.offline"
)

// DeviceEvent is the payload for device lifecycle topics.
type DeviceEvent struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status,omitempty"`
}
