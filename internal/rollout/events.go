package rollout

// Event topics published by the rollout module.
const (
	TopicReleasePublished  = "rollout.published"
	TopicReleasePaused     = "rollout.paused"
	TopicReleaseResumed    = "rollout.resumed"
	TopicReleaseRolledBack = "rollout.rolled_back"
	TopicPercentChanged    = "rollout.percent_changed"
)

// RolledBackEvent is the payload for rollout.rolled_back events.
type RolledBackEvent struct {
	FromVersion     string `json:"from_version"`
	ToVersion       string `json:"to_version"`
	DevicesAffected int64  `json:"devices_affected"`
}

// PercentChangedEvent is the payload for rollout.percent_changed events.
type PercentChangedEvent struct {
	Version       string `json:"version"`
	TargetPercent int    `json:"target_percent"`
}
