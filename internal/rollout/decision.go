package rollout

import (
	"context"

	"github.com/HerbHall/fleetwarden/pkg/models"
)

// Decide computes the single firmware release (if any) the device should
// fetch next, given a catalog snapshot. Deterministic: the only
// randomness, the rollout bucket, is already fixed on the device.
//
// Evaluation order encodes the precedence rules: explicit per-device
// pinning beats automatic rollout; automatic rollout is filtered by hard
// compatibility constraints (region, hardware), then by environment
// isolation, then gated by the canary percentage.
func Decide(device *models.Device, releases []models.Firmware) *models.Firmware {
	// 1. Direct assignment. A paused or rolled-back pin yields nothing
	// here; evaluation continues with automatic rollout. A pin equal to
	// the running version counts as already applied.
	if v := device.DesiredVersion; v != "" {
		if pinned := findVersion(releases, v); pinned != nil &&
			pinned.Version != device.CurrentVersion &&
			pinned.RolloutStatus == models.RolloutActive {
			return pinned
		}
	}

	// 2. Hard compatibility filter over active releases.
	candidate := latestEligible(device, releases)
	if candidate == nil || candidate.Version == device.CurrentVersion {
		return nil
	}

	// 3. Environment isolation: green releases never leave the green segment.
	if candidate.RolloutGroup == models.EnvironmentGreen && device.Environment != models.EnvironmentGreen {
		return nil
	}

	// 4. Percentage gate. target_percent = 0 hides the release from
	// automatic rollout; 100 admits every bucket (0-99).
	if device.RolloutBucket < candidate.TargetPercent {
		return candidate
	}
	return nil
}

// latestEligible returns the newest active release passing the device's
// hard region/hardware constraints, or nil if none qualify.
func latestEligible(device *models.Device, releases []models.Firmware) *models.Firmware {
	var best *models.Firmware
	for i := range releases {
		f := &releases[i]
		if f.RolloutStatus != models.RolloutActive {
			continue
		}
		if f.RequiredRegion != "" && f.RequiredRegion != device.Region {
			continue
		}
		if f.RequiredHardwareRev != "" && f.RequiredHardwareRev != device.HardwareRev {
			continue
		}
		if best == nil || f.CreatedAt.After(best.CreatedAt) {
			best = f
		}
	}
	return best
}

func findVersion(releases []models.Firmware, version string) *models.Firmware {
	for i := range releases {
		if releases[i].Version == version {
			return &releases[i]
		}
	}
	return nil
}

// Engine evaluates rollout decisions against the live catalog.
type Engine struct {
	store *CatalogStore
}

// NewEngine creates a decision engine reading from the given catalog store.
func NewEngine(store *CatalogStore) *Engine {
	return &Engine{store: store}
}

// DecideForDevice loads the device and a catalog snapshot and returns
// the firmware descriptor the device should install next, or nil if the
// device is up to date or nothing is eligible. Returns ErrNotFound for
// unknown devices.
func (e *Engine) DecideForDevice(ctx context.Context, deviceID string) (*models.FirmwareDescriptor, error) {
	device, err := e.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, ErrNotFound
	}

	releases, err := e.store.ListReleases(ctx)
	if err != nil {
		return nil, err
	}

	if chosen := Decide(device, releases); chosen != nil {
		return chosen.Descriptor(), nil
	}
	return nil, nil
}
