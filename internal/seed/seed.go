// Package seed populates a fresh database with a small demo fleet so
// the API can be explored without real devices checking in.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/fleetwarden/internal/fleet"
	"github.com/HerbHall/fleetwarden/internal/rollout"
	"github.com/HerbHall/fleetwarden/internal/shadow"
	"github.com/HerbHall/fleetwarden/pkg/models"
)

// SeedDemoFleet creates a 12-device demo fleet spread across two
// regions and two hardware revisions, three firmware releases at
// different rollout stages, telemetry for a handful of devices, and a
// couple of shadow documents. It is idempotent: check-in upserts by
// device ID, and already-published releases are skipped.
func SeedDemoFleet(ctx context.Context, devices *fleet.DeviceStore, catalog *rollout.CatalogStore, shadows *shadow.ShadowStore) error {
	now := time.Now().UTC()

	for _, rel := range demoReleases(now) {
		if err := catalog.Publish(ctx, &rel); err != nil {
			if errors.Is(err, rollout.ErrDuplicateVersion) {
				continue
			}
			return fmt.Errorf("seed release %s: %w", rel.Version, err)
		}
	}

	for _, hb := range demoHeartbeats() {
		if _, _, err := devices.CheckIn(ctx, hb, false); err != nil {
			return fmt.Errorf("seed device %s: %w", hb.DeviceID, err)
		}
	}

	if err := seedTelemetry(ctx, devices, now); err != nil {
		return fmt.Errorf("seed telemetry: %w", err)
	}

	if err := seedShadows(ctx, shadows); err != nil {
		return fmt.Errorf("seed shadows: %w", err)
	}

	return nil
}

// demoReleases returns a small catalog: the broadly deployed baseline,
// a canary at 25%, and a green-segment build.
func demoReleases(now time.Time) []models.Firmware {
	return []models.Firmware{
		{
			Version:       "1.2.0",
			Checksum:      "3a1f2b8c9d0e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f90",
			URL:           "/api/v1/rollout/binary/1.2.0",
			RolloutGroup:  "default",
			TargetPercent: 100,
			CreatedAt:     now.Add(-30 * 24 * time.Hour),
		},
		{
			Version:       "1.3.0",
			Checksum:      "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
			URL:           "/api/v1/rollout/binary/1.3.0",
			RolloutGroup:  "default",
			TargetPercent: 25,
			CreatedAt:     now.Add(-3 * 24 * time.Hour),
		},
		{
			Version:       "1.4.0-green",
			Checksum:      "b5d4045c3f466fa91fe2cc6abe79232a1a57cdf104f7a26e716e0a1e2789df78",
			URL:           "/api/v1/rollout/binary/1.4.0-green",
			RolloutGroup:  "green",
			TargetPercent: 100,
			CreatedAt:     now.Add(-24 * time.Hour),
		},
	}
}

// demoHeartbeats returns check-ins for 12 sensors: eight in eu-west,
// four in us-east, mixed rev-a/rev-b hardware.
func demoHeartbeats() []fleet.Heartbeat {
	var hbs []fleet.Heartbeat
	for i := 1; i <= 12; i++ {
		region := "eu-west"
		if i > 8 {
			region = "us-east"
		}
		hw := "rev-a"
		if i%3 == 0 {
			hw = "rev-b"
		}
		hbs = append(hbs, fleet.Heartbeat{
			DeviceID:              fmt.Sprintf("demo-sensor-%02d", i),
			FirmwareVersion:       "1.2.0",
			Region:                region,
			HardwareRev:           hw,
			SampleIntervalSecs:    60,
			UploadIntervalSecs:    300,
			HeartbeatIntervalSecs: 120,
		})
	}
	return hbs
}

// seedTelemetry inserts a short measurement history for the first three
// devices, including a gentle battery decline so the health aggregator
// has something to look at.
func seedTelemetry(ctx context.Context, devices *fleet.DeviceStore, now time.Time) error {
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("demo-sensor-%02d", i)
		var batch []models.Measurement
		for j := 0; j < 24; j++ {
			batch = append(batch, models.Measurement{
				DeviceID:        id,
				Timestamp:       now.Add(time.Duration(j-24) * time.Hour),
				Temp:            18.5 + float64(j%5),
				Humidity:        52.0 + float64(j%8),
				Battery:         0.98 - float64(j)*0.002,
				SequenceNumber:  j + 1,
				FirmwareVersion: "1.2.0",
			})
		}
		if err := devices.InsertMeasurements(ctx, id, batch); err != nil {
			return err
		}
	}
	return nil
}

// seedShadows gives two devices a desired configuration diverging from
// the fleet defaults, so the reconciliation endpoints show drift.
func seedShadows(ctx context.Context, shadows *shadow.ShadowStore) error {
	patches := map[string]models.Document{
		"demo-sensor-01": {"sample_interval_secs": 30, "upload_interval_secs": 120},
		"demo-sensor-05": {"heartbeat_interval_secs": 600},
	}
	for id, patch := range patches {
		if _, err := shadows.Patch(ctx, id, shadow.SideDesired, patch); err != nil {
			return fmt.Errorf("patch %s: %w", id, err)
		}
	}
	return nil
}
