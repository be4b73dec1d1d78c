package fleet

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/HerbHall/fleetwarden/internal/store"
	"github.com/HerbHall/fleetwarden/pkg/models"
)

func testStore(t *testing.T) *DeviceStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background(), "fleet", migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewDeviceStore(s)
}

func TestCheckInRegistersDevice(t *testing.T) {
	ds := testStore(t)
	ctx := context.Background()

	dev, created, err := ds.CheckIn(ctx, Heartbeat{
		DeviceID:        "dev-1",
		FirmwareVersion: "1.0.0",
		Region:          "eu-west",
	}, false)
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if !created {
		t.Error("expected created=true for first check-in")
	}
	if dev.LifecycleState != models.LifecycleActive {
		t.Errorf("lifecycle = %s, want active (auto approval)", dev.LifecycleState)
	}
	if dev.Status != models.DeviceStatusOnline {
		t.Errorf("status = %s, want online", dev.Status)
	}
	if dev.RolloutBucket != AssignBucket("dev-1") {
		t.Errorf("bucket = %d, want %d", dev.RolloutBucket, AssignBucket("dev-1"))
	}
	if dev.CurrentVersion != "1.0.0" {
		t.Errorf("current_version = %q, want 1.0.0", dev.CurrentVersion)
	}
}

func TestCheckInRequireApproval(t *testing.T) {
	ds := testStore(t)
	dev, _, err := ds.CheckIn(context.Background(), Heartbeat{DeviceID: "dev-1"}, true)
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if dev.LifecycleState != models.LifecycleNew {
		t.Errorf("lifecycle = %s, want new when approval is required", dev.LifecycleState)
	}
}

func TestCheckInBucketStableAcrossCheckIns(t *testing.T) {
	ds := testStore(t)
	ctx := context.Background()

	first, _, err := ds.CheckIn(ctx, Heartbeat{DeviceID: "dev-1", FirmwareVersion: "1.0.0"}, false)
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	second, created, err := ds.CheckIn(ctx, Heartbeat{DeviceID: "dev-1", FirmwareVersion: "1.1.0"}, false)
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if created {
		t.Error("expected created=false for second check-in")
	}
	if second.RolloutBucket != first.RolloutBucket {
		t.Errorf("bucket changed across check-ins: %d then %d", first.RolloutBucket, second.RolloutBucket)
	}
	if second.CurrentVersion != "1.1.0" {
		t.Errorf("current_version = %q, want 1.1.0", second.CurrentVersion)
	}
	if second.FirstSeen.After(second.LastSeen) {
		t.Error("first_seen after last_seen")
	}
}

func TestCheckInPreservesFieldsWhenOmitted(t *testing.T) {
	ds := testStore(t)
	ctx := context.Background()

	if _, _, err := ds.CheckIn(ctx, Heartbeat{
		DeviceID: "dev-1", FirmwareVersion: "1.0.0",
		Region: "eu-west", HardwareRev: "rev-b", SampleIntervalSecs: 30,
	}, false); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}

	dev, _, err := ds.CheckIn(ctx, Heartbeat{DeviceID: "dev-1", FirmwareVersion: "1.0.0"}, false)
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if dev.Region != "eu-west" || dev.HardwareRev != "rev-b" {
		t.Errorf("region/hardware lost on sparse heartbeat: %q / %q", dev.Region, dev.HardwareRev)
	}
	if dev.ReportedSampleIntervalSecs != 30 {
		t.Errorf("sample interval lost: %d", dev.ReportedSampleIntervalSecs)
	}
}

func TestSetLifecycleTransitions(t *testing.T) {
	ds := testStore(t)
	ctx := context.Background()
	if _, _, err := ds.CheckIn(ctx, Heartbeat{DeviceID: "dev-1"}, true); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}

	steps := []struct {
		to      models.LifecycleState
		wantErr bool
	}{
		{models.LifecycleSuspended, true}, // new -> suspended not allowed
		{models.LifecycleActive, false},   // approve
		{models.LifecycleSuspended, false},
		{models.LifecycleActive, false},
		{models.LifecycleDecommissioned, false},
		{models.LifecycleActive, true}, // decommissioned is terminal
	}
	for i, step := range steps {
		err := ds.SetLifecycle(ctx, "dev-1", step.to)
		if step.wantErr {
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("step %d: transition to %s = %v, want ErrInvalidTransition", i, step.to, err)
			}
		} else if err != nil {
			t.Errorf("step %d: transition to %s: %v", i, step.to, err)
		}
	}

	if err := ds.SetLifecycle(ctx, "ghost", models.LifecycleActive); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown device = %v, want ErrNotFound", err)
	}
}

func TestUpdateDevicePinAndClear(t *testing.T) {
	ds := testStore(t)
	ctx := context.Background()
	if _, _, err := ds.CheckIn(ctx, Heartbeat{DeviceID: "dev-1"}, false); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}

	pin := "2.0.0"
	dev, err := ds.UpdateDevice(ctx, "dev-1", DeviceUpdate{DesiredVersion: &pin})
	if err != nil {
		t.Fatalf("UpdateDevice: %v", err)
	}
	if dev.DesiredVersion != "2.0.0" {
		t.Errorf("desired_version = %q, want 2.0.0", dev.DesiredVersion)
	}

	unpin := ""
	dev, err = ds.UpdateDevice(ctx, "dev-1", DeviceUpdate{DesiredVersion: &unpin})
	if err != nil {
		t.Fatalf("UpdateDevice: %v", err)
	}
	if dev.DesiredVersion != "" {
		t.Errorf("desired_version = %q, want cleared", dev.DesiredVersion)
	}

	if _, err := ds.UpdateDevice(ctx, "ghost", DeviceUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown device = %v, want ErrNotFound", err)
	}
}

func TestMarkOfflineSince(t *testing.T) {
	ds := testStore(t)
	ctx := context.Background()
	if _, _, err := ds.CheckIn(ctx, Heartbeat{DeviceID: "stale"}, false); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if _, _, err := ds.CheckIn(ctx, Heartbeat{DeviceID: "fresh"}, false); err != nil {
		t.Fatalf("CheckIn: %v", err)
	}

	// Backdate one device's heartbeat.
	_, err := ds.store.DB().ExecContext(ctx,
		`UPDATE fleet_devices SET last_seen = ? WHERE id = 'stale'`,
		time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("backdate: %v", err)
	}

	flipped, err := ds.MarkOfflineSince(ctx, time.Now().UTC().Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("MarkOfflineSince: %v", err)
	}
	if len(flipped) != 1 || flipped[0] != "stale" {
		t.Fatalf("flipped = %v, want [stale]", flipped)
	}

	dev, err := ds.GetDevice(ctx, "stale")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if dev.Status != models.DeviceStatusOffline {
		t.Errorf("stale status = %s, want offline", dev.Status)
	}
	dev, _ = ds.GetDevice(ctx, "fresh")
	if dev.Status != models.DeviceStatusOnline {
		t.Errorf("fresh status = %s, want online", dev.Status)
	}

	// Second sweep finds nothing new.
	flipped, err = ds.MarkOfflineSince(ctx, time.Now().UTC().Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("MarkOfflineSince: %v", err)
	}
	if len(flipped) != 0 {
		t.Errorf("second sweep flipped %v, want none", flipped)
	}
}

func TestInsertMeasurementsBatch(t *testing.T) {
	ds := testStore(t)
	ctx := context.Background()

	batch := []models.Measurement{
		{Timestamp: time.Now().UTC(), Temp: 21.5, Humidity: 40, Battery: 88, SequenceNumber: 1, FirmwareVersion: "1.0.0"},
		{Timestamp: time.Now().UTC(), Temp: 21.7, Humidity: 41, Battery: 87, SequenceNumber: 2, FirmwareVersion: "1.0.0"},
	}
	if err := ds.InsertMeasurements(ctx, "dev-1", batch); err != nil {
		t.Fatalf("InsertMeasurements: %v", err)
	}

	var n int
	if err := ds.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fleet_measurements WHERE device_id = 'dev-1'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("stored %d measurements, want 2", n)
	}

	if err := ds.InsertMeasurements(ctx, "dev-1", nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("empty batch = %v, want ErrEmptyBatch", err)
	}
}

func TestFleetSettingsSingleton(t *testing.T) {
	ds := testStore(t)
	ctx := context.Background()

	settings, err := ds.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if settings.SampleIntervalSecs != 60 || settings.UploadIntervalSecs != 300 {
		t.Errorf("unexpected defaults: %+v", settings)
	}

	settings.NumDevices = 50
	settings.SampleIntervalSecs = 30
	if err := ds.UpdateSettings(ctx, settings); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	got, err := ds.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if got.NumDevices != 50 || got.SampleIntervalSecs != 30 {
		t.Errorf("settings not persisted: %+v", got)
	}
}
