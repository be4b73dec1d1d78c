package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HerbHall/fleetwarden/internal/auth"
	"github.com/HerbHall/fleetwarden/pkg/models"
)

type fakeDecider struct {
	desc *models.FirmwareDescriptor
	err  error
}

func (f *fakeDecider) DecideForDevice(_ context.Context, _ string) (*models.FirmwareDescriptor, error) {
	return f.desc, f.err
}

func testModule(t *testing.T) *Module {
	t.Helper()
	m := New()
	if err := m.Init(context.Background(), testDeps(t, "fleet")); err != nil {
		t.Fatalf("init: %v", err)
	}
	return m
}

func heartbeatRequest(t *testing.T, deviceID string, body HeartbeatRequest) *http.Request {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal heartbeat: %v", err)
	}
	req := httptest.NewRequest("POST", "/api/v1/fleet/heartbeat", bytes.NewReader(payload))
	ctx := auth.WithIdentity(req.Context(), &auth.Identity{DeviceID: deviceID})
	return req.WithContext(ctx)
}

func TestHeartbeatServesEngineDecision(t *testing.T) {
	m := testModule(t)
	m.SetUpdateDecider(&fakeDecider{desc: &models.FirmwareDescriptor{
		Version:  "1.3.0",
		Checksum: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		URL:      "/api/v1/rollout/binary/1.3.0",
	}})

	w := httptest.NewRecorder()
	m.handleHeartbeat(w, heartbeatRequest(t, "dev-1", HeartbeatRequest{FirmwareVersion: "1.2.0"}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp HeartbeatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.DesiredVersion != "1.3.0" {
		t.Errorf("desired_version = %q, want engine decision 1.3.0", resp.DesiredVersion)
	}
	if resp.Firmware == nil || resp.Firmware.URL != "/api/v1/rollout/binary/1.3.0" {
		t.Errorf("firmware descriptor = %+v, want the decided release", resp.Firmware)
	}
}

func TestHeartbeatUpToDateNoFirmware(t *testing.T) {
	m := testModule(t)
	m.SetUpdateDecider(&fakeDecider{}) // engine says nothing to install

	w := httptest.NewRecorder()
	m.handleHeartbeat(w, heartbeatRequest(t, "dev-1", HeartbeatRequest{FirmwareVersion: "1.3.0"}))

	var resp HeartbeatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Firmware != nil {
		t.Errorf("firmware = %+v, want none when up to date", resp.Firmware)
	}
	if resp.DesiredVersion != "" {
		t.Errorf("desired_version = %q, want empty", resp.DesiredVersion)
	}
}

func TestHeartbeatDeciderErrorFallsBackToStoredTarget(t *testing.T) {
	m := testModule(t)
	ctx := context.Background()

	// Register, then pin the device to a rollback target.
	w := httptest.NewRecorder()
	m.handleHeartbeat(w, heartbeatRequest(t, "dev-1", HeartbeatRequest{FirmwareVersion: "1.3.0"}))
	pin := "1.2.0"
	if _, err := m.store.UpdateDevice(ctx, "dev-1", DeviceUpdate{DesiredVersion: &pin}); err != nil {
		t.Fatalf("pin device: %v", err)
	}

	m.SetUpdateDecider(&fakeDecider{err: errors.New("catalog unavailable")})

	w = httptest.NewRecorder()
	m.handleHeartbeat(w, heartbeatRequest(t, "dev-1", HeartbeatRequest{FirmwareVersion: "1.3.0"}))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite decider error", w.Code)
	}
	var resp HeartbeatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.DesiredVersion != "1.2.0" {
		t.Errorf("desired_version = %q, want stored pin 1.2.0", resp.DesiredVersion)
	}
}

func TestHeartbeatRecordsBatterySample(t *testing.T) {
	m := testModule(t)

	w := httptest.NewRecorder()
	m.handleHeartbeat(w, heartbeatRequest(t, "dev-1", HeartbeatRequest{
		FirmwareVersion: "1.2.0",
		Battery:         0.84,
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var battery float64
	var version string
	err := m.store.store.DB().QueryRow(
		`SELECT battery, firmware_version FROM fleet_measurements WHERE device_id = 'dev-1'`,
	).Scan(&battery, &version)
	if err != nil {
		t.Fatalf("expected a measurement row from the heartbeat: %v", err)
	}
	if battery != 0.84 {
		t.Errorf("battery = %v, want 0.84", battery)
	}
	if version != "1.2.0" {
		t.Errorf("firmware_version = %q, want 1.2.0", version)
	}
}

func TestHeartbeatWithoutBatteryNoSample(t *testing.T) {
	m := testModule(t)

	w := httptest.NewRecorder()
	m.handleHeartbeat(w, heartbeatRequest(t, "dev-1", HeartbeatRequest{FirmwareVersion: "1.2.0"}))

	var n int
	if err := m.store.store.DB().QueryRow(
		`SELECT COUNT(*) FROM fleet_measurements WHERE device_id = 'dev-1'`,
	).Scan(&n); err != nil {
		t.Fatalf("count measurements: %v", err)
	}
	if n != 0 {
		t.Errorf("got %d measurement rows, want 0 without a battery reading", n)
	}
}
