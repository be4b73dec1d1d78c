package rollout

import (
	"testing"
	"time"

	"github.com/HerbHall/fleetwarden/pkg/models"
)

func releaseAt(version string, age time.Duration, mut ...func(*models.Firmware)) models.Firmware {
	f := models.Firmware{
		Version:       version,
		Checksum:      "deadbeef",
		URL:           "https://firmware.example.com/" + version,
		RolloutGroup:  "default",
		RolloutStatus: models.RolloutActive,
		TargetPercent: 100,
		CreatedAt:     time.Now().UTC().Add(-age),
	}
	for _, m := range mut {
		m(&f)
	}
	return f
}

func blueDevice(bucket int) *models.Device {
	return &models.Device{
		ID:             "dev-1",
		LifecycleState: models.LifecycleActive,
		Environment:    models.EnvironmentBlue,
		RolloutBucket:  bucket,
		CurrentVersion: "1.0.0",
	}
}

func TestDecideFullRollout(t *testing.T) {
	// 1.0.0 at 100%, device on 0.9.0 in bucket 42: must be offered 1.0.0.
	dev := blueDevice(42)
	dev.CurrentVersion = "0.9.0"
	releases := []models.Firmware{releaseAt("1.0.0", time.Hour)}

	got := Decide(dev, releases)
	if got == nil || got.Version != "1.0.0" {
		t.Fatalf("Decide = %v, want 1.0.0", got)
	}
}

func TestDecideUpToDate(t *testing.T) {
	dev := blueDevice(42)
	releases := []models.Firmware{releaseAt("1.0.0", time.Hour)}
	if got := Decide(dev, releases); got != nil {
		t.Errorf("Decide = %s, want nil for device already on latest", got.Version)
	}
}

func TestDecidePercentGate(t *testing.T) {
	releases := []models.Firmware{releaseAt("2.0.0", time.Hour, func(f *models.Firmware) {
		f.TargetPercent = 30
	})}

	tests := []struct {
		bucket int
		want   bool
	}{
		{0, true}, {29, true}, {30, false}, {99, false},
	}
	for _, tt := range tests {
		got := Decide(blueDevice(tt.bucket), releases)
		if (got != nil) != tt.want {
			t.Errorf("bucket %d at 30%%: offered=%v, want %v", tt.bucket, got != nil, tt.want)
		}
	}
}

func TestDecidePercentEdges(t *testing.T) {
	// 0% hides from everyone, 100% admits every bucket.
	zero := []models.Firmware{releaseAt("2.0.0", time.Hour, func(f *models.Firmware) {
		f.TargetPercent = 0
	})}
	full := []models.Firmware{releaseAt("2.0.0", time.Hour)}

	for _, bucket := range []int{0, 50, 99} {
		if got := Decide(blueDevice(bucket), zero); got != nil {
			t.Errorf("bucket %d offered at 0%%", bucket)
		}
		if got := Decide(blueDevice(bucket), full); got == nil {
			t.Errorf("bucket %d not offered at 100%%", bucket)
		}
	}
}

func TestDecideMonotonicPopulation(t *testing.T) {
	// Raising target_percent never kicks a device out: the offered set
	// at N% is a subset of the set at M% for N < M.
	mkReleases := func(percent int) []models.Firmware {
		return []models.Firmware{releaseAt("2.0.0", time.Hour, func(f *models.Firmware) {
			f.TargetPercent = percent
		})}
	}
	for bucket := 0; bucket < 100; bucket++ {
		offeredAt := func(percent int) bool {
			return Decide(blueDevice(bucket), mkReleases(percent)) != nil
		}
		prev := false
		for _, p := range []int{0, 10, 25, 50, 75, 100} {
			cur := offeredAt(p)
			if prev && !cur {
				t.Fatalf("bucket %d lost the release when percent grew to %d", bucket, p)
			}
			prev = cur
		}
	}
}

func TestDecidePinOverridesFilters(t *testing.T) {
	// A pinned release is offered even when its hard filters or percent
	// gate would exclude the device.
	dev := blueDevice(99)
	dev.Region = "us-east"
	dev.DesiredVersion = "2.0.0"
	releases := []models.Firmware{
		releaseAt("2.0.0", time.Hour, func(f *models.Firmware) {
			f.RequiredRegion = "eu-west"
			f.TargetPercent = 0
		}),
	}

	got := Decide(dev, releases)
	if got == nil || got.Version != "2.0.0" {
		t.Fatalf("pinned release not offered: %v", got)
	}
}

func TestDecidePinInactiveFallsThrough(t *testing.T) {
	// A pin to a paused release yields the automatic candidate instead.
	dev := blueDevice(10)
	dev.DesiredVersion = "2.0.0"
	releases := []models.Firmware{
		releaseAt("2.0.0", time.Hour, func(f *models.Firmware) {
			f.RolloutStatus = models.RolloutPaused
		}),
		releaseAt("1.5.0", 2*time.Hour),
	}

	got := Decide(dev, releases)
	if got == nil || got.Version != "1.5.0" {
		t.Fatalf("Decide = %v, want fallthrough to 1.5.0", got)
	}
}

func TestDecidePinAlreadyApplied(t *testing.T) {
	dev := blueDevice(10)
	dev.CurrentVersion = "2.0.0"
	dev.DesiredVersion = "2.0.0"
	releases := []models.Firmware{releaseAt("2.0.0", time.Hour)}
	if got := Decide(dev, releases); got != nil {
		t.Errorf("Decide = %s, want nil when pin already applied", got.Version)
	}
}

func TestDecidePausedNeverOffered(t *testing.T) {
	dev := blueDevice(10)
	dev.CurrentVersion = "0.9.0"
	releases := []models.Firmware{
		releaseAt("2.0.0", time.Hour, func(f *models.Firmware) {
			f.RolloutStatus = models.RolloutPaused
		}),
	}
	if got := Decide(dev, releases); got != nil {
		t.Errorf("paused release offered: %s", got.Version)
	}

	// Also never via pinning.
	dev.DesiredVersion = "2.0.0"
	if got := Decide(dev, releases); got != nil {
		t.Errorf("paused release offered via pin: %s", got.Version)
	}
}

func TestDecideRolledBackNeverOffered(t *testing.T) {
	dev := blueDevice(10)
	dev.CurrentVersion = "0.9.0"
	releases := []models.Firmware{
		releaseAt("2.0.0", time.Hour, func(f *models.Firmware) {
			f.RolloutStatus = models.RolloutRolledBack
		}),
		releaseAt("1.0.0", 2*time.Hour),
	}

	got := Decide(dev, releases)
	if got == nil || got.Version != "1.0.0" {
		t.Fatalf("Decide = %v, want 1.0.0 (rolled-back 2.0.0 skipped)", got)
	}
}

func TestDecideHardFilters(t *testing.T) {
	release := releaseAt("2.0.0", time.Hour, func(f *models.Firmware) {
		f.RequiredRegion = "eu-west"
		f.RequiredHardwareRev = "rev-b"
	})
	releases := []models.Firmware{release}

	match := blueDevice(10)
	match.CurrentVersion = "1.0.0"
	match.Region = "eu-west"
	match.HardwareRev = "rev-b"
	if got := Decide(match, releases); got == nil {
		t.Error("matching device not offered")
	}

	wrongRegion := blueDevice(10)
	wrongRegion.Region = "us-east"
	wrongRegion.HardwareRev = "rev-b"
	if got := Decide(wrongRegion, releases); got != nil {
		t.Errorf("wrong region offered %s", got.Version)
	}

	wrongHW := blueDevice(10)
	wrongHW.Region = "eu-west"
	wrongHW.HardwareRev = "rev-a"
	if got := Decide(wrongHW, releases); got != nil {
		t.Errorf("wrong hardware rev offered %s", got.Version)
	}
}

func TestDecideGreenIsolation(t *testing.T) {
	// A green release is invisible to blue devices even at 100%, but a
	// green device in range gets it.
	releases := []models.Firmware{
		releaseAt("2.0.0-green", time.Hour, func(f *models.Firmware) {
			f.RolloutGroup = models.EnvironmentGreen
		}),
	}

	blue := blueDevice(10)
	blue.CurrentVersion = "1.0.0"
	if got := Decide(blue, releases); got != nil {
		t.Errorf("green release offered to blue device: %s", got.Version)
	}

	green := blueDevice(10)
	green.Environment = models.EnvironmentGreen
	green.CurrentVersion = "1.0.0"
	got := Decide(green, releases)
	if got == nil || got.Version != "2.0.0-green" {
		t.Fatalf("green device not offered green release: %v", got)
	}
}

func TestDecideLatestWins(t *testing.T) {
	dev := blueDevice(10)
	dev.CurrentVersion = "0.9.0"
	releases := []models.Firmware{
		releaseAt("1.0.0", 3*time.Hour),
		releaseAt("1.2.0", time.Hour),
		releaseAt("1.1.0", 2*time.Hour),
	}

	got := Decide(dev, releases)
	if got == nil || got.Version != "1.2.0" {
		t.Fatalf("Decide = %v, want newest release 1.2.0", got)
	}
}

func TestDecideEmptyCatalog(t *testing.T) {
	if got := Decide(blueDevice(10), nil); got != nil {
		t.Errorf("Decide on empty catalog = %s, want nil", got.Version)
	}
}
