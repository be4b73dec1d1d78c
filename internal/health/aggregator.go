package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/fleetwarden/pkg/models"
)

// DeviceNotes writes per-device prediction notes. The fleet module's
// device store provides the implementation; wired in at startup.
type DeviceNotes interface {
	SetPredictedIssue(ctx context.Context, deviceID, note string) error
}

// Report is one fleet health snapshot.
type Report struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Versions    []models.VersionHealth `json:"versions"`
	Alerts      []models.Alert         `json:"alerts"`
}

// Aggregator computes fleet health: per-version failure rates and
// per-device battery degradation trends. Passes read telemetry and
// append alerts/metrics; they never block the ingest path.
type Aggregator struct {
	store  *HealthStore
	notes  DeviceNotes
	logger *zap.Logger

	failureWindow    time.Duration
	failureThreshold float64
	batteryWindow    time.Duration
	batteryDropLimit float64

	raiseAlert func(ctx context.Context, alert *models.Alert)
	clearAlert func(ctx context.Context, alertType string, scope AlertScope)

	mu     sync.RWMutex
	latest *Report
}

// NewAggregator creates an Aggregator with the given analysis windows
// and thresholds.
func NewAggregator(store *HealthStore, logger *zap.Logger, failureWindow time.Duration, failureThreshold float64, batteryWindow time.Duration, batteryDropLimit float64) *Aggregator {
	return &Aggregator{
		store:            store,
		logger:           logger,
		failureWindow:    failureWindow,
		failureThreshold: failureThreshold,
		batteryWindow:    batteryWindow,
		batteryDropLimit: batteryDropLimit,
	}
}

// SetDeviceNotes wires the device note writer.
func (a *Aggregator) SetDeviceNotes(n DeviceNotes) { a.notes = n }

// OnAlertRaised and OnAlertCleared register callbacks invoked when the
// aggregator flips an alert. Used to publish bus events.
func (a *Aggregator) OnAlertRaised(fn func(ctx context.Context, alert *models.Alert))      { a.raiseAlert = fn }
func (a *Aggregator) OnAlertCleared(fn func(ctx context.Context, t string, s AlertScope)) { a.clearAlert = fn }

// Latest returns the most recent report, or nil before the first pass.
func (a *Aggregator) Latest() *Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// Run executes one full aggregation pass and caches the resulting
// report.
func (a *Aggregator) Run(ctx context.Context) (*Report, error) {
	versions, err := a.failurePass(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.batteryPass(ctx); err != nil {
		return nil, err
	}

	alerts, err := a.store.ListAlerts(ctx, true)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}

	report := &Report{
		GeneratedAt: time.Now().UTC(),
		Versions:    versions,
		Alerts:      alerts,
	}
	a.mu.Lock()
	a.latest = report
	a.mu.Unlock()
	return report, nil
}

// failurePass computes the per-version failure rate over the trailing
// error window and raises or clears failure-rate alerts against the
// threshold. A version with zero online devices has rate 0.0: no fleet,
// no failure.
func (a *Aggregator) failurePass(ctx context.Context) ([]models.VersionHealth, error) {
	versions, err := a.store.VersionCounts(ctx, a.failureWindow)
	if err != nil {
		return nil, err
	}

	for i := range versions {
		vh := &versions[i]
		if vh.DeviceCount > 0 {
			vh.FailureRate = float64(vh.ErrorCount) / float64(vh.DeviceCount)
		}

		if err := a.store.AppendMetric(ctx, &models.Metric{
			Name:            "failure_rate",
			Value:           vh.FailureRate,
			FirmwareVersion: vh.FirmwareVersion,
		}); err != nil {
			a.logger.Warn("append failure_rate metric", zap.Error(err))
		}

		scope := AlertScope{FirmwareVersion: vh.FirmwareVersion}
		if vh.FailureRate > a.failureThreshold {
			msg := fmt.Sprintf("firmware %s failure rate %.1f%% (%d errors / %d devices)",
				vh.FirmwareVersion, vh.FailureRate*100, vh.ErrorCount, vh.DeviceCount)
			alert, raised, err := a.store.RaiseAlert(ctx,
				models.AlertTypeFailureRate, models.SeverityCritical, msg, scope)
			if err != nil {
				return nil, err
			}
			if raised {
				a.logger.Warn("failure rate alert raised",
					zap.String("firmware_version", vh.FirmwareVersion),
					zap.Float64("failure_rate", vh.FailureRate))
				if a.raiseAlert != nil {
					a.raiseAlert(ctx, alert)
				}
			}
		} else {
			cleared, err := a.store.ClearAlert(ctx, models.AlertTypeFailureRate, scope)
			if err != nil {
				return nil, err
			}
			if cleared {
				a.logger.Info("failure rate alert cleared",
					zap.String("firmware_version", vh.FirmwareVersion))
				if a.clearAlert != nil {
					a.clearAlert(ctx, models.AlertTypeFailureRate, scope)
				}
			}
		}
	}
	return versions, nil
}

// batteryPass checks each device's battery trend over the trailing
// window. A relative drop past the limit raises a warning alert and
// writes a predicted-issue note on the device. Fewer than two samples
// is no verdict: the note is cleared, nothing is raised.
func (a *Aggregator) batteryPass(ctx context.Context) error {
	trends, err := a.store.BatteryTrends(ctx, a.batteryWindow)
	if err != nil {
		return err
	}

	visited := make(map[string]bool, len(trends))
	for _, t := range trends {
		visited[t.DeviceID] = true
		scope := AlertScope{DeviceID: t.DeviceID}

		if t.Samples < 2 {
			if err := a.clearBatteryVerdict(ctx, t.DeviceID, scope); err != nil {
				return err
			}
			continue
		}

		drop := 0.0
		if t.Oldest > 0 {
			drop = (t.Oldest - t.Newest) / t.Oldest
		}

		if drop > a.batteryDropLimit {
			note := fmt.Sprintf("battery degraded %.0f%% over %s", drop*100, a.batteryWindow)
			alert, raised, err := a.store.RaiseAlert(ctx,
				models.AlertTypeBatteryDegrade, models.SeverityWarning, note, scope)
			if err != nil {
				return err
			}
			if a.notes != nil {
				if err := a.notes.SetPredictedIssue(ctx, t.DeviceID, note); err != nil {
					a.logger.Warn("set predicted issue", zap.Error(err),
						zap.String("device_id", t.DeviceID))
				}
			}
			if raised {
				a.logger.Warn("battery degradation alert raised",
					zap.String("device_id", t.DeviceID),
					zap.Float64("drop", drop))
				if a.raiseAlert != nil {
					a.raiseAlert(ctx, alert)
				}
			}
		} else {
			if err := a.clearBatteryVerdict(ctx, t.DeviceID, scope); err != nil {
				return err
			}
		}
	}

	// Devices whose samples have all aged out of the window no longer
	// show up in the trends at all. Zero in-window samples is still
	// fewer than two: any standing verdict is withdrawn.
	stale, err := a.store.BatteryVerdictDevices(ctx)
	if err != nil {
		return err
	}
	for _, id := range stale {
		if visited[id] {
			continue
		}
		if err := a.clearBatteryVerdict(ctx, id, AlertScope{DeviceID: id}); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) clearBatteryVerdict(ctx context.Context, deviceID string, scope AlertScope) error {
	cleared, err := a.store.ClearAlert(ctx, models.AlertTypeBatteryDegrade, scope)
	if err != nil {
		return err
	}
	if cleared && a.clearAlert != nil {
		a.clearAlert(ctx, models.AlertTypeBatteryDegrade, scope)
	}
	if a.notes != nil {
		if err := a.notes.SetPredictedIssue(ctx, deviceID, ""); err != nil {
			a.logger.Warn("clear predicted issue", zap.Error(err),
				zap.String("device_id", deviceID))
		}
	}
	return nil
}
