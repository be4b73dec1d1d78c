// Package health aggregates fleet telemetry into per-version failure
// rates, battery degradation predictions, and operator alerts.
package health

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/fleetwarden/pkg/models"
	"github.com/HerbHall/fleetwarden/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Event topics published by the health module.
const (
	TopicAlertRaised  = "health.alert.raised"
	TopicAlertCleared = "health.alert.cleared"
)

// AlertEvent is the payload for alert topics.
type AlertEvent struct {
	Type            string `json:"type"`
	Severity        string `json:"severity,omitempty"`
	Message         string `json:"message,omitempty"`
	DeviceID        string `json:"device_id,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
}

var (
	passesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetwarden_health_passes_total",
		Help: "Aggregation passes completed.",
	})
	activeAlerts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetwarden_health_active_alerts",
		Help: "Alerts currently active.",
	})
)

func init() {
	prometheus.MustRegister(passesTotal, activeAlerts)
}

// Module implements the health plugin.
type Module struct {
	logger     *zap.Logger
	store      *HealthStore
	aggregator *Aggregator
	bus        plugin.EventBus

	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new health plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "health",
		Version:      "0.1.0",
		Description:  "Fleet health aggregation and alerting",
		Dependencies: []string{"fleet"},
		Required:     true,
		Roles:        []string{"health_aggregator"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	m.interval = 5 * time.Minute
	failureWindow := 24 * time.Hour
	failureThreshold := 0.05
	batteryWindow := 48 * time.Hour
	batteryDrop := 0.10
	if deps.Config != nil {
		if deps.Config.IsSet("interval") {
			m.interval = deps.Config.GetDuration("interval")
		}
		if deps.Config.IsSet("failure_window") {
			failureWindow = deps.Config.GetDuration("failure_window")
		}
		if deps.Config.IsSet("failure_threshold") {
			failureThreshold = deps.Config.GetFloat64("failure_threshold")
		}
		if deps.Config.IsSet("battery_window") {
			batteryWindow = deps.Config.GetDuration("battery_window")
		}
		if deps.Config.IsSet("battery_drop") {
			batteryDrop = deps.Config.GetFloat64("battery_drop")
		}
	}

	if err := deps.Store.Migrate(ctx, "health", migrations()); err != nil {
		return err
	}
	m.store = NewHealthStore(deps.Store)
	m.aggregator = NewAggregator(m.store, m.logger,
		failureWindow, failureThreshold, batteryWindow, batteryDrop)

	m.aggregator.OnAlertRaised(func(ctx context.Context, alert *models.Alert) {
		m.publish(ctx, TopicAlertRaised, AlertEvent{
			Type:            alert.Type,
			Severity:        alert.Severity,
			Message:         alert.Message,
			DeviceID:        alert.DeviceID,
			FirmwareVersion: alert.FirmwareVersion,
		})
	})
	m.aggregator.OnAlertCleared(func(ctx context.Context, alertType string, scope AlertScope) {
		m.publish(ctx, TopicAlertCleared, AlertEvent{
			Type:            alertType,
			DeviceID:        scope.DeviceID,
			FirmwareVersion: scope.FirmwareVersion,
		})
	})

	m.logger.Info("health module initialized",
		zap.Duration("interval", m.interval),
		zap.Float64("failure_threshold", failureThreshold))
	return nil
}

func (m *Module) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go m.runScheduler(ctx)

	m.logger.Info("health module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("health module stopped")
	return nil
}

// Aggregator exposes the aggregator for wiring (device note writer).
func (m *Module) Aggregator() *Aggregator {
	return m.aggregator
}

func (m *Module) runScheduler(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := m.aggregator.Run(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.Error("aggregation pass", zap.Error(err))
				continue
			}
			passesTotal.Inc()
			activeAlerts.Set(float64(len(report.Alerts)))
		}
	}
}

func (m *Module) publish(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    "health",
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/report", Handler: m.handleReport},
		{Method: "GET", Path: "/alerts", Handler: m.handleListAlerts},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	alerts, err := m.store.ListAlerts(ctx, true)
	if err != nil {
		return plugin.HealthStatus{Status: "degraded", Message: err.Error()}
	}
	return plugin.HealthStatus{
		Status:  "ok",
		Details: map[string]string{"active_alerts": strconv.Itoa(len(alerts))},
	}
}
