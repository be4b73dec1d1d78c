// Package fleet implements the device registry: registration at first
// heartbeat, rollout bucket assignment, telemetry and error ingest,
// fleet-wide settings, and the offline sweep.
package fleet

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

var (
	heartbeatsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetwarden_fleet_heartbeats_total",
		Help: "Device heartbeats processed.",
	})
	measurementsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleetwarden_fleet_measurements_total",
		Help: "Telemetry samples ingested.",
	})
	devicesOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetwarden_fleet_devices_online",
		Help: "Devices currently marked online.",
	})
)

func init() {
	prometheus.MustRegister(heartbeatsTotal, measurementsTotal, devicesOnline)
}

// DesiredStateReader reads a device's desired shadow document. The
// shadow module provides the implementation; it is wired in at startup.
type DesiredStateReader interface {
	Desired(ctx context.Context, deviceID string) (models.Document, error)
}

// UpdateDecider picks the firmware a device should install next, or nil
// when it is up to date. The rollout module's engine provides the
// implementation; it is wired in at startup.
type UpdateDecider interface {
	DecideForDevice(ctx context.Context, deviceID string) (*models.FirmwareDescriptor, error)
}

// Module implements the fleet plugin.
type Module struct {
	logger *zap.Logger
	store  *DeviceStore
	bus    plugin.EventBus

	shadow  DesiredStateReader
	decider UpdateDecider

	offlineAfter    time.Duration
	sweepInterval   time.Duration
	requireApproval bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new fleet plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "fleet",
		Version:     "0.1.0",
		Description: "Device registry, telemetry ingest, and fleet settings",
		Required:    true,
		Roles:       []string{"device_registry"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	m.offlineAfter = 5 * time.Minute
	if deps.Config != nil && deps.Config.IsSet("offline_after") {
		m.offlineAfter = deps.Config.GetDuration("offline_after")
	}
	m.sweepInterval = time.Minute
	if deps.Config != nil && deps.Config.IsSet("sweep_interval") {
		m.sweepInterval = deps.Config.GetDuration("sweep_interval")
	}
	if deps.Config != nil {
		m.requireApproval = deps.Config.GetBool("require_approval")
	}

	if err := deps.Store.Migrate(ctx, "fleet", migrations()); err != nil {
		return err
	}
	m.store = NewDeviceStore(deps.Store)

	m.logger.Info("fleet module initialized",
		zap.Duration("offline_after", m.offlineAfter),
		zap.Bool("require_approval", m.requireApproval))
	return nil
}

func (m *Module) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go m.runOfflineSweep(ctx)

	m.logger.Info("fleet module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("fleet module stopped")
	return nil
}

// Store exposes the device store to collaborating modules (auth device
// loading, health aggregation notes). Wired in at startup.
func (m *Module) Store() *DeviceStore {
	return m.store
}

// SetDesiredStateReader wires the shadow module's desired-state reads
// into check-in responses.
func (m *Module) SetDesiredStateReader(r DesiredStateReader) {
	m.shadow = r
}

// SetUpdateDecider wires the rollout engine into check-in responses.
func (m *Module) SetUpdateDecider(d UpdateDecider) {
	m.decider = d
}

// runOfflineSweep periodically flips devices that stopped heartbeating
// to offline and publishes an event per flipped device.
func (m *Module) runOfflineSweep(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-m.offlineAfter)
			flipped, err := m.store.MarkOfflineSince(ctx, cutoff)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.logger.Error("offline sweep", zap.Error(err))
				continue
			}
			for _, id := range flipped {
				m.logger.Info("device went offline", zap.String("device_id", id))
				m.publish(ctx, TopicDeviceOffline, DeviceEvent{
					DeviceID: id,
					Status:   string(models.DeviceStatusOffline),
				})
			}
			m.updateOnlineGauge(ctx)
		}
	}
}

func (m *Module) updateOnlineGauge(ctx context.Context) {
	var n int
	err := m.store.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fleet_devices WHERE status = ?`,
		string(models.DeviceStatusOnline)).Scan(&n)
	if err != nil {
		return
	}
	devicesOnline.Set(float64(n))
}

func (m *Module) publish(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(ctx, plugin.Event{
		Topic:     topic,
		Source:    "fleet",
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/heartbeat", Handler: m.handleHeartbeat},
		{Method: "GET", Path: "/devices", Handler: m.handleListDevices},
		{Method: "GET", Path: "/devices/{id}", Handler: m.handleGetDevice},
		{Method: "PATCH", Path: "/devices/{id}", Handler: m.handleUpdateDevice},
		{Method: "POST", Path: "/devices/{id}/lifecycle", Handler: m.handleSetLifecycle},
		{Method: "POST", Path: "/devices/{id}/measurements", Handler: m.handleIngestMeasurements},
		{Method: "POST", Path: "/devices/{id}/errors", Handler: m.handleIngestError},
		{Method: "GET", Path: "/settings", Handler: m.handleGetSettings},
		{Method: "PUT", Path: "/settings", Handler: m.handleUpdateSettings},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	devices, err := m.store.ListDevices(ctx)
	if err != nil {
		return plugin.HealthStatus{Status: "degraded", Message: err.Error()}
	}
	return plugin.HealthStatus{
		Status:  "ok",
		Details: map[string]string{"devices": strconv.Itoa(len(devices))},
	}
}
