// Package shadow keeps the per-device desired/reported configuration
// documents and the derived diff view between them.
package shadow

import (
	"context"
	"strconv"

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

var patchesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleetwarden_shadow_patches_total",
		Help: "Shadow merge-patches applied, by side.",
	},
	[]string{"side"},
)

func init() {
	prometheus.MustRegister(patchesTotal)
}

// Topics published by the shadow module.
const (
	TopicShadowUpdated = "shadow.updated"
)

// ShadowEvent is the payload for shadow topics.
type ShadowEvent struct {
	DeviceID string `json:"device_id"`
	Side     string `json:"side"`
	InSync   bool   `json:"in_sync"`
}

// Module implements the shadow plugin.
type Module struct {
	logger *zap.Logger
	store  *ShadowStore
	bus    plugin.EventBus
}

// New creates a new shadow plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "shadow",
		Version:      "0.1.0",
		Description:  "Device desired/reported configuration shadows",
		Dependencies: []string{"fleet"},
		Required:     true,
		Roles:        []string{"shadow_store"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	if err := deps.Store.Migrate(ctx, "shadow", migrations()); err != nil {
		return err
	}
	m.store = NewShadowStore(deps.Store, m.logger)

	m.logger.Info("shadow module initialized")
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.logger.Info("shadow module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("shadow module stopped")
	return nil
}

// Store exposes the shadow store to collaborating modules (the device
// registry reads desired state at check-in). Wired in at startup.
func (m *Module) Store() *ShadowStore {
	return m.store
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/devices/{id}", Handler: m.handleGetShadow},
		{Method: "PATCH", Path: "/devices/{id}/desired", Handler: m.handlePatchDesired},
		{Method: "PATCH", Path: "/devices/{id}/reported", Handler: m.handlePatchReported},
		{Method: "GET", Path: "/devices/{id}/diff", Handler: m.handleDiff},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	var n int
	err := m.store.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM shadow_documents`).Scan(&n)
	if err != nil {
		return plugin.HealthStatus{Status: "degraded", Message: err.Error()}
	}
	return plugin.HealthStatus{
		Status:  "ok",
		Details: map[string]string{"shadows": strconv.Itoa(n)},
	}
}
