// Package rollout implements the firmware release catalog and the
// rollout decision engine: which firmware (if any) a device should
// install next, based on pinning, hard compatibility filters,
// environment isolation, and the canary percentage gate.
package rollout

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

var decisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleetwarden_rollout_decisions_total",
		Help: "Rollout decisions served, by outcome.",
	},
	[]string{"outcome"}, // "update" or "none"
)

func init() {
	prometheus.MustRegister(decisionsTotal)
}

// Module implements the rollout plugin.
type Module struct {
	logger *zap.Logger
	store  *CatalogStore
	engine *Engine
	bus    plugin.EventBus
}

// New creates a new rollout plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "rollout",
		Version:      "0.1.0",
		Description:  "Firmware release catalog and rollout decision engine",
		Dependencies: []string{"fleet"},
		Required:     true,
		Roles:        []string{"rollout_engine"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.bus = deps.Bus

	if err := deps.Store.Migrate(ctx, "rollout", migrations()); err != nil {
		return err
	}

	m.store = NewCatalogStore(deps.Store)
	m.engine = NewEngine(m.store)

	m.logger.Info("rollout module initialized")
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.logger.Info("rollout module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("rollout module stopped")
	return nil
}

// Engine exposes the decision engine to other modules (the fleet module
// uses it during device check-in responses).
func (m *Module) Engine() *Engine {
	return m.engine
}

// Catalog exposes the release catalog store. Available after Init.
func (m *Module) Catalog() *CatalogStore {
	return m.store
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/releases", Handler: m.handlePublish},
		{Method: "GET", Path: "/releases", Handler: m.handleListReleases},
		{Method: "GET", Path: "/releases/{version}", Handler: m.handleGetRelease},
		{Method: "PATCH", Path: "/releases/{version}/percent", Handler: m.handleSetPercent},
		{Method: "POST", Path: "/releases/{version}/pause", Handler: m.handlePause},
		{Method: "POST", Path: "/releases/{version}/resume", Handler: m.handleResume},
		{Method: "POST", Path: "/releases/{version}/rollback", Handler: m.handleRollback},
		{Method: "GET", Path: "/next", Handler: m.handleNext},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(ctx context.Context) plugin.HealthStatus {
	releases, err := m.store.ListReleases(ctx)
	if err != nil {
		return plugin.HealthStatus{Status: "degraded", Message: err.Error()}
	}
	return plugin.HealthStatus{
		Status:  "ok",
		Details: map[string]string{"releases": strconv.Itoa(len(releases))},
	}
}
