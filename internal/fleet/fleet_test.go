package fleet

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/HerbHall/fleetwarden/internal/event"
	"github.com/HerbHall/fleetwarden/internal/store"
	"github.com/HerbHall/fleetwarden/pkg/plugin"
	"github.com/HerbHall/fleetwarden/pkg/plugin/plugintest"
)

func testDeps(t *testing.T, name string) plugin.Dependencies {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := zaptest.NewLogger(t)
	return plugin.Dependencies{
		Logger: logger.Named(name),
		Store:  db,
		Bus:    event.NewBus(logger),
	}
}

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New() }, testDeps)
}

func TestInfo(t *testing.T) {
	info := New().Info()
	if info.Name != "fleet" {
		t.Errorf("Name = %q, want fleet", info.Name)
	}
	if !info.Required {
		t.Error("fleet module must be required")
	}
	if len(info.Dependencies) != 0 {
		t.Errorf("fleet must not depend on other modules, got %v", info.Dependencies)
	}
}
