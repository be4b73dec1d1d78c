package health

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
