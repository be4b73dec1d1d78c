package shadow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/HerbHall/fleetwarden/internal/store"
	"github.com/HerbHall/fleetwarden/pkg/models"
)

func testShadowStore(t *testing.T) *ShadowStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background(), "shadow", migrations()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewShadowStore(s, zaptest.NewLogger(t))
}

func TestGetEmptyShadow(t *testing.T) {
	ss := testShadowStore(t)
	sh, err := ss.Get(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(sh.Desired) != 0 || len(sh.Reported) != 0 {
		t.Errorf("expected empty documents, got %+v", sh)
	}
	if !sh.InSync() {
		t.Error("empty shadow should be in sync")
	}
}

func TestPatchMergesNotReplaces(t *testing.T) {
	ss := testShadowStore(t)
	ctx := context.Background()

	if _, err := ss.Patch(ctx, "dev-1", SideDesired, models.Document{
		"sample_interval_secs": 30.0,
		"led":                  "on",
	}); err != nil {
		t.Fatalf("first patch: %v", err)
	}

	sh, err := ss.Patch(ctx, "dev-1", SideDesired, models.Document{"led": "off"})
	if err != nil {
		t.Fatalf("second patch: %v", err)
	}
	if sh.Desired["led"] != "off" {
		t.Errorf("led = %v, want overwritten to off", sh.Desired["led"])
	}
	if sh.Desired["sample_interval_secs"] != 30.0 {
		t.Errorf("sample_interval_secs = %v, want preserved", sh.Desired["sample_interval_secs"])
	}
}

func TestPatchSidesIndependent(t *testing.T) {
	ss := testShadowStore(t)
	ctx := context.Background()

	if _, err := ss.Patch(ctx, "dev-1", SideDesired, models.Document{"led": "on"}); err != nil {
		t.Fatalf("patch desired: %v", err)
	}
	sh, err := ss.Patch(ctx, "dev-1", SideReported, models.Document{"led": "off"})
	if err != nil {
		t.Fatalf("patch reported: %v", err)
	}

	if sh.Desired["led"] != "on" || sh.Reported["led"] != "off" {
		t.Errorf("sides bled into each other: %+v", sh)
	}
	if sh.InSync() {
		t.Error("diverged shadow reported as in sync")
	}
}

func TestPatchEmptyRejected(t *testing.T) {
	ss := testShadowStore(t)
	if _, err := ss.Patch(context.Background(), "dev-1", SideDesired, models.Document{}); !errors.Is(err, ErrEmptyPatch) {
		t.Errorf("empty patch = %v, want ErrEmptyPatch", err)
	}
	if _, err := ss.Patch(context.Background(), "dev-1", SideDesired, nil); !errors.Is(err, ErrEmptyPatch) {
		t.Errorf("nil patch = %v, want ErrEmptyPatch", err)
	}
}

func TestDiffUnionOfKeys(t *testing.T) {
	ss := testShadowStore(t)
	ctx := context.Background()

	if _, err := ss.Patch(ctx, "dev-1", SideDesired, models.Document{"a": 1.0, "b": 2.0}); err != nil {
		t.Fatalf("patch desired: %v", err)
	}
	sh, err := ss.Patch(ctx, "dev-1", SideReported, models.Document{"b": 2.0, "c": 3.0})
	if err != nil {
		t.Fatalf("patch reported: %v", err)
	}

	diff := sh.Diff()
	if len(diff) != 3 {
		t.Fatalf("diff has %d entries, want 3 (union of keys)", len(diff))
	}
	byKey := make(map[string]models.DiffEntry)
	for _, e := range diff {
		byKey[e.Key] = e
	}
	if byKey["a"].InSync {
		t.Error("desired-only key reported in sync")
	}
	if !byKey["b"].InSync {
		t.Error("matching key reported out of sync")
	}
	if byKey["c"].InSync {
		t.Error("reported-only key reported in sync")
	}
}

func TestMalformedPersistedDocumentIsLenient(t *testing.T) {
	ss := testShadowStore(t)
	ctx := context.Background()

	if _, err := ss.Patch(ctx, "dev-1", SideReported, models.Document{"ok": true}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	// Corrupt the persisted desired document out-of-band.
	if _, err := ss.store.DB().ExecContext(ctx,
		`UPDATE shadow_documents SET desired = 'not json{' WHERE device_id = 'dev-1'`); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	sh, err := ss.Get(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Get after corruption: %v", err)
	}
	if len(sh.Desired) != 0 {
		t.Errorf("desired = %v, want empty substitute", sh.Desired)
	}
	if sh.Reported["ok"] != true {
		t.Errorf("reported side lost: %v", sh.Reported)
	}

	// Patching on top of the corrupt side starts from empty.
	sh, err = ss.Patch(ctx, "dev-1", SideDesired, models.Document{"fresh": "start"})
	if err != nil {
		t.Fatalf("patch over corruption: %v", err)
	}
	if len(sh.Desired) != 1 || sh.Desired["fresh"] != "start" {
		t.Errorf("desired after recovery = %v", sh.Desired)
	}
}

func TestDesiredReader(t *testing.T) {
	ss := testShadowStore(t)
	ctx := context.Background()

	if _, err := ss.Patch(ctx, "dev-1", SideDesired, models.Document{"heartbeat_interval_secs": 15.0}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	doc, err := ss.Desired(ctx, "dev-1")
	if err != nil {
		t.Fatalf("Desired: %v", err)
	}
	if doc["heartbeat_interval_secs"] != 15.0 {
		t.Errorf("Desired = %v", doc)
	}
}
