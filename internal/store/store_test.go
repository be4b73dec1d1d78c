package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/HerbHall/fleetwarden/pkg/plugin"
)

func tempDB(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New(%q): %v", path, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_creates_database(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNew_invalid_path(t *testing.T) {
	_, err := New("/nonexistent/path/to/db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestTx_commit(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT)")
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	err = s.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO test (id, name) VALUES (1, 'alice')")
		return err
	})
	if err != nil {
		t.Fatalf("Tx commit: %v", err)
	}

	var name string
	err = s.DB().QueryRowContext(ctx, "SELECT name FROM test WHERE id = 1").Scan(&name)
	if err != nil {
		t.Fatalf("query after commit: %v", err)
	}
	if name != "alice" {
		t.Errorf("got name %q, want %q", name, "alice")
	}
}

func TestTx_rollback(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT)")
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	err = s.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO test (id, name) VALUES (1, 'bob')")
		if err != nil {
			return err
		}
		return sql.ErrNoRows // Simulate an error to trigger rollback
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}

	var count int
	err = s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM test").Scan(&count)
	if err != nil {
		t.Fatalf("count after rollback: %v", err)
	}
	if count != 0 {
		t.Errorf("got count %d after rollback, want 0", count)
	}
}

func TestMigrate_applies_in_order(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	migrations := []plugin.Migration{
		{
			Version:     1,
			Description: "create devices table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec("CREATE TABLE fleet_devices (id INTEGER PRIMARY KEY, environment TEXT)")
				return err
			},
		},
		{
			Version:     2,
			Description: "add region column",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec("ALTER TABLE fleet_devices ADD COLUMN region TEXT")
				return err
			},
		},
	}

	if err := s.Migrate(ctx, "fleet", migrations); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	// Verify table and columns exist.
	_, err := s.DB().ExecContext(ctx, "INSERT INTO fleet_devices (id, environment, region) VALUES (1, 'blue', 'eu-west')")
	if err != nil {
		t.Errorf("insert after migrate: %v", err)
	}
}

func TestMigrate_skips_applied(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	calls := 0
	migrations := []plugin.Migration{
		{
			Version:     1,
			Description: "create table",
			Up: func(tx *sql.Tx) error {
				calls++
				_, err := tx.Exec("CREATE TABLE once_only (id INTEGER PRIMARY KEY)")
				return err
			},
		},
	}

	if err := s.Migrate(ctx, "fleet", migrations); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	if err := s.Migrate(ctx, "fleet", migrations); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if calls != 1 {
		t.Errorf("migration ran %d times, want 1", calls)
	}
}

func TestMigrate_failure_rolls_back(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	migrations := []plugin.Migration{
		{
			Version:     1,
			Description: "broken migration",
			Up: func(tx *sql.Tx) error {
				if _, err := tx.Exec("CREATE TABLE half_done (id INTEGER PRIMARY KEY)"); err != nil {
					return err
				}
				return errors.New("boom")
			},
		},
	}

	if err := s.Migrate(ctx, "fleet", migrations); err == nil {
		t.Fatal("expected migration error, got nil")
	}

	// The failed migration must not leave its table behind.
	var count int
	err := s.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='half_done'",
	).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	if count != 0 {
		t.Errorf("half_done table exists after failed migration")
	}
}

func TestCheckVersion_first_run_and_downgrade(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	if err := s.CheckVersion(ctx, "1.2.0"); err != nil {
		t.Fatalf("first CheckVersion: %v", err)
	}

	// Same version passes.
	if err := s.CheckVersion(ctx, "1.2.0"); err != nil {
		t.Errorf("same-version CheckVersion: %v", err)
	}

	// Older binary must refuse to open.
	err := s.CheckVersion(ctx, "1.1.0")
	if !errors.Is(err, ErrNewerSchema) {
		t.Errorf("downgrade CheckVersion = %v, want ErrNewerSchema", err)
	}

	// Newer binary upgrades the stored version.
	if err := s.CheckVersion(ctx, "1.3.0"); err != nil {
		t.Errorf("upgrade CheckVersion: %v", err)
	}
}

func TestCheckVersion_dev_always_passes(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	if err := s.CheckVersion(ctx, "9.9.9"); err != nil {
		t.Fatalf("CheckVersion: %v", err)
	}
	if err := s.CheckVersion(ctx, "dev"); err != nil {
		t.Errorf("dev CheckVersion: %v", err)
	}
}
