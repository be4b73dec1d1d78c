package rollout

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/fleetwarden/pkg/models"
	"github.com/HerbHall/fleetwarden/pkg/plugin"
)

const releaseColumns = `version, checksum, url, signature, rollout_group,
	required_region, required_hardware_rev, target_percent, rollout_status, created_at`

// CatalogStore provides database access to the firmware release catalog.
// Bulk operations that must be atomic (rollback) run through the shared
// store's Tx helper.
type CatalogStore struct {
	store plugin.Store
}

// NewCatalogStore creates a CatalogStore backed by the shared store.
func NewCatalogStore(store plugin.Store) *CatalogStore {
	return &CatalogStore{store: store}
}

// Publish inserts a new release. The version is immutable once created;
// publishing an existing version fails with ErrDuplicateVersion.
// Releases default to rollout_status active.
func (s *CatalogStore) Publish(ctx context.Context, f *models.Firmware) error {
	if f.RolloutStatus == "" {
		f.RolloutStatus = models.RolloutActive
	}
	if f.RolloutGroup == "" {
		f.RolloutGroup = "default"
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.TargetPercent < 0 || f.TargetPercent > 100 {
		return ErrInvalidPercent
	}

	_, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO rollout_releases (`+releaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Version, f.Checksum, f.URL, f.Signature, f.RolloutGroup,
		f.RequiredRegion, f.RequiredHardwareRev, f.TargetPercent,
		string(f.RolloutStatus), f.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
			strings.Contains(err.Error(), "PRIMARY KEY constraint") {
			return fmt.Errorf("%w: %s", ErrDuplicateVersion, f.Version)
		}
		return fmt.Errorf("insert release: %w", err)
	}
	return nil
}

// GetRelease returns a release by version. Returns nil, nil if not found.
func (s *CatalogStore) GetRelease(ctx context.Context, version string) (*models.Firmware, error) {
	row := s.store.DB().QueryRowContext(ctx,
		`SELECT `+releaseColumns+` FROM rollout_releases WHERE version = ?`, version)
	f, err := scanRelease(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get release: %w", err)
	}
	return f, nil
}

// ListReleases returns all releases ordered newest first.
func (s *CatalogStore) ListReleases(ctx context.Context) ([]models.Firmware, error) {
	rows, err := s.store.DB().QueryContext(ctx,
		`SELECT `+releaseColumns+` FROM rollout_releases ORDER BY created_at DESC, version DESC`)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	defer rows.Close()

	var releases []models.Firmware
	for rows.Next() {
		f, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("scan release row: %w", err)
		}
		releases = append(releases, *f)
	}
	return releases, rows.Err()
}

// SetTargetPercent updates the rollout gate for a release. Fails with
// ErrNotFound for unknown versions and ErrInvalidPercent for values
// outside [0,100]. No history is retained beyond the current value.
func (s *CatalogStore) SetTargetPercent(ctx context.Context, version string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidPercent
	}
	res, err := s.store.DB().ExecContext(ctx,
		`UPDATE rollout_releases SET target_percent = ? WHERE version = ?`,
		percent, version,
	)
	if err != nil {
		return fmt.Errorf("set target percent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set target percent: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, version)
	}
	return nil
}

// Pause suspends forward offers of a release. Re-pausing a paused
// release is a no-op success. Pausing a rolled-back release fails with
// ErrRolledBack.
func (s *CatalogStore) Pause(ctx context.Context, version string) error {
	return s.transition(ctx, version, models.RolloutPaused)
}

// Resume reactivates a paused release. Resuming an active release is a
// no-op success. A rolled-back release cannot be resumed.
func (s *CatalogStore) Resume(ctx context.Context, version string) error {
	return s.transition(ctx, version, models.RolloutActive)
}

func (s *CatalogStore) transition(ctx context.Context, version string, to models.RolloutStatus) error {
	f, err := s.GetRelease(ctx, version)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, version)
	}
	if f.RolloutStatus == to {
		return nil // idempotent
	}
	if f.RolloutStatus == models.RolloutRolledBack {
		return fmt.Errorf("%w: %s", ErrRolledBack, version)
	}

	_, err = s.store.DB().ExecContext(ctx,
		`UPDATE rollout_releases SET rollout_status = ? WHERE version = ?`,
		string(to), version,
	)
	if err != nil {
		return fmt.Errorf("transition release to %s: %w", to, err)
	}
	return nil
}

// Rollback retargets every device currently reporting fromVersion to
// toVersion and marks fromVersion rolled_back. The device retarget and
// the status transition commit in one transaction: external readers see
// either the full rollback or none of it. Returns the number of devices
// retargeted.
func (s *CatalogStore) Rollback(ctx context.Context, fromVersion, toVersion string) (int64, error) {
	from, err := s.GetRelease(ctx, fromVersion)
	if err != nil {
		return 0, err
	}
	if from == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, fromVersion)
	}
	to, err := s.GetRelease(ctx, toVersion)
	if err != nil {
		return 0, err
	}
	if to == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, toVersion)
	}

	var affected int64
	err = s.store.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE fleet_devices SET desired_version = ? WHERE current_version = ?`,
			toVersion, fromVersion,
		)
		if err != nil {
			return fmt.Errorf("retarget devices: %w", err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("retarget devices: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE rollout_releases SET rollout_status = ? WHERE version = ?`,
			string(models.RolloutRolledBack), fromVersion,
		)
		if err != nil {
			return fmt.Errorf("mark rolled back: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// GetDevice loads the device fields the decision engine needs. Returns
// nil, nil if the device is unknown. The devices table is owned by the
// fleet module; rollout declares a module dependency on it.
func (s *CatalogStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	var d models.Device
	err := s.store.DB().QueryRowContext(ctx, `
		SELECT id, lifecycle_state, environment, region, hardware_rev,
			rollout_bucket, current_version, desired_version
		FROM fleet_devices WHERE id = ?`,
		deviceID,
	).Scan(
		&d.ID, &d.LifecycleState, &d.Environment, &d.Region, &d.HardwareRev,
		&d.RolloutBucket, &d.CurrentVersion, &d.DesiredVersion,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &d, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRelease(row rowScanner) (*models.Firmware, error) {
	var f models.Firmware
	var status string
	if err := row.Scan(
		&f.Version, &f.Checksum, &f.URL, &f.Signature, &f.RolloutGroup,
		&f.RequiredRegion, &f.RequiredHardwareRev, &f.TargetPercent,
		&status, &f.CreatedAt,
	); err != nil {
		return nil, err
	}
	f.RolloutStatus = models.RolloutStatus(status)
	return &f, nil
}
