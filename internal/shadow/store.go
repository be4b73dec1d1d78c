package shadow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/fleetwarden/pkg/models"
	"github.com/HerbHall/fleetwarden/pkg/plugin"
)

// Side selects which half of a shadow a patch targets.
type Side string

const (
	SideDesired  Side = "desired"
	SideReported Side = "reported"
)

// ShadowStore persists per-device shadow documents. Patches are
// read-modify-write cycles and run inside the shared store's Tx helper,
// so concurrent patches to the same device serialize rather than
// clobber each other.
type ShadowStore struct {
	store  plugin.Store
	logger *zap.Logger
}

// NewShadowStore creates a ShadowStore backed by the shared store.
func NewShadowStore(store plugin.Store, logger *zap.Logger) *ShadowStore {
	return &ShadowStore{store: store, logger: logger}
}

// Get returns the shadow for a device. A device with no shadow row yet
// gets empty desired and reported documents; absence is not an error.
func (s *ShadowStore) Get(ctx context.Context, deviceID string) (*models.Shadow, error) {
	var desiredRaw, reportedRaw string
	err := s.store.DB().QueryRowContext(ctx,
		`SELECT desired, reported FROM shadow_documents WHERE device_id = ?`,
		deviceID,
	).Scan(&desiredRaw, &reportedRaw)
	if err == sql.ErrNoRows {
		return &models.Shadow{
			DeviceID: deviceID,
			Desired:  models.Document{},
			Reported: models.Document{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get shadow: %w", err)
	}
	return &models.Shadow{
		DeviceID: deviceID,
		Desired:  s.parseOrDefault(deviceID, "desired", desiredRaw),
		Reported: s.parseOrDefault(deviceID, "reported", reportedRaw),
	}, nil
}

// Desired returns only the desired document for a device. Implements
// the device registry's desired-state lookup at check-in.
func (s *ShadowStore) Desired(ctx context.Context, deviceID string) (models.Document, error) {
	sh, err := s.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return sh.Desired, nil
}

// Patch merge-patches one side of a device's shadow: keys in the patch
// are added or overwritten, other keys are preserved. An empty patch is
// rejected with ErrEmptyPatch. Returns the full post-patch shadow.
func (s *ShadowStore) Patch(ctx context.Context, deviceID string, side Side, patch models.Document) (*models.Shadow, error) {
	if len(patch) == 0 {
		return nil, ErrEmptyPatch
	}

	var result *models.Shadow
	now := time.Now().UTC()
	err := s.store.Tx(ctx, func(tx *sql.Tx) error {
		var desiredRaw, reportedRaw string
		err := tx.QueryRowContext(ctx,
			`SELECT desired, reported FROM shadow_documents WHERE device_id = ?`,
			deviceID,
		).Scan(&desiredRaw, &reportedRaw)
		exists := err != sql.ErrNoRows
		if err != nil && exists {
			return fmt.Errorf("load shadow: %w", err)
		}
		if !exists {
			desiredRaw, reportedRaw = "{}", "{}"
		}

		sh := &models.Shadow{
			DeviceID: deviceID,
			Desired:  s.parseOrDefault(deviceID, "desired", desiredRaw),
			Reported: s.parseOrDefault(deviceID, "reported", reportedRaw),
		}
		switch side {
		case SideDesired:
			sh.Desired.Merge(patch)
		case SideReported:
			sh.Reported.Merge(patch)
		default:
			return fmt.Errorf("unknown shadow side %q", side)
		}

		desiredJSON, err := json.Marshal(sh.Desired)
		if err != nil {
			return fmt.Errorf("encode desired: %w", err)
		}
		reportedJSON, err := json.Marshal(sh.Reported)
		if err != nil {
			return fmt.Errorf("encode reported: %w", err)
		}

		if exists {
			_, err = tx.ExecContext(ctx, `
				UPDATE shadow_documents SET desired = ?, reported = ?, updated_at = ?
				WHERE device_id = ?`,
				string(desiredJSON), string(reportedJSON), now, deviceID)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO shadow_documents (device_id, desired, reported, updated_at)
				VALUES (?, ?, ?, ?)`,
				deviceID, string(desiredJSON), string(reportedJSON), now)
		}
		if err != nil {
			return fmt.Errorf("write shadow: %w", err)
		}
		result = sh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// parseOrDefault decodes a persisted shadow document, substituting an
// empty document for malformed JSON. Corruption is logged, never
// propagated: a broken row must not make the device unreadable.
func (s *ShadowStore) parseOrDefault(deviceID, side, raw string) models.Document {
	var doc models.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		s.logger.Warn("malformed shadow document, substituting empty",
			zap.String("device_id", deviceID),
			zap.String("side", side),
			zap.Error(err))
		return models.Document{}
	}
	if doc == nil {
		return models.Document{}
	}
	return doc
}
