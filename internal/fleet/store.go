package fleet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HerbHall/fleetwarden/pkg/models"
	"github.com/HerbHall/fleetwarden/pkg/plugin"
)

const deviceColumns = `id, lifecycle_state, environment, region, hardware_rev,
	rollout_bucket, current_version, desired_version, status, predicted_issue,
	reported_sample_interval_secs, reported_upload_interval_secs,
	reported_heartbeat_interval_secs, first_seen, last_seen`

// DeviceStore provides database access to the device registry.
// Check-in is a read-modify-write: it runs inside the shared store's Tx
// helper so concurrent check-ins for the same device serialize.
type DeviceStore struct {
	store plugin.Store
}

// NewDeviceStore creates a DeviceStore backed by the shared store.
func NewDeviceStore(store plugin.Store) *DeviceStore {
	return &DeviceStore{store: store}
}

// Heartbeat carries the fields a device self-reports at check-in.
type Heartbeat struct {
	DeviceID              string
	FirmwareVersion       string
	Region                string
	HardwareRev           string
	SampleIntervalSecs    int
	UploadIntervalSecs    int
	HeartbeatIntervalSecs int
}

// CheckIn applies a heartbeat. An unknown device is registered on first
// contact: row created with a bucket derived from the ID, lifecycle
// active (or new when approval is required). For known devices it
// updates the self-reported fields and marks the device online. Returns
// the post-checkin device and whether it was just registered.
func (s *DeviceStore) CheckIn(ctx context.Context, hb Heartbeat, requireApproval bool) (*models.Device, bool, error) {
	var dev *models.Device
	var created bool
	now := time.Now().UTC()

	err := s.store.Tx(ctx, func(tx *sql.Tx) error {
		existing, err := scanDevice(tx.QueryRowContext(ctx,
			`SELECT `+deviceColumns+` FROM fleet_devices WHERE id = ?`, hb.DeviceID))
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("load device: %w", err)
		}

		if existing == nil {
			state := models.LifecycleActive
			if requireApproval {
				state = models.LifecycleNew
			}
			d := &models.Device{
				ID:                            hb.DeviceID,
				LifecycleState:                state,
				Environment:                   models.EnvironmentBlue,
				Region:                        hb.Region,
				HardwareRev:                   hb.HardwareRev,
				RolloutBucket:                 AssignBucket(hb.DeviceID),
				CurrentVersion:                hb.FirmwareVersion,
				Status:                        models.DeviceStatusOnline,
				ReportedSampleIntervalSecs:    hb.SampleIntervalSecs,
				ReportedUploadIntervalSecs:    hb.UploadIntervalSecs,
				ReportedHeartbeatIntervalSecs: hb.HeartbeatIntervalSecs,
				FirstSeen:                     now,
				LastSeen:                      now,
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO fleet_devices (`+deviceColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				d.ID, string(d.LifecycleState), d.Environment, d.Region, d.HardwareRev,
				d.RolloutBucket, d.CurrentVersion, d.DesiredVersion, string(d.Status),
				d.PredictedIssue, d.ReportedSampleIntervalSecs, d.ReportedUploadIntervalSecs,
				d.ReportedHeartbeatIntervalSecs, d.FirstSeen, d.LastSeen,
			)
			if err != nil {
				return fmt.Errorf("register device: %w", err)
			}
			dev, created = d, true
			return nil
		}

		existing.CurrentVersion = hb.FirmwareVersion
		if hb.Region != "" {
			existing.Region = hb.Region
		}
		if hb.HardwareRev != "" {
			existing.HardwareRev = hb.HardwareRev
		}
		if hb.SampleIntervalSecs > 0 {
			existing.ReportedSampleIntervalSecs = hb.SampleIntervalSecs
		}
		if hb.UploadIntervalSecs > 0 {
			existing.ReportedUploadIntervalSecs = hb.UploadIntervalSecs
		}
		if hb.HeartbeatIntervalSecs > 0 {
			existing.ReportedHeartbeatIntervalSecs = hb.HeartbeatIntervalSecs
		}
		existing.Status = models.DeviceStatusOnline
		existing.LastSeen = now

		_, err = tx.ExecContext(ctx, `
			UPDATE fleet_devices SET
				region = ?, hardware_rev = ?, current_version = ?, status = ?,
				reported_sample_interval_secs = ?, reported_upload_interval_secs = ?,
				reported_heartbeat_interval_secs = ?, last_seen = ?
			WHERE id = ?`,
			existing.Region, existing.HardwareRev, existing.CurrentVersion,
			string(existing.Status), existing.ReportedSampleIntervalSecs,
			existing.ReportedUploadIntervalSecs, existing.ReportedHeartbeatIntervalSecs,
			existing.LastSeen, existing.ID,
		)
		if err != nil {
			return fmt.Errorf("apply heartbeat: %w", err)
		}
		dev = existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return dev, created, nil
}

// GetDevice returns a device by ID. Returns nil, nil if not found.
func (s *DeviceStore) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	d, err := scanDevice(s.store.DB().QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM fleet_devices WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

// LoadDevice implements the credential resolver's device lookup.
func (s *DeviceStore) LoadDevice(ctx context.Context, id string) (*models.Device, error) {
	return s.GetDevice(ctx, id)
}

// ListDevices returns all devices ordered by first_seen.
func (s *DeviceStore) ListDevices(ctx context.Context) ([]models.Device, error) {
	rows, err := s.store.DB().QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM fleet_devices ORDER BY first_seen, id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

// validTransition encodes the lifecycle state machine: new devices are
// approved into active, active and suspended flip freely, anything may
// be decommissioned, and decommissioned is terminal.
func validTransition(from, to models.LifecycleState) bool {
	if from == to {
		return true
	}
	if from == models.LifecycleDecommissioned {
		return false
	}
	if to == models.LifecycleDecommissioned {
		return true
	}
	switch from {
	case models.LifecycleNew:
		return to == models.LifecycleActive
	case models.LifecycleActive:
		return to == models.LifecycleSuspended
	case models.LifecycleSuspended:
		return to == models.LifecycleActive
	}
	return false
}

// SetLifecycle transitions a device's lifecycle state. Returns
// ErrNotFound for unknown devices and ErrInvalidTransition when the
// state machine forbids the move.
func (s *DeviceStore) SetLifecycle(ctx context.Context, id string, to models.LifecycleState) error {
	return s.store.Tx(ctx, func(tx *sql.Tx) error {
		var from string
		err := tx.QueryRowContext(ctx,
			`SELECT lifecycle_state FROM fleet_devices WHERE id = ?`, id).Scan(&from)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("load lifecycle: %w", err)
		}
		if !validTransition(models.LifecycleState(from), to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE fleet_devices SET lifecycle_state = ? WHERE id = ?`, string(to), id)
		if err != nil {
			return fmt.Errorf("set lifecycle: %w", err)
		}
		return nil
	})
}

// DeviceUpdate carries the operator-mutable device fields. Nil pointers
// leave the current value untouched.
type DeviceUpdate struct {
	Environment    *string
	Region         *string
	HardwareRev    *string
	DesiredVersion *string
}

// UpdateDevice applies operator changes to a device. DesiredVersion set
// to the empty string clears a pin.
func (s *DeviceStore) UpdateDevice(ctx context.Context, id string, upd DeviceUpdate) (*models.Device, error) {
	var dev *models.Device
	err := s.store.Tx(ctx, func(tx *sql.Tx) error {
		d, err := scanDevice(tx.QueryRowContext(ctx,
			`SELECT `+deviceColumns+` FROM fleet_devices WHERE id = ?`, id))
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("load device: %w", err)
		}
		if upd.Environment != nil {
			d.Environment = *upd.Environment
		}
		if upd.Region != nil {
			d.Region = *upd.Region
		}
		if upd.HardwareRev != nil {
			d.HardwareRev = *upd.HardwareRev
		}
		if upd.DesiredVersion != nil {
			d.DesiredVersion = *upd.DesiredVersion
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE fleet_devices SET environment = ?, region = ?, hardware_rev = ?,
				desired_version = ?
			WHERE id = ?`,
			d.Environment, d.Region, d.HardwareRev, d.DesiredVersion, d.ID,
		)
		if err != nil {
			return fmt.Errorf("update device: %w", err)
		}
		dev = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// SetPredictedIssue writes or clears the device's predicted-issue note.
func (s *DeviceStore) SetPredictedIssue(ctx context.Context, id, note string) error {
	_, err := s.store.DB().ExecContext(ctx,
		`UPDATE fleet_devices SET predicted_issue = ? WHERE id = ?`, note, id)
	if err != nil {
		return fmt.Errorf("set predicted issue: %w", err)
	}
	return nil
}

// MarkOfflineSince flips devices with no heartbeat since the cutoff to
// offline status and returns their IDs.
func (s *DeviceStore) MarkOfflineSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	var flipped []string
	err := s.store.Tx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id FROM fleet_devices
			WHERE status = ? AND last_seen < ?`,
			string(models.DeviceStatusOnline), cutoff,
		)
		if err != nil {
			return fmt.Errorf("find stale devices: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan stale device: %w", err)
			}
			flipped = append(flipped, id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(flipped) == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE fleet_devices SET status = ?
			WHERE status = ? AND last_seen < ?`,
			string(models.DeviceStatusOffline), string(models.DeviceStatusOnline), cutoff,
		)
		if err != nil {
			return fmt.Errorf("mark devices offline: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flipped, nil
}

// InsertMeasurements appends a batch of samples for one device. The
// batch commits atomically: a bad sample rejects the whole batch.
func (s *DeviceStore) InsertMeasurements(ctx context.Context, deviceID string, batch []models.Measurement) error {
	if len(batch) == 0 {
		return ErrEmptyBatch
	}
	return s.store.Tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO fleet_measurements
				(device_id, timestamp, temp, humidity, battery, sequence_number,
				 firmware_version, latitude, longitude, speed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare measurement insert: %w", err)
		}
		defer stmt.Close()

		for i := range batch {
			m := &batch[i]
			ts := m.Timestamp
			if ts.IsZero() {
				ts = time.Now().UTC()
			}
			if _, err := stmt.ExecContext(ctx,
				deviceID, ts, m.Temp, m.Humidity, m.Battery, m.SequenceNumber,
				m.FirmwareVersion, m.Latitude, m.Longitude, m.Speed,
			); err != nil {
				return fmt.Errorf("insert measurement: %w", err)
			}
		}
		return nil
	})
}

// InsertError appends a device error report.
func (s *DeviceStore) InsertError(ctx context.Context, e *models.DeviceError) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO fleet_device_errors (device_id, firmware_version, code, message, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		e.DeviceID, e.FirmwareVersion, e.Code, e.Message, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert device error: %w", err)
	}
	return nil
}

// GetSettings returns the singleton fleet settings row.
func (s *DeviceStore) GetSettings(ctx context.Context) (*models.FleetSettings, error) {
	var fs models.FleetSettings
	err := s.store.DB().QueryRowContext(ctx, `
		SELECT num_devices, sample_interval_secs, upload_interval_secs, heartbeat_interval_secs
		FROM fleet_settings WHERE id = 1`,
	).Scan(&fs.NumDevices, &fs.SampleIntervalSecs, &fs.UploadIntervalSecs, &fs.HeartbeatIntervalSecs)
	if err != nil {
		return nil, fmt.Errorf("get fleet settings: %w", err)
	}
	return &fs, nil
}

// UpdateSettings replaces the singleton fleet settings row.
func (s *DeviceStore) UpdateSettings(ctx context.Context, fs *models.FleetSettings) error {
	_, err := s.store.DB().ExecContext(ctx, `
		UPDATE fleet_settings SET num_devices = ?, sample_interval_secs = ?,
			upload_interval_secs = ?, heartbeat_interval_secs = ?
		WHERE id = 1`,
		fs.NumDevices, fs.SampleIntervalSecs, fs.UploadIntervalSecs, fs.HeartbeatIntervalSecs,
	)
	if err != nil {
		return fmt.Errorf("update fleet settings: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var d models.Device
	var state, status string
	if err := row.Scan(
		&d.ID, &state, &d.Environment, &d.Region, &d.HardwareRev,
		&d.RolloutBucket, &d.CurrentVersion, &d.DesiredVersion, &status,
		&d.PredictedIssue, &d.ReportedSampleIntervalSecs, &d.ReportedUploadIntervalSecs,
		&d.ReportedHeartbeatIntervalSecs, &d.FirstSeen, &d.LastSeen,
	); err != nil {
		return nil, err
	}
	d.LifecycleState = models.LifecycleState(state)
	d.Status = models.DeviceStatus(status)
	return &d, nil
}
