package health

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/fleetwarden/pkg/models"
	"github.com/HerbHall/fleetwarden/pkg/plugin"
)

// HealthStore persists alerts and metric history, and reads the fleet
// tables the aggregator derives its numbers from. The fleet tables are
// owned by the fleet module; health declares a module dependency on it.
type HealthStore struct {
	store plugin.Store
}

// NewHealthStore creates a HealthStore backed by the shared store.
func NewHealthStore(store plugin.Store) *HealthStore {
	return &HealthStore{store: store}
}

// AlertScope identifies the subject of an alert: a device, a firmware
// version, or both. One active alert exists per (type, scope).
type AlertScope struct {
	DeviceID        string
	FirmwareVersion string
}

// RaiseAlert raises or refreshes an alert. If an active alert already
// exists for the (type, scope) pair, its message and last_seen are
// updated in place; otherwise a new row is inserted. Returns the alert
// and whether it was newly raised.
func (s *HealthStore) RaiseAlert(ctx context.Context, alertType, severity, message string, scope AlertScope) (*models.Alert, bool, error) {
	var alert *models.Alert
	var raised bool
	now := time.Now().UTC()

	err := s.store.Tx(ctx, func(tx *sql.Tx) error {
		var id string
		var triggeredAt time.Time
		err := tx.QueryRowContext(ctx, `
			SELECT id, triggered_at FROM health_alerts
			WHERE type = ? AND device_id = ? AND firmware_version = ? AND is_active = 1`,
			alertType, scope.DeviceID, scope.FirmwareVersion,
		).Scan(&id, &triggeredAt)

		if err == sql.ErrNoRows {
			id = uuid.New().String()
			triggeredAt = now
			_, err = tx.ExecContext(ctx, `
				INSERT INTO health_alerts
					(id, type, severity, message, device_id, firmware_version,
					 is_active, triggered_at, last_seen_at)
				VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
				id, alertType, severity, message, scope.DeviceID, scope.FirmwareVersion,
				triggeredAt, now,
			)
			if err != nil {
				return fmt.Errorf("insert alert: %w", err)
			}
			raised = true
		} else if err != nil {
			return fmt.Errorf("find active alert: %w", err)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE health_alerts SET severity = ?, message = ?, last_seen_at = ?
				WHERE id = ?`,
				severity, message, now, id,
			)
			if err != nil {
				return fmt.Errorf("refresh alert: %w", err)
			}
		}

		alert = &models.Alert{
			ID:              id,
			Type:            alertType,
			Severity:        severity,
			Message:         message,
			DeviceID:        scope.DeviceID,
			FirmwareVersion: scope.FirmwareVersion,
			IsActive:        true,
			TriggeredAt:     triggeredAt,
			LastSeenAt:      now,
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return alert, raised, nil
}

// ClearAlert deactivates the active alert for a (type, scope) pair.
// Alerts are never deleted. Returns whether an alert was cleared.
func (s *HealthStore) ClearAlert(ctx context.Context, alertType string, scope AlertScope) (bool, error) {
	res, err := s.store.DB().ExecContext(ctx, `
		UPDATE health_alerts SET is_active = 0, cleared_at = ?
		WHERE type = ? AND device_id = ? AND firmware_version = ? AND is_active = 1`,
		time.Now().UTC(), alertType, scope.DeviceID, scope.FirmwareVersion,
	)
	if err != nil {
		return false, fmt.Errorf("clear alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("clear alert: %w", err)
	}
	return n > 0, nil
}

// ListAlerts returns alerts, optionally only active ones, newest first.
func (s *HealthStore) ListAlerts(ctx context.Context, activeOnly bool) ([]models.Alert, error) {
	q := `SELECT id, type, severity, message, device_id, firmware_version,
		is_active, triggered_at, last_seen_at, cleared_at
		FROM health_alerts`
	if activeOnly {
		q += ` WHERE is_active = 1`
	}
	q += ` ORDER BY triggered_at DESC`

	rows, err := s.store.DB().QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var active int
		var cleared sql.NullTime
		if err := rows.Scan(&a.ID, &a.Type, &a.Severity, &a.Message, &a.DeviceID,
			&a.FirmwareVersion, &active, &a.TriggeredAt, &a.LastSeenAt, &cleared); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.IsActive = active != 0
		if cleared.Valid {
			t := cleared.Time
			a.ClearedAt = &t
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AppendMetric records a metric sample. Append-only.
func (s *HealthStore) AppendMetric(ctx context.Context, m *models.Metric) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	_, err := s.store.DB().ExecContext(ctx, `
		INSERT INTO health_metrics (name, value, device_id, firmware_version, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		m.Name, m.Value, m.DeviceID, m.FirmwareVersion, m.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append metric: %w", err)
	}
	return nil
}

// VersionCounts computes, per firmware version, the online device count
// and the error count inside the trailing window. Versions appearing on
// either side are included.
func (s *HealthStore) VersionCounts(ctx context.Context, errorWindow time.Duration) ([]models.VersionHealth, error) {
	byVersion := make(map[string]*models.VersionHealth)

	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT current_version, COUNT(*) FROM fleet_devices
		WHERE status = 'online' AND current_version != ''
		GROUP BY current_version`)
	if err != nil {
		return nil, fmt.Errorf("count devices by version: %w", err)
	}
	for rows.Next() {
		var v string
		var n int
		if err := rows.Scan(&v, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan device count: %w", err)
		}
		byVersion[v] = &models.VersionHealth{FirmwareVersion: v, DeviceCount: n}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-errorWindow)
	rows, err = s.store.DB().QueryContext(ctx, `
		SELECT firmware_version, COUNT(*) FROM fleet_device_errors
		WHERE timestamp >= ? AND firmware_version != ''
		GROUP BY firmware_version`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("count errors by version: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		var n int
		if err := rows.Scan(&v, &n); err != nil {
			return nil, fmt.Errorf("scan error count: %w", err)
		}
		vh, ok := byVersion[v]
		if !ok {
			vh = &models.VersionHealth{FirmwareVersion: v}
			byVersion[v] = vh
		}
		vh.ErrorCount = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.VersionHealth, 0, len(byVersion))
	for _, vh := range byVersion {
		out = append(out, *vh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirmwareVersion < out[j].FirmwareVersion })
	return out, nil
}

// BatteryTrend is the oldest and newest battery sample for one device
// inside the trend window.
type BatteryTrend struct {
	DeviceID string
	Oldest   float64
	Newest   float64
	Samples  int
}

// BatteryTrends returns, for every device with at least one sample in
// the window, its oldest and newest battery readings.
func (s *HealthStore) BatteryTrends(ctx context.Context, window time.Duration) ([]BatteryTrend, error) {
	cutoff := time.Now().UTC().Add(-window)
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT m.device_id,
			(SELECT battery FROM fleet_measurements
				WHERE device_id = m.device_id AND timestamp >= ?
				ORDER BY timestamp ASC, id ASC LIMIT 1),
			(SELECT battery FROM fleet_measurements
				WHERE device_id = m.device_id AND timestamp >= ?
				ORDER BY timestamp DESC, id DESC LIMIT 1),
			COUNT(*)
		FROM fleet_measurements m
		WHERE m.timestamp >= ?
		GROUP BY m.device_id`,
		cutoff, cutoff, cutoff)
	if err != nil {
		return nil, fmt.Errorf("battery trends: %w", err)
	}
	defer rows.Close()

	var trends []BatteryTrend
	for rows.Next() {
		var t BatteryTrend
		if err := rows.Scan(&t.DeviceID, &t.Oldest, &t.Newest, &t.Samples); err != nil {
			return nil, fmt.Errorf("scan battery trend: %w", err)
		}
		trends = append(trends, t)
	}
	return trends, rows.Err()
}

// BatteryVerdictDevices returns the IDs of devices currently carrying a
// battery verdict: an active battery-degrade alert or a non-empty
// predicted_issue note. The pass revisits these even when all of their
// samples have aged out of the trend window.
func (s *HealthStore) BatteryVerdictDevices(ctx context.Context) ([]string, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT device_id FROM health_alerts
			WHERE type = ? AND is_active = 1 AND device_id != ''
		UNION
		SELECT id FROM fleet_devices WHERE predicted_issue != ''`,
		models.AlertTypeBatteryDegrade)
	if err != nil {
		return nil, fmt.Errorf("battery verdict devices: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan verdict device: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
