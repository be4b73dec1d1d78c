package fleet

import (
	"database/sql"

	"github.com/HerbHall/fleetwarden/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create device registry tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS fleet_devices (
						id TEXT PRIMARY KEY,
						lifecycle_state TEXT NOT NULL DEFAULT 'new',
						environment TEXT NOT NULL DEFAULT 'blue',
						region TEXT NOT NULL DEFAULT '',
						hardware_rev TEXT NOT NULL DEFAULT '',
						rollout_bucket INTEGER NOT NULL,
						current_version TEXT NOT NULL DEFAULT '',
						desired_version TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL DEFAULT 'unknown',
						predicted_issue TEXT NOT NULL DEFAULT '',
						reported_sample_interval_secs INTEGER NOT NULL DEFAULT 0,
						reported_upload_interval_secs INTEGER NOT NULL DEFAULT 0,
						reported_heartbeat_interval_secs INTEGER NOT NULL DEFAULT 0,
						first_seen DATETIME NOT NULL,
						last_seen DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_fleet_devices_status
						ON fleet_devices(status, last_seen)`,
					`CREATE INDEX IF NOT EXISTS idx_fleet_devices_version
						ON fleet_devices(current_version)`,
					`CREATE TABLE IF NOT EXISTS fleet_measurements (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						device_id TEXT NOT NULL,
						timestamp DATETIME NOT NULL,
						temp REAL NOT NULL DEFAULT 0,
						humidity REAL NOT NULL DEFAULT 0,
						battery REAL NOT NULL DEFAULT 0,
						sequence_number INTEGER NOT NULL DEFAULT 0,
						firmware_version TEXT NOT NULL DEFAULT '',
						latitude REAL NOT NULL DEFAULT 0,
						longitude REAL NOT NULL DEFAULT 0,
						speed REAL NOT NULL DEFAULT 0
					)`,
					`CREATE INDEX IF NOT EXISTS idx_fleet_measurements_device_ts
						ON fleet_measurements(device_id, timestamp)`,
					`CREATE TABLE IF NOT EXISTS fleet_device_errors (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						device_id TEXT NOT NULL,
						firmware_version TEXT NOT NULL DEFAULT '',
						code TEXT NOT NULL DEFAULT '',
						message TEXT NOT NULL,
						timestamp DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_fleet_device_errors_version_ts
						ON fleet_device_errors(firmware_version, timestamp)`,
					`CREATE TABLE IF NOT EXISTS fleet_settings (
						id INTEGER PRIMARY KEY CHECK (id = 1),
						num_devices INTEGER NOT NULL DEFAULT 0,
						sample_interval_secs INTEGER NOT NULL DEFAULT 60,
						upload_interval_secs INTEGER NOT NULL DEFAULT 300,
						heartbeat_interval_secs INTEGER NOT NULL DEFAULT 60
					)`,
					`INSERT OR IGNORE INTO fleet_settings
						(id, num_devices, sample_interval_secs, upload_interval_secs, heartbeat_interval_secs)
						VALUES (1, 0, 60, 300, 60)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
