package health

import (
	"database/sql"

	"github.com/HerbHall/fleetwarden/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create health alerts and metrics tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS health_alerts (
						id TEXT PRIMARY KEY,
						type TEXT NOT NULL,
						severity TEXT NOT NULL,
						message TEXT NOT NULL,
						device_id TEXT NOT NULL DEFAULT '',
						firmware_version TEXT NOT NULL DEFAULT '',
						is_active INTEGER NOT NULL DEFAULT 1,
						triggered_at DATETIME NOT NULL,
						last_seen_at DATETIME NOT NULL,
						cleared_at DATETIME
					)`,
					`CREATE INDEX IF NOT EXISTS idx_health_alerts_scope
						ON health_alerts(type, device_id, firmware_version, is_active)`,
					`CREATE TABLE IF NOT EXISTS health_metrics (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL,
						value REAL NOT NULL,
						device_id TEXT NOT NULL DEFAULT '',
						firmware_version TEXT NOT NULL DEFAULT '',
						timestamp DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_health_metrics_name_ts
						ON health_metrics(name, timestamp)`,
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
