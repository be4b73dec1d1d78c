package rollout

import (
	"database/sql"

	"github.com/HerbHall/fleetwarden/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create rollout release catalog",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS rollout_releases (
						version TEXT PRIMARY KEY,
						checksum TEXT NOT NULL,
						url TEXT NOT NULL,
						signature TEXT NOT NULL DEFAULT '',
						rollout_group TEXT NOT NULL DEFAULT 'default',
						required_region TEXT NOT NULL DEFAULT '',
						required_hardware_rev TEXT NOT NULL DEFAULT '',
						target_percent INTEGER NOT NULL DEFAULT 0,
						rollout_status TEXT NOT NULL DEFAULT 'active',
						created_at DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_rollout_releases_status_created
						ON rollout_releases(rollout_status, created_at)`,
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
