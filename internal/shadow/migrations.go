package shadow

import (
	"database/sql"

	"github.com/HerbHall/fleetwarden/pkg/plugin"
)

func migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create device shadow documents",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS shadow_documents (
						device_id TEXT PRIMARY KEY,
						desired TEXT NOT NULL DEFAULT '{}',
						reported TEXT NOT NULL DEFAULT '{}',
						updated_at DATETIME NOT NULL
					)`)
				return err
			},
		},
	}
}
