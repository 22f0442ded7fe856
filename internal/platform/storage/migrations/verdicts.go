package migrations

import (
	"fmt"

	"gorm.io/gorm"
)

type columnTypes struct {
	json      string
	timestamp string
}

func typesFor(dialect string) columnTypes {
	if dialect == "postgres" {
		return columnTypes{json: "JSONB", timestamp: "TIMESTAMPTZ"}
	}
	return columnTypes{json: "TEXT", timestamp: "TIMESTAMP"}
}

var verdictTable = Step{
	Version:     "0001",
	Description: "create chart_verdicts",
	Up: func(tx *gorm.DB, dialect string) error {
		t := typesFor(dialect)
		return tx.Exec(fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS chart_verdicts (
				id VARCHAR(64) PRIMARY KEY,
				digest VARCHAR(64) NOT NULL,
				source VARCHAR(512),
				format VARCHAR(16),
				width INTEGER,
				height INTEGER,
				accepted BOOLEAN NOT NULL,
				score INTEGER NOT NULL,
				reason TEXT,
				outcome VARCHAR(32) NOT NULL,
				metrics %[1]s,
				checks %[1]s,
				created_at %[2]s NOT NULL,
				expires_at %[2]s
			)`, t.json, t.timestamp)).Error
	},
	Down: func(tx *gorm.DB, _ string) error {
		return tx.Exec(`DROP TABLE IF EXISTS chart_verdicts`).Error
	},
}

// The digest index only covers outcomes the cache may serve.
var verdictIndexes = Step{
	Version:     "0002",
	Description: "index chart_verdicts for cache lookups, listing and expiry",
	Up: func(tx *gorm.DB, _ string) error {
		stmts := []string{
			`CREATE INDEX IF NOT EXISTS idx_chart_verdicts_cache ON chart_verdicts(digest, created_at)
				WHERE outcome IN ('accepted', 'below_threshold')`,
			`CREATE INDEX IF NOT EXISTS idx_chart_verdicts_created_at ON chart_verdicts(created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_chart_verdicts_expires_at ON chart_verdicts(expires_at)`,
		}
		for _, stmt := range stmts {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return nil
	},
	Down: func(tx *gorm.DB, _ string) error {
		for _, name := range []string{"idx_chart_verdicts_cache", "idx_chart_verdicts_created_at", "idx_chart_verdicts_expires_at"} {
			if err := tx.Exec("DROP INDEX IF EXISTS " + name).Error; err != nil {
				return err
			}
		}
		return nil
	},
}
