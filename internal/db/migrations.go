package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,

	// One row per calendar day, rewritten on every applied snapshot that covers the day.
	`CREATE TABLE IF NOT EXISTS epp_daily_compliance (
		id               UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		day              DATE NOT NULL,
		processed_count  INT NOT NULL DEFAULT 0,
		violation_count  INT NOT NULL DEFAULT 0,
		compliant_count  INT NOT NULL DEFAULT 0,
		compliance_pct   INT NOT NULL DEFAULT 100,
		top_missing      JSONB,
		snapshot_id      UUID,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_epp_daily_compliance_day ON epp_daily_compliance(day);`,

	`ALTER TABLE epp_daily_compliance ADD COLUMN IF NOT EXISTS channels JSONB;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
