package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,

	// Таблица vin_records - по одной записи на каждый уникальный VIN
	// Уникальный индекс по vin - источник ответа 409 (duplicate) при повторной отправке
	`CREATE TABLE IF NOT EXISTS vin_records (
		id              UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		vin             CHAR(17) NOT NULL,
		material_kind   TEXT,
		snapshot_url    TEXT,
		first_seen_at   TIMESTAMPTZ NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_vin_records_vin ON vin_records(vin);`,

	// Таблица vin_scans - каждое обнаружение VIN сканером (в том числе повторные)
	`CREATE TABLE IF NOT EXISTS vin_scans (
		id              UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		record_id       UUID NOT NULL REFERENCES vin_records(id) ON DELETE CASCADE,
		vin             CHAR(17) NOT NULL,
		captured_at     TIMESTAMPTZ NOT NULL,
		lat             DOUBLE PRECISION,
		lng             DOUBLE PRECISION,
		source_ip       TEXT,
		material_kind   TEXT,
		recognizer      TEXT,
		duplicate       BOOLEAN NOT NULL DEFAULT false,
		raw_payload     JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_vin_scans_record_id ON vin_scans(record_id);`,
	`CREATE INDEX IF NOT EXISTS idx_vin_scans_vin_time ON vin_scans(vin, captured_at DESC);`,
	`CREATE INDEX IF NOT EXISTS idx_vin_scans_created_at ON vin_scans(created_at);`,

	// Координаты пишутся только парой
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'vin_scans_latlng_pair') THEN
			ALTER TABLE vin_scans ADD CONSTRAINT vin_scans_latlng_pair
				CHECK ((lat IS NULL AND lng IS NULL) OR (lat IS NOT NULL AND lng IS NOT NULL));
		END IF;
	END
	$$;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
