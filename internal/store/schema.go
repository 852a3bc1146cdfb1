package store

import (
	"context"
	"database/sql"
	"fmt"
)

// TableName is the destination table for observations.
const TableName = "weather_data"

// createTableSQL is portable between PostgreSQL and SQLite. "timestamp" is
// quoted because it doubles as a type name.
const createTableSQL = `
CREATE TABLE IF NOT EXISTS weather_data (
    "timestamp" TIMESTAMP PRIMARY KEY,
    latitude FLOAT,
    longitude FLOAT,
    temperature_c FLOAT,
    humidity INT,
    weather_code INT,
    apparent_temp_c FLOAT,
    wind_speed_kmh FLOAT,
    pressure_hpa FLOAT,
    precipitation_mm FLOAT,
    cloud_cover INT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// EnsureSchema creates weather_data if it does not exist and commits before
// returning. Calling it against an existing table is a no-op.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createTableSQL); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("create table %s: %w", TableName, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
