package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/kjstillabower/weather-etl/internal/models"
)

// InsertResult tags the outcome of InsertIfAbsent.
type InsertResult int

const (
	InsertFailed InsertResult = iota
	Inserted
	AlreadyExists
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return "failed"
	}
}

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

var insertColumns = []string{
	`"timestamp"`,
	"latitude",
	"longitude",
	"temperature_c",
	"humidity",
	"weather_code",
	"apparent_temp_c",
	"wind_speed_kmh",
	"pressure_hpa",
	"precipitation_mm",
	"cloud_cover",
}

const selectColumns = `"timestamp", latitude, longitude, temperature_c, humidity, weather_code,
    apparent_temp_c, wind_speed_kmh, pressure_hpa, precipitation_mm, cloud_cover, created_at`

// Repository writes observations into weather_data.
type Repository struct {
	db        *sql.DB
	insertSQL string
	getSQL    string
}

// NewRepository prepares the statements for driver's placeholder style.
func NewRepository(db *sql.DB, driver string) *Repository {
	ph := placeholders(driver, len(insertColumns))
	insertSQL := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT ("timestamp") DO NOTHING`,
		TableName, strings.Join(insertColumns, ", "), strings.Join(ph, ", "),
	)
	getSQL := fmt.Sprintf(`SELECT %s FROM %s WHERE "timestamp" = %s`, selectColumns, TableName, placeholders(driver, 1)[0])
	return &Repository{db: db, insertSQL: insertSQL, getSQL: getSQL}
}

// InsertIfAbsent writes obs unless a row with the same timestamp exists.
// A duplicate is reported as AlreadyExists with a nil error.
func (r *Repository) InsertIfAbsent(ctx context.Context, obs models.Observation) (InsertResult, error) {
	res, err := r.db.ExecContext(ctx, r.insertSQL,
		obs.Timestamp,
		obs.Latitude,
		obs.Longitude,
		obs.TemperatureC,
		obs.Humidity,
		obs.WeatherCode,
		obs.ApparentTempC,
		obs.WindSpeedKmh,
		obs.PressureHpa,
		obs.PrecipitationMm,
		obs.CloudCover,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return AlreadyExists, nil
		}
		return InsertFailed, fmt.Errorf("insert observation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return InsertFailed, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return AlreadyExists, nil
	}
	return Inserted, nil
}

// Get reads back the row for ts. Returns sql.ErrNoRows when absent.
func (r *Repository) Get(ctx context.Context, ts time.Time) (models.Observation, error) {
	var obs models.Observation
	err := r.db.QueryRowContext(ctx, r.getSQL, ts).Scan(
		&obs.Timestamp,
		&obs.Latitude,
		&obs.Longitude,
		&obs.TemperatureC,
		&obs.Humidity,
		&obs.WeatherCode,
		&obs.ApparentTempC,
		&obs.WindSpeedKmh,
		&obs.PressureHpa,
		&obs.PrecipitationMm,
		&obs.CloudCover,
		&obs.CreatedAt,
	)
	if err != nil {
		return models.Observation{}, err
	}
	return obs, nil
}

// Count returns the number of stored observations.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+TableName).Scan(&n); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}

// isUniqueViolation recognises a primary-key clash reported as an error rather
// than absorbed by ON CONFLICT.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func placeholders(driver string, n int) []string {
	out := make([]string, n)
	for i := range out {
		if driver == DriverSQLite {
			out[i] = "?"
		} else {
			out[i] = fmt.Sprintf("$%d", i+1)
		}
	}
	return out
}
