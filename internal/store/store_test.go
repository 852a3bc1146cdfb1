package store

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/kjstillabower/weather-etl/internal/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), Options{Driver: DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})
	return db
}

func ptr[T any](v T) *T { return &v }

func sampleObservation(ts time.Time) models.Observation {
	return models.Observation{
		Timestamp:       ts,
		Latitude:        ptr(37.98),
		Longitude:       ptr(23.72),
		TemperatureC:    ptr(5.2),
		ApparentTempC:   ptr(2.9),
		Humidity:        ptr(81),
		WeatherCode:     ptr(3),
		CloudCover:      ptr(100),
		WindSpeedKmh:    ptr(7.6),
		PressureHpa:     ptr(1016.4),
		PrecipitationMm: ptr(0.0),
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "mysql", DSN: "x"}); err == nil {
		t.Fatal("Open() error = nil, want unsupported driver")
	}
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := EnsureSchema(ctx, db); err != nil {
			t.Fatalf("EnsureSchema() call %d error = %v", i+1, err)
		}
	}

	rows, err := db.QueryContext(ctx, "SELECT name, pk FROM pragma_table_info('weather_data') ORDER BY cid")
	if err != nil {
		t.Fatalf("table_info: %v", err)
	}
	defer rows.Close()

	var cols []string
	var pkCols []string
	for rows.Next() {
		var name string
		var pk int
		if err := rows.Scan(&name, &pk); err != nil {
			t.Fatalf("scan: %v", err)
		}
		cols = append(cols, name)
		if pk > 0 {
			pkCols = append(pkCols, name)
		}
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}

	want := []string{
		"timestamp", "latitude", "longitude", "temperature_c", "humidity", "weather_code",
		"apparent_temp_c", "wind_speed_kmh", "pressure_hpa", "precipitation_mm", "cloud_cover", "created_at",
	}
	if len(cols) != len(want) {
		t.Fatalf("columns = %v, want %v", cols, want)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Errorf("column %d = %q, want %q", i, cols[i], want[i])
		}
	}
	if len(pkCols) != 1 || pkCols[0] != "timestamp" {
		t.Errorf("primary key = %v, want [timestamp]", pkCols)
	}

	var tables int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='weather_data'").Scan(&tables); err != nil {
		t.Fatalf("sqlite_master: %v", err)
	}
	if tables != 1 {
		t.Errorf("weather_data tables = %d, want 1", tables)
	}
}

func TestEnsureSchema_KeepsExistingRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	repo := NewRepository(db, DriverSQLite)
	if _, err := repo.InsertIfAbsent(ctx, sampleObservation(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("InsertIfAbsent() error = %v", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("EnsureSchema() second call error = %v", err)
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Errorf("Count() = %d after re-running schema, want 1", n)
	}
}

func TestRepository_InsertIfAbsent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	repo := NewRepository(db, DriverSQLite)
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	obs := sampleObservation(ts)

	got, err := repo.InsertIfAbsent(ctx, obs)
	if err != nil {
		t.Fatalf("InsertIfAbsent() error = %v", err)
	}
	if got != Inserted {
		t.Fatalf("InsertIfAbsent() = %v, want inserted", got)
	}

	got, err = repo.InsertIfAbsent(ctx, obs)
	if err != nil {
		t.Fatalf("InsertIfAbsent() duplicate error = %v, want nil", err)
	}
	if got != AlreadyExists {
		t.Fatalf("InsertIfAbsent() duplicate = %v, want already_exists", got)
	}

	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}

	stored, err := repo.Get(ctx, ts)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !stored.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", stored.Timestamp, ts)
	}
	if stored.TemperatureC == nil || *stored.TemperatureC != 5.2 {
		t.Errorf("TemperatureC = %v, want 5.2", stored.TemperatureC)
	}
	if stored.Humidity == nil || *stored.Humidity != 81 {
		t.Errorf("Humidity = %v, want 81", stored.Humidity)
	}
	if stored.CloudCover == nil || *stored.CloudCover != 100 {
		t.Errorf("CloudCover = %v, want 100", stored.CloudCover)
	}
	if stored.PressureHpa == nil || *stored.PressureHpa != 1016.4 {
		t.Errorf("PressureHpa = %v, want 1016.4", stored.PressureHpa)
	}
	if stored.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero, want store-assigned default")
	}
}

func TestRepository_InsertNulls(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	repo := NewRepository(db, DriverSQLite)
	ts := time.Date(2024, 1, 1, 12, 15, 0, 0, time.UTC)

	if got, err := repo.InsertIfAbsent(ctx, models.Observation{Timestamp: ts}); err != nil || got != Inserted {
		t.Fatalf("InsertIfAbsent() = %v, %v; want inserted", got, err)
	}
	stored, err := repo.Get(ctx, ts)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.TemperatureC != nil || stored.Humidity != nil || stored.Latitude != nil {
		t.Errorf("nullable fields = %v,%v,%v; want nil", stored.TemperatureC, stored.Humidity, stored.Latitude)
	}
}

func TestRepository_InsertFailsWithoutTable(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db, DriverSQLite)

	got, err := repo.InsertIfAbsent(context.Background(), sampleObservation(time.Now().UTC()))
	if err == nil {
		t.Fatal("InsertIfAbsent() error = nil, want missing-table error")
	}
	if got != InsertFailed {
		t.Errorf("InsertIfAbsent() = %v, want failed", got)
	}
}

func TestRepository_GetMissing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if err := EnsureSchema(ctx, db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	_, err := NewRepository(db, DriverSQLite).Get(ctx, time.Now().UTC())
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Get() error = %v, want sql.ErrNoRows", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"pg unique", &pgconn.PgError{Code: "23505"}, true},
		{"pg other", &pgconn.PgError{Code: "42P01"}, false},
		{"sqlite pk", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, true},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true},
		{"sqlite notnull", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := isUniqueViolation(tt.err); got != tt.want {
			t.Errorf("isUniqueViolation(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPlaceholders(t *testing.T) {
	if got := placeholders(DriverPostgres, 3); got[0] != "$1" || got[2] != "$3" {
		t.Errorf("placeholders(pgx) = %v", got)
	}
	if got := placeholders(DriverSQLite, 2); got[0] != "?" || got[1] != "?" {
		t.Errorf("placeholders(sqlite3) = %v", got)
	}
}

func TestConnector_RetriesUntilAvailable(t *testing.T) {
	const failures = 3
	var attempts atomic.Int32
	open := func(ctx context.Context) (*sql.DB, error) {
		if attempts.Add(1) <= failures {
			return nil, errors.New("connection refused")
		}
		return Open(ctx, Options{Driver: DriverSQLite, DSN: ":memory:"})
	}

	c := NewConnector(open, time.Millisecond, 0, nil)
	db, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer db.Close()

	if got := attempts.Load(); got != failures+1 {
		t.Errorf("attempts = %d, want %d", got, failures+1)
	}
	if err := db.Ping(); err != nil {
		t.Errorf("returned handle not live: %v", err)
	}
}

func TestConnector_WaitsFixedBackoff(t *testing.T) {
	var attempts atomic.Int32
	open := func(ctx context.Context) (*sql.DB, error) {
		if attempts.Add(1) <= 2 {
			return nil, errors.New("not ready")
		}
		return Open(ctx, Options{Driver: DriverSQLite, DSN: ":memory:"})
	}

	start := time.Now()
	db, err := NewConnector(open, 40*time.Millisecond, 0, nil).Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer db.Close()
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("Acquire() returned after %v, want at least two backoffs (80ms)", elapsed)
	}
}

func TestConnector_CancelledContext(t *testing.T) {
	open := func(ctx context.Context) (*sql.DB, error) {
		return nil, errors.New("down")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	db, err := NewConnector(open, 5*time.Millisecond, 0, nil).Acquire(ctx)
	if db != nil {
		t.Error("Acquire() returned a handle without a successful open")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestConnector_MaxAttempts(t *testing.T) {
	var attempts atomic.Int32
	open := func(ctx context.Context) (*sql.DB, error) {
		attempts.Add(1)
		return nil, errors.New("down")
	}

	_, err := NewConnector(open, time.Millisecond, 4, nil).Acquire(context.Background())
	if !errors.Is(err, ErrConnectAttemptsExhausted) {
		t.Fatalf("Acquire() error = %v, want ErrConnectAttemptsExhausted", err)
	}
	if got := attempts.Load(); got != 4 {
		t.Errorf("attempts = %d, want 4", got)
	}
}
