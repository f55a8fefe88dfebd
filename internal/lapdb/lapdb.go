// Package lapdb journals laps and crossings to sqlite so a race can be
// reviewed after the timer has handed its laps to the race server.
package lapdb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/gatetimer/internal/monitoring"
	"github.com/banshee-data/gatetimer/internal/security"
	"github.com/banshee-data/gatetimer/internal/timing"
	"github.com/banshee-data/gatetimer/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// DB is the lap journal.
type DB struct {
	*sql.DB
	path  string
	clock timeutil.Clock
}

// Session is one journalled race session.
type Session struct {
	ID           string    `json:"session_id"`
	StartedAt    time.Time `json:"started_at"`
	FrequencyMHz uint16    `json:"frequency_mhz"`
	Laps         int       `json:"laps"`
}

// Lap is a journalled lap row.
type Lap struct {
	SessionID string `json:"session_id"`
	timing.LapRecord
}

// Open opens (or creates) the journal at path and migrates it to the
// latest schema.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lap journal: %w", err)
	}
	// One connection keeps the pragmas in force for every statement.
	sqlDB.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	db := &DB{DB: sqlDB, path: path, clock: timeutil.RealClock{}}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the file the journal was opened from.
func (db *DB) Path() string { return db.path }

// MigrateUp runs all pending migrations. Already being at the latest
// version is not an error.
func (db *DB) MigrateUp() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version and dirty flag; 0 means no
// migration has run.
func (db *DB) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Backup writes a compacted copy of the journal to path, which must sit
// under the temp directory or the working directory.
func (db *DB) Backup(path string) error {
	if err := security.ValidateExportPath(path); err != nil {
		return fmt.Errorf("invalid backup path: %w", err)
	}
	if _, err := db.Exec("VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("failed to back up journal: %w", err)
	}
	return nil
}

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = monitoring.Tagged("lapdb migrate")
	return m, nil
}

// StartSession opens a new race session on freq and returns its id.
func (db *DB) StartSession(freq uint16) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_at, frequency_mhz) VALUES (?, ?, ?)`,
		id, db.clock.Now().UnixMilli(), freq,
	)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	return id, nil
}

// RecordLap stores one lap against session.
func (db *DB) RecordLap(session string, lap timing.LapRecord) error {
	_, err := db.Exec(`
		INSERT INTO laps (session_id, lap_number, timestamp_ms, lap_time_ms, peak_rssi, slot)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session, lap.Number, lap.Timestamp, lap.LapTime, lap.PeakRSSI, lap.Slot,
	)
	if err != nil {
		return fmt.Errorf("failed to record lap %d: %w", lap.Number, err)
	}
	return nil
}

// RecordCrossing stores a crossing edge against session.
func (db *DB) RecordCrossing(session string, active bool, rssi uint8, at time.Time) error {
	_, err := db.Exec(
		`INSERT INTO crossings (session_id, active, rssi, recorded_at) VALUES (?, ?, ?, ?)`,
		session, active, rssi, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record crossing: %w", err)
	}
	return nil
}

// ListLaps returns the laps of session in lap order.
func (db *DB) ListLaps(session string) ([]Lap, error) {
	rows, err := db.Query(`
		SELECT lap_number, timestamp_ms, lap_time_ms, peak_rssi, slot
		FROM laps WHERE session_id = ?
		ORDER BY lap_number, lap_id`, session)
	if err != nil {
		return nil, fmt.Errorf("failed to list laps: %w", err)
	}
	defer rows.Close()

	laps := []Lap{}
	for rows.Next() {
		l := Lap{SessionID: session}
		if err := rows.Scan(&l.Number, &l.Timestamp, &l.LapTime, &l.PeakRSSI, &l.Slot); err != nil {
			return nil, fmt.Errorf("failed to scan lap: %w", err)
		}
		l.Valid = true
		laps = append(laps, l)
	}
	return laps, rows.Err()
}

// CrossingCount returns how many crossing edges session has.
func (db *DB) CrossingCount(session string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM crossings WHERE session_id = ?`, session).Scan(&n)
	return n, err
}

// RecentSessions returns up to n sessions, newest first.
func (db *DB) RecentSessions(n int) ([]Session, error) {
	rows, err := db.Query(`
		SELECT s.session_id, s.started_at, s.frequency_mhz, COUNT(l.lap_id)
		FROM sessions s LEFT JOIN laps l ON l.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.started_at DESC, s.rowid DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var (
			s       Session
			started int64
		)
		if err := rows.Scan(&s.ID, &started, &s.FrequencyMHz, &s.Laps); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.StartedAt = time.UnixMilli(started).UTC()
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
