// Package flightdb is a small sqlite sidecar recording one row per flight
// run and one row per state transition (SPEC_FULL.md §C). It is a
// deliberately simplified adaptation of the teacher's internal/db package:
// kept are the embedded-migration/golang-migrate pattern, the WAL pragma
// set, and the tailsql debug mount; dropped is the legacy-schema-detection
// and baselining machinery (BaselineAtVersion, DetectSchemaVersion,
// CompareSchemas and friends) since a fresh per-flight-computer database
// with no pre-existing installs has nothing to detect or baseline against.
package flightdb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a sqlite connection holding the flight run ledger.
type DB struct {
	*sql.DB
	path string
}

// Open creates or opens the sqlite file at path, applies pragmas, and runs
// every pending migration.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open flight db: %w", err)
	}

	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.migrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func (db *DB) migrateUp() error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sub-filesystem for migrations: %w", err)
	}

	sourceDriver, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("iofs source driver: %w", err)
	}

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) { log.Printf("flightdb: "+format, v...) }
func (migrateLogger) Verbose() bool                          { return false }

// StartRun inserts a new flight_run row and returns its generated run ID.
func (db *DB) StartRun(mode, logFile string, startedUnixNanos int64) (string, error) {
	runID := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO flight_run (run_id, mode, log_file, started_unix_nanos) VALUES (?, ?, ?, ?)`,
		runID, mode, logFile, startedUnixNanos,
	)
	if err != nil {
		return "", fmt.Errorf("insert flight_run: %w", err)
	}
	return runID, nil
}

// EndRun stamps a run's end time.
func (db *DB) EndRun(runID string, endedUnixNanos int64) error {
	_, err := db.Exec(`UPDATE flight_run SET ended_unix_nanos = ? WHERE run_id = ?`, endedUnixNanos, runID)
	return err
}

// RecordStateTransition inserts one row for a Context state change.
func (db *DB) RecordStateTransition(runID string, state string, enteredUnixNanos int64) error {
	_, err := db.Exec(
		`INSERT INTO state_transition (run_id, state, entered_unix_nanos) VALUES (?, ?, ?)`,
		runID, state, enteredUnixNanos,
	)
	return err
}

// AttachAdminRoutes mounts a read-only tailsql console over the flight
// database, following the teacher's internal/db.DB.AttachAdminRoutes
// pattern exactly (same tsweb.Debugger + tailsql.NewServer wiring).
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{RoutePrefix: "/debug/tailsql/"})
	if err != nil {
		log.Printf("flightdb: failed to create tailsql server: %v", err)
		return
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{Label: "Flight DB"})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
}
