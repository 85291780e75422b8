package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens the sqlite database at path and applies pending migrations.
// Callers own the returned handle; there is no package-level singleton.
func Open(path string) (*sql.DB, error) {
	handle, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	handle.SetMaxOpenConns(1)
	handle.SetMaxIdleConns(1)

	if err := runMigrations(handle); err != nil {
		handle.Close()
		return nil, err
	}

	return handle, nil
}

type migration struct {
	version string
	sql     string
}

var migrations = []migration{
	{
		version: "001_printers",
		sql: `
			CREATE TABLE IF NOT EXISTS printers (
				reg_seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				endpoint TEXT NOT NULL DEFAULT '',
				region TEXT NOT NULL,
				latitude REAL NOT NULL DEFAULT 0,
				longitude REAL NOT NULL DEFAULT 0,
				service_area_json TEXT NOT NULL DEFAULT '[]',
				status TEXT NOT NULL,
				capabilities_json TEXT NOT NULL,
				current_load INTEGER NOT NULL DEFAULT 0,
				last_seen_at DATETIME,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_printers_region ON printers(region);
		`,
	},
	{
		version: "002_print_jobs",
		sql: `
			CREATE TABLE IF NOT EXISTS print_jobs (
				id TEXT PRIMARY KEY,
				order_ref TEXT NOT NULL,
				book_ref TEXT NOT NULL,
				region TEXT NOT NULL,
				printer_id TEXT,
				status TEXT NOT NULL,
				priority INTEGER NOT NULL DEFAULT 0,
				retry_count INTEGER NOT NULL DEFAULT 0,
				quality_spec_json TEXT NOT NULL,
				quality_check_json TEXT,
				metadata_json TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				started_at DATETIME,
				completed_at DATETIME
			);
			CREATE INDEX IF NOT EXISTS idx_jobs_status ON print_jobs(status);
			CREATE INDEX IF NOT EXISTS idx_jobs_printer ON print_jobs(printer_id);
		`,
	},
	{
		version: "003_job_events",
		sql: `
			CREATE TABLE IF NOT EXISTS job_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				job_id TEXT NOT NULL,
				event TEXT NOT NULL,
				printer_id TEXT,
				detail TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id);
		`,
	},
}

func runMigrations(handle *sql.DB) error {
	if _, err := handle.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := handle.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if _, err := handle.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.version, err)
		}
		if _, err := handle.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.version, err)
		}
	}

	return nil
}
