// Package airports is the read-only airport directory used to resolve IATA
// codes to coordinates. It is stored in SQLite and seeded from an
// OurAirports style CSV or a JSON map keyed by IATA code.
package airports

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/yegors/inbound-tracker/pkg/logger"
)

// Airport is one directory entry
type Airport struct {
	IATA        string  `json:"iata"`
	ICAO        string  `json:"icao"`
	Name        string  `json:"name"`
	City        string  `json:"city"`
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	ElevationFt int     `json:"elevation_ft"`
	Timezone    string  `json:"tz,omitempty"`
}

// Directory is a SQLite backed airport table
type Directory struct {
	db     *sql.DB
	logger *logger.Logger
}

// Open opens (or creates) the directory database at path. Use ":memory:"
// for a throwaway directory.
func Open(path string, log *logger.Logger) (*Directory, error) {
	dirLogger := log.Named("airports")

	dirLogger.Info("Opening airport directory", logger.String("path", path))

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Directory{db: db, logger: dirLogger}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS airports (
			iata TEXT PRIMARY KEY,
			icao TEXT,
			name TEXT,
			city TEXT,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			elevation_ft INTEGER DEFAULT 0,
			tz TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create airports table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_airports_icao ON airports(icao)`); err != nil {
		return fmt.Errorf("failed to create icao index: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *Directory) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Upsert inserts or replaces airports in a single transaction
func (d *Directory) Upsert(airports []Airport) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO airports (iata, icao, name, city, lat, lon, elevation_ft, tz)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range airports {
		if _, err := stmt.Exec(strings.ToUpper(a.IATA), a.ICAO, a.Name, a.City,
			a.Latitude, a.Longitude, a.ElevationFt, nullString(a.Timezone)); err != nil {
			return fmt.Errorf("failed to insert %s: %w", a.IATA, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit airports: %w", err)
	}
	return nil
}

// Lookup returns the airport for an IATA code
func (d *Directory) Lookup(iata string) (*Airport, bool) {
	row := d.db.QueryRow(`
		SELECT iata, icao, name, city, lat, lon, elevation_ft, tz
		FROM airports WHERE iata = ?
	`, strings.ToUpper(strings.TrimSpace(iata)))

	a, err := scanAirport(row)
	if err != nil {
		if err != sql.ErrNoRows {
			d.logger.Warn("Airport lookup failed", logger.String("iata", iata), logger.Error(err))
		}
		return nil, false
	}
	return a, true
}

// Search matches the query against IATA, ICAO, city and name
func (d *Directory) Search(query string, limit int) ([]Airport, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + strings.ToUpper(strings.TrimSpace(query)) + "%"

	rows, err := d.db.Query(`
		SELECT iata, icao, name, city, lat, lon, elevation_ft, tz
		FROM airports
		WHERE iata LIKE ? OR UPPER(icao) LIKE ? OR UPPER(city) LIKE ? OR UPPER(name) LIKE ?
		ORDER BY iata
		LIMIT ?
	`, like, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search airports: %w", err)
	}
	defer rows.Close()

	var result []Airport
	for rows.Next() {
		a, err := scanAirport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan airport: %w", err)
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// Count returns the number of airports in the directory
func (d *Directory) Count() (int, error) {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM airports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count airports: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAirport(s scanner) (*Airport, error) {
	var a Airport
	var icao, name, city, tz sql.NullString
	if err := s.Scan(&a.IATA, &icao, &name, &city, &a.Latitude, &a.Longitude, &a.ElevationFt, &tz); err != nil {
		return nil, err
	}
	a.ICAO = icao.String
	a.Name = name.String
	a.City = city.String
	a.Timezone = tz.String
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
